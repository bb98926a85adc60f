package protocol

import (
	"bytes"
	"fmt"

	"github.com/IcebergThings/railbridge/geom"
)

// Order types carried on the rail channel. Values follow the remote
// application protocol's order numbering.
const (
	OrderExec                uint16 = 0x0001
	OrderActivate            uint16 = 0x0002
	OrderSysparam            uint16 = 0x0003
	OrderSyscommand          uint16 = 0x0004
	OrderHandshake           uint16 = 0x0005
	OrderWindowMove          uint16 = 0x0008
	OrderLocalMoveSize       uint16 = 0x0009
	OrderMinMaxInfo          uint16 = 0x000A
	OrderClientStatus        uint16 = 0x000B
	OrderSysMenu             uint16 = 0x000C
	OrderLangbarInfo         uint16 = 0x000D
	OrderGetAppidReq         uint16 = 0x000E
	OrderGetAppidResp        uint16 = 0x000F
	OrderLanguageImeInfo     uint16 = 0x0011
	OrderCompartmentInfo     uint16 = 0x0012
	OrderHandshakeEx         uint16 = 0x0013
	OrderZOrderSync          uint16 = 0x0014
	OrderCloak               uint16 = 0x0015
	OrderPowerDisplayRequest uint16 = 0x0016
	OrderSnapArrange         uint16 = 0x0017
	OrderGetAppidRespEx      uint16 = 0x0018
	OrderExecResult          uint16 = 0x0080
)

// Extended handshake capability flags.
const (
	HandshakeExFlagHiDef       uint32 = 0x00000001
	HandshakeExFlagExtendedSpi uint32 = 0x00000002
	HandshakeExFlagSnapArrange uint32 = 0x00000004
)

// Client status capability flags.
const (
	ClientStatusAllowLocalMoveSize   uint32 = 0x00000001
	ClientStatusAutoReconnect        uint32 = 0x00000002
	ClientStatusZOrderSync           uint32 = 0x00000004
	ClientStatusResizeMargin         uint32 = 0x00000010
	ClientStatusHighDPIIcons         uint32 = 0x00000020
	ClientStatusAppbarRemoting       uint32 = 0x00000040
	ClientStatusPowerDisplayRequest  uint32 = 0x00000080
	ClientStatusGetAppidRespEx       uint32 = 0x00000100
	ClientStatusBidirectionalCloak   uint32 = 0x00000200
	ClientStatusSuspendResumeSupport uint32 = 0x00000400
)

// Launch request flags.
const (
	ExecFlagExpandWorkingDirectory uint16 = 0x0001
	ExecFlagTranslateFiles         uint16 = 0x0002
	ExecFlagFileIsNotExecutable    uint16 = 0x0004
	ExecFlagExpandArguments        uint16 = 0x0008
	ExecFlagAppUserModelID         uint16 = 0x0010
)

// Launch result codes.
const (
	ExecResultOK            uint16 = 0x0000
	ExecResultHookNotLoaded uint16 = 0x0001
	ExecResultDecodeFailed  uint16 = 0x0002
	ExecResultNotInList     uint16 = 0x0003
	ExecResultFileNotFound  uint16 = 0x0005
	ExecResultFail          uint16 = 0x0006
	ExecResultSessionLocked uint16 = 0x0007
)

// System commands delivered via Syscommand.
const (
	SCSize     uint16 = 0xF000
	SCMove     uint16 = 0xF010
	SCMinimize uint16 = 0xF020
	SCMaximize uint16 = 0xF030
	SCClose    uint16 = 0xF060
	SCKeyMenu  uint16 = 0xF100
	SCRestore  uint16 = 0xF120
	SCDefault  uint16 = 0xF160
)

// Move/size types for LocalMoveSize.
const (
	MoveSizeLeft        uint16 = 0x0001
	MoveSizeRight       uint16 = 0x0002
	MoveSizeTop         uint16 = 0x0003
	MoveSizeTopLeft     uint16 = 0x0004
	MoveSizeTopRight    uint16 = 0x0005
	MoveSizeBottom      uint16 = 0x0006
	MoveSizeBottomLeft  uint16 = 0x0007
	MoveSizeBottomRight uint16 = 0x0008
	MoveSizeMove        uint16 = 0x0009
	MoveSizeKeyMove     uint16 = 0x000A
	MoveSizeKeySize     uint16 = 0x000B
)

// System parameters. Client-to-server parameters describe the remote
// desktop environment; server-to-client ones adjust client behaviour.
const (
	SPISetDragFullWindows uint32 = 0x00000025
	SPISetKeyboardCues    uint32 = 0x0000100A
	SPISetKeyboardPref    uint32 = 0x00000045
	SPISetMouseButtonSwap uint32 = 0x00000021
	SPISetWorkArea        uint32 = 0x0000002F
	SPISetHighContrast    uint32 = 0x00000043
	SPITaskbarPos         uint32 = 0x0000F000
	SPISetCaretWidth      uint32 = 0x00002007
	SPISetStickyKeys      uint32 = 0x0000003B
	SPISetToggleKeys      uint32 = 0x00000035
	SPISetFilterKeys      uint32 = 0x00000033

	SPISetScreenSaveActive uint32 = 0x00000011
	SPISetScreenSaveSecure uint32 = 0x00000077
)

// Input profile types for LanguageImeInfo.
const (
	ProfileTypeInputProcessor uint32 = 0x00000001
	ProfileTypeKeyboardLayout uint32 = 0x00000002
)

// MarkerWindowID is the reserved identifier carried by ZOrderSync to
// name the client-side marker window. Never allocated to a real window.
const MarkerWindowID uint32 = 0xFFFFFFFE

// railOrder wraps an order body with the rail channel's order header.
// The declared length covers the header itself.
func railOrder(orderType uint16, body []byte) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 4+len(body)))
	putU16(buf, orderType)
	putU16(buf, uint16(4+len(body)))
	buf.Write(body)
	return buf.Bytes()
}

// DecodeRailHeader splits one rail-channel payload into its order type
// and body. The declared order length must match the payload exactly.
func DecodeRailHeader(b []byte) (uint16, []byte, error) {
	orderType, rest, err := getU16(b)
	if err != nil {
		return 0, nil, err
	}
	orderLen, rest, err := getU16(rest)
	if err != nil {
		return 0, nil, err
	}
	if int(orderLen) != len(b) || orderLen < 4 {
		return 0, nil, fmt.Errorf("protocol: rail order 0x%04x declares %d bytes, payload has %d", orderType, orderLen, len(b))
	}
	return orderType, rest, nil
}

// Handshake opens the rail channel; both sides send one.
type Handshake struct {
	BuildNumber uint32
}

func EncodeHandshake(h Handshake) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 4))
	putU32(buf, h.BuildNumber)
	return railOrder(OrderHandshake, buf.Bytes())
}

func DecodeHandshake(b []byte) (Handshake, error) {
	var h Handshake
	var err error
	h.BuildNumber, _, err = getU32(b)
	return h, err
}

// HandshakeEx supersedes Handshake when both ends support capability
// flags.
type HandshakeEx struct {
	BuildNumber uint32
	Flags       uint32
}

func EncodeHandshakeEx(h HandshakeEx) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 8))
	putU32(buf, h.BuildNumber)
	putU32(buf, h.Flags)
	return railOrder(OrderHandshakeEx, buf.Bytes())
}

func DecodeHandshakeEx(b []byte) (HandshakeEx, error) {
	var h HandshakeEx
	var err error
	if h.BuildNumber, b, err = getU32(b); err != nil {
		return h, err
	}
	h.Flags, _, err = getU32(b)
	return h, err
}

// ClientStatus announces the client's optional capabilities.
type ClientStatus struct {
	Flags uint32
}

func EncodeClientStatus(s ClientStatus) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 4))
	putU32(buf, s.Flags)
	return railOrder(OrderClientStatus, buf.Bytes())
}

func DecodeClientStatus(b []byte) (ClientStatus, error) {
	var s ClientStatus
	var err error
	s.Flags, _, err = getU32(b)
	return s, err
}

// Exec asks the server to launch a program in the remote session.
type Exec struct {
	Flags      uint16
	ExeOrFile  string
	WorkingDir string
	Arguments  string
}

func EncodeExec(e Exec) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 16+2*len(e.ExeOrFile)+2*len(e.Arguments)))
	putU16(buf, e.Flags)
	for _, s := range []string{e.ExeOrFile, e.WorkingDir, e.Arguments} {
		if err := putUTF16(buf, s); err != nil {
			return nil, err
		}
	}
	return railOrder(OrderExec, buf.Bytes()), nil
}

func DecodeExec(b []byte) (Exec, error) {
	var e Exec
	var err error
	if e.Flags, b, err = getU16(b); err != nil {
		return e, err
	}
	if e.ExeOrFile, b, err = getUTF16(b); err != nil {
		return e, err
	}
	if e.WorkingDir, b, err = getUTF16(b); err != nil {
		return e, err
	}
	e.Arguments, _, err = getUTF16(b)
	return e, err
}

// ExecResult reports the outcome of an Exec request.
type ExecResult struct {
	Flags     uint16
	Result    uint16
	RawResult uint32
	ExeOrFile string
}

func EncodeExecResult(r ExecResult) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 12+2*len(r.ExeOrFile)))
	putU16(buf, r.Flags)
	putU16(buf, r.Result)
	putU32(buf, r.RawResult)
	putU16(buf, 0) // padding
	if err := putUTF16(buf, r.ExeOrFile); err != nil {
		return nil, err
	}
	return railOrder(OrderExecResult, buf.Bytes()), nil
}

func DecodeExecResult(b []byte) (ExecResult, error) {
	var r ExecResult
	var err error
	if r.Flags, b, err = getU16(b); err != nil {
		return r, err
	}
	if r.Result, b, err = getU16(b); err != nil {
		return r, err
	}
	if r.RawResult, b, err = getU32(b); err != nil {
		return r, err
	}
	if _, b, err = getU16(b); err != nil { // padding
		return r, err
	}
	r.ExeOrFile, _, err = getUTF16(b)
	return r, err
}

// Activate reports focus moving onto (or off) a window.
type Activate struct {
	WindowID uint32
	Enabled  bool
}

func EncodeActivate(a Activate) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 5))
	putU32(buf, a.WindowID)
	if a.Enabled {
		putU8(buf, 1)
	} else {
		putU8(buf, 0)
	}
	return railOrder(OrderActivate, buf.Bytes())
}

func DecodeActivate(b []byte) (Activate, error) {
	var a Activate
	var err error
	if a.WindowID, b, err = getU32(b); err != nil {
		return a, err
	}
	v, _, err := getU8(b)
	a.Enabled = v != 0
	return a, err
}

// Syscommand carries a window system command such as minimize or close.
type Syscommand struct {
	WindowID uint32
	Command  uint16
}

func EncodeSyscommand(s Syscommand) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 6))
	putU32(buf, s.WindowID)
	putU16(buf, s.Command)
	return railOrder(OrderSyscommand, buf.Bytes())
}

func DecodeSyscommand(b []byte) (Syscommand, error) {
	var s Syscommand
	var err error
	if s.WindowID, b, err = getU32(b); err != nil {
		return s, err
	}
	s.Command, _, err = getU16(b)
	return s, err
}

// SysMenu asks for the window system menu at a screen position.
type SysMenu struct {
	WindowID uint32
	Left     int16
	Top      int16
}

func EncodeSysMenu(m SysMenu) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 8))
	putU32(buf, m.WindowID)
	putI16(buf, m.Left)
	putI16(buf, m.Top)
	return railOrder(OrderSysMenu, buf.Bytes())
}

func DecodeSysMenu(b []byte) (SysMenu, error) {
	var m SysMenu
	var err error
	if m.WindowID, b, err = getU32(b); err != nil {
		return m, err
	}
	if m.Left, b, err = getI16(b); err != nil {
		return m, err
	}
	m.Top, _, err = getI16(b)
	return m, err
}

// WindowMove tells the server where the client finished moving or
// resizing a window, in client-desktop edges.
type WindowMove struct {
	WindowID uint32
	Left     int16
	Top      int16
	Right    int16
	Bottom   int16
}

func EncodeWindowMove(m WindowMove) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 12))
	putU32(buf, m.WindowID)
	putI16(buf, m.Left)
	putI16(buf, m.Top)
	putI16(buf, m.Right)
	putI16(buf, m.Bottom)
	return railOrder(OrderWindowMove, buf.Bytes())
}

func DecodeWindowMove(b []byte) (WindowMove, error) {
	var m WindowMove
	var err error
	if m.WindowID, b, err = getU32(b); err != nil {
		return m, err
	}
	if m.Left, b, err = getI16(b); err != nil {
		return m, err
	}
	if m.Top, b, err = getI16(b); err != nil {
		return m, err
	}
	if m.Right, b, err = getI16(b); err != nil {
		return m, err
	}
	m.Bottom, _, err = getI16(b)
	return m, err
}

// SnapArrange carries a client-driven snap placement. Same wire shape
// as WindowMove under its own order type.
type SnapArrange struct {
	WindowID uint32
	Left     int16
	Top      int16
	Right    int16
	Bottom   int16
}

func EncodeSnapArrange(s SnapArrange) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 12))
	putU32(buf, s.WindowID)
	putI16(buf, s.Left)
	putI16(buf, s.Top)
	putI16(buf, s.Right)
	putI16(buf, s.Bottom)
	return railOrder(OrderSnapArrange, buf.Bytes())
}

func DecodeSnapArrange(b []byte) (SnapArrange, error) {
	m, err := DecodeWindowMove(b)
	return SnapArrange(m), err
}

// MinMaxInfo publishes a window's sizing limits ahead of a client-side
// move or resize.
type MinMaxInfo struct {
	WindowID       uint32
	MaxWidth       int16
	MaxHeight      int16
	MaxPosX        int16
	MaxPosY        int16
	MinTrackWidth  int16
	MinTrackHeight int16
	MaxTrackWidth  int16
	MaxTrackHeight int16
}

func EncodeMinMaxInfo(m MinMaxInfo) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 20))
	putU32(buf, m.WindowID)
	for _, v := range []int16{m.MaxWidth, m.MaxHeight, m.MaxPosX, m.MaxPosY,
		m.MinTrackWidth, m.MinTrackHeight, m.MaxTrackWidth, m.MaxTrackHeight} {
		putI16(buf, v)
	}
	return railOrder(OrderMinMaxInfo, buf.Bytes())
}

func DecodeMinMaxInfo(b []byte) (MinMaxInfo, error) {
	var m MinMaxInfo
	var err error
	if m.WindowID, b, err = getU32(b); err != nil {
		return m, err
	}
	dst := []*int16{&m.MaxWidth, &m.MaxHeight, &m.MaxPosX, &m.MaxPosY,
		&m.MinTrackWidth, &m.MinTrackHeight, &m.MaxTrackWidth, &m.MaxTrackHeight}
	for _, p := range dst {
		if *p, b, err = getI16(b); err != nil {
			return m, err
		}
	}
	return m, nil
}

// LocalMoveSize hands a move or resize interaction to the client.
type LocalMoveSize struct {
	WindowID     uint32
	IsStart      bool
	MoveSizeType uint16
	PosX         int16
	PosY         int16
}

func EncodeLocalMoveSize(m LocalMoveSize) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 12))
	putU32(buf, m.WindowID)
	if m.IsStart {
		putU16(buf, 1)
	} else {
		putU16(buf, 0)
	}
	putU16(buf, m.MoveSizeType)
	putI16(buf, m.PosX)
	putI16(buf, m.PosY)
	return railOrder(OrderLocalMoveSize, buf.Bytes())
}

func DecodeLocalMoveSize(b []byte) (LocalMoveSize, error) {
	var m LocalMoveSize
	var err error
	if m.WindowID, b, err = getU32(b); err != nil {
		return m, err
	}
	var start uint16
	if start, b, err = getU16(b); err != nil {
		return m, err
	}
	m.IsStart = start != 0
	if m.MoveSizeType, b, err = getU16(b); err != nil {
		return m, err
	}
	if m.PosX, b, err = getI16(b); err != nil {
		return m, err
	}
	m.PosY, _, err = getI16(b)
	return m, err
}

// GetAppidReq asks for the application identity behind a window.
type GetAppidReq struct {
	WindowID uint32
}

func EncodeGetAppidReq(r GetAppidReq) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 4))
	putU32(buf, r.WindowID)
	return railOrder(OrderGetAppidReq, buf.Bytes())
}

func DecodeGetAppidReq(b []byte) (GetAppidReq, error) {
	var r GetAppidReq
	var err error
	r.WindowID, _, err = getU32(b)
	return r, err
}

// appidChars bounds the fixed identity strings at 260 UTF-16 units.
const appidChars = 260

// GetAppidResp answers GetAppidReq with the application user model ID.
type GetAppidResp struct {
	WindowID uint32
	AppID    string
}

func EncodeGetAppidResp(r GetAppidResp) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 4+appidChars*2))
	putU32(buf, r.WindowID)
	buf.Write(utf16Fixed(r.AppID, appidChars*2))
	return railOrder(OrderGetAppidResp, buf.Bytes())
}

func DecodeGetAppidResp(b []byte) (GetAppidResp, error) {
	var r GetAppidResp
	var err error
	if r.WindowID, b, err = getU32(b); err != nil {
		return r, err
	}
	raw, _, err := getBytes(b, appidChars*2)
	if err != nil {
		return r, err
	}
	r.AppID = utf16FromFixed(raw)
	return r, nil
}

// GetAppidRespEx extends GetAppidResp with the process image and id.
type GetAppidRespEx struct {
	WindowID  uint32
	AppID     string
	ProcessID uint32
	ImageName string
}

func EncodeGetAppidRespEx(r GetAppidRespEx) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 8+appidChars*4))
	putU32(buf, r.WindowID)
	buf.Write(utf16Fixed(r.AppID, appidChars*2))
	putU32(buf, r.ProcessID)
	buf.Write(utf16Fixed(r.ImageName, appidChars*2))
	return railOrder(OrderGetAppidRespEx, buf.Bytes())
}

func DecodeGetAppidRespEx(b []byte) (GetAppidRespEx, error) {
	var r GetAppidRespEx
	var err error
	if r.WindowID, b, err = getU32(b); err != nil {
		return r, err
	}
	var raw []byte
	if raw, b, err = getBytes(b, appidChars*2); err != nil {
		return r, err
	}
	r.AppID = utf16FromFixed(raw)
	if r.ProcessID, b, err = getU32(b); err != nil {
		return r, err
	}
	if raw, _, err = getBytes(b, appidChars*2); err != nil {
		return r, err
	}
	r.ImageName = utf16FromFixed(raw)
	return r, nil
}

// LangbarInfo reports the client's language bar status.
type LangbarInfo struct {
	LanguageBarStatus uint32
}

func EncodeLangbarInfo(l LangbarInfo) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 4))
	putU32(buf, l.LanguageBarStatus)
	return railOrder(OrderLangbarInfo, buf.Bytes())
}

func DecodeLangbarInfo(b []byte) (LangbarInfo, error) {
	var l LangbarInfo
	var err error
	l.LanguageBarStatus, _, err = getU32(b)
	return l, err
}

// LanguageImeInfo announces the client's active input profile.
type LanguageImeInfo struct {
	ProfileType         uint32
	LanguageID          uint32
	LanguageProfileGUID [16]byte
	ProfileGUID         [16]byte
	KeyboardLayout      uint32
}

func EncodeLanguageImeInfo(l LanguageImeInfo) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 44))
	putU32(buf, l.ProfileType)
	putU32(buf, l.LanguageID)
	buf.Write(l.LanguageProfileGUID[:])
	buf.Write(l.ProfileGUID[:])
	putU32(buf, l.KeyboardLayout)
	return railOrder(OrderLanguageImeInfo, buf.Bytes())
}

func DecodeLanguageImeInfo(b []byte) (LanguageImeInfo, error) {
	var l LanguageImeInfo
	var err error
	if l.ProfileType, b, err = getU32(b); err != nil {
		return l, err
	}
	if l.LanguageID, b, err = getU32(b); err != nil {
		return l, err
	}
	if len(b) < 32 {
		return l, errPayloadShort
	}
	copy(l.LanguageProfileGUID[:], b[:16])
	copy(l.ProfileGUID[:], b[16:32])
	l.KeyboardLayout, _, err = getU32(b[32:])
	return l, err
}

// CompartmentInfo announces the client's input method state.
type CompartmentInfo struct {
	ImeState        uint32
	ImeConvMode     uint32
	ImeSentenceMode uint32
	KanaMode        uint32
}

func EncodeCompartmentInfo(c CompartmentInfo) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 16))
	putU32(buf, c.ImeState)
	putU32(buf, c.ImeConvMode)
	putU32(buf, c.ImeSentenceMode)
	putU32(buf, c.KanaMode)
	return railOrder(OrderCompartmentInfo, buf.Bytes())
}

func DecodeCompartmentInfo(b []byte) (CompartmentInfo, error) {
	var c CompartmentInfo
	var err error
	if c.ImeState, b, err = getU32(b); err != nil {
		return c, err
	}
	if c.ImeConvMode, b, err = getU32(b); err != nil {
		return c, err
	}
	if c.ImeSentenceMode, b, err = getU32(b); err != nil {
		return c, err
	}
	c.KanaMode, _, err = getU32(b)
	return c, err
}

// Cloak reports a window being cloaked or uncloaked on the client.
type Cloak struct {
	WindowID uint32
	Cloaked  bool
}

func DecodeCloak(b []byte) (Cloak, error) {
	var c Cloak
	var err error
	if c.WindowID, b, err = getU32(b); err != nil {
		return c, err
	}
	v, _, err := getU8(b)
	c.Cloaked = v != 0
	return c, err
}

// ClientSysparam is a client-to-server system parameter update. Param
// selects which of the value fields is meaningful; unrecognised bodies
// are preserved in Raw.
type ClientSysparam struct {
	Param uint32
	Flag  bool
	Area  geom.Rect
	Raw   []byte
}

func EncodeClientSysparam(s ClientSysparam) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 12))
	putU32(buf, s.Param)
	switch s.Param {
	case SPISetWorkArea, SPITaskbarPos:
		putRect16(buf, s.Area)
	case SPISetDragFullWindows, SPISetKeyboardCues, SPISetKeyboardPref, SPISetMouseButtonSwap:
		if s.Flag {
			putU8(buf, 1)
		} else {
			putU8(buf, 0)
		}
	default:
		buf.Write(s.Raw)
	}
	return railOrder(OrderSysparam, buf.Bytes())
}

func DecodeClientSysparam(b []byte) (ClientSysparam, error) {
	var s ClientSysparam
	var err error
	if s.Param, b, err = getU32(b); err != nil {
		return s, err
	}
	switch s.Param {
	case SPISetWorkArea, SPITaskbarPos:
		s.Area, _, err = getRect16(b)
	case SPISetDragFullWindows, SPISetKeyboardCues, SPISetKeyboardPref, SPISetMouseButtonSwap:
		var v uint8
		v, _, err = getU8(b)
		s.Flag = v != 0
	default:
		s.Raw = append([]byte(nil), b...)
	}
	return s, err
}

// ServerSysparam is a server-to-client system parameter update; both
// supported parameters carry a single boolean.
type ServerSysparam struct {
	Param uint32
	Flag  bool
}

func EncodeServerSysparam(s ServerSysparam) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 5))
	putU32(buf, s.Param)
	if s.Flag {
		putU8(buf, 1)
	} else {
		putU8(buf, 0)
	}
	return railOrder(OrderSysparam, buf.Bytes())
}

func DecodeServerSysparam(b []byte) (ServerSysparam, error) {
	var s ServerSysparam
	var err error
	if s.Param, b, err = getU32(b); err != nil {
		return s, err
	}
	v, _, err := getU8(b)
	s.Flag = v != 0
	return s, err
}

// ZOrderSync points the client at the marker window delimiting
// server-managed z-order.
type ZOrderSync struct {
	WindowIDMarker uint32
}

func EncodeZOrderSync(z ZOrderSync) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 4))
	putU32(buf, z.WindowIDMarker)
	return railOrder(OrderZOrderSync, buf.Bytes())
}

func DecodeZOrderSync(b []byte) (ZOrderSync, error) {
	var z ZOrderSync
	var err error
	z.WindowIDMarker, _, err = getU32(b)
	return z, err
}

// PowerDisplayRequest keeps the client display awake while set.
type PowerDisplayRequest struct {
	Active bool
}

func EncodePowerDisplayRequest(p PowerDisplayRequest) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 4))
	if p.Active {
		putU32(buf, 1)
	} else {
		putU32(buf, 0)
	}
	return railOrder(OrderPowerDisplayRequest, buf.Bytes())
}

func DecodePowerDisplayRequest(b []byte) (PowerDisplayRequest, error) {
	var p PowerDisplayRequest
	v, _, err := getU32(b)
	p.Active = v != 0
	return p, err
}
