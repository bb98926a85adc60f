package protocol

import (
	"bytes"
	"errors"

	"github.com/IcebergThings/railbridge/geom"
)

var errNotDesktopOrder = errors.New("protocol: order is not a monitored desktop order")

// Update types carried on the update channel.
const (
	UpdateWindowOrder   uint16 = 0x0001
	UpdatePointerSystem uint16 = 0x0002
	UpdatePointerLarge  uint16 = 0x0003
)

// Window order class and state bits, or'ed into the field flags.
const (
	WindowOrderTypeWindow   uint32 = 0x01000000
	WindowOrderTypeNotify   uint32 = 0x02000000
	WindowOrderTypeDesktop  uint32 = 0x04000000
	WindowOrderStateNew     uint32 = 0x10000000
	WindowOrderStateDeleted uint32 = 0x20000000
	WindowOrderIcon         uint32 = 0x40000000
	WindowOrderCachedIcon   uint32 = 0x80000000
)

// Field-present flags for window orders.
const (
	WindowFieldOwner         uint32 = 0x00000002
	WindowFieldTitle         uint32 = 0x00000004
	WindowFieldStyle         uint32 = 0x00000008
	WindowFieldShow          uint32 = 0x00000010
	WindowFieldResizeMarginX uint32 = 0x00000080
	WindowFieldWndRects      uint32 = 0x00000100
	WindowFieldVisibility    uint32 = 0x00000200
	WindowFieldWndSize       uint32 = 0x00000400
	WindowFieldWndOffset     uint32 = 0x00000800
	WindowFieldVisOffset     uint32 = 0x00001000
	WindowFieldIconBig       uint32 = 0x00002000
	WindowFieldClientOffset  uint32 = 0x00004000
	WindowFieldClientSize    uint32 = 0x00010000
	WindowFieldRootParent    uint32 = 0x00040000
	WindowFieldTaskbarButton uint32 = 0x00800000
	WindowFieldResizeMarginY uint32 = 0x08000000
)

// Field-present flags for monitored desktop orders.
const (
	DesktopFieldNone         uint32 = 0x00000001
	DesktopFieldHooked       uint32 = 0x00000002
	DesktopFieldArcCompleted uint32 = 0x00000004
	DesktopFieldArcBegan     uint32 = 0x00000008
	DesktopFieldZOrder       uint32 = 0x00000010
	DesktopFieldActiveWnd    uint32 = 0x00000020
)

// Show states carried by WindowFieldShow.
const (
	ShowHide      uint8 = 0x00
	ShowMinimized uint8 = 0x02
	ShowMaximized uint8 = 0x03
	ShowNormal    uint8 = 0x05
)

// Window style bits used when creating windows.
const (
	StylePopup       uint32 = 0x80000000
	StyleVisible     uint32 = 0x10000000
	StyleThickFrame  uint32 = 0x00040000
	StyleSysMenu     uint32 = 0x00080000
	StyleMinimizeBox uint32 = 0x00020000
	StyleMaximizeBox uint32 = 0x00010000

	ExStyleTopMost    uint32 = 0x00000008
	ExStyleToolWindow uint32 = 0x00000080
	ExStyleLayered    uint32 = 0x00080000
)

// maxOrderRects bounds the rectangle arrays a single order may carry.
const maxOrderRects = 512

// WindowOrder is one window information order. Fields must include
// WindowOrderTypeWindow; the other bits select which optional fields
// are present on the wire. An order whose Fields carries no field bits
// beyond the class and state bits updates nothing.
type WindowOrder struct {
	WindowID uint32
	Fields   uint32

	OwnerWindowID     uint32
	Title             string
	Style             uint32
	ExtendedStyle     uint32
	ShowState         uint8
	ResizeMarginLeft  uint32
	ResizeMarginRight uint32
	WndRects          []geom.Rect
	VisibilityRects   []geom.Rect
	WndSize           geom.Size
	WndOffset         geom.Point
	VisOffset         geom.Point
	ClientOffset      geom.Point
	ClientSize        geom.Size
	RootParentHandle  uint32
	TaskbarButton     uint8
	ResizeMarginTop   uint32
	ResizeMarginBot   uint32
}

func EncodeWindowOrder(w WindowOrder) ([]byte, error) {
	if len(w.WndRects) > maxOrderRects || len(w.VisibilityRects) > maxOrderRects {
		return nil, errTooManyRects
	}
	body := bytes.NewBuffer(make([]byte, 0, 64+2*len(w.Title)))
	putU32(body, w.Fields)
	putU32(body, w.WindowID)
	if w.Fields&WindowFieldOwner != 0 {
		putU32(body, w.OwnerWindowID)
	}
	if w.Fields&WindowFieldStyle != 0 {
		putU32(body, w.Style)
		putU32(body, w.ExtendedStyle)
	}
	if w.Fields&WindowFieldShow != 0 {
		putU8(body, w.ShowState)
	}
	if w.Fields&WindowFieldTitle != 0 {
		if err := putUTF16(body, w.Title); err != nil {
			return nil, err
		}
	}
	if w.Fields&WindowFieldClientOffset != 0 {
		putI32(body, int32(w.ClientOffset.X))
		putI32(body, int32(w.ClientOffset.Y))
	}
	if w.Fields&WindowFieldClientSize != 0 {
		putU32(body, uint32(w.ClientSize.W))
		putU32(body, uint32(w.ClientSize.H))
	}
	if w.Fields&WindowFieldResizeMarginX != 0 {
		putU32(body, w.ResizeMarginLeft)
		putU32(body, w.ResizeMarginRight)
	}
	if w.Fields&WindowFieldResizeMarginY != 0 {
		putU32(body, w.ResizeMarginTop)
		putU32(body, w.ResizeMarginBot)
	}
	if w.Fields&WindowFieldRootParent != 0 {
		putU32(body, w.RootParentHandle)
	}
	if w.Fields&WindowFieldWndOffset != 0 {
		putI32(body, int32(w.WndOffset.X))
		putI32(body, int32(w.WndOffset.Y))
	}
	if w.Fields&WindowFieldWndSize != 0 {
		putU32(body, uint32(w.WndSize.W))
		putU32(body, uint32(w.WndSize.H))
	}
	if w.Fields&WindowFieldWndRects != 0 {
		putU16(body, uint16(len(w.WndRects)))
		for _, r := range w.WndRects {
			putRect16(body, r)
		}
	}
	if w.Fields&WindowFieldVisOffset != 0 {
		putI32(body, int32(w.VisOffset.X))
		putI32(body, int32(w.VisOffset.Y))
	}
	if w.Fields&WindowFieldVisibility != 0 {
		putU16(body, uint16(len(w.VisibilityRects)))
		for _, r := range w.VisibilityRects {
			putRect16(body, r)
		}
	}
	if w.Fields&WindowFieldTaskbarButton != 0 {
		putU8(body, w.TaskbarButton)
	}

	out := bytes.NewBuffer(make([]byte, 0, 2+body.Len()))
	putU16(out, uint16(2+body.Len()))
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func decodeOrderRects(b []byte) ([]geom.Rect, []byte, error) {
	count, b, err := getU16(b)
	if err != nil {
		return nil, nil, err
	}
	if count > maxOrderRects {
		return nil, nil, errTooManyRects
	}
	rects := make([]geom.Rect, count)
	for i := range rects {
		if rects[i], b, err = getRect16(b); err != nil {
			return nil, nil, err
		}
	}
	return rects, b, nil
}

func DecodeWindowOrder(b []byte) (WindowOrder, error) {
	var w WindowOrder
	size, b, err := getU16(b)
	if err != nil {
		return w, err
	}
	if int(size) > len(b)+2 {
		return w, errPayloadShort
	}
	if w.Fields, b, err = getU32(b); err != nil {
		return w, err
	}
	if w.WindowID, b, err = getU32(b); err != nil {
		return w, err
	}
	if w.Fields&WindowFieldOwner != 0 {
		if w.OwnerWindowID, b, err = getU32(b); err != nil {
			return w, err
		}
	}
	if w.Fields&WindowFieldStyle != 0 {
		if w.Style, b, err = getU32(b); err != nil {
			return w, err
		}
		if w.ExtendedStyle, b, err = getU32(b); err != nil {
			return w, err
		}
	}
	if w.Fields&WindowFieldShow != 0 {
		if w.ShowState, b, err = getU8(b); err != nil {
			return w, err
		}
	}
	if w.Fields&WindowFieldTitle != 0 {
		if w.Title, b, err = getUTF16(b); err != nil {
			return w, err
		}
	}
	if w.Fields&WindowFieldClientOffset != 0 {
		var x, y int32
		if x, b, err = getI32(b); err != nil {
			return w, err
		}
		if y, b, err = getI32(b); err != nil {
			return w, err
		}
		w.ClientOffset = geom.Point{X: int(x), Y: int(y)}
	}
	if w.Fields&WindowFieldClientSize != 0 {
		var cw, ch uint32
		if cw, b, err = getU32(b); err != nil {
			return w, err
		}
		if ch, b, err = getU32(b); err != nil {
			return w, err
		}
		w.ClientSize = geom.Size{W: int(cw), H: int(ch)}
	}
	if w.Fields&WindowFieldResizeMarginX != 0 {
		if w.ResizeMarginLeft, b, err = getU32(b); err != nil {
			return w, err
		}
		if w.ResizeMarginRight, b, err = getU32(b); err != nil {
			return w, err
		}
	}
	if w.Fields&WindowFieldResizeMarginY != 0 {
		if w.ResizeMarginTop, b, err = getU32(b); err != nil {
			return w, err
		}
		if w.ResizeMarginBot, b, err = getU32(b); err != nil {
			return w, err
		}
	}
	if w.Fields&WindowFieldRootParent != 0 {
		if w.RootParentHandle, b, err = getU32(b); err != nil {
			return w, err
		}
	}
	if w.Fields&WindowFieldWndOffset != 0 {
		var x, y int32
		if x, b, err = getI32(b); err != nil {
			return w, err
		}
		if y, b, err = getI32(b); err != nil {
			return w, err
		}
		w.WndOffset = geom.Point{X: int(x), Y: int(y)}
	}
	if w.Fields&WindowFieldWndSize != 0 {
		var ww, wh uint32
		if ww, b, err = getU32(b); err != nil {
			return w, err
		}
		if wh, b, err = getU32(b); err != nil {
			return w, err
		}
		w.WndSize = geom.Size{W: int(ww), H: int(wh)}
	}
	if w.Fields&WindowFieldWndRects != 0 {
		if w.WndRects, b, err = decodeOrderRects(b); err != nil {
			return w, err
		}
	}
	if w.Fields&WindowFieldVisOffset != 0 {
		var x, y int32
		if x, b, err = getI32(b); err != nil {
			return w, err
		}
		if y, b, err = getI32(b); err != nil {
			return w, err
		}
		w.VisOffset = geom.Point{X: int(x), Y: int(y)}
	}
	if w.Fields&WindowFieldVisibility != 0 {
		if w.VisibilityRects, b, err = decodeOrderRects(b); err != nil {
			return w, err
		}
	}
	if w.Fields&WindowFieldTaskbarButton != 0 {
		if w.TaskbarButton, b, err = getU8(b); err != nil {
			return w, err
		}
	}
	return w, nil
}

// EncodeWindowDelete produces the deletion order for a window.
func EncodeWindowDelete(windowID uint32) []byte {
	out, _ := EncodeWindowOrder(WindowOrder{
		WindowID: windowID,
		Fields:   WindowOrderTypeWindow | WindowOrderStateDeleted,
	})
	return out
}

// WindowIcon carries a window's icon as a 32bpp color plane plus a 1bpp
// mask, rows padded to 16 bits.
type WindowIcon struct {
	WindowID  uint32
	Big       bool
	Width     uint16
	Height    uint16
	BitsMask  []byte
	BitsColor []byte
}

func EncodeWindowIcon(ic WindowIcon) ([]byte, error) {
	fields := WindowOrderTypeWindow | WindowOrderIcon
	if ic.Big {
		fields |= WindowFieldIconBig
	}
	body := bytes.NewBuffer(make([]byte, 0, 24+len(ic.BitsMask)+len(ic.BitsColor)))
	putU32(body, fields)
	putU32(body, ic.WindowID)
	putU16(body, 0xFFFF) // no cache entry
	putU8(body, 0xFF)    // no cache id
	putU8(body, 32)      // bpp
	putU16(body, ic.Width)
	putU16(body, ic.Height)
	putU16(body, uint16(len(ic.BitsMask)))
	putU16(body, uint16(len(ic.BitsColor)))
	body.Write(ic.BitsMask)
	body.Write(ic.BitsColor)

	out := bytes.NewBuffer(make([]byte, 0, 2+body.Len()))
	putU16(out, uint16(2+body.Len()))
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func DecodeWindowIcon(b []byte) (WindowIcon, error) {
	var ic WindowIcon
	size, b, err := getU16(b)
	if err != nil {
		return ic, err
	}
	_ = size
	var fields uint32
	if fields, b, err = getU32(b); err != nil {
		return ic, err
	}
	ic.Big = fields&WindowFieldIconBig != 0
	if ic.WindowID, b, err = getU32(b); err != nil {
		return ic, err
	}
	if _, b, err = getU16(b); err != nil { // cache entry
		return ic, err
	}
	if _, b, err = getU8(b); err != nil { // cache id
		return ic, err
	}
	if _, b, err = getU8(b); err != nil { // bpp
		return ic, err
	}
	if ic.Width, b, err = getU16(b); err != nil {
		return ic, err
	}
	if ic.Height, b, err = getU16(b); err != nil {
		return ic, err
	}
	var cbMask, cbColor uint16
	if cbMask, b, err = getU16(b); err != nil {
		return ic, err
	}
	if cbColor, b, err = getU16(b); err != nil {
		return ic, err
	}
	if ic.BitsMask, b, err = getBytes(b, int(cbMask)); err != nil {
		return ic, err
	}
	ic.BitsColor, _, err = getBytes(b, int(cbColor))
	return ic, err
}

// DesktopOrder is a monitored desktop order: activation state changes
// and the server-managed z-order list, topmost first.
type DesktopOrder struct {
	Fields         uint32
	ActiveWindowID uint32
	ZOrder         []uint32
}

func EncodeDesktopOrder(d DesktopOrder) ([]byte, error) {
	if len(d.ZOrder) > 0xFF {
		return nil, errTooManyRects
	}
	body := bytes.NewBuffer(make([]byte, 0, 16+4*len(d.ZOrder)))
	putU32(body, d.Fields|WindowOrderTypeDesktop)
	if d.Fields&DesktopFieldActiveWnd != 0 {
		putU32(body, d.ActiveWindowID)
	}
	if d.Fields&DesktopFieldZOrder != 0 {
		putU8(body, uint8(len(d.ZOrder)))
		for _, id := range d.ZOrder {
			putU32(body, id)
		}
	}

	out := bytes.NewBuffer(make([]byte, 0, 2+body.Len()))
	putU16(out, uint16(2+body.Len()))
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func DecodeDesktopOrder(b []byte) (DesktopOrder, error) {
	var d DesktopOrder
	_, b, err := getU16(b)
	if err != nil {
		return d, err
	}
	if d.Fields, b, err = getU32(b); err != nil {
		return d, err
	}
	if d.Fields&WindowOrderTypeDesktop == 0 {
		return d, errNotDesktopOrder
	}
	d.Fields &^= WindowOrderTypeDesktop
	if d.Fields&DesktopFieldActiveWnd != 0 {
		if d.ActiveWindowID, b, err = getU32(b); err != nil {
			return d, err
		}
	}
	if d.Fields&DesktopFieldZOrder != 0 {
		var count uint8
		if count, b, err = getU8(b); err != nil {
			return d, err
		}
		d.ZOrder = make([]uint32, count)
		for i := range d.ZOrder {
			if d.ZOrder[i], b, err = getU32(b); err != nil {
				return d, err
			}
		}
	}
	return d, nil
}

// System pointer kinds.
const (
	PointerHidden  uint32 = 0x00000000
	PointerDefault uint32 = 0x00007F00
)

// PointerSystem selects one of the client's built-in cursors.
type PointerSystem struct {
	Kind uint32
}

func EncodePointerSystem(p PointerSystem) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 4))
	putU32(buf, p.Kind)
	return buf.Bytes()
}

func DecodePointerSystem(b []byte) (PointerSystem, error) {
	var p PointerSystem
	var err error
	p.Kind, _, err = getU32(b)
	return p, err
}

// PointerLarge replaces the client cursor with a full-color image. The
// XOR mask is 32bpp bottom-up BGRA; the AND mask is 1bpp with rows
// padded to 16 bits.
type PointerLarge struct {
	XorBpp   uint16
	HotspotX uint16
	HotspotY uint16
	Width    uint16
	Height   uint16
	AndMask  []byte
	XorMask  []byte
}

func EncodePointerLarge(p PointerLarge) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 20+len(p.AndMask)+len(p.XorMask)))
	putU16(buf, p.XorBpp)
	putU16(buf, p.HotspotX)
	putU16(buf, p.HotspotY)
	putU16(buf, p.Width)
	putU16(buf, p.Height)
	putU32(buf, uint32(len(p.AndMask)))
	putU32(buf, uint32(len(p.XorMask)))
	buf.Write(p.XorMask)
	buf.Write(p.AndMask)
	return buf.Bytes()
}

func DecodePointerLarge(b []byte) (PointerLarge, error) {
	var p PointerLarge
	var err error
	if p.XorBpp, b, err = getU16(b); err != nil {
		return p, err
	}
	if p.HotspotX, b, err = getU16(b); err != nil {
		return p, err
	}
	if p.HotspotY, b, err = getU16(b); err != nil {
		return p, err
	}
	if p.Width, b, err = getU16(b); err != nil {
		return p, err
	}
	if p.Height, b, err = getU16(b); err != nil {
		return p, err
	}
	var cbAnd, cbXor uint32
	if cbAnd, b, err = getU32(b); err != nil {
		return p, err
	}
	if cbXor, b, err = getU32(b); err != nil {
		return p, err
	}
	if p.XorMask, b, err = getBytes(b, int(cbXor)); err != nil {
		return p, err
	}
	p.AndMask, _, err = getBytes(b, int(cbAnd))
	return p, err
}

// EncodeUpdate wraps an update-channel body with its type tag.
func EncodeUpdate(updateType uint16, body []byte) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 2+len(body)))
	putU16(buf, updateType)
	buf.Write(body)
	return buf.Bytes()
}

// DecodeUpdateHeader splits an update-channel payload into its type tag
// and body.
func DecodeUpdateHeader(b []byte) (uint16, []byte, error) {
	return getU16(b)
}
