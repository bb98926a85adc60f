// Copyright © 2025 Railbridge contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: rail/adapter.go
// Summary: Inbound control orders: decode on the receive goroutine,
// dispatch to the compositor thread.

package rail

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/IcebergThings/railbridge/geom"
	"github.com/IcebergThings/railbridge/protocol"
)

// onUpdatePayload rejects traffic on the server-to-client stream.
func (p *Peer) onUpdatePayload(payload []byte) {
	p.log.Warn("unexpected inbound update payload", zap.Int("len", len(payload)))
}

// onRailPayload decodes one control order on the receive goroutine and
// posts its handler. Exec is the exception: its activation wait runs
// right here so the launch cannot overtake the handshake.
func (p *Peer) onRailPayload(payload []byte) {
	orderType, body, err := protocol.DecodeRailHeader(payload)
	if err != nil {
		p.log.Error("bad rail order header", zap.Error(err))
		return
	}
	switch orderType {
	case protocol.OrderHandshake:
		h, err := protocol.DecodeHandshake(body)
		if p.dropBad("Handshake", err) {
			return
		}
		p.post(func() { p.handleHandshake(h.BuildNumber) })
	case protocol.OrderHandshakeEx:
		h, err := protocol.DecodeHandshakeEx(body)
		if p.dropBad("HandshakeEx", err) {
			return
		}
		p.post(func() { p.handleHandshake(h.BuildNumber) })
	case protocol.OrderClientStatus:
		s, err := protocol.DecodeClientStatus(body)
		if p.dropBad("ClientStatus", err) {
			return
		}
		p.post(func() {
			p.clientStatus = s.Flags
			p.log.Info("client status", zap.Uint32("flags", s.Flags))
		})
	case protocol.OrderExec:
		e, err := protocol.DecodeExec(body)
		if p.dropBad("Exec", err) {
			return
		}
		p.handleExec(e)
	case protocol.OrderActivate:
		a, err := protocol.DecodeActivate(body)
		if p.dropBad("Activate", err) {
			return
		}
		p.post(func() { p.handleActivate(a) })
	case protocol.OrderSyscommand:
		c, err := protocol.DecodeSyscommand(body)
		if p.dropBad("Syscommand", err) {
			return
		}
		p.post(func() { p.handleSyscommand(c) })
	case protocol.OrderSysMenu:
		m, err := protocol.DecodeSysMenu(body)
		if p.dropBad("SysMenu", err) {
			return
		}
		p.post(func() {
			p.log.Debug("sys menu", zap.Uint32("window", m.WindowID),
				zap.Int16("left", m.Left), zap.Int16("top", m.Top))
		})
	case protocol.OrderSysparam:
		s, err := protocol.DecodeClientSysparam(body)
		if p.dropBad("Sysparam", err) {
			return
		}
		p.post(func() { p.handleSysparam(s) })
	case protocol.OrderWindowMove:
		m, err := protocol.DecodeWindowMove(body)
		if p.dropBad("WindowMove", err) {
			return
		}
		p.post(func() { p.handleWindowMove(m) })
	case protocol.OrderSnapArrange:
		s, err := protocol.DecodeSnapArrange(body)
		if p.dropBad("SnapArrange", err) {
			return
		}
		p.post(func() { p.handleSnapArrange(s) })
	case protocol.OrderGetAppidReq:
		r, err := protocol.DecodeGetAppidReq(body)
		if p.dropBad("GetAppidReq", err) {
			return
		}
		p.post(func() { p.handleGetAppid(r.WindowID) })
	case protocol.OrderLangbarInfo:
		l, err := protocol.DecodeLangbarInfo(body)
		if p.dropBad("LangbarInfo", err) {
			return
		}
		p.post(func() {
			p.log.Debug("language bar", zap.Uint32("status", l.LanguageBarStatus))
		})
	case protocol.OrderLanguageImeInfo:
		l, err := protocol.DecodeLanguageImeInfo(body)
		if p.dropBad("LanguageImeInfo", err) {
			return
		}
		p.post(func() { p.handleLanguageImeInfo(l) })
	case protocol.OrderCompartmentInfo:
		c, err := protocol.DecodeCompartmentInfo(body)
		if p.dropBad("CompartmentInfo", err) {
			return
		}
		p.post(func() {
			p.log.Debug("ime compartments",
				zap.Uint32("state", c.ImeState),
				zap.Uint32("conv", c.ImeConvMode))
		})
	case protocol.OrderCloak:
		c, err := protocol.DecodeCloak(body)
		if p.dropBad("Cloak", err) {
			return
		}
		p.post(func() {
			p.log.Debug("cloak", zap.Uint32("window", c.WindowID), zap.Bool("cloaked", c.Cloaked))
		})
	default:
		p.log.Warn("unknown rail order", zap.Uint16("order", orderType))
	}
}

// dropBad logs a malformed order and reports whether to drop it. The
// connection survives; one bad PDU is not worth the session.
func (p *Peer) dropBad(order string, err error) bool {
	if err == nil {
		return false
	}
	p.log.Error("malformed order dropped", zap.String("order", order), zap.Error(err))
	return true
}

func (p *Peer) handleHandshake(buildNumber uint32) {
	p.log.Info("client handshake", zap.Uint32("build", buildNumber))
	p.handshakeDone = true
	p.railReady.Store(true)

	flags := protocol.HandshakeExFlagHiDef | protocol.HandshakeExFlagExtendedSpi
	if p.opts.SnapArrange {
		flags |= protocol.HandshakeExFlagSnapArrange
	}
	p.sendRail(protocol.EncodeHandshakeEx(protocol.HandshakeEx{
		BuildNumber: serverBuildNumber,
		Flags:       flags,
	}), "HandshakeEx")
	p.maybeActivate()
}

// handleExec runs on the receive goroutine: it waits for the control
// handshake, then posts the launch so the shell call lands on the
// compositor thread. A handshake that never arrives fails the request
// after the poll cap.
func (p *Peer) handleExec(e protocol.Exec) {
	for i := 0; i < drainAttempts && !p.railReady.Load(); i++ {
		time.Sleep(drainInterval)
	}
	if !p.railReady.Load() {
		p.log.Error("exec before handshake", zap.String("exe", e.ExeOrFile))
		p.sendExecResult(e, protocol.ExecResultFail, execFailureHResult)
		return
	}
	p.post(func() {
		cmdline := trimCmdline(e.ExeOrFile)
		if args := trimCmdline(e.Arguments); args != "" {
			cmdline = cmdline + " " + args
		}
		proc, err := p.shell.LaunchProcess(cmdline)
		if err != nil || proc == nil {
			p.log.Error("launch failed", zap.String("cmdline", cmdline), zap.Error(err))
			p.sendExecResult(e, protocol.ExecResultFail, execFailureHResult)
			return
		}
		p.log.Info("launched", zap.String("cmdline", cmdline), zap.Int("pid", proc.Pid()))
		p.sendExecResult(e, protocol.ExecResultOK, 0)
	})
}

func (p *Peer) sendExecResult(e protocol.Exec, result uint16, raw uint32) {
	payload, err := protocol.EncodeExecResult(protocol.ExecResult{
		Flags:     e.Flags,
		Result:    result,
		RawResult: raw,
		ExeOrFile: e.ExeOrFile,
	})
	if err != nil {
		p.log.Error("exec result encode failed", zap.Error(err))
		return
	}
	p.sendRail(payload, "ExecResult")
}

func (p *Peer) handleActivate(a protocol.Activate) {
	if !a.Enabled {
		p.shell.ActivateWindow(nil)
		return
	}
	w, ok := p.windows.Lookup(a.WindowID)
	if !ok {
		p.log.Error("activate for unknown window", zap.Uint32("window", a.WindowID))
		return
	}
	p.shell.ActivateWindow(w.surface)
}

func (p *Peer) handleSyscommand(c protocol.Syscommand) {
	w, ok := p.windows.Lookup(c.WindowID)
	if !ok {
		p.log.Error("syscommand for unknown window",
			zap.Uint32("window", c.WindowID), zap.Uint16("command", c.Command))
		return
	}
	switch c.Command {
	case protocol.SCMinimize:
		p.shell.MinimizeWindow(w.surface)
	case protocol.SCMaximize:
		p.shell.MaximizeWindow(w.surface)
	case protocol.SCRestore:
		p.shell.RestoreWindow(w.surface)
	case protocol.SCClose:
		p.shell.CloseWindow(w.surface)
	case protocol.SCSize, protocol.SCMove, protocol.SCKeyMenu, protocol.SCDefault:
		p.log.Debug("syscommand ignored", zap.Uint16("command", c.Command))
	default:
		p.log.Warn("unknown syscommand", zap.Uint16("command", c.Command))
	}
}

func (p *Peer) handleWindowMove(m protocol.WindowMove) {
	w, ok := p.windows.Lookup(m.WindowID)
	if !ok {
		p.log.Error("move for unknown window", zap.Uint32("window", m.WindowID))
		return
	}
	client := geom.Rect{
		X: int(m.Left),
		Y: int(m.Top),
		W: int(m.Right) - int(m.Left),
		H: int(m.Bottom) - int(m.Top),
	}
	// The client moves the rectangle it was shown, margins included;
	// snapped placements were advertised without that inflation.
	if !w.snapped {
		client = client.Inset(w.sentMargins)
	}
	rect := p.toCompositorRect(client)
	w.snapped = false
	w.forceUpdate = true
	p.shell.MoveWindow(w.surface, rect)
}

func (p *Peer) handleSnapArrange(s protocol.SnapArrange) {
	w, ok := p.windows.Lookup(s.WindowID)
	if !ok {
		p.log.Error("snap for unknown window", zap.Uint32("window", s.WindowID))
		return
	}
	client := geom.Rect{
		X: int(s.Left),
		Y: int(s.Top),
		W: int(s.Right) - int(s.Left),
		H: int(s.Bottom) - int(s.Top),
	}
	rect := p.toCompositorRect(client)
	w.snapped = true
	w.forceUpdate = true
	p.shell.SnapWindow(w.surface, rect)
}

func (p *Peer) toCompositorRect(client geom.Rect) geom.Rect {
	if p.layout == nil {
		return client
	}
	if rect, _, ok := p.layout.RectToCompositor(client); ok {
		return rect
	}
	return client
}

func (p *Peer) handleSysparam(s protocol.ClientSysparam) {
	switch s.Param {
	case protocol.SPISetWorkArea:
		p.applyWorkarea(s.Area)
	case protocol.SPISetMouseButtonSwap:
		p.mouseSwapped = s.Flag
		p.log.Info("mouse buttons swapped", zap.Bool("swapped", s.Flag))
	case protocol.SPITaskbarPos:
		p.log.Debug("taskbar position",
			zap.Int("x", s.Area.X), zap.Int("y", s.Area.Y),
			zap.Int("w", s.Area.W), zap.Int("h", s.Area.H))
	default:
		p.log.Debug("sysparam noted", zap.Uint32("param", s.Param), zap.Bool("flag", s.Flag))
	}
}

// applyWorkarea stores a client-reported workarea on its head and
// forwards the translated rectangle to the shell.
func (p *Peer) applyWorkarea(clientArea geom.Rect) {
	if p.layout == nil {
		return
	}
	head := p.layout.HeadAtClient(clientArea.Origin())
	if head == nil {
		p.log.Warn("workarea outside every head",
			zap.Int("x", clientArea.X), zap.Int("y", clientArea.Y))
		return
	}
	rect, _, ok := p.layout.RectToCompositor(clientArea)
	if !ok {
		return
	}
	head.ClientWorkarea = clientArea
	head.Workarea = rect
	for _, out := range p.outputs {
		if out.Region().Overlaps(head.Compositor) {
			p.shell.SetDesktopWorkarea(out, rect)
			return
		}
	}
	p.log.Debug("no output for workarea head", zap.String("head", head.Name))
}

func (p *Peer) handleGetAppid(windowID uint32) {
	w, ok := p.windows.Lookup(windowID)
	if !ok {
		p.log.Error("appid request for unknown window", zap.Uint32("window", windowID))
		return
	}
	appID, imageName, pid := p.shell.WindowAppID(w.surface)
	if p.clientStatus&protocol.ClientStatusGetAppidRespEx != 0 && pid != 0 && imageName != "" {
		p.sendRail(protocol.EncodeGetAppidRespEx(protocol.GetAppidRespEx{
			WindowID:  windowID,
			AppID:     appID,
			ProcessID: pid,
			ImageName: imageName,
		}), "GetAppidRespEx")
		return
	}
	p.sendRail(protocol.EncodeGetAppidResp(protocol.GetAppidResp{
		WindowID: windowID,
		AppID:    appID,
	}), "GetAppidResp")
}

func (p *Peer) handleLanguageImeInfo(l protocol.LanguageImeInfo) {
	layout := keyboardLayoutFor(l)
	if layout == p.keyboardLayout {
		return
	}
	p.keyboardLayout = layout
	p.log.Info("keyboard layout switched",
		zap.Uint32("layout", layout),
		zap.Uint32("language", l.LanguageID))
	p.shell.SetKeyboardLayout(layout)
	if p.opts.UseRdpAppList {
		if p.shell.StartAppListUpdate(l.LanguageID) {
			p.log.Debug("application list refresh started",
				zap.Uint32("language", l.LanguageID))
		}
	}
}

// trimCmdline collapses surrounding whitespace; clients pad fixed
// buffers with spaces on occasion.
func trimCmdline(s string) string {
	return strings.TrimSpace(s)
}
