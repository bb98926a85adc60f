// Copyright © 2025 Railbridge contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: rail/zorder.go
// Summary: Stacking-order broadcast derived from the scene graph.

package rail

import (
	"go.uber.org/zap"

	"github.com/IcebergThings/railbridge/compositor"
	"github.com/IcebergThings/railbridge/protocol"
)

// broadcastZOrder walks the scene top to bottom and publishes the
// resulting stacking order as a monitored desktop order. Minimized
// windows are omitted; a marker view, or the registered proxy view,
// contributes the client's anchor id. The first entry doubles as the
// active window.
func (p *Peer) broadcastZOrder() {
	p.zOrderDirty = false
	if !p.activated {
		return
	}

	limit := p.windows.Used() + 1
	ids := make([]uint32, 0, limit)
	overflow := false

	var visit func(v compositor.View) bool
	visit = func(v compositor.View) bool {
		for _, sub := range v.Subviews() {
			if !visit(sub) {
				return false
			}
		}
		var id uint32
		switch {
		case v.IsMarker(), v == p.proxyView:
			id = protocol.MarkerWindowID
		default:
			w := p.bySurface[v.Surface()]
			if w == nil || !w.created {
				return true
			}
			if w.firstContent && w.surface.State() == compositor.StateMinimized {
				return true
			}
			id = w.id
		}
		if len(ids) >= limit {
			overflow = true
			return false
		}
		ids = append(ids, id)
		return true
	}

walk:
	for _, layer := range p.scene.Layers() {
		for _, view := range layer.Views() {
			if !visit(view) {
				break walk
			}
		}
	}
	if overflow {
		p.log.Error("scene walk exceeded the window count, broadcast aborted",
			zap.Int("limit", limit))
		return
	}
	if len(ids) == 0 {
		return
	}

	if p.needZOrderSync && p.opts.ZOrderSync &&
		p.clientStatus&protocol.ClientStatusZOrderSync != 0 {
		p.sendRail(protocol.EncodeZOrderSync(protocol.ZOrderSync{
			WindowIDMarker: protocol.MarkerWindowID,
		}), "ZOrderSync")
		p.needZOrderSync = false
	}

	body, err := protocol.EncodeDesktopOrder(protocol.DesktopOrder{
		Fields:         protocol.DesktopFieldZOrder | protocol.DesktopFieldActiveWnd,
		ActiveWindowID: ids[0],
		ZOrder:         ids,
	})
	if err != nil {
		p.log.Error("desktop order encode failed", zap.Error(err))
		return
	}
	p.sendUpdate(protocol.UpdateWindowOrder, body, "MonitoredDesktop")
}
