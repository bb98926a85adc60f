// Copyright © 2025 Railbridge contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: rail/channels.go
// Summary: Graphics and shared-memory channel inbound handling.

package rail

import (
	"go.uber.org/zap"

	"github.com/IcebergThings/railbridge/protocol"
)

// gfxCapsPreference lists the capability versions the bridge accepts,
// most preferred first.
var gfxCapsPreference = []uint32{
	protocol.GfxCapsVersion107,
	protocol.GfxCapsVersion106,
	protocol.GfxCapsVersion105,
	protocol.GfxCapsVersion104,
	protocol.GfxCapsVersion103,
	protocol.GfxCapsVersion102,
	protocol.GfxCapsVersion101,
	protocol.GfxCapsVersion10,
	protocol.GfxCapsVersion81,
	protocol.GfxCapsVersion8,
}

// onGfxPayload handles graphics channel traffic on the receive
// goroutine. Frame acknowledgements update the shared counter inline;
// cache import offers are answered inline; capability advertisements
// go through the dispatch queue like every state mutation.
func (p *Peer) onGfxPayload(payload []byte) {
	hdr, body, err := protocol.DecodeGfxHeader(payload)
	if err != nil {
		p.log.Error("bad gfx command header", zap.Error(err))
		return
	}
	switch hdr.CmdID {
	case protocol.GfxCmdCapsAdvertise:
		caps, err := protocol.DecodeGfxCapsAdvertise(body)
		if p.dropBad("CapsAdvertise", err) {
			return
		}
		p.post(func() { p.handleGfxCaps(caps) })
	case protocol.GfxCmdFrameAcknowledge:
		ack, err := protocol.DecodeGfxFrameAcknowledge(body)
		if p.dropBad("FrameAcknowledge", err) {
			return
		}
		if ack.QueueDepth == protocol.FrameAckSuspended {
			p.ackedFrame.Store(protocol.FrameAckSuspended)
			return
		}
		p.ackedFrame.Store(ack.FrameID)
	case protocol.GfxCmdCacheImportOffer:
		// Nothing is cached across sessions; an empty reply keeps the
		// client from waiting.
		if err := p.gfxCh.Write(protocol.EncodeGfxCacheImportReply()); err != nil {
			p.sendFailed("CacheImportReply", err)
		}
	case protocol.GfxCmdQoeFrameAcknowledge:
		p.log.Debug("qoe frame acknowledge")
	default:
		p.log.Warn("unexpected gfx command", zap.Uint16("cmd", hdr.CmdID))
	}
}

// handleGfxCaps confirms the newest advertised version the bridge
// knows. An advertisement with no usable version is a protocol error
// and leaves the channel inactive.
func (p *Peer) handleGfxCaps(caps protocol.GfxCapsAdvertise) {
	for _, want := range gfxCapsPreference {
		for _, set := range caps.CapSets {
			if set.Version != want {
				continue
			}
			p.gfxCapsVersion = set.Version
			p.gfxActive = true
			p.sendGfx(protocol.EncodeGfxCapsConfirm(protocol.GfxCapsConfirm{
				CapSet: set,
			}), "CapsConfirm")
			p.log.Info("graphics channel active",
				zap.Uint32("version", set.Version),
				zap.Uint32("flags", set.Flags))
			p.maybeActivate()
			return
		}
	}
	p.log.Error("no usable graphics capability version",
		zap.Int("advertised", len(caps.CapSets)))
}

// onShmPayload handles shared-memory channel traffic on the receive
// goroutine. Present acknowledgements touch the window record inline,
// pinned by the id table lock.
func (p *Peer) onShmPayload(payload []byte) {
	msgType, body, err := protocol.DecodeShmHeader(payload)
	if err != nil {
		p.log.Error("bad shm message header", zap.Error(err))
		return
	}
	switch msgType {
	case protocol.ShmMsgCaps:
		caps, err := protocol.DecodeShmCaps(body)
		if p.dropBad("ShmCaps", err) {
			return
		}
		if caps.Version != protocol.ShmVersion1 {
			p.log.Error("unsupported shared-memory version",
				zap.Uint32("version", caps.Version))
			return
		}
		p.post(func() { p.handleShmCaps(caps) })
	case protocol.ShmMsgPresentBufferAck:
		ack, err := protocol.DecodeShmPresentBufferAck(body)
		if p.dropBad("PresentBufferAck", err) {
			return
		}
		p.windows.Lock()
		if w, ok := p.windows.Lookup(ack.WindowID); ok {
			w.updatePending.Store(false)
		}
		p.windows.Unlock()
		p.ackedFrame.Store(ack.PresentID)
	default:
		p.log.Warn("unexpected shm message", zap.Uint16("type", msgType))
	}
}

func (p *Peer) handleShmCaps(caps protocol.ShmCaps) {
	p.shmActive = true
	p.sendShm(protocol.EncodeShmCapsConfirm(protocol.ShmCaps{
		Version: protocol.ShmVersion1,
		Flags:   caps.Flags,
	}), "ShmCapsConfirm")
	p.log.Info("shared-memory channel active", zap.Uint32("flags", caps.Flags))
	p.maybeActivate()
}
