// Copyright © 2025 Railbridge contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/sim/shell.go
// Summary: Shell request handling: state changes, moves, icon answers.

package sim

import (
	"image"
	"image/color"

	"go.uber.org/zap"

	"github.com/IcebergThings/railbridge/compositor"
	"github.com/IcebergThings/railbridge/geom"
)

const iconSide = 32

// Shell answers the bridge's compositor-side requests against the
// simulated scene. Loop-thread only. Answers that logically come from
// an application round-trip (icons, sizing limits) are posted back
// through the loop so they arrive on a later dispatch, the way a real
// client would deliver them.
type Shell struct {
	comp *Compositor

	keyboardLayout uint32
	appListLang    uint32
	appListStarts  int
	appListStops   int

	procs []*process
}

func (sh *Shell) LaunchProcess(cmdline string) (compositor.Process, error) {
	return sh.comp.launch(cmdline)
}

// ActivateWindow raises s and reports the focus change; a nil surface
// drops focus entirely.
func (sh *Shell) ActivateWindow(s compositor.Surface) {
	if s == nil {
		sh.comp.focusChanged(nil)
		return
	}
	sur, ok := s.(*Surface)
	if !ok || sur.destroyed {
		return
	}
	sh.comp.raise(sur)
	sh.comp.focusChanged(sur)
}

func (sh *Shell) MinimizeWindow(s compositor.Surface) {
	if sur := sh.lookup(s); sur != nil {
		sur.SetState(compositor.StateMinimized)
	}
}

// MaximizeWindow grows the window to the head workarea, remembering
// the normal placement for the restore.
func (sh *Shell) MaximizeWindow(s compositor.Surface) {
	sur := sh.lookup(s)
	if sur == nil {
		return
	}
	if sur.state == compositor.StateNormal {
		sur.normalRect = geom.Rect{X: sur.pos.X, Y: sur.pos.Y, W: sur.size.W, H: sur.size.H}
	}
	sur.SetState(compositor.StateMaximized)
	area := sh.comp.out.Workarea()
	sur.Move(area.Origin())
	sur.Resize(area.Size())
	sur.Paint(geom.Rect{W: area.W, H: area.H}, surfaceFill(sur))
	sur.Commit()
}

func (sh *Shell) RestoreWindow(s compositor.Surface) {
	sur := sh.lookup(s)
	if sur == nil {
		return
	}
	wasMaximized := sur.state == compositor.StateMaximized
	// Snapshot the target before Move retargets it against the still
	// maximized size.
	target := sur.normalRect
	sur.SetState(compositor.StateNormal)
	if wasMaximized && !target.Empty() {
		sur.Move(target.Origin())
		sur.Resize(target.Size())
		sur.Paint(geom.Rect{W: sur.size.W, H: sur.size.H}, surfaceFill(sur))
		sur.Commit()
	}
}

// CloseWindow terminates the backing process when there is one and
// destroys scripted surfaces outright.
func (sh *Shell) CloseWindow(s compositor.Surface) {
	sur := sh.lookup(s)
	if sur == nil {
		return
	}
	for _, pr := range sh.procs {
		if pr.sur == sur {
			pr.stopNow()
			return
		}
	}
	sur.Destroy()
}

func (sh *Shell) MoveWindow(s compositor.Surface, r geom.Rect) {
	sur := sh.lookup(s)
	if sur == nil {
		return
	}
	sur.Move(r.Origin())
	if r.Size() != sur.size && !r.Size().IsZero() {
		sur.Resize(r.Size())
		sur.Paint(geom.Rect{W: r.W, H: r.H}, surfaceFill(sur))
		sur.Commit()
	}
}

func (sh *Shell) SnapWindow(s compositor.Surface, r geom.Rect) {
	sh.MoveWindow(s, r)
}

// RequestWindowIcon answers with a generated icon on a later dispatch.
func (sh *Shell) RequestWindowIcon(s compositor.Surface) {
	sur := sh.lookup(s)
	if sur == nil {
		return
	}
	sh.comp.Post(func() {
		if sur.destroyed {
			return
		}
		img := iconFor(sur)
		for _, a := range sh.comp.clients {
			a.client.SubmitWindowIcon(sur, img)
		}
	})
}

// RequestMinMaxInfo answers with the head-derived sizing limits on a
// later dispatch.
func (sh *Shell) RequestMinMaxInfo(s compositor.Surface) {
	sur := sh.lookup(s)
	if sur == nil {
		return
	}
	area := sh.comp.out.Workarea()
	info := compositor.MinMaxInfo{
		MaxSize:      area.Size(),
		MaxPosition:  area.Origin(),
		MinTrackSize: geom.Size{W: 160, H: 120},
		MaxTrackSize: area.Size(),
	}
	sh.comp.Post(func() {
		if sur.destroyed {
			return
		}
		for _, a := range sh.comp.clients {
			a.client.SendMinMaxInfo(sur, info)
		}
	})
}

func (sh *Shell) WindowAppID(s compositor.Surface) (appID, imageName string, pid uint32) {
	sur := sh.lookup(s)
	if sur == nil {
		return "", "", 0
	}
	appID = sur.appID
	if appID == "" {
		appID = "railbridge.sim"
	}
	return appID, sur.imageName, sur.pid
}

func (sh *Shell) SetDesktopWorkarea(output compositor.Output, area geom.Rect) {
	if output != nil && output.Name() == sh.comp.out.name {
		sh.comp.out.workarea = area
		sh.comp.log.Debug("workarea set",
			zap.String("output", output.Name()),
			zap.Int("w", area.W), zap.Int("h", area.H))
	}
}

func (sh *Shell) SetKeyboardLayout(layout uint32) {
	sh.keyboardLayout = layout
}

// KeyboardLayout returns the last layout the client switched to.
func (sh *Shell) KeyboardLayout() uint32 { return sh.keyboardLayout }

// StartAppListUpdate records the request; the sim has no application
// list to announce.
func (sh *Shell) StartAppListUpdate(languageID uint32) bool {
	sh.appListLang = languageID
	sh.appListStarts++
	return false
}

func (sh *Shell) StopAppListUpdate() {
	sh.appListStops++
}

func (sh *Shell) lookup(s compositor.Surface) *Surface {
	sur, ok := s.(*Surface)
	if !ok || sur == nil || sur.destroyed {
		return nil
	}
	return sur
}

func (sh *Shell) stopProcesses() {
	for _, pr := range sh.procs {
		pr.stopNow()
	}
}

// surfaceFill picks the repaint colour after a shell-driven resize:
// the top-left pixel when there is content, a neutral grey otherwise.
func surfaceFill(s *Surface) uint32 {
	if s.hasContent && len(s.pix) >= 4 {
		return uint32(s.pix[3])<<24 | uint32(s.pix[2])<<16 | uint32(s.pix[1])<<8 | uint32(s.pix[0])
	}
	return 0xFF404040
}

// iconFor renders a solid square in the surface's fill colour with a
// one-pixel transparent border.
func iconFor(s *Surface) image.Image {
	fill := surfaceFill(s)
	img := image.NewRGBA(image.Rect(0, 0, iconSide, iconSide))
	c := color.RGBA{
		R: uint8(fill >> 16),
		G: uint8(fill >> 8),
		B: uint8(fill),
		A: uint8(fill >> 24),
	}
	for y := 1; y < iconSide-1; y++ {
		for x := 1; x < iconSide-1; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}
