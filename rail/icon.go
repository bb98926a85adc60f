// Copyright © 2025 Railbridge contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: rail/icon.go
// Summary: Window icon conversion and submission.

package rail

import (
	"image"

	"go.uber.org/zap"

	"github.com/IcebergThings/railbridge/compositor"
	"github.com/IcebergThings/railbridge/protocol"
)

// bigIconThreshold splits small taskbar icons from big alt-tab ones.
const bigIconThreshold = 16

// SubmitWindowIcon converts an icon image and publishes it for the
// given surface's window. The color plane is bottom-up 32bpp BGRA with
// a 1bpp transparency mask, the layout icon caches expect.
func (p *Peer) SubmitWindowIcon(s compositor.Surface, img image.Image) {
	w := p.bySurface[s]
	if w == nil || !w.created {
		return
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 || width > 0xFFFF || height > 0xFFFF {
		p.log.Warn("icon dimensions rejected",
			zap.Int("width", width), zap.Int("height", height))
		return
	}

	color := make([]byte, width*height*4)
	maskStride := ((width + 15) / 16) * 2
	mask := make([]byte, maskStride*height)
	for y := 0; y < height; y++ {
		colorRow := color[(height-1-y)*width*4:]
		maskRow := mask[(height-1-y)*maskStride:]
		for x := 0; x < width; x++ {
			r, g, b, a := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			colorRow[x*4+0] = uint8(b >> 8)
			colorRow[x*4+1] = uint8(g >> 8)
			colorRow[x*4+2] = uint8(r >> 8)
			colorRow[x*4+3] = uint8(a >> 8)
			if a == 0 {
				maskRow[x/8] |= 0x80 >> (x % 8)
			}
		}
	}

	body, err := protocol.EncodeWindowIcon(protocol.WindowIcon{
		WindowID:  w.id,
		Big:       width > bigIconThreshold,
		Width:     uint16(width),
		Height:    uint16(height),
		BitsMask:  mask,
		BitsColor: color,
	})
	if err != nil {
		p.log.Error("icon encode failed", zap.Uint32("window", w.id), zap.Error(err))
		return
	}
	p.sendUpdate(protocol.UpdateWindowOrder, body, "WindowIcon")
}
