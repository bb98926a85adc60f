// Copyright © 2025 Railbridge contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: rail/keyboard.go
// Summary: Input-profile to keyboard-layout mapping.

package rail

import (
	"encoding/binary"

	"github.com/IcebergThings/railbridge/protocol"
)

// Keyboard layout codes applied to the seat.
const (
	layoutUS  uint32 = 0x0409
	layoutJP  uint32 = 0x0411
	layoutKR  uint32 = 0x0412
	layoutCHS uint32 = 0x0804
	layoutCHT uint32 = 0x0404
)

// Text-service profile identifiers for the CJK input processors the
// client may report instead of a plain keyboard layout.
var profileLayouts = map[[16]byte]uint32{
	guid(0x03B5835F, 0xF03C, 0x411B, [8]byte{0x9C, 0xE2, 0xAA, 0x23, 0xE1, 0x17, 0x1E, 0x36}): layoutJP,
	guid(0xB5FE1F02, 0xD5F2, 0x4445, [8]byte{0x9C, 0x03, 0xC5, 0x68, 0xF2, 0x3C, 0x99, 0xA1}): layoutKR,
	guid(0x81D4E9C9, 0x1D3B, 0x41BC, [8]byte{0x9E, 0x6C, 0x4B, 0x40, 0xBF, 0x79, 0xE3, 0x5E}): layoutCHS,
	guid(0x531FDEBF, 0x9B4C, 0x4A43, [8]byte{0xA2, 0xAA, 0x96, 0x0E, 0x8F, 0xCD, 0xC7, 0x32}): layoutCHT,
}

// guid lays a GUID out in its wire form: the first three groups little
// endian, the rest verbatim.
func guid(d1 uint32, d2, d3 uint16, d4 [8]byte) [16]byte {
	var g [16]byte
	binary.LittleEndian.PutUint32(g[0:], d1)
	binary.LittleEndian.PutUint16(g[4:], d2)
	binary.LittleEndian.PutUint16(g[6:], d3)
	copy(g[8:], d4[:])
	return g
}

// keyboardLayoutFor resolves the layout code for a reported input
// profile. Keyboard-layout profiles carry the code directly; input
// processors are matched by profile GUID, defaulting to US.
func keyboardLayoutFor(l protocol.LanguageImeInfo) uint32 {
	switch l.ProfileType {
	case protocol.ProfileTypeKeyboardLayout:
		if l.KeyboardLayout != 0 {
			// Only the low word names the layout; the high word is the
			// device handle.
			return l.KeyboardLayout & 0xFFFF
		}
		return l.LanguageID
	case protocol.ProfileTypeInputProcessor:
		if layout, ok := profileLayouts[l.LanguageProfileGUID]; ok {
			return layout
		}
		return layoutUS
	}
	return layoutUS
}
