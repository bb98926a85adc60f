// Copyright © 2025 Railbridge contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: rail/title.go
// Summary: Window title decoration from peer options.

package rail

// copyWarningPrefix flags windows remoted through the copying pixel
// path when the warning option is set.
const copyWarningPrefix = "[copy mode] "

// decorateTitle applies the configured title decorations: a copy-mode
// prefix when pixels travel the graphics channel, and the distro name
// as a suffix.
func (p *Peer) decorateTitle(title string) string {
	if p.opts.CopyWarningTitle && !p.sharedMode() {
		title = copyWarningPrefix + title
	}
	if p.opts.DistroNameTitle && p.opts.DistroName != "" {
		title = title + " (" + p.opts.DistroName + ")"
	}
	return title
}
