// Package compositor declares the narrow interface the bridge consumes
// from the hosting compositor: surface state, scene stacking for z-order
// walks, and the shell request calls. The compositor side implements
// these; the bridge never reaches past them.
package compositor

import (
	"github.com/IcebergThings/railbridge/geom"
)

// Role classifies a surface for the bridge. Toplevels become remote
// windows, subsurfaces become child windows, cursors feed the pointer
// plane.
type Role int

const (
	RoleToplevel Role = iota
	RoleSubsurface
	RoleCursor
)

func (r Role) String() string {
	switch r {
	case RoleToplevel:
		return "toplevel"
	case RoleSubsurface:
		return "subsurface"
	case RoleCursor:
		return "cursor"
	}
	return "unknown"
}

// WindowState is the compositor-side show state of a mapped surface.
type WindowState int

const (
	StateNormal WindowState = iota
	StateMinimized
	StateMaximized
	StateFullscreen
)

func (s WindowState) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateMinimized:
		return "minimized"
	case StateMaximized:
		return "maximized"
	case StateFullscreen:
		return "fullscreen"
	}
	return "unknown"
}

// Surface is one unit of pixel content. All methods are compositor-thread
// only.
type Surface interface {
	Role() Role
	// Parent is non-nil for subsurfaces and nil otherwise.
	Parent() Surface
	// State is the current show state. Surfaces without their first
	// content commit stay hidden remotely regardless of State.
	State() WindowState
	Title() string
	AppID() string

	// Position is the surface's upper-left in compositor space.
	Position() geom.Point
	// Size is the full content size in buffer pixels, shadow included.
	Size() geom.Size
	// Geometry is the window rectangle without the decoration shadow,
	// in surface-local coordinates. A zero rect means "unknown, use the
	// full size".
	Geometry() geom.Rect
	// BufferScale maps surface coordinates to buffer pixels.
	BufferScale() float64
	// Opaque reports whether every pixel is known fully opaque.
	Opaque() bool
	// Snapshot copies the BGRA pixels of r (buffer coordinates) into a
	// freshly allocated slice, stride r.W*4.
	Snapshot(r geom.Rect) ([]byte, error)

	// CursorHotspot is meaningful only for RoleCursor surfaces.
	CursorHotspot() geom.Point
}

// View is one stacked instance of a surface. Subviews stack above the
// view itself, top-most first.
type View interface {
	Surface() Surface
	Subviews() []View
	// Marker views contribute the client's anchor id to the z-order
	// broadcast instead of a real window.
	IsMarker() bool
}

// Layer is a front-to-back run of views.
type Layer interface {
	Views() []View
}

// Scene exposes the stacking order, top layer first.
type Scene interface {
	Layers() []Layer
}

// Output is one compositor output. The bridge repaints per output and
// matches outputs to remote heads by their compositor-space region.
type Output interface {
	Name() string
	Region() geom.Rect
}

// SurfaceObserver receives surface lifecycle events. The compositor
// invokes it on the compositor thread.
type SurfaceObserver interface {
	SurfaceCreated(s Surface)
	// SurfaceCommitted fires after new content is attached; damage is in
	// buffer coordinates and may be empty for state-only commits.
	SurfaceCommitted(s Surface, damage geom.Rect)
	SurfaceDestroyed(s Surface)
	// SurfaceRoleChanged fires when a surface's role changes after
	// creation, e.g. a mapped surface becoming the pointer image.
	SurfaceRoleChanged(s Surface)
}

// Process is the opaque handle for a launched client process.
type Process interface {
	Pid() int
}

// MinMaxInfo carries a window's sizing constraints in client space.
type MinMaxInfo struct {
	MaxSize      geom.Size
	MaxPosition  geom.Point
	MinTrackSize geom.Size
	MaxTrackSize geom.Size
}

// Shell is the request surface the bridge calls into the compositor.
// All calls are compositor-thread only and non-blocking; requests take
// effect on a later commit.
type Shell interface {
	// LaunchProcess starts the program described by cmdline and returns
	// its handle, or an error when spawning failed.
	LaunchProcess(cmdline string) (Process, error)

	// ActivateWindow focuses s; a nil surface drops focus entirely.
	ActivateWindow(s Surface)
	MinimizeWindow(s Surface)
	MaximizeWindow(s Surface)
	RestoreWindow(s Surface)
	CloseWindow(s Surface)

	// MoveWindow and SnapWindow take compositor-space rectangles.
	MoveWindow(s Surface, r geom.Rect)
	SnapWindow(s Surface, r geom.Rect)

	// RequestWindowIcon asks the client for its icon; the answer comes
	// back through the engine's SubmitWindowIcon.
	RequestWindowIcon(s Surface)
	// RequestMinMaxInfo asks for sizing constraints; the answer comes
	// back through SendMinMaxInfo.
	RequestMinMaxInfo(s Surface)

	// WindowAppID resolves the application id, executable image name
	// and pid for s. pid 0 means unknown.
	WindowAppID(s Surface) (appID, imageName string, pid uint32)

	// SetDesktopWorkarea stores the client-provided workarea for the
	// head backing output, in compositor space.
	SetDesktopWorkarea(output Output, area geom.Rect)

	// SetKeyboardLayout switches the seat keymap to the given layout
	// code.
	SetKeyboardLayout(layout uint32)

	// StartAppListUpdate begins application-list announcements for the
	// given client language; it reports whether the feature is enabled.
	StartAppListUpdate(languageID uint32) bool
	StopAppListUpdate()
}
