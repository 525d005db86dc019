package kms

import (
	"fmt"

	"kmslab.dev/internal/fb"
)

type PlaneType int

const (
	PlanePrimary PlaneType = iota + 1
	PlaneOverlay
	PlaneCursor
)

func (t PlaneType) String() string {
	switch t {
	case PlanePrimary:
		return "primary"
	case PlaneOverlay:
		return "sprite"
	case PlaneCursor:
		return "cursor"
	}
	return fmt.Sprintf("PlaneType(%d)", int(t))
}

type planeState struct {
	fb       *fb.Framebuffer
	rotation Rotation
	x, y     int
	w, h     int // 0,0 means framebuffer dimensions
}

// Plane is one compositing layer of a pipe. Property setters stage state;
// nothing takes effect until the device commits.
type Plane struct {
	pipe    *Pipe
	typ     PlaneType
	formats []fb.Format
	rotCaps Rotation // 0 means the plane has no rotation property

	cur    planeState
	staged planeState
}

func (pl *Plane) Type() PlaneType { return pl.typ }

// Pipe returns the pipe this plane composes onto.
func (pl *Plane) Pipe() *Pipe { return pl.pipe }

// HasRotation reports whether the plane exposes a rotation property at all.
// Suites skip rotation cases on planes without it.
func (pl *Plane) HasRotation() bool { return pl.rotCaps != 0 }

// RotationCaps returns the supported rotation property bits.
func (pl *Plane) RotationCaps() Rotation { return pl.rotCaps }

// SupportedFormats lists the pixel formats the plane can scan out.
func (pl *Plane) SupportedFormats() []fb.Format {
	out := make([]fb.Format, len(pl.formats))
	copy(out, pl.formats)
	return out
}

func (pl *Plane) supportsFormat(f fb.Format) bool {
	for _, sf := range pl.formats {
		if sf == f {
			return true
		}
	}
	return false
}

// SetFB stages a framebuffer; nil disables the plane.
func (pl *Plane) SetFB(f *fb.Framebuffer) {
	pl.pipe.d.mu.Lock()
	defer pl.pipe.d.mu.Unlock()
	pl.staged.fb = f
	pl.staged.w, pl.staged.h = 0, 0
}

// SetRotation stages the rotation property value.
func (pl *Plane) SetRotation(r Rotation) {
	pl.pipe.d.mu.Lock()
	defer pl.pipe.d.mu.Unlock()
	pl.staged.rotation = r
}

// SetPosition stages the plane's top-left position on the pipe.
func (pl *Plane) SetPosition(x, y int) {
	pl.pipe.d.mu.Lock()
	defer pl.pipe.d.mu.Unlock()
	pl.staged.x, pl.staged.y = x, y
}

// SetSize stages the on-screen size. Quarter-turn rotations require the
// swapped framebuffer dimensions here.
func (pl *Plane) SetSize(w, h int) {
	pl.pipe.d.mu.Lock()
	defer pl.pipe.d.mu.Unlock()
	pl.staged.w, pl.staged.h = w, h
}

// FB returns the framebuffer current state scans out, or nil.
func (pl *Plane) FB() *fb.Framebuffer {
	pl.pipe.d.mu.Lock()
	defer pl.pipe.d.mu.Unlock()
	return pl.cur.fb
}

// effective size of a plane state, defaulting to source dimensions.
func (s planeState) size() (int, int) {
	if s.w != 0 || s.h != 0 {
		return s.w, s.h
	}
	if s.fb == nil {
		return 0, 0
	}
	return s.fb.Width, s.fb.Height
}

func (s planeState) effectiveRotation() Rotation {
	if s.rotation == 0 {
		return RotationRot0
	}
	return s.rotation
}
