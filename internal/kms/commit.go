package kms

import (
	"fmt"

	"kmslab.dev/internal/fb"
)

// TryCommit validates the staged state of every pipe and applies it as a
// whole. On rejection nothing is applied and the staged state is left intact
// so the caller can correct it; the error wraps ErrUnsupported or ErrNoFence.
func (d *Device) TryCommit() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	fences := 0
	for _, p := range d.pipes {
		for _, pl := range p.planes {
			if err := pl.validateStaged(); err != nil {
				return err
			}
			if planeNeedsFence(pl.staged) {
				fences++
			}
		}
	}
	if fences > d.fencePool {
		return fmt.Errorf("%w: need %d of %d", ErrNoFence, fences, d.fencePool)
	}

	for _, p := range d.pipes {
		for _, pl := range p.planes {
			pl.cur = pl.staged
		}
		p.render()
	}
	d.fencesInUse = fences
	return nil
}

// Commit is TryCommit for states expected to be valid.
func (d *Device) Commit() error {
	if err := d.TryCommit(); err != nil {
		return fmt.Errorf("kms: commit of expected-valid state rejected: %w", err)
	}
	return nil
}

func planeNeedsFence(s planeState) bool {
	return s.fb != nil && s.effectiveRotation().Rotated90()
}

func (pl *Plane) validateStaged() error {
	s := pl.staged
	if s.fb == nil {
		return nil
	}
	if !pl.supportsFormat(s.fb.Format) {
		return fmt.Errorf("%w: %s plane cannot scan out %s", ErrUnsupported, pl.typ, s.fb.Format)
	}

	rot := s.effectiveRotation()
	if !rot.Valid() {
		return fmt.Errorf("%w: malformed rotation %#x", ErrUnsupported, uint32(s.rotation))
	}
	if rot&^pl.rotCaps != 0 && rot != RotationRot0 {
		return fmt.Errorf("%w: %s plane does not support %s", ErrUnsupported, pl.typ, rot)
	}

	if rot.Rotated90() {
		if !s.fb.Modifier.Rotatable() {
			return fmt.Errorf("%w: %s scanout requires y/yf tiling, framebuffer is %s",
				ErrUnsupported, rot, s.fb.Modifier)
		}
		if s.fb.Format == fb.FormatRGB565 {
			return fmt.Errorf("%w: %s scanout does not support %s",
				ErrUnsupported, rot, s.fb.Format)
		}
		w, h := s.size()
		if w != s.fb.Height || h != s.fb.Width {
			return fmt.Errorf("%w: %s scanout needs plane size %dx%d, staged %dx%d",
				ErrUnsupported, rot, s.fb.Height, s.fb.Width, w, h)
		}
	}

	if pl.typ == PlaneCursor {
		if s.fb.Width != s.fb.Height {
			return fmt.Errorf("%w: cursor framebuffers must be square, got %dx%d",
				ErrUnsupported, s.fb.Width, s.fb.Height)
		}
		if s.w != 0 || s.h != 0 {
			if s.w != s.fb.Width || s.h != s.fb.Height {
				return fmt.Errorf("%w: cursor planes cannot scale", ErrUnsupported)
			}
		}
	}
	return nil
}

// Flip swaps the framebuffer of an already-enabled plane and applies
// immediately, like a synchronous page flip. All other staged properties are
// preserved from current state.
func (pl *Plane) Flip(f *fb.Framebuffer) error {
	pl.pipe.d.mu.Lock()
	pl.staged = pl.cur
	pl.staged.fb = f
	pl.pipe.d.mu.Unlock()
	return pl.pipe.d.TryCommit()
}
