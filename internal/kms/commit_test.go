package kms

import (
	"errors"
	"testing"

	"kmslab.dev/internal/fb"
)

func newEnabledPipe(t *testing.T) (*Device, *Pipe) {
	t.Helper()
	d := NewDevice(DefaultConfig())
	conn, ok := d.FirstConnected()
	if !ok {
		t.Fatal("default device has no connected output")
	}
	p := d.Pipe(0)
	if err := p.Enable(conn); err != nil {
		t.Fatalf("enable pipe: %v", err)
	}
	return d, p
}

func mustFB(t *testing.T, w, h int, format fb.Format, mod fb.Modifier) *fb.Framebuffer {
	t.Helper()
	f, err := fb.New(w, h, format, mod)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestTryCommit_PlainPrimary(t *testing.T) {
	d, p := newEnabledPipe(t)
	primary, _ := p.PlaneByType(PlanePrimary)
	primary.SetFB(mustFB(t, 640, 480, fb.FormatXRGB8888, fb.ModLinear))
	if err := d.TryCommit(); err != nil {
		t.Fatalf("TryCommit: %v", err)
	}
	if primary.FB() == nil {
		t.Fatal("commit did not apply staged framebuffer")
	}
}

func TestTryCommit_Rotation90NeedsYTiling(t *testing.T) {
	d, p := newEnabledPipe(t)
	primary, _ := p.PlaneByType(PlanePrimary)

	f := mustFB(t, 480, 640, fb.FormatXRGB8888, fb.ModXTiled)
	primary.SetFB(f)
	primary.SetRotation(RotationRot90)
	primary.SetSize(f.Height, f.Width)
	if err := d.TryCommit(); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("x-tiled 90 commit: got %v, want ErrUnsupported", err)
	}

	// Same state on y-tiling must pass.
	f2 := mustFB(t, 480, 640, fb.FormatXRGB8888, fb.ModYTiled)
	primary.SetFB(f2)
	primary.SetRotation(RotationRot90)
	primary.SetSize(f2.Height, f2.Width)
	if err := d.TryCommit(); err != nil {
		t.Fatalf("y-tiled 90 commit: %v", err)
	}
}

func TestTryCommit_Rotation90RejectsRGB565(t *testing.T) {
	d, p := newEnabledPipe(t)
	primary, _ := p.PlaneByType(PlanePrimary)
	f := mustFB(t, 480, 640, fb.FormatRGB565, fb.ModYTiled)
	primary.SetFB(f)
	primary.SetRotation(RotationRot90)
	primary.SetSize(f.Height, f.Width)
	if err := d.TryCommit(); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("rgb565 90 commit: got %v, want ErrUnsupported", err)
	}
}

func TestTryCommit_Rotation90NeedsSwappedSize(t *testing.T) {
	d, p := newEnabledPipe(t)
	primary, _ := p.PlaneByType(PlanePrimary)
	f := mustFB(t, 480, 640, fb.FormatXRGB8888, fb.ModYTiled)
	primary.SetFB(f)
	primary.SetRotation(RotationRot90)
	// Size left at framebuffer dimensions: must be rejected.
	if err := d.TryCommit(); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("unswapped size commit: got %v, want ErrUnsupported", err)
	}
}

func TestTryCommit_CursorConstraints(t *testing.T) {
	d, p := newEnabledPipe(t)
	cursor, _ := p.PlaneByType(PlaneCursor)

	if cursor.RotationCaps()&RotationRot90 != 0 {
		t.Fatal("cursor planes must not advertise 90 degree rotation")
	}

	cursor.SetFB(mustFB(t, 64, 32, fb.FormatARGB8888, fb.ModLinear))
	if err := d.TryCommit(); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("non-square cursor: got %v, want ErrUnsupported", err)
	}

	cursor.SetFB(mustFB(t, 64, 64, fb.FormatXRGB8888, fb.ModLinear))
	if err := d.TryCommit(); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("cursor without alpha format: got %v, want ErrUnsupported", err)
	}

	cursor.SetFB(mustFB(t, 64, 64, fb.FormatARGB8888, fb.ModLinear))
	cursor.SetRotation(RotationRot180)
	if err := d.TryCommit(); err != nil {
		t.Fatalf("square argb cursor at 180: %v", err)
	}
}

// A rejected commit must leave current state untouched: atomic means all or
// nothing.
func TestTryCommit_RejectionKeepsCurrentState(t *testing.T) {
	d, p := newEnabledPipe(t)
	primary, _ := p.PlaneByType(PlanePrimary)

	good := mustFB(t, 640, 480, fb.FormatXRGB8888, fb.ModLinear)
	primary.SetFB(good)
	if err := d.TryCommit(); err != nil {
		t.Fatalf("initial commit: %v", err)
	}

	overlay, _ := p.PlaneByType(PlaneOverlay)
	bad := mustFB(t, 480, 640, fb.FormatXRGB8888, fb.ModXTiled)
	overlay.SetFB(bad)
	overlay.SetRotation(RotationRot90)
	overlay.SetSize(bad.Height, bad.Width)
	if err := d.TryCommit(); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("bad overlay commit: got %v, want ErrUnsupported", err)
	}

	if primary.FB() != good {
		t.Fatal("rejected commit disturbed primary plane state")
	}
	if overlay.FB() != nil {
		t.Fatal("rejected commit partially applied overlay state")
	}
}

func TestTryCommit_FenceAccounting(t *testing.T) {
	d := NewDevice(Config{
		Pipes:      1,
		Connectors: []ConnectorConfig{{Type: ConnectorHDMI, Connected: true}},
		Fences:     32,
	})
	conn, _ := d.FirstConnected()
	p := d.Pipe(0)
	if err := p.Enable(conn); err != nil {
		t.Fatal(err)
	}
	primary, _ := p.PlaneByType(PlanePrimary)

	if d.FencesInUse() != 0 {
		t.Fatalf("fresh device holds %d fences", d.FencesInUse())
	}

	f := mustFB(t, 480, 640, fb.FormatXRGB8888, fb.ModYTiled)
	primary.SetFB(f)
	primary.SetRotation(RotationRot90)
	primary.SetSize(f.Height, f.Width)
	if err := d.TryCommit(); err != nil {
		t.Fatal(err)
	}
	if d.FencesInUse() != 1 {
		t.Fatalf("rotated scanout should hold one fence, holds %d", d.FencesInUse())
	}

	primary.SetFB(nil)
	primary.SetRotation(RotationRot0)
	if err := d.TryCommit(); err != nil {
		t.Fatal(err)
	}
	if d.FencesInUse() != 0 {
		t.Fatalf("unbinding should release fences, still holds %d", d.FencesInUse())
	}
}
