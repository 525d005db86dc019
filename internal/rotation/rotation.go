// Package rotation implements the plane-rotation conformance flow: build a
// software-transformed reference frame, capture its checksum, then scan out
// untransformed content with the hardware transform property set and require
// the checksums to match. Negative cases require the device to reject the
// commit instead.
package rotation

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"

	"kmslab.dev/internal/crc"
	"kmslab.dev/internal/fb"
	"kmslab.dev/internal/kms"
	"kmslab.dev/internal/quadrant"
	"kmslab.dev/internal/suite"
)

// RectKind selects the framebuffer aspect used for a case. Non-full-screen
// kinds exercise partial plane coverage.
type RectKind int

const (
	RectFull RectKind = iota
	RectSquare
	RectPortrait
	RectLandscape
)

func (r RectKind) String() string {
	switch r {
	case RectFull:
		return "rectangle"
	case RectSquare:
		return "square"
	case RectPortrait:
		return "portrait"
	case RectLandscape:
		return "landscape"
	}
	return fmt.Sprintf("RectKind(%d)", int(r))
}

// RectKinds lists all aspect variants in sweep order.
var RectKinds = []RectKind{RectFull, RectSquare, RectPortrait, RectLandscape}

// Quadrant layout every case paints: red, green over blue, white.
func baseColors(opacity float64) quadrant.Assignment {
	o := opacity
	return quadrant.Assignment{
		TL: colorful.Color{R: o},
		TR: colorful.Color{G: o},
		BL: colorful.Color{B: o},
		BR: colorful.Color{R: o, G: o, B: o},
	}
}

const flipOpacity = 0.75

// Case is one rotation subtest instance.
type Case struct {
	PlaneType kms.PlaneType
	Transform quadrant.Transform
	Rect      RectKind
	Format    fb.Format

	// Overrides for the negative cases; zero values mean per-case defaults.
	OverrideModifier fb.Modifier
	HasOverrideMod   bool

	PosX, PosY int

	// ExpectReject marks a negative case: the commit must fail with an
	// unsupported-configuration rejection.
	ExpectReject bool
}

func (c Case) Name() string {
	n := fmt.Sprintf("%s-%s-%s", c.PlaneType, c.Transform, c.Rect)
	if c.Format != 0 {
		n += "-" + strings.ToLower(c.Format.String())
	}
	if c.HasOverrideMod {
		n += "-" + c.OverrideModifier.String()
	}
	return n
}

// Runner drives cases against one device.
type Runner struct {
	Device  *kms.Device
	Log     *log.Logger
	DumpDir string // when set, mismatch frames are dumped here
}

// geometry computes framebuffer dimensions for a case, swapping them for
// quarter turns so the rotated frame fits the plane region.
func (c Case) geometry(mode kms.Mode) (w, h, refW, refH int) {
	minW, minH := 256, 256
	if c.PlaneType == kms.PlaneCursor {
		w, h = 256, 256
		minW, minH = 64, 64
	} else {
		w, h = mode.Width, mode.Height
	}
	switch c.Rect {
	case RectFull:
	case RectSquare:
		if h < w {
			w = h
		} else {
			h = w
		}
	case RectPortrait:
		w = minW
	case RectLandscape:
		h = minH
	}
	refW, refH = w, h
	if c.Transform.Rotation == quadrant.Rot90 || c.Transform.Rotation == quadrant.Rot270 {
		w, h = h, w
	}
	return w, h, refW, refH
}

func (c Case) modifier() fb.Modifier {
	if c.HasOverrideMod {
		return c.OverrideModifier
	}
	if c.Transform.Rotation == quadrant.Rot90 || c.Transform.Rotation == quadrant.Rot270 {
		return fb.ModYTiled
	}
	return fb.ModLinear
}

func (c Case) format() fb.Format {
	if c.Format != 0 {
		return c.Format
	}
	if c.PlaneType == kms.PlaneCursor {
		return fb.FormatARGB8888
	}
	return fb.FormatXRGB8888
}

// Run executes one case end to end on the first connected output. The first
// return value carries the reference and output checksums for recording; it
// is zero for skips and rejections.
func (r *Runner) Run(c Case) (CRCs, error) {
	conn, ok := r.Device.FirstConnected()
	if ok {
		ok = len(conn.Modes()) > 0
	}
	if err := suite.Require(ok, "no connected output"); err != nil {
		return CRCs{}, err
	}

	pipe := r.Device.Pipe(0)
	if err := pipe.Enable(conn); err != nil {
		return CRCs{}, fmt.Errorf("enable pipe: %w", err)
	}
	defer pipe.Disable()

	plane, ok := pipe.PlaneByType(c.PlaneType)
	if err := suite.Require(ok, "pipe has no %s plane", c.PlaneType); err != nil {
		return CRCs{}, err
	}
	if err := suite.Require(plane.HasRotation(), "%s plane has no rotation property", c.PlaneType); err != nil {
		return CRCs{}, err
	}
	// Cursor planes only carry the square sweep.
	if c.PlaneType == kms.PlaneCursor && c.Rect != RectSquare {
		return CRCs{}, suite.Skipf("cursor planes only run the square case")
	}

	tap := pipe.NewCRC()
	if err := tap.Start(); err != nil {
		return CRCs{}, err
	}
	defer tap.Stop()

	mode := pipe.Mode()
	w, h, _, _ := c.geometry(mode)
	format := c.format()
	mod := c.modifier()

	// Reference path: software-transformed content, no hardware transform.
	refCRC, flipCRC, err := r.captureReferences(plane, c, w, h, format)
	if err != nil {
		return CRCs{}, err
	}

	// Output path: untransformed content, hardware transform property.
	out, err := fb.New(w, h, format, mod)
	if err != nil {
		return CRCs{}, err
	}
	out.PaintQuadrants(baseColors(1.0))
	plane.SetFB(out)
	plane.SetRotation(kms.EncodeTransform(c.Transform))
	if c.Transform.Rotation == quadrant.Rot90 || c.Transform.Rotation == quadrant.Rot270 {
		plane.SetSize(out.Height, out.Width)
	}
	if c.PlaneType != kms.PlaneCursor {
		plane.SetPosition(c.PosX, c.PosY)
	}

	err = r.Device.TryCommit()
	if c.ExpectReject {
		if errors.Is(err, kms.ErrUnsupported) {
			return CRCs{}, nil // correctly rejected
		}
		if err == nil {
			return CRCs{}, fmt.Errorf("device accepted a combination it must reject")
		}
		return CRCs{}, fmt.Errorf("wrong rejection: %w", err)
	}
	if err != nil {
		return CRCs{}, fmt.Errorf("commit: %w", err)
	}

	outCRC, err := tap.GetCurrent()
	if err != nil {
		return CRCs{}, err
	}
	crcs := CRCs{Ref: refCRC, Out: outCRC}
	if err := r.compare(refCRC, outCRC, pipe, c, "rotated"); err != nil {
		return crcs, err
	}

	// Flip to the lower-opacity frame and verify the checksum follows.
	flip, err := fb.New(w, h, format, mod)
	if err != nil {
		return crcs, err
	}
	flip.PaintQuadrants(baseColors(flipOpacity))
	if err := plane.Flip(flip); err != nil {
		return crcs, fmt.Errorf("page flip: %w", err)
	}
	gotFlip, err := tap.GetCurrent()
	if err != nil {
		return crcs, err
	}
	if err := r.compare(flipCRC, gotFlip, pipe, c, "flip"); err != nil {
		return crcs, err
	}
	return crcs, nil
}

// CRCs carries the checksums of one positive case for result recording.
type CRCs struct {
	Ref crc.CRC
	Out crc.CRC
}

// captureReferences scans out software-transformed frames and records their
// checksums: first the low-opacity flip reference, then the full-opacity one.
// The frames are painted at the same geometry the hardware-transform path
// uses and transformed pixel by pixel, so the two paths agree even when the
// quadrant split lands off-center on odd dimensions.
func (r *Runner) captureReferences(plane *kms.Plane, c Case, w, h int, format fb.Format) (ref, flip crc.CRC, err error) {
	tap := plane.Pipe().NewCRC()
	if err := tap.Start(); err != nil {
		return ref, flip, err
	}
	defer tap.Stop()

	capture := func(opacity float64) (crc.CRC, error) {
		f, err := fb.New(w, h, format, fb.ModLinear)
		if err != nil {
			return crc.CRC{}, err
		}
		f.PaintQuadrants(baseColors(opacity))
		plane.SetFB(f.Transformed(c.Transform))
		plane.SetRotation(kms.RotationRot0)
		if c.PlaneType != kms.PlaneCursor {
			plane.SetPosition(c.PosX, c.PosY)
		}
		if err := r.Device.Commit(); err != nil {
			return crc.CRC{}, err
		}
		return tap.GetCurrent()
	}

	if flip, err = capture(flipOpacity); err != nil {
		return ref, flip, err
	}
	if ref, err = capture(1.0); err != nil {
		return ref, flip, err
	}
	return ref, flip, nil
}

// compare checks two checksums and on mismatch dumps the composed frame for
// diagnosis.
func (r *Runner) compare(want, got crc.CRC, pipe *kms.Pipe, c Case, stage string) error {
	if want.Equal(got) {
		return nil
	}
	mismatch := &crc.MismatchError{Ref: want, Got: got}
	if r.DumpDir != "" {
		if frame := pipe.Frame(); frame != nil {
			path := filepath.Join(r.DumpDir, fmt.Sprintf("%s-%s.zst", c.Name(), stage))
			if err := fb.WriteDump(path, frame, mismatch.Error()); err == nil {
				mismatch.DumpPath = path
			} else if r.Log != nil {
				r.Log.Printf("write frame dump: %v", err)
			}
		}
	}
	return mismatch
}
