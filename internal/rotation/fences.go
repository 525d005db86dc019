package rotation

import (
	"fmt"

	"kmslab.dev/internal/fb"
	"kmslab.dev/internal/kms"
	"kmslab.dev/internal/suite"
)

// maxFences is the device fence pool size the stress sweeps one past.
const maxFences = 32

// ExhaustFences cycles one more framebuffer than the fence pool holds
// through rotate commits. Every cycle replaces the previous binding, so each
// commit must succeed and the pool must drain back afterwards; leaking a
// fence per cycle is the regression this guards against.
func (r *Runner) ExhaustFences() error {
	conn, ok := r.Device.FirstConnected()
	if err := suite.Require(ok, "no connected output"); err != nil {
		return err
	}

	pipe := r.Device.Pipe(0)
	if err := pipe.Enable(conn); err != nil {
		return fmt.Errorf("enable pipe: %w", err)
	}
	defer pipe.Disable()

	primary, ok := pipe.PlaneByType(kms.PlanePrimary)
	if err := suite.Require(ok && primary.HasRotation(), "primary plane has no rotation property"); err != nil {
		return err
	}

	mode := pipe.Mode()
	size, _ := fb.CalcSize(mode.Width, mode.Height, fb.FormatXRGB8888, fb.ModYTiled)
	total := int64(size) * (maxFences + 1)
	if err := suite.Require(float64(total) < float64(r.Device.ApertureBytes())*0.9,
		"%d framebuffers need %d bytes, aperture is %d", maxFences+1, total, r.Device.ApertureBytes()); err != nil {
		return err
	}

	for i := 0; i < maxFences+1; i++ {
		f, err := fb.New(mode.Width, mode.Height, fb.FormatXRGB8888, fb.ModYTiled)
		if err != nil {
			return err
		}

		primary.SetFB(f)
		primary.SetRotation(kms.RotationRot0)
		if err := r.Device.Commit(); err != nil {
			return fmt.Errorf("cycle %d unrotated: %w", i, err)
		}

		primary.SetRotation(kms.RotationRot90)
		primary.SetSize(f.Height, f.Width)
		if err := r.Device.Commit(); err != nil {
			return fmt.Errorf("cycle %d rotated: %w", i, err)
		}
	}

	primary.SetFB(nil)
	primary.SetRotation(kms.RotationRot0)
	if err := r.Device.Commit(); err != nil {
		return err
	}
	if held := r.Device.FencesInUse(); held != 0 {
		return fmt.Errorf("fence leak: %d fences still held after teardown", held)
	}
	return nil
}
