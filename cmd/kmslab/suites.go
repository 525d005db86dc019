package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"kmslab.dev/internal/chamelium"
	"kmslab.dev/internal/config"
	"kmslab.dev/internal/crc"
	"kmslab.dev/internal/edid"
	"kmslab.dev/internal/exec"
	"kmslab.dev/internal/fb"
	"kmslab.dev/internal/kms"
	"kmslab.dev/internal/quadrant"
	"kmslab.dev/internal/results"
	"kmslab.dev/internal/rotation"
	"kmslab.dev/internal/suite"
)

// suiteEnv bundles what every suite needs: the device, the fixture client in
// front of it, and the result sink.
type suiteEnv struct {
	cfg    config.Config
	dev    *kms.Device
	client *chamelium.Client
	store  *results.Store
	log    *log.Logger
}

func (e *suiteEnv) recorder() suite.Recorder {
	if e.store == nil {
		return nil
	}
	return e.store
}

func (e *suiteEnv) runAll(ctx context.Context) (pass, fail, skip int) {
	for _, name := range e.cfg.Suites {
		if ctx.Err() != nil {
			e.log.Printf("interrupted before %s", name)
			break
		}
		var p, f, s int
		switch name {
		case "rotation":
			p, f, s = e.runRotation()
		case "reflect-x":
			p, f, s = e.runReflectX()
		case "fences":
			p, f, s = e.runFences()
		case "hotplug":
			p, f, s = e.runHotplug(ctx)
		case "bench":
			p, f, s = e.runBench(ctx)
		}
		pass += p
		fail += f
		skip += s
	}
	return pass, fail, skip
}

// annotate copies a case's checksums and any mismatch dump onto the result
// record before passing the error through.
func (e *suiteEnv) annotate(res *suite.Result, crcs rotation.CRCs, err error) error {
	if crcs.Ref.Word != 0 || crcs.Out.Word != 0 {
		res.RefCRC = crcs.Ref.String()
		res.OutCRC = crcs.Out.String()
	}
	var mismatch *crc.MismatchError
	if errors.As(err, &mismatch) {
		res.DumpPath = mismatch.DumpPath
	}
	return err
}

func (e *suiteEnv) rotationRunner() *rotation.Runner {
	return &rotation.Runner{Device: e.dev, Log: e.log, DumpDir: e.cfg.DumpDir}
}

func (e *suiteEnv) runRotation() (pass, fail, skip int) {
	run := suite.NewRunner("rotation", e.log, e.recorder())
	rr := e.rotationRunner()
	for _, mc := range suite.RotationMatrix() {
		for _, rect := range rotation.RectKinds {
			c := rotation.Case{PlaneType: mc.PlaneType, Transform: mc.Transform, Rect: rect}
			run.RunDetailed(c.Name(), func(res *suite.Result) error {
				crcs, err := rr.Run(c)
				return e.annotate(res, crcs, err)
			})
		}
	}
	// Negative cases: the device must reject these combinations outright.
	for _, c := range []rotation.Case{
		{
			PlaneType:    kms.PlanePrimary,
			Transform:    rot90(),
			Rect:         rotation.RectFull,
			Format:       fb.FormatRGB565,
			ExpectReject: true,
		},
		{
			PlaneType:        kms.PlanePrimary,
			Transform:        rot90(),
			Rect:             rotation.RectFull,
			OverrideModifier: fb.ModXTiled,
			HasOverrideMod:   true,
			ExpectReject:     true,
		},
	} {
		c := c
		run.Run(c.Name(), func() error {
			_, err := rr.Run(c)
			return err
		})
	}
	return run.Counts()
}

func (e *suiteEnv) runReflectX() (pass, fail, skip int) {
	run := suite.NewRunner("reflect-x", e.log, e.recorder())
	rr := e.rotationRunner()
	for _, mc := range suite.ReflectXMatrix() {
		c := rotation.Case{
			PlaneType:        kms.PlanePrimary,
			Transform:        mc.Transform,
			Rect:             rotation.RectFull,
			OverrideModifier: mc.Modifier,
			HasOverrideMod:   true,
		}
		run.RunDetailed(mc.Name, func(res *suite.Result) error {
			crcs, err := rr.Run(c)
			return e.annotate(res, crcs, err)
		})
	}
	return run.Counts()
}

func (e *suiteEnv) runFences() (pass, fail, skip int) {
	run := suite.NewRunner("fences", e.log, e.recorder())
	rr := e.rotationRunner()
	run.Run("exhaust-fences", rr.ExhaustFences)
	return run.Counts()
}

const hotplugTimeout = 2 * time.Second

func (e *suiteEnv) runHotplug(ctx context.Context) (pass, fail, skip int) {
	run := suite.NewRunner("hotplug", e.log, e.recorder())

	port := func() (int, error) {
		conn, ok := e.dev.FirstConnected()
		if err := suite.Require(ok, "no connected port"); err != nil {
			return 0, err
		}
		return conn.ID(), nil
	}

	run.Run("basic-hotplug", func() error {
		p, err := port()
		if err != nil {
			return err
		}
		mon := e.dev.WatchHotplug()
		defer mon.Close()
		for i := 0; i < 3; i++ {
			if err := e.client.Unplug(ctx, p); err != nil {
				return err
			}
			if !mon.Detect(hotplugTimeout) {
				return fmt.Errorf("toggle %d: no event after unplug", i)
			}
			if err := e.client.Plug(ctx, p); err != nil {
				return err
			}
			if !mon.Detect(hotplugTimeout) {
				return fmt.Errorf("toggle %d: no event after plug", i)
			}
		}
		return nil
	})

	run.Run("edid-read", func() error {
		p, err := port()
		if err != nil {
			return err
		}
		conn, _ := e.dev.ConnectorByID(p)
		if err := e.client.SetEDID(ctx, p, edid.Alt()); err != nil {
			return err
		}
		blob, err := conn.EDID()
		if err != nil {
			return err
		}
		if !edid.Valid(blob) {
			return fmt.Errorf("connector returned an invalid EDID")
		}
		vendor, err := edid.ParseVendor(blob)
		if err != nil {
			return err
		}
		if vendor != edid.Vendor {
			return fmt.Errorf("vendor %q, want %q", vendor, edid.Vendor)
		}
		return nil
	})

	run.Run("hpd-storm", func() error {
		p, err := port()
		if err != nil {
			return err
		}
		e.dev.SetHPDStormThreshold(10)
		defer e.dev.SetHPDStormThreshold(0)
		for i := 0; i < 15; i++ {
			if err := e.client.Unplug(ctx, p); err != nil {
				return err
			}
			if err := e.client.Plug(ctx, p); err != nil {
				return err
			}
		}
		if !e.dev.HPDStormDetected() {
			return fmt.Errorf("30 pulses against a threshold of 10 went undetected")
		}
		e.dev.ResetHPDStorm()
		if e.dev.HPDStormDetected() {
			return fmt.Errorf("storm flag survived reset")
		}
		return nil
	})

	run.Run("hpd-storm-disabled", func() error {
		p, err := port()
		if err != nil {
			return err
		}
		e.dev.SetHPDStormThreshold(0)
		for i := 0; i < 15; i++ {
			if err := e.client.Unplug(ctx, p); err != nil {
				return err
			}
			if err := e.client.Plug(ctx, p); err != nil {
				return err
			}
		}
		if e.dev.HPDStormDetected() {
			return fmt.Errorf("storm detected with detection disabled")
		}
		return nil
	})

	run.Run("suspend-resume-hotplug", func() error {
		p, err := port()
		if err != nil {
			return err
		}
		mon := e.dev.WatchHotplug()
		defer mon.Close()
		if err := e.client.ScheduleHPDToggle(ctx, p, 10*time.Millisecond, false); err != nil {
			return err
		}
		e.dev.Suspend()
		e.dev.Resume()
		if !mon.Detect(hotplugTimeout) {
			return fmt.Errorf("toggle scheduled across suspend never surfaced")
		}
		// Leave the port as we found it.
		return e.client.Plug(ctx, p)
	})

	run.Run("crc-capture", func() error {
		p, err := port()
		if err != nil {
			return err
		}
		conn, _ := e.dev.ConnectorByID(p)
		pipe := e.dev.Pipe(0)
		if err := pipe.Enable(conn); err != nil {
			return err
		}
		defer pipe.Disable()
		mode := pipe.Mode()
		f, err := fb.New(mode.Width, mode.Height, fb.FormatXRGB8888, fb.ModLinear)
		if err != nil {
			return err
		}
		f.PaintPattern()
		primary, ok := pipe.PlaneByType(kms.PlanePrimary)
		if err := suite.Require(ok, "no primary plane"); err != nil {
			return err
		}
		primary.SetFB(f)
		if err := e.dev.Commit(); err != nil {
			return err
		}

		if err := e.client.Capture(ctx, p, e.cfg.CaptureSize); err != nil {
			return err
		}
		crcs, err := e.client.ReadCRCs(ctx)
		if err != nil {
			return err
		}
		if len(crcs) != e.cfg.CaptureSize {
			return fmt.Errorf("captured %d checksums, want %d", len(crcs), e.cfg.CaptureSize)
		}
		tap := pipe.NewCRC()
		if err := tap.Start(); err != nil {
			return err
		}
		defer tap.Stop()
		want, err := tap.GetCurrent()
		if err != nil {
			return err
		}
		for i, c := range crcs {
			if c.Word != want.Word {
				return fmt.Errorf("frame %d checksum %s, local tap %s", i, c, want)
			}
		}
		return nil
	})

	return run.Counts()
}

func (e *suiteEnv) runBench(ctx context.Context) (pass, fail, skip int) {
	run := suite.NewRunner("bench", e.log, e.recorder())
	eng := exec.NewSoftEngine(64)
	defer eng.Close()

	sizes := []int{
		4 << 10,
		e.cfg.Bench.BufferKiB << 10,
		1920 * 1080 * 4,
	}
	for _, size := range sizes {
		size := size
		run.Run("linear-copy-"+byteLabel(size), func() error {
			src, dst := exec.NewObject(size), exec.NewObject(size)
			src.Fill(0xa5)
			tp, err := exec.Measure(ctx, eng, src, dst, e.cfg.Bench.Count, e.cfg.Bench.Reps)
			if err != nil {
				return err
			}
			e.log.Printf("bench: %d bytes x %d: %s", size, e.cfg.Bench.Count, tp)
			return nil
		})
	}

	// Submission-count sweep on the small buffer, where per-submit overhead
	// dominates over copy bandwidth.
	for count := 1; count <= 4096; count <<= 2 {
		count := count
		run.Run(fmt.Sprintf("linear-copy-4KiB-x%d", count), func() error {
			src, dst := exec.NewObject(4<<10), exec.NewObject(4<<10)
			src.Fill(0x5a)
			tp, err := exec.Measure(ctx, eng, src, dst, count, e.cfg.Bench.Reps)
			if err != nil {
				return err
			}
			e.log.Printf("bench: 4KiB x %d: %s", count, tp)
			return nil
		})
	}
	return run.Counts()
}

func byteLabel(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%dMiB", n>>20)
	default:
		return fmt.Sprintf("%dKiB", n>>10)
	}
}

func rot90() quadrant.Transform {
	return quadrant.Transform{Rotation: quadrant.Rot90}
}
