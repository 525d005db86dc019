package chamelium_test

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kmslab.dev/internal/chamelium"
	"kmslab.dev/internal/edid"
	"kmslab.dev/internal/fb"
	"kmslab.dev/internal/kms"
)

func startFixture(t *testing.T) (*kms.Device, *chamelium.Client) {
	t.Helper()
	dev := kms.NewDevice(kms.DefaultConfig())
	srv := httptest.NewServer(chamelium.NewFixture(dev, nil).Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cl, err := chamelium.Dial(ctx, url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { cl.Close() })
	return dev, cl
}

// scanOut paints a quadrant pattern and commits it on pipe 0.
func scanOut(t *testing.T, dev *kms.Device) *kms.Pipe {
	t.Helper()
	conn, ok := dev.FirstConnected()
	if !ok {
		t.Fatal("no connected output")
	}
	pipe := dev.Pipe(0)
	if err := pipe.Enable(conn); err != nil {
		t.Fatal(err)
	}
	mode := pipe.Mode()
	f, err := fb.New(mode.Width, mode.Height, fb.FormatXRGB8888, fb.ModLinear)
	if err != nil {
		t.Fatal(err)
	}
	f.PaintPattern()
	primary, _ := pipe.PlaneByType(kms.PlanePrimary)
	primary.SetFB(f)
	if err := dev.Commit(); err != nil {
		t.Fatal(err)
	}
	return pipe
}

func TestProbePorts(t *testing.T) {
	dev, cl := startFixture(t)
	ctx := context.Background()

	ports, err := cl.ProbePorts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ports) != len(dev.Connectors()) {
		t.Fatalf("probe saw %d ports, device has %d", len(ports), len(dev.Connectors()))
	}
	byPort := map[int]chamelium.PortInfo{}
	for _, p := range ports {
		byPort[p.Port] = p
	}
	for _, c := range dev.Connectors() {
		info, ok := byPort[c.ID()]
		if !ok {
			t.Fatalf("port %d missing from probe", c.ID())
		}
		if info.Connected != (c.Status() == kms.Connected) {
			t.Fatalf("port %d: probe says connected=%v, device says %s", c.ID(), info.Connected, c.Status())
		}
		if info.Name != c.Name() {
			t.Fatalf("port %d: name %q vs %q", c.ID(), info.Name, c.Name())
		}
	}
}

func TestPlugUnplugRaisesHotplug(t *testing.T) {
	dev, cl := startFixture(t)
	ctx := context.Background()
	conn, _ := dev.FirstConnected()
	mon := dev.WatchHotplug()
	defer mon.Close()

	if err := cl.Unplug(ctx, conn.ID()); err != nil {
		t.Fatal(err)
	}
	if !mon.Detect(2 * time.Second) {
		t.Fatal("no hotplug event after remote unplug")
	}
	if conn.Status() != kms.Disconnected {
		t.Fatalf("status after unplug: %s", conn.Status())
	}

	mon.Flush()
	if err := cl.Plug(ctx, conn.ID()); err != nil {
		t.Fatal(err)
	}
	if !mon.Detect(2 * time.Second) {
		t.Fatal("no hotplug event after remote plug")
	}
	if conn.Status() != kms.Connected {
		t.Fatalf("status after plug: %s", conn.Status())
	}
}

func TestSetEDIDReadBack(t *testing.T) {
	dev, cl := startFixture(t)
	ctx := context.Background()
	conn, _ := dev.FirstConnected()

	alt := edid.Alt()
	if err := cl.SetEDID(ctx, conn.ID(), alt); err != nil {
		t.Fatal(err)
	}
	got, err := conn.EDID()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, alt) {
		t.Fatal("connector EDID does not match the programmed blob")
	}
}

func TestScheduleHPDToggle(t *testing.T) {
	dev, cl := startFixture(t)
	ctx := context.Background()
	conn, _ := dev.FirstConnected()
	mon := dev.WatchHotplug()
	defer mon.Close()

	if err := cl.ScheduleHPDToggle(ctx, conn.ID(), 10*time.Millisecond, false); err != nil {
		t.Fatal(err)
	}
	if !mon.Detect(2 * time.Second) {
		t.Fatal("scheduled toggle never fired")
	}
}

func TestCaptureReadCRCsAndDump(t *testing.T) {
	dev, cl := startFixture(t)
	ctx := context.Background()
	pipe := scanOut(t, dev)
	port := pipe.Connector().ID()

	if err := cl.Capture(ctx, port, 10); err != nil {
		t.Fatal(err)
	}
	crcs, err := cl.ReadCRCs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(crcs) != 10 {
		t.Fatalf("got %d checksums, want 10", len(crcs))
	}

	tap := pipe.NewCRC()
	if err := tap.Start(); err != nil {
		t.Fatal(err)
	}
	defer tap.Stop()
	want, err := tap.GetCurrent()
	if err != nil {
		t.Fatal(err)
	}
	for i, c := range crcs {
		if c.Word != want.Word {
			t.Fatalf("checksum %d: %s, local tap says %s", i, c, want)
		}
	}

	pix, w, h, err := cl.DumpFrame(ctx)
	if err != nil {
		t.Fatal(err)
	}
	frame := pipe.Frame()
	if w != frame.Width || h != frame.Height {
		t.Fatalf("dump is %dx%d, frame is %dx%d", w, h, frame.Width, frame.Height)
	}
	if !bytes.Equal(pix, frame.Pix) {
		t.Fatal("dumped pixels differ from the composed frame")
	}
}

func TestErrorCodes(t *testing.T) {
	_, cl := startFixture(t)
	ctx := context.Background()

	var ferr *chamelium.FixtureError
	if err := cl.Plug(ctx, 99); !errors.As(err, &ferr) || ferr.Code != chamelium.ErrUnknownPort {
		t.Fatalf("plug of bogus port: %v", err)
	}
	if _, err := cl.ReadCRCs(ctx); !errors.As(err, &ferr) || ferr.Code != chamelium.ErrNoCapture {
		t.Fatalf("read before capture: %v", err)
	}
	if !chamelium.IsKnownCode(ferr.Code) {
		t.Fatalf("fixture produced unknown code %q", ferr.Code)
	}
}

func TestResetRestoresPorts(t *testing.T) {
	dev, cl := startFixture(t)
	ctx := context.Background()
	conn, _ := dev.FirstConnected()

	if err := cl.Unplug(ctx, conn.ID()); err != nil {
		t.Fatal(err)
	}
	if err := cl.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if conn.Status() != kms.Connected {
		t.Fatalf("reset did not restore the port: %s", conn.Status())
	}
}
