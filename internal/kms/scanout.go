package kms

import (
	"errors"
	"fmt"

	"kmslab.dev/internal/crc"
	"kmslab.dev/internal/fb"
)

// Pipe is one CRTC: it composes its planes into a frame at the resolution of
// the bound mode.
type Pipe struct {
	d   *Device
	idx int

	enabled   bool
	mode      Mode
	connector *Connector
	planes    []*Plane

	frame      *fb.Framebuffer
	frameCount uint32
}

func newPipe(d *Device, idx int) *Pipe {
	p := &Pipe{d: d, idx: idx}
	overlayFormats := []fb.Format{fb.FormatXRGB8888, fb.FormatARGB8888, fb.FormatRGB565, fb.FormatC8}
	p.planes = []*Plane{
		{pipe: p, typ: PlanePrimary, formats: overlayFormats, rotCaps: RotationAll},
		{pipe: p, typ: PlaneOverlay, formats: overlayFormats, rotCaps: RotationAll},
		{pipe: p, typ: PlaneCursor, formats: []fb.Format{fb.FormatARGB8888}, rotCaps: RotationRot0 | RotationRot180},
	}
	return p
}

func (p *Pipe) Index() int { return p.idx }

func (p *Pipe) Name() string { return fmt.Sprintf("pipe-%c", 'A'+p.idx) }

func (p *Pipe) Planes() []*Plane { return p.planes }

// PlaneByType returns the pipe's plane of the given type.
func (p *Pipe) PlaneByType(t PlaneType) (*Plane, bool) {
	for _, pl := range p.planes {
		if pl.typ == t {
			return pl, true
		}
	}
	return nil, false
}

// Enable binds the connector to this pipe and scans out at its preferred
// mode. It fails if the connector is not connected.
func (p *Pipe) Enable(c *Connector) error {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	if c.status != Connected {
		return fmt.Errorf("%w: %s", ErrDisconnected, c.Name())
	}
	p.enabled = true
	p.connector = c
	p.mode = c.modes[0]
	p.render()
	return nil
}

// EnableMode is Enable with an explicit mode override.
func (p *Pipe) EnableMode(c *Connector, m Mode) error {
	if err := p.Enable(c); err != nil {
		return err
	}
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	p.mode = m
	p.render()
	return nil
}

// Disable stops scanout and clears all plane state on the pipe.
func (p *Pipe) Disable() {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	p.enabled = false
	p.connector = nil
	p.frame = nil
	for _, pl := range p.planes {
		pl.cur = planeState{}
		pl.staged = planeState{}
	}
}

func (p *Pipe) Enabled() bool {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	return p.enabled
}

func (p *Pipe) Mode() Mode {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	return p.mode
}

// Connector reports which connector the pipe currently scans out to, nil when
// disabled.
func (p *Pipe) Connector() *Connector {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	return p.connector
}

// render composes current plane state into the pipe frame. Callers hold the
// device lock.
func (p *Pipe) render() {
	if !p.enabled || p.mode.Width == 0 {
		p.frame = nil
		return
	}
	canvas, err := fb.New(p.mode.Width, p.mode.Height, fb.FormatXRGB8888, fb.ModLinear)
	if err != nil {
		panic(err) // mode geometry is validated at Enable time
	}
	// z-order: primary under overlays under cursor, the order planes were
	// created in.
	for _, pl := range p.planes {
		s := pl.cur
		if s.fb == nil {
			continue
		}
		t, err := DecodeTransform(s.effectiveRotation())
		if err != nil {
			continue // rejected at commit time, cannot be current state
		}
		src := s.fb.Transformed(t)
		if src.Format != fb.FormatXRGB8888 {
			src, err = src.Convert(fb.FormatXRGB8888)
			if err != nil {
				continue
			}
		}
		w, h := s.size()
		blit(canvas, src, s.x, s.y, w, h)
	}
	p.frame = canvas
	p.frameCount++
}

// blit draws src scaled to w x h at (x, y) on dst with nearest-neighbor
// sampling, clipped to dst.
func blit(dst, src *fb.Framebuffer, x, y, w, h int) {
	if w <= 0 || h <= 0 {
		return
	}
	for dy := 0; dy < h; dy++ {
		ty := y + dy
		if ty < 0 || ty >= dst.Height {
			continue
		}
		sy := dy * src.Height / h
		for dx := 0; dx < w; dx++ {
			tx := x + dx
			if tx < 0 || tx >= dst.Width {
				continue
			}
			sx := dx * src.Width / w
			dst.SetPixel(tx, ty, src.Pixel(sx, sy))
		}
	}
}

// Frame returns a copy of the currently scanned-out frame, or nil when the
// pipe is off. The fixture uses it for frame dumps.
func (p *Pipe) Frame() *fb.Framebuffer {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	if p.frame == nil {
		return nil
	}
	out, err := fb.New(p.frame.Width, p.frame.Height, p.frame.Format, p.frame.Modifier)
	if err != nil {
		return nil
	}
	copy(out.Pix, p.frame.Pix)
	return out
}

// PipeCRC taps the composed output of one pipe, like the debugfs pipe CRC
// interface: it must be started before reads and reports a frame-counted
// checksum of current content.
type PipeCRC struct {
	p       *Pipe
	started bool
}

// NewCRC creates a stopped CRC tap for the pipe.
func (p *Pipe) NewCRC() *PipeCRC {
	return &PipeCRC{p: p}
}

func (c *PipeCRC) Start() error {
	c.p.d.mu.Lock()
	defer c.p.d.mu.Unlock()
	if !c.p.enabled {
		return errors.New("kms: cannot start crc capture on a disabled pipe")
	}
	c.started = true
	return nil
}

func (c *PipeCRC) Stop() {
	c.p.d.mu.Lock()
	defer c.p.d.mu.Unlock()
	c.started = false
}

// GetCurrent reads the checksum of the frame being scanned out right now.
func (c *PipeCRC) GetCurrent() (crc.CRC, error) {
	c.p.d.mu.Lock()
	defer c.p.d.mu.Unlock()
	if !c.started {
		return crc.CRC{}, errors.New("kms: crc capture not started")
	}
	if c.p.frame == nil {
		return crc.CRC{}, errors.New("kms: pipe is not scanning out")
	}
	out := crc.Compute(c.p.frame)
	out.Frame = c.p.frameCount
	return out, nil
}

var _ crc.Source = (*PipeCRC)(nil)
