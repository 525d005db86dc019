// Package kms is an in-memory model of the display stack the conformance
// suites drive: connectors with EDID and hotplug, pipes with compositing
// planes, atomic commits with all-or-nothing validation, and a per-pipe CRC
// tap over the composed frame. It is a test double implementing the contracts
// the suites consume, not a driver.
package kms

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Typed commit rejections. ErrUnsupported is the expected outcome of the
// negative subtests: the device correctly refusing a combination.
var (
	ErrUnsupported  = errors.New("kms: unsupported configuration")
	ErrNoFence      = errors.New("kms: fence pool exhausted")
	ErrDisconnected = errors.New("kms: connector not connected")
	ErrNoDDC        = errors.New("kms: ddc disabled")
)

type ConnectorType int

const (
	ConnectorHDMI ConnectorType = iota + 1
	ConnectorDP
	ConnectorVGA
)

func (t ConnectorType) String() string {
	switch t {
	case ConnectorHDMI:
		return "HDMI-A"
	case ConnectorDP:
		return "DP"
	case ConnectorVGA:
		return "VGA"
	}
	return fmt.Sprintf("ConnectorType(%d)", int(t))
}

type Connection int

const (
	ConnectionUnknown Connection = iota
	Connected
	Disconnected
)

func (c Connection) String() string {
	switch c {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}

type LinkStatus int

const (
	LinkGood LinkStatus = iota
	LinkBad
)

// Mode is a display timing the model scans out at.
type Mode struct {
	Name      string
	Width     int
	Height    int
	ClockHz   int
	RefreshHz int
}

func (m Mode) String() string {
	if m.Name != "" {
		return m.Name
	}
	return fmt.Sprintf("%dx%d", m.Width, m.Height)
}

// ConnectorConfig describes one connector of a device under construction.
type ConnectorConfig struct {
	Type      ConnectorType
	Connected bool
	Modes     []Mode
	EDID      []byte
}

// Config describes the device topology.
type Config struct {
	Pipes         int
	Connectors    []ConnectorConfig
	ApertureBytes int64
	Fences        int
}

// DefaultModes is the mode list connectors get when the config leaves it
// empty. Small modes keep composed-frame checksums cheap.
var DefaultModes = []Mode{
	{Name: "640x480", Width: 640, Height: 480, ClockHz: 25175000, RefreshHz: 60},
	{Name: "1024x768", Width: 1024, Height: 768, ClockHz: 65000000, RefreshHz: 60},
}

// DefaultConfig is a two-pipe device with one connected HDMI output and one
// unplugged DP port, 256 MiB of aperture and 32 fences.
func DefaultConfig() Config {
	return Config{
		Pipes: 2,
		Connectors: []ConnectorConfig{
			{Type: ConnectorHDMI, Connected: true},
			{Type: ConnectorDP},
		},
		ApertureBytes: 256 << 20,
		Fences:        32,
	}
}

// Device is the modeled display device. All methods are safe for concurrent
// use; the fixture serves it from websocket handler goroutines while a suite
// drives commits.
type Device struct {
	mu sync.Mutex

	pipes      []*Pipe
	connectors []*Connector

	apertureBytes int64
	fencePool     int
	fencesInUse   int

	monitors []*HotplugMonitor

	stormThreshold int
	stormWindow    time.Duration
	stormDetected  bool
	pulses         []time.Time

	suspended      bool
	pendingToggles []pendingToggle
}

type pendingToggle struct {
	conn    *Connector
	connect bool
}

// NewDevice builds a device from cfg, filling defaults for zero fields.
func NewDevice(cfg Config) *Device {
	if cfg.Pipes <= 0 {
		cfg.Pipes = 1
	}
	if cfg.ApertureBytes == 0 {
		cfg.ApertureBytes = 256 << 20
	}
	if cfg.Fences == 0 {
		cfg.Fences = 32
	}
	d := &Device{
		apertureBytes: cfg.ApertureBytes,
		fencePool:     cfg.Fences,
		stormWindow:   time.Second,
	}
	for i := 0; i < cfg.Pipes; i++ {
		d.pipes = append(d.pipes, newPipe(d, i))
	}
	for i, cc := range cfg.Connectors {
		modes := cc.Modes
		if len(modes) == 0 {
			modes = DefaultModes
		}
		status := Disconnected
		if cc.Connected {
			status = Connected
		}
		d.connectors = append(d.connectors, &Connector{
			d:      d,
			id:     i + 1,
			typ:    cc.Type,
			status: status,
			modes:  modes,
			edid:   cc.EDID,
			ddc:    true,
		})
	}
	return d
}

func (d *Device) Pipes() []*Pipe { return d.pipes }

func (d *Device) Pipe(i int) *Pipe { return d.pipes[i] }

func (d *Device) Connectors() []*Connector { return d.connectors }

// ConnectorByID finds a connector; IDs start at 1.
func (d *Device) ConnectorByID(id int) (*Connector, bool) {
	for _, c := range d.connectors {
		if c.id == id {
			return c, true
		}
	}
	return nil, false
}

// FirstConnected returns a connector with an active connection, or false when
// the device has no output. Suites turn that into a skip, not a failure.
func (d *Device) FirstConnected() (*Connector, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.connectors {
		if c.status == Connected {
			return c, true
		}
	}
	return nil, false
}

// ApertureBytes reports the total aperture available for framebuffers.
func (d *Device) ApertureBytes() int64 { return d.apertureBytes }

// FencesInUse reports how many fences current state holds.
func (d *Device) FencesInUse() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fencesInUse
}

// Connector is one physical port of the device.
type Connector struct {
	d *Device

	id     int
	typ    ConnectorType
	status Connection
	modes  []Mode
	edid   []byte
	ddc    bool
	link   LinkStatus
}

func (c *Connector) ID() int             { return c.id }
func (c *Connector) Type() ConnectorType { return c.typ }

func (c *Connector) Name() string {
	return fmt.Sprintf("%s-%d", c.typ, c.id)
}

// Status returns the last probed connection state without reprobing.
func (c *Connector) Status() Connection {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	return c.status
}

// Reprobe re-reads the connection state, like a connector probe ioctl.
func (c *Connector) Reprobe() Connection {
	return c.Status()
}

// Modes lists the supported timings; the preferred mode comes first.
func (c *Connector) Modes() []Mode {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	out := make([]Mode, len(c.modes))
	copy(out, c.modes)
	return out
}

func (c *Connector) PreferredMode() Mode {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	return c.modes[0]
}

// EDID reads the EDID property blob. It fails when the connector is
// unplugged, has no EDID, or DDC is disabled.
func (c *Connector) EDID() ([]byte, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if c.status != Connected {
		return nil, fmt.Errorf("%w: %s", ErrDisconnected, c.Name())
	}
	if !c.ddc {
		return nil, fmt.Errorf("%w: %s", ErrNoDDC, c.Name())
	}
	if len(c.edid) == 0 {
		return nil, fmt.Errorf("kms: %s has no EDID", c.Name())
	}
	out := make([]byte, len(c.edid))
	copy(out, c.edid)
	return out, nil
}

func (c *Connector) LinkStatus() LinkStatus {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	return c.link
}
