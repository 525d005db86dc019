package kms

import (
	"time"
)

// HotplugEvent reports a connection state change on one connector.
type HotplugEvent struct {
	Connector int
	Connected bool
}

// HotplugMonitor receives hotplug events, like a udev monitor. Events that
// arrive while nobody is waiting are buffered; Flush drops the backlog before
// an operation whose event the caller wants to catch.
type HotplugMonitor struct {
	d  *Device
	ch chan HotplugEvent
}

// WatchHotplug registers a new monitor.
func (d *Device) WatchHotplug() *HotplugMonitor {
	m := &HotplugMonitor{d: d, ch: make(chan HotplugEvent, 64)}
	d.mu.Lock()
	d.monitors = append(d.monitors, m)
	d.mu.Unlock()
	return m
}

// Detect waits up to timeout for any hotplug event.
func (m *HotplugMonitor) Detect(timeout time.Duration) bool {
	select {
	case <-m.ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Flush discards pending events.
func (m *HotplugMonitor) Flush() {
	for {
		select {
		case <-m.ch:
		default:
			return
		}
	}
}

// Close unregisters the monitor.
func (m *HotplugMonitor) Close() {
	m.d.mu.Lock()
	defer m.d.mu.Unlock()
	for i, other := range m.d.monitors {
		if other == m {
			m.d.monitors = append(m.d.monitors[:i], m.d.monitors[i+1:]...)
			return
		}
	}
}

// broadcast delivers an event to all monitors. Callers hold the device lock.
// Full monitors drop events rather than block, as the real uevent queue does.
func (d *Device) broadcast(ev HotplugEvent) {
	for _, m := range d.monitors {
		select {
		case m.ch <- ev:
		default:
		}
	}
}

// notePulse records one HPD line pulse for storm accounting and reports
// whether delivery is suppressed. Callers hold the device lock.
func (d *Device) notePulse(now time.Time) (suppressed bool) {
	if d.stormDetected {
		return true
	}
	cutoff := now.Add(-d.stormWindow)
	kept := d.pulses[:0]
	for _, t := range d.pulses {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	d.pulses = append(kept, now)
	if d.stormThreshold > 0 && len(d.pulses) >= d.stormThreshold {
		// Storm: stop reacting to the line until reset, as the interrupt
		// mitigation in the driver does.
		d.stormDetected = true
		return true
	}
	return false
}

// SetHPDStormThreshold arms storm detection: at or above threshold pulses
// within the detection window the device stops delivering hotplug events.
// Zero disables detection.
func (d *Device) SetHPDStormThreshold(threshold int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stormThreshold = threshold
	d.stormDetected = false
	d.pulses = nil
}

// HPDStormDetected reports whether a storm tripped since the last reset.
func (d *Device) HPDStormDetected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stormDetected
}

// ResetHPDStorm clears detection state and re-enables event delivery.
func (d *Device) ResetHPDStorm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stormDetected = false
	d.pulses = nil
}

// setConnection flips a connector's state and raises the hotplug event unless
// storm mitigation swallowed it. Callers hold the device lock.
func (d *Device) setConnection(c *Connector, connected bool) {
	status := Disconnected
	if connected {
		status = Connected
	}
	changed := c.status != status
	c.status = status
	if !connected {
		// Losing the port also tears down any pipe scanning it out.
		for _, p := range d.pipes {
			if p.connector == c {
				p.enabled = false
				p.connector = nil
				p.frame = nil
			}
		}
	}
	if suppressed := d.notePulse(time.Now()); suppressed || !changed {
		return
	}
	d.broadcast(HotplugEvent{Connector: c.id, Connected: connected})
}

// Plug connects the connector, as if the fixture closed the HPD line.
func (c *Connector) Plug() {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.setConnection(c, true)
}

// Unplug disconnects the connector.
func (c *Connector) Unplug() {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.setConnection(c, false)
}

// SetEDID replaces the EDID blob the connector presents. Changing it while
// connected marks the link as needing retraining.
func (c *Connector) SetEDID(blob []byte) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	copied := make([]byte, len(blob))
	copy(copied, blob)
	c.edid = copied
	if c.status == Connected {
		c.link = LinkBad
	}
}

// SetDDC enables or disables EDID reads; hotplug keeps working either way.
func (c *Connector) SetDDC(enabled bool) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.ddc = enabled
}

// ScheduleHPDToggle arranges a connection flip after delay. During suspend
// the toggle is queued and fires on resume, so tests can verify that resume
// notices connection changes.
func (c *Connector) ScheduleHPDToggle(delay time.Duration, connect bool) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if c.d.suspended {
		c.d.pendingToggles = append(c.d.pendingToggles, pendingToggle{conn: c, connect: connect})
		return
	}
	time.AfterFunc(delay, func() {
		c.d.mu.Lock()
		defer c.d.mu.Unlock()
		if c.d.suspended {
			c.d.pendingToggles = append(c.d.pendingToggles, pendingToggle{conn: c, connect: connect})
			return
		}
		c.d.setConnection(c, connect)
	})
}

// Suspend holds off hotplug processing, as a suspended machine would.
func (d *Device) Suspend() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.suspended = true
}

// Resume applies toggles that arrived during suspend and raises their
// hotplug events. A connector whose EDID changed while suspended also
// re-raises hotplug, mirroring the post-resume reprobe.
func (d *Device) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.suspended = false
	pending := d.pendingToggles
	d.pendingToggles = nil
	for _, t := range pending {
		d.setConnection(t.conn, t.connect)
	}
	for _, c := range d.connectors {
		if c.status == Connected && c.link == LinkBad {
			d.broadcast(HotplugEvent{Connector: c.id, Connected: true})
		}
	}
}
