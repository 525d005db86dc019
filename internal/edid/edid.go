// Package edid builds and inspects 128-byte base EDID blocks. The hotplug
// suites attach these to fixture ports and verify the display stack exposes
// the same bytes through the connector's EDID property.
package edid

import (
	"errors"
	"fmt"
)

// Length is the size of a base EDID block.
const Length = 128

var header = [8]byte{0x00, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00}

// Vendor is the PNP ID this repository stamps into generated blocks.
const Vendor = "KML"

// Params selects the identity fields of a generated block. Modes beyond the
// preferred one are not encoded; the suites only key off identity.
type Params struct {
	Vendor  string // 3 uppercase letters
	Product uint16
	Serial  uint32
	// Preferred mode, encoded in the first detailed timing descriptor.
	Width   int
	Height  int
	ClockHz int
}

// Build produces a valid base block: header, packed vendor, product, serial,
// one detailed timing descriptor and a correct checksum byte.
func Build(p Params) ([]byte, error) {
	if len(p.Vendor) != 3 {
		return nil, fmt.Errorf("edid: vendor must be 3 letters, got %q", p.Vendor)
	}
	for _, c := range p.Vendor {
		if c < 'A' || c > 'Z' {
			return nil, fmt.Errorf("edid: vendor must be uppercase A-Z, got %q", p.Vendor)
		}
	}
	e := make([]byte, Length)
	copy(e, header[:])

	// Vendor PNP ID: three 5-bit letters (A=1) packed big-endian into two
	// bytes.
	v0, v1, v2 := p.Vendor[0]-'@', p.Vendor[1]-'@', p.Vendor[2]-'@'
	e[8] = v0<<2 | v1>>3
	e[9] = v1<<5 | v2

	e[10] = byte(p.Product)
	e[11] = byte(p.Product >> 8)
	e[12] = byte(p.Serial)
	e[13] = byte(p.Serial >> 8)
	e[14] = byte(p.Serial >> 16)
	e[15] = byte(p.Serial >> 24)

	e[17] = 30   // model year style: 2020
	e[18] = 1    // EDID 1.4
	e[19] = 4
	e[20] = 0xa5 // digital input

	// First detailed timing descriptor at offset 54: pixel clock in 10kHz
	// units plus active h/v sizes. Blanking fields stay zero; the model does
	// not scan real timings.
	clock := p.ClockHz / 10000
	e[54] = byte(clock)
	e[55] = byte(clock >> 8)
	e[56] = byte(p.Width)
	e[58] = byte(p.Width>>8) << 4
	e[59] = byte(p.Height)
	e[61] = byte(p.Height>>8) << 4

	e[127] = checksum(e)
	return e, nil
}

func checksum(e []byte) byte {
	var sum byte
	for _, b := range e[:Length-1] {
		sum += b
	}
	return -sum
}

// Valid reports whether e is a plausible base block: correct length, header
// and checksum.
func Valid(e []byte) bool {
	if len(e) != Length {
		return false
	}
	for i, b := range header {
		if e[i] != b {
			return false
		}
	}
	return e[Length-1] == checksum(e)
}

// ParseVendor unpacks the 3-letter PNP ID.
func ParseVendor(e []byte) (string, error) {
	if len(e) < 10 {
		return "", errors.New("edid: block too short")
	}
	b := []byte{
		(e[8]&0x7c)>>2 + '@',
		(e[8]&0x03)<<3 + (e[9]&0xe0)>>5 + '@',
		e[9]&0x1f + '@',
	}
	return string(b), nil
}

// Base returns the canonical block the fixture presents by default.
func Base() []byte {
	e, err := Build(Params{Vendor: Vendor, Product: 0x0001, Serial: 1,
		Width: 1920, Height: 1080, ClockHz: 148500000})
	if err != nil {
		panic(err)
	}
	return e
}

// Alt returns a second block with a different identity, used by EDID-change
// tests.
func Alt() []byte {
	e, err := Build(Params{Vendor: Vendor, Product: 0x0002, Serial: 2,
		Width: 1280, Height: 720, ClockHz: 74250000})
	if err != nil {
		panic(err)
	}
	return e
}
