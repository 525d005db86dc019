// Package crc defines the checksum value the conformance suites compare, and
// the software reference computation over framebuffer content. The model
// checksum stands in for the capture hardware's pipe CRC: it is a compact
// fingerprint of displayed pixel content, shared by the reference and output
// paths so that equality is meaningful.
package crc

import (
	"fmt"
	"hash/crc32"

	"kmslab.dev/internal/fb"
)

// CRC is one captured checksum. Frame is a capture sequence number and does
// not participate in equality.
type CRC struct {
	Frame uint32
	Word  uint32
}

func (c CRC) Equal(o CRC) bool {
	return c.Word == o.Word
}

func (c CRC) String() string {
	return fmt.Sprintf("%08x", c.Word)
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Compute fingerprints the visible pixel content of a frame. Only the pixel
// payload of each row participates; stride padding and tiling layout do not,
// so two frames that display identically always produce the same checksum.
func Compute(f *fb.Framebuffer) CRC {
	rowBytes := f.Width * f.Format.BytesPerPixel()
	sum := uint32(0)
	for y := 0; y < f.Height; y++ {
		off := y * f.Stride
		sum = crc32.Update(sum, castagnoli, f.Pix[off:off+rowBytes])
	}
	return CRC{Word: sum}
}

// Source is a capture point that can be read after a commit.
type Source interface {
	GetCurrent() (CRC, error)
}

// MismatchError reports a checksum comparison failure with both values and,
// when a frame dump was written, where to find it.
type MismatchError struct {
	Ref      CRC
	Got      CRC
	DumpPath string
}

func (e *MismatchError) Error() string {
	if e.DumpPath != "" {
		return fmt.Sprintf("crc mismatch: reference %s, output %s (frame dump: %s)", e.Ref, e.Got, e.DumpPath)
	}
	return fmt.Sprintf("crc mismatch: reference %s, output %s", e.Ref, e.Got)
}

// AssertEqual returns nil when the checksums match and a *MismatchError
// otherwise.
func AssertEqual(ref, got CRC) error {
	if ref.Equal(got) {
		return nil
	}
	return &MismatchError{Ref: ref, Got: got}
}
