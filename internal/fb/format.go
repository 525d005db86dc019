package fb

import (
	"fmt"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Format is a pixel format. The set mirrors what the conformance suites
// exercise: 32-bit RGB with and without alpha, 16-bit RGB565 (used by the
// bad-pixel-format negative case) and 8-bit indexed C8.
type Format uint32

const (
	FormatXRGB8888 Format = iota + 1
	FormatARGB8888
	FormatRGB565
	FormatC8
)

func (f Format) String() string {
	switch f {
	case FormatXRGB8888:
		return "XRGB8888"
	case FormatARGB8888:
		return "ARGB8888"
	case FormatRGB565:
		return "RGB565"
	case FormatC8:
		return "C8"
	}
	return fmt.Sprintf("Format(%d)", uint32(f))
}

func (f Format) BytesPerPixel() int {
	switch f {
	case FormatXRGB8888, FormatARGB8888:
		return 4
	case FormatRGB565:
		return 2
	case FormatC8:
		return 1
	}
	panic(fmt.Sprintf("fb: unknown format %d", uint32(f)))
}

func (f Format) HasAlpha() bool {
	return f == FormatARGB8888
}

// Modifier is a memory layout (tiling) descriptor. Plane rotation support
// depends on it: 90/270 scanout requires Y or Yf tiling.
type Modifier uint64

const (
	ModLinear Modifier = iota
	ModXTiled
	ModYTiled
	ModYfTiled
)

func (m Modifier) String() string {
	switch m {
	case ModLinear:
		return "linear"
	case ModXTiled:
		return "x-tiled"
	case ModYTiled:
		return "y-tiled"
	case ModYfTiled:
		return "yf-tiled"
	}
	return fmt.Sprintf("Modifier(%d)", uint64(m))
}

// Rotatable reports whether 90/270 degree scanout is possible from this
// layout.
func (m Modifier) Rotatable() bool {
	return m == ModYTiled || m == ModYfTiled
}

// tileDims returns the tile width in bytes and tile height in rows used for
// stride and size alignment.
func (m Modifier) tileDims() (wBytes, hRows int) {
	switch m {
	case ModLinear:
		return 64, 1
	case ModXTiled:
		return 512, 8
	case ModYTiled, ModYfTiled:
		return 128, 32
	}
	panic(fmt.Sprintf("fb: unknown modifier %d", uint64(m)))
}

func clamp255(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

// encodePixel packs a color into the format's native byte layout
// (little-endian for the multi-byte formats). The alpha channel of ARGB8888
// is always fully opaque; C8 stores a luminance index.
func encodePixel(f Format, c colorful.Color, dst []byte) {
	r, g, b := clamp255(c.R), clamp255(c.G), clamp255(c.B)
	switch f {
	case FormatXRGB8888, FormatARGB8888:
		dst[0] = b
		dst[1] = g
		dst[2] = r
		dst[3] = 0xff
	case FormatRGB565:
		v := uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
		dst[0] = byte(v)
		dst[1] = byte(v >> 8)
	case FormatC8:
		// Rec. 601 luma as the palette index.
		dst[0] = clamp255(0.299*c.R + 0.587*c.G + 0.114*c.B)
	default:
		panic(fmt.Sprintf("fb: unknown format %d", uint32(f)))
	}
}

// decodePixel is the inverse of encodePixel, up to the precision the format
// can represent.
func decodePixel(f Format, src []byte) colorful.Color {
	switch f {
	case FormatXRGB8888, FormatARGB8888:
		return colorful.Color{
			R: float64(src[2]) / 255,
			G: float64(src[1]) / 255,
			B: float64(src[0]) / 255,
		}
	case FormatRGB565:
		v := uint16(src[0]) | uint16(src[1])<<8
		return colorful.Color{
			R: float64(v>>11&0x1f) / 31,
			G: float64(v>>5&0x3f) / 63,
			B: float64(v&0x1f) / 31,
		}
	case FormatC8:
		l := float64(src[0]) / 255
		return colorful.Color{R: l, G: l, B: l}
	default:
		panic(fmt.Sprintf("fb: unknown format %d", uint32(f)))
	}
}
