package fb

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// DumpHeader is a small uncompressed-readable JSON line at the start of a
// frame dump so dumps can be inspected without decoding the pixel body.
type DumpHeader struct {
	Version int    `json:"version"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Format  string `json:"format"`
	Reason  string `json:"reason,omitempty"`
}

type dumpV1 struct {
	Header   DumpHeader
	Format   Format
	Modifier Modifier
	Stride   int
	Pix      []byte
}

// WriteDump stores the frame as a zstd-compressed dump for offline diagnosis
// of checksum mismatches.
func WriteDump(path string, f *Framebuffer, reason string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	d := dumpV1{
		Header: DumpHeader{
			Version: 1,
			Width:   f.Width,
			Height:  f.Height,
			Format:  f.Format.String(),
			Reason:  reason,
		},
		Format:   f.Format,
		Modifier: f.Modifier,
		Stride:   f.Stride,
		Pix:      f.Pix,
	}
	hb, _ := json.Marshal(d.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&d); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

// ReadDump loads a frame dump back into a framebuffer.
func ReadDump(path string) (*Framebuffer, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	dec, err := zstd.NewReader(in)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Skip the header line; gob carries the header too.
	if _, err := br.ReadBytes('\n'); err != nil {
		return nil, err
	}

	var d dumpV1
	if err := gob.NewDecoder(br).Decode(&d); err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	f, err := New(d.Header.Width, d.Header.Height, d.Format, d.Modifier)
	if err != nil {
		return nil, err
	}
	if d.Stride != f.Stride || len(d.Pix) != len(f.Pix) {
		return nil, fmt.Errorf("fb: dump geometry mismatch (stride %d vs %d)", d.Stride, f.Stride)
	}
	copy(f.Pix, d.Pix)
	return f, nil
}
