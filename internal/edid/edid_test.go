package edid

import (
	"bytes"
	"testing"
)

func TestBuildAndParseVendor(t *testing.T) {
	e, err := Build(Params{Vendor: "KML", Product: 7, Serial: 99,
		Width: 1024, Height: 768, ClockHz: 65000000})
	if err != nil {
		t.Fatal(err)
	}
	if !Valid(e) {
		t.Fatal("built block failed validation")
	}
	v, err := ParseVendor(e)
	if err != nil {
		t.Fatal(err)
	}
	if v != "KML" {
		t.Fatalf("ParseVendor = %q, want KML", v)
	}
}

func TestBuild_RejectsBadVendor(t *testing.T) {
	for _, v := range []string{"", "KM", "KMLX", "km1"} {
		if _, err := Build(Params{Vendor: v}); err == nil {
			t.Fatalf("vendor %q should be rejected", v)
		}
	}
}

func TestValid_DetectsCorruption(t *testing.T) {
	e := Base()
	if !Valid(e) {
		t.Fatal("canonical block invalid")
	}
	e[40] ^= 0xff
	if Valid(e) {
		t.Fatal("corrupted block passed validation")
	}
	if Valid(e[:64]) {
		t.Fatal("short block passed validation")
	}
}

func TestBaseAndAltDiffer(t *testing.T) {
	if bytes.Equal(Base(), Alt()) {
		t.Fatal("base and alt blocks must differ")
	}
	for _, e := range [][]byte{Base(), Alt()} {
		if !Valid(e) {
			t.Fatal("canonical block failed validation")
		}
		if v, _ := ParseVendor(e); v != Vendor {
			t.Fatalf("canonical vendor = %q, want %q", v, Vendor)
		}
	}
}
