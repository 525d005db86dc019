package quadrant

import (
	"testing"

	colorful "github.com/lucasb-eyer/go-colorful"
)

var (
	red   = colorful.Color{R: 1}
	green = colorful.Color{G: 1}
	blue  = colorful.Color{B: 1}
	white = colorful.Color{R: 1, G: 1, B: 1}
)

var base = Assignment{TL: red, TR: green, BL: blue, BR: white}

func allTransforms() []Transform {
	var ts []Transform
	for _, rot := range []Rotation{Rot0, Rot90, Rot180, Rot270} {
		ts = append(ts, Transform{Rotation: rot})
		ts = append(ts, Transform{Rotation: rot, ReflectX: true})
	}
	return ts
}

func TestApply_KnownLayouts(t *testing.T) {
	cases := []struct {
		name string
		tr   Transform
		want Assignment
	}{
		{"rotation-90", Transform{Rotation: Rot90},
			Assignment{TL: green, TR: white, BL: red, BR: blue}},
		{"rotation-180", Transform{Rotation: Rot180},
			Assignment{TL: white, TR: blue, BL: green, BR: red}},
		{"rotation-270", Transform{Rotation: Rot270},
			Assignment{TL: blue, TR: red, BL: white, BR: green}},
		{"reflect-x-0", Transform{Rotation: Rot0, ReflectX: true},
			Assignment{TL: green, TR: red, BL: white, BR: blue}},
		{"reflect-x-90", Transform{Rotation: Rot90, ReflectX: true},
			Assignment{TL: red, TR: blue, BL: green, BR: white}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.tr.Apply(base)
			if got != tc.want {
				t.Fatalf("Apply(%v) = %+v, want %+v", tc.tr, got, tc.want)
			}
		})
	}
}

func TestApply_IdentityIsNoop(t *testing.T) {
	if got := (Transform{}).Apply(base); got != base {
		t.Fatalf("identity transform changed assignment: %+v", got)
	}
}

// Every transform must permute the four input colors: nothing lost, nothing
// duplicated.
func TestApply_Permutation(t *testing.T) {
	for _, tr := range allTransforms() {
		got := tr.Apply(base)
		seen := map[colorful.Color]int{}
		for _, c := range []colorful.Color{got.TL, got.TR, got.BL, got.BR} {
			seen[c]++
		}
		for _, c := range []colorful.Color{red, green, blue, white} {
			if seen[c] != 1 {
				t.Fatalf("%v: color %v appears %d times in %+v", tr, c, seen[c], got)
			}
		}
	}
}

func TestApply_RoundTrip(t *testing.T) {
	for _, tr := range allTransforms() {
		inv := tr.Inverse()
		if got := inv.Apply(tr.Apply(base)); got != base {
			t.Fatalf("%v then %v did not round-trip: %+v", tr, inv, got)
		}
	}
}

func TestApply_SelfInverseLaws(t *testing.T) {
	reflect := Transform{ReflectX: true}
	if got := reflect.Apply(reflect.Apply(base)); got != base {
		t.Fatalf("reflect-x twice != identity: %+v", got)
	}
	r180 := Transform{Rotation: Rot180}
	if got := r180.Apply(r180.Apply(base)); got != base {
		t.Fatalf("rotation-180 twice != identity: %+v", got)
	}
	r90 := Transform{Rotation: Rot90}
	got := base
	for i := 0; i < 4; i++ {
		got = r90.Apply(got)
	}
	if got != base {
		t.Fatalf("rotation-90 four times != identity: %+v", got)
	}
}

// The combined transform is always reflect-then-rotate; applying the two
// halves separately in that order must agree with the combined form.
func TestApply_ReflectThenRotateOrder(t *testing.T) {
	combined := Transform{Rotation: Rot180, ReflectX: true}.Apply(base)
	staged := Transform{Rotation: Rot180}.Apply(Transform{ReflectX: true}.Apply(base))
	if combined != staged {
		t.Fatalf("combined %+v != staged %+v", combined, staged)
	}
}

func TestApply_BadRotationPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for out-of-range rotation")
		}
	}()
	Transform{Rotation: Rotation(42)}.Apply(base)
}
