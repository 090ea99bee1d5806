package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestMaskFromScores(t *testing.T) {
	// 3x2 map, positive scores become set pixels; zero stays unset
	scores := []float32{-1, 0, 0.5, 2, -0.1, 0}
	m, err := MaskFromScores(3, 2, scores)
	if err != nil {
		t.Fatal(err)
	}

	want := [][]bool{{false, false, true}, {true, false, false}}
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			if m.At(x, y) != want[y][x] {
				t.Errorf("At(%d,%d) = %v, want %v", x, y, m.At(x, y), want[y][x])
			}
		}
	}
	if m.Count() != 2 {
		t.Errorf("Count() = %d, want 2", m.Count())
	}

	if _, err := MaskFromScores(3, 2, scores[:5]); err == nil {
		t.Error("expected error for short score map")
	}
}

func TestMaskPackedRoundTrip(t *testing.T) {
	m := NewMask(70, 3) // spans several words
	m.Set(0, 0)
	m.Set(69, 0)
	m.Set(5, 2)

	back, err := MaskFromPacked(70, 3, m.Packed())
	if err != nil {
		t.Fatal(err)
	}
	if back.Count() != 3 || !back.At(69, 0) || !back.At(5, 2) || back.At(1, 1) {
		t.Errorf("packed round trip lost pixels: count=%d", back.Count())
	}
	if m.At(-1, 0) || m.At(70, 0) {
		t.Error("out-of-range pixels must read false")
	}
}

func TestVideoSegmentsFrameIDs(t *testing.T) {
	segs := VideoSegments{4: nil, 0: nil, 2: nil}
	got := segs.FrameIDs()
	want := []int{0, 2, 4}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("FrameIDs() = %v, want %v", got, want)
	}
}

func TestRegionsObjectIDs(t *testing.T) {
	r := Regions{{Name: "A"}, {Name: "B"}, {Name: "C"}}
	if got := fmt.Sprint(r.ObjectIDs()); got != "[1 2 3]" {
		t.Errorf("ObjectIDs() = %s", got)
	}
	if got := fmt.Sprint(r.Names()); got != "[A B C]" {
		t.Errorf("Names() = %s", got)
	}
}

func TestValidationErrorIs(t *testing.T) {
	err := fmt.Errorf("propagate: %w", &ValidationError{Index: 2, Reason: "inverted"})
	if !errors.Is(err, ErrInputValidation) {
		t.Error("ValidationError should match ErrInputValidation")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Index != 2 {
		t.Errorf("errors.As failed or wrong index: %+v", ve)
	}
	if errors.Is(err, ErrInference) {
		t.Error("ValidationError must not match ErrInference")
	}
}
