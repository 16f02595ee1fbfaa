package carlahost

import "testing"

// getFixedValue is idempotent: coercing an already-fixed value must
// return the same value (testable property 3).
func TestGetFixedValueIdempotent(t *testing.T) {
	params := []Parameter{
		{Hints: ParamHintInteger, Ranges: ParameterRanges{Min: -5, Max: 5}},
		{Ranges: ParameterRanges{Min: 0, Max: 1}},
		{Hints: ParamHintBoolean, Ranges: ParameterRanges{Min: 0, Max: 1}},
	}
	inputs := []float32{-100, -2.4, 0, 0.3, 0.5, 0.7, 3.9, 100}

	for _, p := range params {
		for _, v := range inputs {
			once := getFixedValue(p, v)
			twice := getFixedValue(p, once)
			if once != twice {
				t.Fatalf("getFixedValue not idempotent for hints=%v: v=%v once=%v twice=%v", p.Hints, v, once, twice)
			}
		}
	}
}

// Boolean-hinted parameters snap to min below the midpoint and max at or
// above it (testable property 4).
func TestGetFixedValueBooleanSnapsToExtremes(t *testing.T) {
	p := Parameter{Hints: ParamHintBoolean, Ranges: ParameterRanges{Min: 0, Max: 1}}

	cases := []struct {
		v    float32
		want float32
	}{
		{-1, 0},
		{0, 0},   // v < mid (0.5) snaps to min
		{0.49, 0},
		{0.5, 1},
		{0.99, 1},
		{2, 1},
	}
	for _, c := range cases {
		got := getFixedValue(p, c.v)
		if got != c.want {
			t.Fatalf("getFixedValue(%v) = %v, want %v", c.v, got, c.want)
		}
	}
}

func TestGetFixedValueIntegerRounds(t *testing.T) {
	p := Parameter{Hints: ParamHintInteger, Ranges: ParameterRanges{Min: -10, Max: 10}}
	if got := getFixedValue(p, 3.4); got != 3 {
		t.Fatalf("expected 3.4 to round to 3, got %v", got)
	}
	if got := getFixedValue(p, 3.6); got != 4 {
		t.Fatalf("expected 3.6 to round to 4, got %v", got)
	}
	if got := getFixedValue(p, 20); got != 10 {
		t.Fatalf("expected out-of-range value to clamp to max, got %v", got)
	}
}

// balanceSplit's piecewise law (testable property 5).
func TestBalanceSplitPiecewiseLaw(t *testing.T) {
	cases := []struct {
		v                 float32
		left, right       float32
	}{
		{0, -1, 1},
		{-1, -1, -1},
		{-0.5, -1, 0},
		{1, 1, 1},
		{0.5, 0, 1},
	}
	for _, c := range cases {
		l, r := balanceSplit(c.v)
		if l != c.left || r != c.right {
			t.Fatalf("balanceSplit(%v) = (%v, %v), want (%v, %v)", c.v, l, r, c.left, c.right)
		}
	}
}

// canRunRack's characterization (testable property 8): both port counts
// must be <= 2, and either equal or one of them zero.
func TestCanRunRackCharacterization(t *testing.T) {
	cases := []struct {
		in, out int
		want    bool
	}{
		{0, 0, true},
		{1, 1, true},
		{2, 2, true},
		{0, 2, true},
		{2, 0, true},
		{1, 0, true},
		{3, 0, false},
		{0, 3, false},
		{1, 2, false},
		{2, 1, false},
		{3, 3, false},
	}
	for _, c := range cases {
		if got := canRunRack(c.in, c.out); got != c.want {
			t.Fatalf("canRunRack(%d, %d) = %v, want %v", c.in, c.out, got, c.want)
		}
	}
}
