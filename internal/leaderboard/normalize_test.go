package leaderboard

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   float64
		want int64
	}{
		{"plain integer", 42, 42},
		{"fractional floors", 42.9, 42},
		{"zero", 0, 0},
		{"negative", -5, 0},
		{"negative fractional", -0.5, 0},
		{"at bound", 1_000_000_000, 1_000_000_000},
		{"above bound clamps", 2_000_000_000, 1_000_000_000},
		{"huge clamps", math.MaxFloat64, 1_000_000_000},
		{"NaN", math.NaN(), 0},
		{"positive infinity", math.Inf(1), 0},
		{"negative infinity", math.Inf(-1), 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.in))
		})
	}
}

func TestNormalizeAlwaysInBounds(t *testing.T) {
	inputs := []float64{
		-math.MaxFloat64, -1e18, -1, 0, 0.1, 1, 999_999_999.999,
		1e9, 1e9 + 1, 1e18, math.MaxFloat64,
		math.NaN(), math.Inf(1), math.Inf(-1),
		math.SmallestNonzeroFloat64,
	}
	for _, in := range inputs {
		got := Normalize(in)
		assert.GreaterOrEqual(t, got, int64(0), "input %v", in)
		assert.LessOrEqual(t, got, int64(MaxScore), "input %v", in)
	}
}
