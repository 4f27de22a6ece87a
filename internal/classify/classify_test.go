package classify_test

import (
	"math/rand"
	"testing"

	"codeberg.org/mutker/picarctl/internal/classify"
	"codeberg.org/mutker/picarctl/internal/grayscale"
	"github.com/stretchr/testify/assert"
)

func TestLine(t *testing.T) {
	tests := []struct {
		name      string
		threshold int
		reading   grayscale.Reading
		want      classify.LineStatus
	}{
		{"center on line", 400, grayscale.Reading{2000, 50, 2000}, classify.Center},
		{"left on line", 400, grayscale.Reading{50, 2000, 2000}, classify.Left},
		{"right on line", 400, grayscale.Reading{2000, 2000, 50}, classify.Right},
		{"line lost", 400, grayscale.Reading{2000, 2000, 2000}, classify.Unknown},
		{"left wins over right", 400, grayscale.Reading{50, 2000, 50}, classify.Left},
		{"threshold is inclusive", 400, grayscale.Reading{2000, 400, 2000}, classify.Center},
		{"center beats both sides", 400, grayscale.Reading{10, 10, 10}, classify.Center},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify.Line(tt.threshold, tt.reading))
		})
	}
}

func TestLineCenterAlwaysWins(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		threshold := rng.Intn(4096)
		r := grayscale.Reading{rng.Intn(4096), rng.Intn(threshold + 1), rng.Intn(4096)}
		assert.Equal(t, classify.Center, classify.Line(threshold, r), "threshold=%d reading=%v", threshold, r)
	}
}

func TestIsEdgeMatchesMinimum(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 1000; i++ {
		threshold := rng.Intn(4096)
		r := grayscale.Reading{rng.Intn(4096), rng.Intn(4096), rng.Intn(4096)}
		want := min(r.Left(), r.Center(), r.Right()) <= threshold
		assert.Equal(t, want, classify.IsEdge(threshold, r), "threshold=%d reading=%v", threshold, r)
	}
}

func TestIsEdge(t *testing.T) {
	assert.True(t, classify.IsEdge(300, grayscale.Reading{100, 2000, 2000}))
	assert.True(t, classify.IsEdge(300, grayscale.Reading{2000, 2000, 300}))
	assert.False(t, classify.IsEdge(300, grayscale.Reading{301, 2000, 2000}))
}

func TestLineStatusString(t *testing.T) {
	assert.Equal(t, "center", classify.Center.String())
	assert.Equal(t, "unknown", classify.Unknown.String())
}
