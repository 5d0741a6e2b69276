package loss

import (
	"testing"

	"github.com/seehuhn/mt19937"
	"github.com/stretchr/testify/assert"
)

func TestBernoulliExtremes(t *testing.T) {
	never := NewBernoulli(0, nil)
	always := NewBernoulli(1, nil)
	for seq := uint32(0); seq < 1000; seq++ {
		assert.False(t, never.ShouldDrop(seq))
		assert.True(t, always.ShouldDrop(seq))
	}
}

func TestBernoulliSeededIsDeterministic(t *testing.T) {
	trial := func() []bool {
		src := mt19937.New()
		src.Seed(42)
		o := NewBernoulli(0.3, src)
		out := make([]bool, 100)
		for i := range out {
			out[i] = o.ShouldDrop(uint32(i))
		}
		return out
	}
	assert.Equal(t, trial(), trial())
}

func TestBernoulliRateIsRoughlyHonored(t *testing.T) {
	src := mt19937.New()
	src.Seed(1)
	o := NewBernoulli(0.2, src)
	dropped := 0
	const trials = 100000
	for i := 0; i < trials; i++ {
		if o.ShouldDrop(uint32(i)) {
			dropped++
		}
	}
	rate := float64(dropped) / trials
	assert.InDelta(t, 0.2, rate, 0.01)
}
