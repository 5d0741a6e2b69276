// Package loss decides, per incoming segment, whether to simulate a drop
// for controlled-loss testing. The oracle is applied to DATA datagrams
// only; FIN/ACK/NACK travel the control path unharmed.
package loss

import (
	"math/rand"
	"time"

	"github.com/seehuhn/mt19937"
)

type Oracle interface {
	// ShouldDrop runs one independent trial for the given sequence
	// number. Implementations backed by a Bernoulli process ignore the
	// sequence number; deterministic test oracles key off it.
	ShouldDrop(seq uint32) bool
}

// Bernoulli drops each segment independently with probability rate.
type Bernoulli struct {
	rate float64
	rng  *rand.Rand
}

// NewBernoulli builds an oracle for rate in [0,1]. A nil source gets a
// Mersenne Twister seeded from the clock.
func NewBernoulli(rate float64, src rand.Source) *Bernoulli {
	if src == nil {
		mt := mt19937.New()
		mt.Seed(time.Now().UnixNano())
		src = mt
	}
	return &Bernoulli{rate: rate, rng: rand.New(src)}
}

func (b *Bernoulli) ShouldDrop(uint32) bool {
	if b.rate <= 0 {
		return false
	}
	return b.rng.Float64() < b.rate
}
