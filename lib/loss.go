package lib

import "math/rand"

// LossOracle decides whether a given outbound transmission is dropped by the
// channel. It is supplied by the caller so tests stay reproducible; the
// engine itself never consults uncontrolled randomness.
type LossOracle interface {
	Drop(segmentID uint32) bool
}

// NeverDrop is the default oracle: a perfectly reliable channel.
type NeverDrop struct{}

func (NeverDrop) Drop(uint32) bool { return false }

// RandomLoss drops each transmission with probability rate, driven by an
// explicitly seeded source.
type RandomLoss struct {
	rng  *rand.Rand
	rate float64
}

// NewRandomLoss creates a loss oracle with the given seed and drop rate.
func NewRandomLoss(seed int64, rate float64) *RandomLoss {
	return &RandomLoss{
		rng:  rand.New(rand.NewSource(seed)),
		rate: rate,
	}
}

func (r *RandomLoss) Drop(uint32) bool {
	return r.rng.Float64() < r.rate
}

// DropFunc adapts a plain function to the LossOracle interface, handy for
// scripted loss patterns in tests.
type DropFunc func(segmentID uint32) bool

func (f DropFunc) Drop(segmentID uint32) bool { return f(segmentID) }
