// Package dice implements the seeded dice roller used by the game engine.
package dice

import (
	"errors"
	"math/rand"
	"sync"
	"time"
)

// ErrInvalidSides indicates a die with a non-positive side count.
var ErrInvalidSides = errors.New("die must have positive sides")

// Roller produces die rolls from a single seeded stream.
//
// Rolls are deterministic with respect to the seed: the same seed yields the
// same sequence of values. A zero seed selects a time-based seed.
type Roller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRoller(seed int64) *Roller {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Roller{rng: rand.New(rand.NewSource(seed))}
}

// Roll returns a uniform value in [1, sides].
func (r *Roller) Roll(sides int) (int, error) {
	if sides <= 0 {
		return 0, ErrInvalidSides
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Intn(sides) + 1, nil
}

// D6 rolls the standard movement die.
func (r *Roller) D6() int {
	v, _ := r.Roll(6)
	return v
}

// Intn exposes the underlying stream for non-die draws (task selection,
// special-cell layout). n must be positive.
func (r *Roller) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Intn(n)
}
