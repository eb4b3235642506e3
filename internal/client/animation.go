package client

import (
	"context"
	"sync"
	"time"
)

// Animator turns authoritative position jumps into single-step display
// increments. The display position trails the target by one step per delay
// and converges exactly; it is presentation state only and never feeds back
// into the merge.
type Animator struct {
	stepDelay time.Duration
	wake      chan struct{}

	mu      sync.Mutex
	display map[string]int
	target  map[string]int
}

func NewAnimator(stepDelay time.Duration) *Animator {
	return &Animator{
		stepDelay: stepDelay,
		wake:      make(chan struct{}, 1),
		display:   make(map[string]int),
		target:    make(map[string]int),
	}
}

// Observe records a new authoritative position. The first observation for a
// player snaps the display (mid-game attach); later ones animate.
func (a *Animator) Observe(playerID string, pos int) {
	a.mu.Lock()
	if _, seen := a.target[playerID]; !seen {
		a.display[playerID] = pos
	}
	a.target[playerID] = pos
	a.mu.Unlock()
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// Display returns the currently shown position for the player.
func (a *Animator) Display(playerID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.display[playerID]
}

// Settled reports whether every display position matches its target.
func (a *Animator) Settled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, t := range a.target {
		if a.display[id] != t {
			return false
		}
	}
	return true
}

// Run advances trailing positions one step per delay until ctx is done,
// invoking onStep (may be nil) after each increment.
func (a *Animator) Run(ctx context.Context, onStep func(playerID string, pos int)) {
	for {
		if a.Settled() {
			select {
			case <-ctx.Done():
				return
			case <-a.wake:
				continue
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(a.stepDelay):
		}
		for _, step := range a.advance() {
			if onStep != nil {
				onStep(step.playerID, step.pos)
			}
		}
	}
}

type animStep struct {
	playerID string
	pos      int
}

// advance moves every trailing player one cell toward its target. Penalty
// moves walk backwards the same way.
func (a *Animator) advance() []animStep {
	a.mu.Lock()
	defer a.mu.Unlock()
	var steps []animStep
	for id, t := range a.target {
		d := a.display[id]
		switch {
		case d < t:
			d++
		case d > t:
			d--
		default:
			continue
		}
		a.display[id] = d
		steps = append(steps, animStep{playerID: id, pos: d})
	}
	return steps
}
