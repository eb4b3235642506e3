// Package tuning loads the yaml game parameters shared by server and tests.
package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"starsteps.app/internal/board"
	"starsteps.app/internal/session"
)

type Tuning struct {
	BoardSize int   `yaml:"board_size"`
	TurnCap   int   `yaml:"turn_cap"`
	StarCells int   `yaml:"star_cells"`
	TrapCells int   `yaml:"trap_cells"`
	Seed      int64 `yaml:"seed"` // 0 = time-based

	TrapPolicy            string `yaml:"trap_policy"` // task | penalty
	TrapPenaltySteps      int    `yaml:"trap_penalty_steps"`
	CollisionPenaltySteps int    `yaml:"collision_penalty_steps"`

	Sync SyncTuning `yaml:"sync"`
}

// SyncTuning is advertised to clients; the sync library uses the same
// defaults when no tuning is supplied.
type SyncTuning struct {
	PollSlowSec    int `yaml:"poll_slow_sec"`     // status != playing
	PollFastSec    int `yaml:"poll_fast_sec"`     // task pending
	PollOwnTurnSec int `yaml:"poll_own_turn_sec"` // acting player's turn
	PollWaitSec    int `yaml:"poll_wait_sec"`     // waiting on opponent
	StepDelayMs    int `yaml:"step_delay_ms"`     // animation per-step delay
}

func Defaults() Tuning {
	return Tuning{
		BoardSize:        49,
		TurnCap:          50,
		StarCells:        6,
		TrapCells:        6,
		TrapPolicy:       string(session.TrapPolicyTask),
		TrapPenaltySteps: 3,
		Sync: SyncTuning{
			PollSlowSec:    30,
			PollFastSec:    10,
			PollOwnTurnSec: 15,
			PollWaitSec:    20,
			StepDelayMs:    400,
		},
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if _, err := board.Side(t.BoardSize); err != nil {
		return err
	}
	if t.TurnCap < 0 {
		return fmt.Errorf("turn_cap %d: must be >= 0", t.TurnCap)
	}
	switch session.TrapPolicy(t.TrapPolicy) {
	case session.TrapPolicyTask, session.TrapPolicyPenalty:
	default:
		return fmt.Errorf("trap_policy %q: must be task or penalty", t.TrapPolicy)
	}
	return nil
}

// Rules converts the tuning into the engine's resolution parameters.
func (t Tuning) Rules() session.Rules {
	return session.Rules{
		TurnCap:          t.TurnCap,
		TrapPolicy:       session.TrapPolicy(t.TrapPolicy),
		TrapPenalty:      t.TrapPenaltySteps,
		CollisionPenalty: t.CollisionPenaltySteps,
	}
}
