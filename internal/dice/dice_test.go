package dice

import "testing"

func TestRollRange(t *testing.T) {
	r := NewRoller(1)
	for i := 0; i < 1000; i++ {
		v := r.D6()
		if v < 1 || v > 6 {
			t.Fatalf("D6 = %d, want 1..6", v)
		}
	}
}

func TestRollDeterministic(t *testing.T) {
	a := NewRoller(42)
	b := NewRoller(42)
	for i := 0; i < 100; i++ {
		av, bv := a.D6(), b.D6()
		if av != bv {
			t.Fatalf("roll %d: %d != %d for same seed", i, av, bv)
		}
	}
}

func TestRollInvalidSides(t *testing.T) {
	r := NewRoller(1)
	if _, err := r.Roll(0); err != ErrInvalidSides {
		t.Fatalf("Roll(0) err = %v, want ErrInvalidSides", err)
	}
	if _, err := r.Roll(-6); err != ErrInvalidSides {
		t.Fatalf("Roll(-6) err = %v, want ErrInvalidSides", err)
	}
}
