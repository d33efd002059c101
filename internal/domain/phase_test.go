package domain

import (
	"errors"
	"testing"
)

func TestPhaseTransitions(t *testing.T) {
	all := []Phase{PhaseWaiting, PhaseSituation, PhasePlaying, PhaseVoting, PhaseResults, PhaseFinished}
	legal := map[[2]Phase]bool{
		{PhaseWaiting, PhaseSituation}: true,
		{PhaseSituation, PhasePlaying}: true,
		{PhasePlaying, PhaseVoting}:    true,
		{PhaseVoting, PhaseResults}:    true,
		{PhaseResults, PhaseSituation}: true,
		{PhaseResults, PhaseFinished}:  true,
	}

	for _, from := range all {
		for _, to := range all {
			want := legal[[2]Phase{from, to}]
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("%s -> %s = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestGameStateAdvance(t *testing.T) {
	s := NewGame("g1", "abc123").GameState
	if s.Phase() != PhaseWaiting {
		t.Fatalf("phase = %s, want waiting", s.Phase())
	}

	s, err := s.Advance(PhaseSituation)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.Status != StatusInProgress || s.CurrentPhase != PhaseSituation || s.CurrentRound != 1 {
		t.Fatalf("after start = %+v", s)
	}

	for _, p := range []Phase{PhasePlaying, PhaseVoting, PhaseResults} {
		if s, err = s.Advance(p); err != nil {
			t.Fatalf("advance to %s: %v", p, err)
		}
	}
	if s.CurrentRound != 1 {
		t.Fatalf("round = %d, want 1", s.CurrentRound)
	}

	s, err = s.Advance(PhaseSituation)
	if err != nil {
		t.Fatalf("next round: %v", err)
	}
	if s.CurrentRound != 2 {
		t.Fatalf("round = %d, want 2", s.CurrentRound)
	}

	before := s
	if _, err := s.Advance(PhaseVoting); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("skip to voting err = %v", err)
	}
	if s != before {
		t.Fatalf("rejected transition mutated state")
	}
}

func TestGameStateFinish(t *testing.T) {
	s := GameState{Status: StatusInProgress, CurrentPhase: PhaseResults, CurrentRound: 3}
	s, err := s.Advance(PhaseFinished)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if s.Phase() != PhaseFinished || s.CurrentRound != 3 {
		t.Fatalf("after finish = %+v", s)
	}
	if _, err := s.Advance(PhaseSituation); !errors.Is(err, ErrValidation) {
		t.Fatalf("advance after finish err = %v", err)
	}
}

func TestNormalizeCode(t *testing.T) {
	if got := NormalizeCode("  ab12cd "); got != "AB12CD" {
		t.Fatalf("NormalizeCode = %q", got)
	}
}
