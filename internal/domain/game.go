package domain

import (
	"strings"
	"time"
)

// GameState is the mutable part of a game row. Every transition replaces it
// as a whole so a reader never observes half of a move.
type GameState struct {
	Status       Status `json:"status"`
	CurrentPhase Phase  `json:"currentPhase,omitempty"` // Only meaningful while in progress
	CurrentRound int    `json:"currentRound"`
	LeaderID     string `json:"leaderId,omitempty"`
}

// Game represents a game room
type Game struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"createdAt"`
	GameState
}

// NewGame creates a new game waiting for players
func NewGame(id, code string) *Game {
	return &Game{
		ID:        id,
		Code:      NormalizeCode(code),
		CreatedAt: time.Now(),
		GameState: GameState{
			Status:       StatusWaiting,
			CurrentRound: 0,
		},
	}
}

// NormalizeCode canonicalises a user-typed game code
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Phase returns the state machine position encoded by status and current_phase
func (s GameState) Phase() Phase {
	switch s.Status {
	case StatusWaiting:
		return PhaseWaiting
	case StatusFinished:
		return PhaseFinished
	}
	return s.CurrentPhase
}

// IsLeader checks if the given player leads the game
func (s GameState) IsLeader(playerID string) bool {
	return playerID != "" && s.LeaderID == playerID
}

// Advance returns the state after moving to target. Starting the game sets
// round 1 and opening a new round increments the counter; the caller picks the
// next leader.
func (s GameState) Advance(target Phase) (GameState, error) {
	from := s.Phase()
	if !from.CanTransitionTo(target) {
		return s, ErrInvalidTransition
	}

	next := s
	if target == PhaseFinished {
		next.Status = StatusFinished
	} else {
		next.Status = StatusInProgress
		next.CurrentPhase = target
	}

	switch {
	case from == PhaseWaiting:
		next.CurrentRound = 1
	case from == PhaseResults && target == PhaseSituation:
		next.CurrentRound++
	}

	return next, nil
}

// Require returns ErrInvalidPhase unless the game is in the given phase
func (s GameState) Require(phase Phase) error {
	if s.Phase() != phase {
		return ErrInvalidPhase
	}
	return nil
}
