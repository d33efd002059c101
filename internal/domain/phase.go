package domain

// Phase represents a state of the game's phase machine
type Phase string

const (
	PhaseWaiting   Phase = "waiting"   // Lobby, players joining
	PhaseSituation Phase = "situation" // Leader writing the prompt
	PhasePlaying   Phase = "playing"   // Non-leaders playing a card each
	PhaseVoting    Phase = "voting"    // Everyone votes for the funniest card
	PhaseResults   Phase = "results"   // Tallies shown, scores applied
	PhaseFinished  Phase = "finished"  // Round or score limit reached
)

var validTransitions = map[Phase][]Phase{
	PhaseWaiting:   {PhaseSituation},
	PhaseSituation: {PhasePlaying},
	PhasePlaying:   {PhaseVoting},
	PhaseVoting:    {PhaseResults},
	PhaseResults:   {PhaseSituation, PhaseFinished},
}

// String returns the string representation of the phase
func (p Phase) String() string {
	return string(p)
}

// InRound reports whether the phase is one of the in-progress round phases
// stored in a game's current_phase column.
func (p Phase) InRound() bool {
	switch p {
	case PhaseSituation, PhasePlaying, PhaseVoting, PhaseResults:
		return true
	}
	return false
}

// CanTransitionTo checks if a transition from current phase to target phase is valid
func (p Phase) CanTransitionTo(target Phase) bool {
	allowed, ok := validTransitions[p]
	if !ok {
		return false
	}

	for _, phase := range allowed {
		if phase == target {
			return true
		}
	}
	return false
}
