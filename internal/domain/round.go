package domain

import "time"

// MaxSituationLength caps situation prompts in runes
const MaxSituationLength = 200

// Round represents a single round of the game
type Round struct {
	ID          string    `json:"id"`
	GameID      string    `json:"gameId"`
	RoundNumber int       `json:"roundNumber"`
	LeaderID    string    `json:"leaderId"` // Who set the situation, not who leads now
	Situation   string    `json:"situation"`
	WinnerID    string    `json:"winnerId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewRound creates a new round with the given situation
func NewRound(id, gameID string, number int, leaderID, situation string) *Round {
	return &Round{
		ID:          id,
		GameID:      gameID,
		RoundNumber: number,
		LeaderID:    leaderID,
		Situation:   situation,
		CreatedAt:   time.Now(),
	}
}

// RoundResult is the outcome of counting a round's votes
type RoundResult struct {
	WinnerID string         // Empty when nobody received a vote
	Points   map[string]int // playerID -> points earned this round
}

// ScoreRound awards each play's author one point per vote. The winner is the
// author of the most voted play, the earliest play winning ties. plays must be
// in creation order.
func ScoreRound(plays []Play) RoundResult {
	result := RoundResult{Points: make(map[string]int)}

	best := 0
	for _, play := range plays {
		if play.Votes == 0 {
			continue
		}
		result.Points[play.PlayerID] += play.Votes
		if play.Votes > best {
			best = play.Votes
			result.WinnerID = play.PlayerID
		}
	}

	return result
}
