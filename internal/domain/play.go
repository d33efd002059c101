package domain

import "time"

// Play represents the card a player submitted for a round
type Play struct {
	ID        string    `json:"id"`
	RoundID   string    `json:"roundId"`
	PlayerID  string    `json:"playerId"`
	CardID    string    `json:"cardId"`
	Votes     int       `json:"votes"` // Count of votes referencing this play, filled on read
	CreatedAt time.Time `json:"createdAt"`
}

// NewPlay creates a new play
func NewPlay(id, roundID, playerID, cardID string) *Play {
	return &Play{
		ID:        id,
		RoundID:   roundID,
		PlayerID:  playerID,
		CardID:    cardID,
		CreatedAt: time.Now(),
	}
}
