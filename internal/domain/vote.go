package domain

import "time"

// Vote represents a vote cast by a player for a play
type Vote struct {
	ID        string    `json:"id"`
	PlayID    string    `json:"playId"`
	RoundID   string    `json:"roundId"`
	VoterID   string    `json:"voterId"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewVote creates a new vote
func NewVote(id, playID, roundID, voterID string) *Vote {
	return &Vote{
		ID:        id,
		PlayID:    playID,
		RoundID:   roundID,
		VoterID:   voterID,
		CreatedAt: time.Now(),
	}
}
