package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxNameLength caps player names in runes
const MaxNameLength = 32

// Player represents a player in the game
type Player struct {
	ID       string    `json:"id"`
	GameID   string    `json:"gameId"`
	Name     string    `json:"name"`
	Score    int       `json:"score"`
	Hand     []string  `json:"hand"`
	Seat     int       `json:"seat"` // 1-based join order
	JoinedAt time.Time `json:"joinedAt"`

	// IsLeader mirrors game.leader_id. It is never persisted; MarkLeaders
	// recomputes it on every read.
	IsLeader bool `json:"isLeader"`
}

// NewPlayer creates a new player with the given ID, name, seat and hand
func NewPlayer(id, gameID, name string, seat int, hand []string) *Player {
	return &Player{
		ID:       id,
		GameID:   gameID,
		Name:     name,
		Score:    0,
		Hand:     hand,
		Seat:     seat,
		JoinedAt: time.Now(),
	}
}

// NormalizeName trims a player name and checks its length
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", ErrNameTooLong
	}
	return name, nil
}

// HasCard checks if the card is in the player's hand
func (p *Player) HasCard(cardID string) bool {
	for _, id := range p.Hand {
		if id == cardID {
			return true
		}
	}
	return false
}

// HandWithout returns a copy of the hand with the first copy of cardID removed
func (p *Player) HandWithout(cardID string) []string {
	hand := make([]string, 0, len(p.Hand))
	removed := false
	for _, id := range p.Hand {
		if !removed && id == cardID {
			removed = true
			continue
		}
		hand = append(hand, id)
	}
	return hand
}

// MarkLeaders sets IsLeader on every player from the game's leader id
func MarkLeaders(players []Player, leaderID string) {
	for i := range players {
		players[i].IsLeader = leaderID != "" && players[i].ID == leaderID
	}
}

// NextLeader returns the player seated after the current leader, wrapping
// around. players must be in seat order.
func NextLeader(players []Player, currentID string) string {
	if len(players) == 0 {
		return ""
	}
	for i, p := range players {
		if p.ID == currentID {
			return players[(i+1)%len(players)].ID
		}
	}
	return players[0].ID
}

// PlayerInfo is the view of a player shown to everyone (hand hidden)
type PlayerInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
	Seat     int    `json:"seat"`
	IsLeader bool   `json:"isLeader"`
	HandSize int    `json:"handSize"`
}

// ToInfo converts a Player to PlayerInfo (without hand)
func (p *Player) ToInfo() PlayerInfo {
	return PlayerInfo{
		ID:       p.ID,
		Name:     p.Name,
		Score:    p.Score,
		Seat:     p.Seat,
		IsLeader: p.IsLeader,
		HandSize: len(p.Hand),
	}
}
