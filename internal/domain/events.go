package domain

// Entity names a row type watched by the change feed
type Entity string

const (
	EntityGame   Entity = "game"
	EntityPlayer Entity = "player"
	EntityRound  Entity = "round"
	EntityPlay   Entity = "play"
	EntityVote   Entity = "vote"
)

// Op is the kind of row change
type Op string

const (
	OpInserted Op = "inserted"
	OpUpdated  Op = "updated"
	OpDeleted  Op = "deleted"
)

// Change is a notification that a row belonging to a game changed. It carries
// no row data: consumers re-read whatever they depend on, which makes
// duplicate and out-of-order delivery harmless.
type Change struct {
	Entity Entity `json:"entity"`
	Op     Op     `json:"op"`
	GameID string `json:"gameId"`
	ID     string `json:"id"`
}

// NewChange creates a change notification
func NewChange(entity Entity, op Op, gameID, id string) Change {
	return Change{
		Entity: entity,
		Op:     op,
		GameID: gameID,
		ID:     id,
	}
}
