// Package store holds the session repository: the durable record of games,
// players, rounds, plays and votes, and the change feed that announces writes
// to them.
package store

import (
	"context"

	"memechaos/internal/domain"
)

// Repository is the read/write contract the game controller depends on.
//
// Inserts fail with domain.ErrDuplicate (an ErrConstraint) when a uniqueness
// rule is violated: one code per game, one seat per player, one round per
// number, one play per (round, player), one vote per (play, voter) and per
// (round, voter). Lookups fail with an ErrNotFound error. Anything else that
// goes wrong below the repository is reported as ErrTransport.
type Repository interface {
	InsertGame(ctx context.Context, game *domain.Game) error
	GameByID(ctx context.Context, id string) (*domain.Game, error)
	GameByCode(ctx context.Context, code string) (*domain.Game, error)
	// LockGame reads the game and holds its row lock until the surrounding
	// Tx ends, so concurrent transactions on one game run one after another.
	// Outside Tx it behaves like GameByID.
	LockGame(ctx context.Context, id string) (*domain.Game, error)
	// UpdateGame replaces the game's state with to if its status, phase and
	// round still equal from. Otherwise it fails with domain.ErrStale.
	UpdateGame(ctx context.Context, id string, from, to domain.GameState) error

	InsertPlayer(ctx context.Context, player *domain.Player) error
	PlayerByID(ctx context.Context, id string) (*domain.Player, error)
	// PlayersByGame returns the game's players in seat order
	PlayersByGame(ctx context.Context, gameID string) ([]domain.Player, error)
	UpdatePlayerHand(ctx context.Context, id string, hand []string) error
	AddPlayerScore(ctx context.Context, id string, delta int) error

	InsertRound(ctx context.Context, round *domain.Round) error
	RoundByNumber(ctx context.Context, gameID string, number int) (*domain.Round, error)
	SetRoundWinner(ctx context.Context, id, winnerID string) error

	InsertPlay(ctx context.Context, play *domain.Play) error
	// PlaysByRound returns plays in creation order with vote tallies filled
	PlaysByRound(ctx context.Context, roundID string) ([]domain.Play, error)

	InsertVote(ctx context.Context, vote *domain.Vote) error
	VotesByRound(ctx context.Context, roundID string) ([]domain.Vote, error)

	// Tx runs fn against a repository whose writes commit together or not at
	// all. Change notifications for those writes are published after commit.
	Tx(ctx context.Context, fn func(Repository) error) error
}

// Feed delivers change notifications for a single game
type Feed interface {
	Subscribe(gameID string) *Subscription
}

// Store is a repository together with its change feed
type Store interface {
	Repository
	Feed
	Close() error
}
