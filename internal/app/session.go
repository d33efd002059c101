package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"memechaos/internal/catalog"
	"memechaos/internal/domain"
	"memechaos/internal/store"
)

const (
	refreshTimeout = 5 * time.Second
	retryDelay     = time.Second
)

// ErrSessionClosed is returned when registering with a session that the hub
// has already shut down
var ErrSessionClosed = errors.New("game session closed")

// ClientConnection represents a connected client
type ClientConnection interface {
	Send(view *View) error
	GetPlayerID() string
	Close() error
}

// PhaseFunc is told about every (round, phase) change of a game and returns
// the deadline of the new phase, zero when it has none
type PhaseFunc func(game *domain.Game) time.Time

// dirty marks which slices of a snapshot need re-reading
type dirty struct {
	game    bool
	players bool
	round   bool
	plays   bool
}

func (d *dirty) mark(change domain.Change) {
	switch change.Entity {
	case domain.EntityGame:
		d.game = true
	case domain.EntityPlayer:
		d.players = true
	case domain.EntityRound:
		d.round = true
	case domain.EntityPlay, domain.EntityVote:
		d.plays = true
	}
}

func (d dirty) any() bool {
	return d.game || d.players || d.round || d.plays
}

var everything = dirty{game: true, players: true, round: true, plays: true}

// GameSession keeps every connected client of one game in sync with the
// repository. It re-reads rows whenever the change feed reports a write and
// pushes one view per client built from a single snapshot.
type GameSession struct {
	gameID     string
	code       string
	repo       store.Repository
	cards      *catalog.Catalog
	minPlayers int
	onPhase    PhaseFunc
	logger     *slog.Logger
	createdAt  time.Time

	sub *store.Subscription

	mu       sync.RWMutex
	snapshot *Snapshot
	retry    *time.Timer

	clients    map[string]ClientConnection // playerID -> client
	clientsMu  sync.RWMutex
	lastActive time.Time

	kick chan struct{}
	done chan struct{}
}

// NewGameSession subscribes to the game's changes, loads the first snapshot
// and starts the refresh loop
func NewGameSession(ctx context.Context, game *domain.Game, st store.Store, cards *catalog.Catalog, minPlayers int, onPhase PhaseFunc, logger *slog.Logger) (*GameSession, error) {
	s := &GameSession{
		gameID:     game.ID,
		code:       game.Code,
		repo:       st,
		cards:      cards,
		minPlayers: minPlayers,
		onPhase:    onPhase,
		logger:     logger.With("roomCode", game.Code),
		createdAt:  time.Now(),
		clients:    make(map[string]ClientConnection),
		lastActive: time.Now(),
		kick:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	// Subscribe before the first read so no write falls in between
	s.sub = st.Subscribe(game.ID)
	if err := s.refresh(ctx, everything); err != nil {
		s.sub.Close()
		return nil, err
	}

	go s.run()

	return s, nil
}

// GetRoomCode returns the room code
func (s *GameSession) GetRoomCode() string {
	return s.code
}

// GetGameID returns the game id
func (s *GameSession) GetGameID() string {
	return s.gameID
}

// GetCreatedAt returns when the session was opened
func (s *GameSession) GetCreatedAt() time.Time {
	return s.createdAt
}

// Snapshot returns the latest snapshot
func (s *GameSession) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// GetPhase returns the current game phase
func (s *GameSession) GetPhase() domain.Phase {
	return s.Snapshot().Game.Phase()
}

// GetPlayerCount returns the number of players
func (s *GameSession) GetPlayerCount() int {
	return len(s.Snapshot().Players)
}

// ViewFor returns the current view for one player
func (s *GameSession) ViewFor(playerID string) *View {
	return s.Snapshot().ViewFor(playerID, s.cards, s.minPlayers)
}

// RegisterClient registers a client connection for a player and sends it the
// current view. A previous connection for the same player is closed. It fails
// with ErrSessionClosed once the session has been shut down.
func (s *GameSession) RegisterClient(playerID string, client ClientConnection) error {
	// The first view is sent under the write lock so a concurrent broadcast
	// of a newer snapshot cannot overtake it
	s.clientsMu.Lock()
	select {
	case <-s.done:
		s.clientsMu.Unlock()
		return ErrSessionClosed
	default:
	}
	old, had := s.clients[playerID]
	s.clients[playerID] = client
	s.lastActive = time.Now()
	if err := client.Send(s.ViewFor(playerID)); err != nil {
		s.logger.Debug("failed to send to client", "playerID", playerID, "error", err)
	}
	s.clientsMu.Unlock()

	if had && old != client {
		old.Close()
	}
	return nil
}

// UnregisterClient removes a client connection if it is still the one
// registered for the player
func (s *GameSession) UnregisterClient(playerID string, client ClientConnection) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	if cur, ok := s.clients[playerID]; ok && cur == client {
		delete(s.clients, playerID)
		s.lastActive = time.Now()
	}
}

// GetClientCount returns the number of connected clients
func (s *GameSession) GetClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// IdleSince returns when the last client left, or the zero time while any
// client is connected
func (s *GameSession) IdleSince() time.Time {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	if len(s.clients) > 0 {
		return time.Time{}
	}
	return s.lastActive
}

// Kick forces a full refresh, for example after a timer deadline changed
func (s *GameSession) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// run drains change notifications and refreshes the snapshot
func (s *GameSession) run() {
	for {
		var d dirty

		select {
		case <-s.done:
			return
		case <-s.kick:
			d = everything
		case change, ok := <-s.sub.C:
			if !ok {
				return
			}
			d.mark(change)
		}

		// Coalesce whatever else is queued into the same pass
	drain:
		for {
			select {
			case change, ok := <-s.sub.C:
				if !ok {
					break drain
				}
				d.mark(change)
			default:
				break drain
			}
		}
		if s.sub.Lost() {
			s.logger.Warn("change notifications lost, resyncing")
			d = everything
		}
		if !d.any() {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		err := s.refresh(ctx, d)
		cancel()
		if err != nil {
			s.logger.Error("failed to refresh game", "error", err)
			s.scheduleRetry()
		}
	}
}

func (s *GameSession) scheduleRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retry != nil {
		s.retry.Stop()
	}
	s.retry = time.AfterFunc(retryDelay, s.Kick)
}

// refresh re-reads the dirty slices in the order game, players, round,
// plays, publishes the new snapshot and broadcasts it
func (s *GameSession) refresh(ctx context.Context, d dirty) error {
	prev := s.Snapshot()
	if prev == nil {
		d = everything
	}

	next := &Snapshot{}
	if prev != nil {
		*next = *prev
	}

	if d.game {
		game, err := s.repo.GameByID(ctx, s.gameID)
		if err != nil {
			return err
		}
		next.Game = game
		d = everything
	}

	if d.players {
		players, err := s.repo.PlayersByGame(ctx, s.gameID)
		if err != nil {
			return err
		}
		domain.MarkLeaders(players, next.Game.LeaderID)
		next.Players = players
	}

	if d.round {
		round, err := s.currentRound(ctx, next.Game)
		if err != nil {
			return err
		}
		next.Round = round
		d.plays = true
	}

	if d.plays {
		if next.Round == nil {
			next.Plays, next.Votes = nil, nil
		} else {
			plays, err := s.repo.PlaysByRound(ctx, next.Round.ID)
			if err != nil {
				return err
			}
			votes, err := s.repo.VotesByRound(ctx, next.Round.ID)
			if err != nil {
				return err
			}
			next.Plays, next.Votes = plays, votes
		}
	}

	if prev == nil || phaseChanged(prev.Game, next.Game) {
		if s.onPhase != nil {
			next.Deadline = s.onPhase(next.Game)
		}
		s.logger.Debug("phase changed", "phase", next.Game.Phase(), "round", next.Game.CurrentRound)
	}

	s.mu.Lock()
	s.snapshot = next
	s.mu.Unlock()

	s.broadcast(next)
	return nil
}

func (s *GameSession) currentRound(ctx context.Context, game *domain.Game) (*domain.Round, error) {
	if game.CurrentRound == 0 {
		return nil, nil
	}
	round, err := s.repo.RoundByNumber(ctx, game.ID, game.CurrentRound)
	if errors.Is(err, domain.ErrNotFound) {
		// The leader has not set the situation yet
		return nil, nil
	}
	return round, err
}

func phaseChanged(prev, next *domain.Game) bool {
	return prev.Phase() != next.Phase() || prev.CurrentRound != next.CurrentRound
}

// broadcast sends every client its own view of the snapshot
func (s *GameSession) broadcast(snap *Snapshot) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for playerID, client := range s.clients {
		if err := client.Send(snap.ViewFor(playerID, s.cards, s.minPlayers)); err != nil {
			s.logger.Debug("failed to send to client", "playerID", playerID, "error", err)
		}
	}
}

// Close shuts down the session and disconnects its clients
func (s *GameSession) Close() {
	select {
	case <-s.done:
		return // Already closed
	default:
		close(s.done)
	}

	s.sub.Close()

	s.mu.Lock()
	if s.retry != nil {
		s.retry.Stop()
	}
	s.mu.Unlock()

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for playerID, client := range s.clients {
		client.Close()
		delete(s.clients, playerID)
	}
}
