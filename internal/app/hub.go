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
	// DefaultIdleTimeout is how long a session without clients is kept
	DefaultIdleTimeout = time.Hour

	expireTimeout = 10 * time.Second
)

// Timeouts are the per-phase deadlines. A zero duration disables the timer.
type Timeouts struct {
	Situation time.Duration
	Playing   time.Duration
	Voting    time.Duration
}

// DefaultTimeouts returns the standard phase deadlines
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Situation: 30 * time.Second,
		Playing:   90 * time.Second,
		Voting:    60 * time.Second,
	}
}

// For returns the deadline length of a phase
func (t Timeouts) For(phase domain.Phase) time.Duration {
	switch phase {
	case domain.PhaseSituation:
		return t.Situation
	case domain.PhasePlaying:
		return t.Playing
	case domain.PhaseVoting:
		return t.Voting
	}
	return 0
}

// phaseTimer fires the controller's expiry for one (round, phase)
type phaseTimer struct {
	round    int
	phase    domain.Phase
	deadline time.Time
	timer    *time.Timer
}

// GameHub manages all active game sessions
type GameHub struct {
	store       store.Store
	controller  *Controller
	cards       *catalog.Catalog
	timeouts    Timeouts
	idleTimeout time.Duration
	logger      *slog.Logger

	sessions map[string]*GameSession // room code -> session
	mu       sync.RWMutex

	timers   map[string]*phaseTimer // game id -> armed timer
	timersMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

// NewGameHub creates a new game hub
func NewGameHub(st store.Store, controller *Controller, cards *catalog.Catalog, timeouts Timeouts, idleTimeout time.Duration, logger *slog.Logger) *GameHub {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}

	hub := &GameHub{
		store:       st,
		controller:  controller,
		cards:       cards,
		timeouts:    timeouts,
		idleTimeout: idleTimeout,
		logger:      logger,
		sessions:    make(map[string]*GameSession),
		timers:      make(map[string]*phaseTimer),
		done:        make(chan struct{}),
	}

	// Start cleanup goroutine
	go hub.cleanupLoop()

	return hub
}

// Controller returns the controller player actions go through
func (h *GameHub) Controller() *Controller {
	return h.controller
}

// Cards returns the card catalog
func (h *GameHub) Cards() *catalog.Catalog {
	return h.cards
}

// GetSession returns the session for a room code, opening it if the game
// exists but has no session yet
func (h *GameHub) GetSession(ctx context.Context, roomCode string) (*GameSession, error) {
	roomCode = domain.NormalizeCode(roomCode)

	h.mu.RLock()
	session, ok := h.sessions[roomCode]
	h.mu.RUnlock()
	if ok {
		return session, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if session, ok := h.sessions[roomCode]; ok {
		return session, nil
	}

	game, err := h.store.GameByCode(ctx, roomCode)
	if err != nil {
		return nil, err
	}

	session, err = NewGameSession(ctx, game, h.store, h.cards, h.controller.Settings().MinPlayers, h.armTimer, h.logger)
	if err != nil {
		return nil, err
	}
	h.sessions[roomCode] = session

	h.logger.Info("session opened", "roomCode", roomCode)

	return session, nil
}

// DeleteSession closes a session and disarms its timer
func (h *GameHub) DeleteSession(roomCode string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deleteSessionLocked(domain.NormalizeCode(roomCode))
}

func (h *GameHub) deleteSessionLocked(roomCode string) {
	session, ok := h.sessions[roomCode]
	if !ok {
		return
	}
	session.Close()
	h.disarmTimer(session.GetGameID())
	delete(h.sessions, roomCode)
	h.logger.Info("session closed", "roomCode", roomCode)
}

// GetSessionCount returns the number of active sessions
func (h *GameHub) GetSessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// GetClientCount returns the number of connected clients across all sessions
func (h *GameHub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, session := range h.sessions {
		total += session.GetClientCount()
	}
	return total
}

// GetTotalPlayerCount returns the number of players across all sessions
func (h *GameHub) GetTotalPlayerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, session := range h.sessions {
		total += session.GetPlayerCount()
	}
	return total
}

// Close shuts down the hub and all sessions
func (h *GameHub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})

	h.mu.Lock()
	defer h.mu.Unlock()

	for roomCode := range h.sessions {
		h.deleteSessionLocked(roomCode)
	}
}

// armTimer is called by a session whenever its game enters a new round or
// phase. It replaces the game's timer and returns the new deadline.
func (h *GameHub) armTimer(game *domain.Game) time.Time {
	h.timersMu.Lock()
	defer h.timersMu.Unlock()

	phase := game.Phase()
	if t, ok := h.timers[game.ID]; ok {
		if t.round == game.CurrentRound && t.phase == phase {
			return t.deadline
		}
		t.timer.Stop()
		delete(h.timers, game.ID)
	}

	d := h.timeouts.For(phase)
	if d <= 0 {
		return time.Time{}
	}

	gameID, round := game.ID, game.CurrentRound
	t := &phaseTimer{
		round:    round,
		phase:    phase,
		deadline: time.Now().Add(d),
	}
	t.timer = time.AfterFunc(d, func() {
		h.expire(gameID, round, phase)
	})
	h.timers[gameID] = t

	h.logger.Debug("phase timer armed", "roomCode", game.Code, "phase", phase, "round", round, "after", d)
	return t.deadline
}

func (h *GameHub) disarmTimer(gameID string) {
	h.timersMu.Lock()
	defer h.timersMu.Unlock()

	if t, ok := h.timers[gameID]; ok {
		t.timer.Stop()
		delete(h.timers, gameID)
	}
}

// expire runs when a phase deadline passes. A player may have completed the
// phase in the meantime, in which case the controller rejects the call.
func (h *GameHub) expire(gameID string, round int, phase domain.Phase) {
	select {
	case <-h.done:
		return
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), expireTimeout)
	defer cancel()

	var err error
	switch phase {
	case domain.PhaseSituation:
		err = h.controller.ExpireSituation(ctx, gameID, round)
	case domain.PhasePlaying:
		err = h.controller.ExpirePlaying(ctx, gameID, round)
	case domain.PhaseVoting:
		err = h.controller.ExpireVoting(ctx, gameID, round)
	default:
		return
	}

	switch {
	case err == nil:
		h.logger.Info("phase expired", "gameID", gameID, "phase", phase, "round", round)
	case timerOutdated(err):
		h.logger.Debug("phase timer outdated", "gameID", gameID, "phase", phase, "round", round, "error", err)
	default:
		h.logger.Error("failed to expire phase", "gameID", gameID, "phase", phase, "error", err)
	}
}

// timerOutdated reports whether an expiry lost to a player action. The game
// has either left the phase or a concurrent write took the same row.
func timerOutdated(err error) bool {
	return errors.Is(err, domain.ErrInvalidPhase) || errors.Is(err, domain.ErrConstraint)
}

// cleanupLoop periodically closes sessions nobody is connected to
func (h *GameHub) cleanupLoop() {
	interval := h.idleTimeout / 4
	if interval > 10*time.Minute {
		interval = 10 * time.Minute
	}
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.cleanupIdleSessions(time.Now())
		}
	}
}

// cleanupIdleSessions closes sessions that have had no clients for longer
// than the idle timeout
func (h *GameHub) cleanupIdleSessions(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	stale := make([]string, 0)
	for roomCode, session := range h.sessions {
		idle := session.IdleSince()
		if !idle.IsZero() && now.Sub(idle) > h.idleTimeout {
			stale = append(stale, roomCode)
		}
	}

	for _, roomCode := range stale {
		h.deleteSessionLocked(roomCode)
	}
	return len(stale)
}
