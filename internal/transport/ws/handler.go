package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"memechaos/internal/app"
	"memechaos/internal/domain"
)

// SessionCookieName holds the encoded session token
const SessionCookieName = "memechaos_session"

const (
	maxRegisterAttempts = 3
	registerTimeout     = 5 * time.Second
)

// Handler handles WebSocket connections
type Handler struct {
	hub      *app.GameHub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a new WebSocket handler. Unless allowAnyOrigin is set
// only same-origin upgrades are accepted.
func NewHandler(hub *app.GameHub, allowAnyOrigin bool, logger *slog.Logger) *Handler {
	h := &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
	if allowAnyOrigin {
		h.upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return h
}

// TokenFromRequest reads the session token from the session cookie, falling
// back to the code and playerId query parameters
func TokenFromRequest(r *http.Request) (domain.SessionToken, bool) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if token, ok := domain.ParseSessionToken(cookie.Value); ok {
			return token, true
		}
	}

	q := r.URL.Query()
	code, playerID := domain.NormalizeCode(q.Get("code")), q.Get("playerId")
	if code == "" || playerID == "" {
		return domain.SessionToken{}, false
	}
	return domain.SessionToken{Code: code, PlayerID: playerID}, true
}

// ServeHTTP handles WebSocket upgrade requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, ok := TokenFromRequest(r)
	if !ok {
		http.Error(w, "session is required", http.StatusUnauthorized)
		return
	}

	game, player, err := h.hub.Controller().ValidateToken(r.Context(), token)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrTransport):
		h.logger.Error("session validation failed", "error", err)
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	default:
		http.Error(w, "Game not found", http.StatusNotFound)
		return
	}

	// Get the game session
	session, err := h.hub.GetSession(r.Context(), game.Code)
	if err != nil {
		h.logger.Error("failed to open session", "roomCode", game.Code, "error", err)
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	// Upgrade connection to WebSocket
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, session, h.hub.Controller(), player.ID, h.logger)

	// Register client with session, which sends the current view. The reaper
	// may close an idle session after we looked it up, in which case the hub
	// opens a fresh one.
	for attempt := 1; ; attempt++ {
		err = client.session.RegisterClient(player.ID, client)
		if err == nil {
			break
		}
		if !errors.Is(err, app.ErrSessionClosed) || attempt == maxRegisterAttempts {
			h.logger.Error("failed to register client", "roomCode", game.Code, "error", err)
			conn.Close()
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), registerTimeout)
		session, err = h.hub.GetSession(ctx, game.Code)
		cancel()
		if err != nil {
			h.logger.Error("failed to reopen session", "roomCode", game.Code, "error", err)
			conn.Close()
			return
		}
		client.session = session
	}

	h.logger.Info("websocket connected",
		"roomCode", game.Code,
		"playerID", player.ID,
		"name", player.Name,
	)

	client.Run()
}
