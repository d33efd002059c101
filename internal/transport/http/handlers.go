package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"memechaos/internal/domain"
	"memechaos/internal/transport/ws"
)

const (
	maxBodySize   = 4096
	qrSize        = 320 // mobile-friendly size
	sessionMaxAge = 24 * time.Hour
)

// Response is a standard API response
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NameRequest is the body of create and join requests
type NameRequest struct {
	Name string `json:"name"`
}

// SessionResponse is returned when a player enters a game
type SessionResponse struct {
	Code       string `json:"code"`
	PlayerID   string `json:"playerId"`
	InviteLink string `json:"inviteLink"`
}

// CurrentSessionResponse describes the player behind a session cookie
type CurrentSessionResponse struct {
	Code     string `json:"code"`
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	IsLeader bool   `json:"isLeader"`
}

// HealthResponse is the response for health check
type HealthResponse struct {
	Status string `json:"status"`
}

// StatsResponse is the response for stats endpoint
type StatsResponse struct {
	ActiveGames      int `json:"activeGames"`
	ConnectedClients int `json:"connectedClients"`
	TotalPlayers     int `json:"totalPlayers"`
}

// handleCreateGame handles POST /api/games
func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req NameRequest
	if !s.decode(w, r, &req) {
		return
	}

	token, err := s.hub.Controller().CreateGame(r.Context(), req.Name)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.startSession(w, r, token)
}

// handleJoinGame handles POST /api/games/:code/players
func (s *Server) handleJoinGame(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req NameRequest
	if !s.decode(w, r, &req) {
		return
	}

	token, err := s.hub.Controller().JoinGame(r.Context(), ps.ByName("code"), req.Name)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.startSession(w, r, token)
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request, token domain.SessionToken) {
	http.SetCookie(w, &http.Cookie{
		Name:     ws.SessionCookieName,
		Value:    token.String(),
		Path:     s.cookiePath(),
		MaxAge:   int(sessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   s.config.UseTLS(),
		SameSite: http.SameSiteLaxMode,
	})

	s.sendSuccess(w, &SessionResponse{
		Code:       token.Code,
		PlayerID:   token.PlayerID,
		InviteLink: s.inviteLink(r, token.Code),
	})
}

// handleGetGame handles GET /api/games/:code
func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	summary, err := s.hub.Controller().Summary(r.Context(), ps.ByName("code"))
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.sendSuccess(w, summary)
}

// handleQRCode handles GET /api/games/:code/qr
func (s *Server) handleQRCode(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	summary, err := s.hub.Controller().Summary(r.Context(), ps.ByName("code"))
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	png, err := qrcode.Encode(s.inviteLink(r, summary.Code), qrcode.Medium, qrSize)
	if err != nil {
		s.logger.Error("qr generation failed", "roomCode", summary.Code, "error", err)
		s.sendError(w, http.StatusInternalServerError, "QR_FAILED", "QR generation failed")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(png)
}

// handleGetSession handles GET /api/session. A cookie that no longer names a
// player is cleared.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	token, ok := ws.TokenFromRequest(r)
	if !ok {
		s.sendError(w, http.StatusNotFound, "NO_SESSION", "No active session")
		return
	}

	game, player, err := s.hub.Controller().ValidateToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, domain.ErrTransport) {
			s.sendDomainError(w, err)
			return
		}
		s.clearSession(w)
		s.sendError(w, http.StatusNotFound, "NO_SESSION", "Session expired")
		return
	}

	s.sendSuccess(w, &CurrentSessionResponse{
		Code:     game.Code,
		PlayerID: player.ID,
		Name:     player.Name,
		IsLeader: player.IsLeader,
	})
}

// handleDeleteSession handles DELETE /api/session
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.clearSession(w)
	s.sendSuccess(w, nil)
}

func (s *Server) clearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     ws.SessionCookieName,
		Value:    "",
		Path:     s.cookiePath(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.config.UseTLS(),
		SameSite: http.SameSiteLaxMode,
	})
}

// handleCards handles GET /api/cards
func (s *Server) handleCards(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.sendSuccess(w, s.hub.Cards().Cards())
}

// handleHealth handles GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.sendSuccess(w, &HealthResponse{
		Status: "ok",
	})
}

// handleStats handles GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.sendSuccess(w, &StatsResponse{
		ActiveGames:      s.hub.GetSessionCount(),
		ConnectedClients: s.hub.GetClientCount(),
		TotalPlayers:     s.hub.GetTotalPlayerCount(),
	})
}

// handleVersion handles GET /version
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("memechaos v" + s.version + "\n"))
}

func (s *Server) cookiePath() string {
	if s.prefix == "" {
		return "/"
	}
	return s.prefix
}

// inviteLink builds the URL a new player opens to join
func (s *Server) inviteLink(r *http.Request, code string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + s.prefix + "/join/" + code
}

// decode reads a JSON body, answering 400 itself when that fails
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return false
	}
	return true
}

// statusFor maps an error category to an HTTP status
func statusFor(err error) int {
	switch domain.Kind(err) {
	case domain.ErrValidation:
		return http.StatusBadRequest
	case domain.ErrNotFound:
		return http.StatusNotFound
	case domain.ErrConstraint:
		return http.StatusConflict
	case domain.ErrTransport:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// sendDomainError sends an error response derived from a domain error
func (s *Server) sendDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		message = http.StatusText(status)
	}
	s.sendError(w, status, domain.Code(err), message)
}

// sendSuccess sends a successful JSON response
func (s *Server) sendSuccess(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(&Response{
		Success: true,
		Data:    data,
	})
}

// sendError sends an error JSON response
func (s *Server) sendError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	})
}
