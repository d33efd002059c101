package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"memechaos/internal/app"
	"memechaos/internal/catalog"
	"memechaos/internal/domain"
	"memechaos/internal/store"
)

type testServer struct {
	url        string
	controller *app.Controller
	hub        *app.GameHub
}

func newTestServer(t *testing.T, configure ...func(*Handler)) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st := store.NewMemoryStore()
	cards, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	controller := app.NewController(st, cards, app.DefaultSettings(), rand.New(rand.NewSource(7)), logger)
	hub := app.NewGameHub(st, controller, cards, app.Timeouts{}, time.Minute, logger)

	handler := NewHandler(hub, true, logger)
	for _, fn := range configure {
		fn(handler)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
		st.Close()
	})

	return &testServer{
		url:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		controller: controller,
		hub:        hub,
	}
}

func (s *testServer) dial(t *testing.T, token domain.SessionToken) *websocket.Conn {
	t.Helper()
	q := url.Values{"code": {token.Code}, "playerId": {token.PlayerID}}
	conn, resp, err := websocket.DefaultDialer.Dial(s.url+"?"+q.Encode(), nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial: %v (status %d)", err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type received struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// next reads messages until one matches
func next(t *testing.T, conn *websocket.Conn, match func(received) bool) received {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg received
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}

// nextView reads views until one satisfies cond
func nextView(t *testing.T, conn *websocket.Conn, cond func(*app.View) bool) *app.View {
	t.Helper()
	var view *app.View
	next(t, conn, func(msg received) bool {
		if msg.Type != MsgState {
			return false
		}
		view = new(app.View)
		if err := json.Unmarshal(msg.Payload, view); err != nil {
			t.Fatalf("decode view: %v", err)
		}
		return cond(view)
	})
	return view
}

func nextError(t *testing.T, conn *websocket.Conn) ErrorPayload {
	t.Helper()
	msg := next(t, conn, func(msg received) bool { return msg.Type == MsgError })
	var p ErrorPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return p
}

func send(t *testing.T, conn *websocket.Conn, msgType MessageType, payload any) {
	t.Helper()
	msg := map[string]any{"type": msgType}
	if payload != nil {
		msg["payload"] = payload
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func inPhase(phase domain.Phase) func(*app.View) bool {
	return func(v *app.View) bool { return v.Phase == phase }
}

func TestHandlerRejectsUnknownSessions(t *testing.T) {
	s := newTestServer(t)
	alice, err := s.controller.CreateGame(context.Background(), "Alice")
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"no session", "", http.StatusUnauthorized},
		{"unknown game", "?code=ZZZZZZ&playerId=" + alice.PlayerID, http.StatusNotFound},
		{"unknown player", "?code=" + alice.Code + "&playerId=nobody", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(s.url+tt.query, nil)
			if err == nil {
				t.Fatal("dial succeeded")
			}
			if resp == nil || resp.StatusCode != tt.status {
				t.Fatalf("resp = %v, want status %d", resp, tt.status)
			}
		})
	}
}

func TestHandlerAcceptsSessionCookie(t *testing.T) {
	s := newTestServer(t)
	alice, _ := s.controller.CreateGame(context.Background(), "Alice")

	header := http.Header{}
	header.Set("Cookie", (&http.Cookie{Name: SessionCookieName, Value: alice.String()}).String())
	conn, _, err := websocket.DefaultDialer.Dial(s.url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	view := nextView(t, conn, func(*app.View) bool { return true })
	if view.Code != alice.Code || view.You == nil || view.You.ID != alice.PlayerID {
		t.Fatalf("view = %+v", view)
	}
}

func TestRoundOverWebSocket(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	alice, _ := s.controller.CreateGame(ctx, "Alice")
	bob, err := s.controller.JoinGame(ctx, alice.Code, "Bob")
	if err != nil {
		t.Fatalf("JoinGame: %v", err)
	}

	a := s.dial(t, alice)
	view := nextView(t, a, func(v *app.View) bool { return len(v.Players) == 2 })
	if view.Phase != domain.PhaseWaiting || !view.CanStart {
		t.Fatalf("lobby view = %+v", view)
	}

	b := s.dial(t, bob)
	nextView(t, b, inPhase(domain.PhaseWaiting))

	send(t, b, MsgStartGame, nil)
	if e := nextError(t, b); e.Code != "NOT_LEADER" {
		t.Errorf("bob start error = %+v", e)
	}

	send(t, a, MsgStartGame, nil)
	nextView(t, a, inPhase(domain.PhaseSituation))

	send(t, a, MsgSubmitSituation, SubmitSituationPayload{Situation: "When the build is green"})
	view = nextView(t, b, inPhase(domain.PhasePlaying))
	if view.Situation != "When the build is green" {
		t.Errorf("situation = %q", view.Situation)
	}
	if len(view.Hand) != domain.HandSize {
		t.Fatalf("bob hand = %d cards", len(view.Hand))
	}

	send(t, b, MsgPlayCard, PlayCardPayload{CardID: view.Hand[0].ID})
	view = nextView(t, a, inPhase(domain.PhaseVoting))
	if len(view.PlayedCards) != 1 || !view.PlayedCards[0].CanVote {
		t.Fatalf("voting view = %+v", view.PlayedCards)
	}

	send(t, a, MsgVote, VotePayload{PlayID: view.PlayedCards[0].PlayID})
	view = nextView(t, b, inPhase(domain.PhaseResults))
	if view.RoundWinner != bob.PlayerID {
		t.Errorf("winner = %q, want bob", view.RoundWinner)
	}

	send(t, a, MsgNextRound, nil)
	view = nextView(t, b, inPhase(domain.PhaseSituation))
	if view.Round != 2 || view.LeaderID != bob.PlayerID {
		t.Errorf("round %d led by %q", view.Round, view.LeaderID)
	}
}

func TestClientRejectsMalformedMessages(t *testing.T) {
	s := newTestServer(t)
	alice, _ := s.controller.CreateGame(context.Background(), "Alice")
	conn := s.dial(t, alice)
	nextView(t, conn, func(*app.View) bool { return true })

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if e := nextError(t, conn); e.Code != ErrCodeInvalidMessage {
		t.Errorf("garbage error = %+v", e)
	}

	send(t, conn, "dance", nil)
	if e := nextError(t, conn); e.Code != ErrCodeInvalidMessage {
		t.Errorf("unknown type error = %+v", e)
	}

	send(t, conn, MsgPlayCard, nil)
	if e := nextError(t, conn); e.Code != ErrCodeInvalidMessage {
		t.Errorf("missing payload error = %+v", e)
	}

	send(t, conn, MsgPing, nil)
	next(t, conn, func(msg received) bool { return msg.Type == MsgPong })
}

func TestReconnectReplacesConnection(t *testing.T) {
	s := newTestServer(t)
	alice, _ := s.controller.CreateGame(context.Background(), "Alice")

	first := s.dial(t, alice)
	nextView(t, first, func(*app.View) bool { return true })

	second := s.dial(t, alice)
	nextView(t, second, func(*app.View) bool { return true })

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	if n := s.hub.GetClientCount(); n != 1 {
		t.Errorf("clients = %d, want 1", n)
	}
}

func TestHandlerSurvivesSessionReapedDuringUpgrade(t *testing.T) {
	var reaped atomic.Int32
	s := newTestServer(t, func(h *Handler) {
		// The upgrade runs after the session lookup, so reaping here closes
		// the session the handler is holding
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			token, _ := TokenFromRequest(r)
			h.hub.DeleteSession(token.Code)
			reaped.Add(1)
			return true
		}
	})
	alice, _ := s.controller.CreateGame(context.Background(), "Alice")

	conn := s.dial(t, alice)
	view := nextView(t, conn, func(*app.View) bool { return true })
	if view.Code != alice.Code || reaped.Load() != 1 {
		t.Fatalf("view = %+v after %d reaps", view, reaped.Load())
	}

	send(t, conn, MsgPing, nil)
	next(t, conn, func(msg received) bool { return msg.Type == MsgPong })
	if n := s.hub.GetClientCount(); n != 1 {
		t.Errorf("clients = %d, want 1", n)
	}
}
