package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"memechaos/internal/domain"
)

func newTestHub(t *testing.T, timeouts Timeouts) (*GameHub, *Controller) {
	t.Helper()
	c, st := newTestController(t, DefaultSettings())
	hub := NewGameHub(st, c, c.cards, timeouts, time.Minute, testLogger())
	t.Cleanup(hub.Close)
	return hub, c
}

func TestHubOpensSessionsOnDemand(t *testing.T) {
	ctx := context.Background()
	hub, c := newTestHub(t, Timeouts{})

	alice, _ := c.CreateGame(ctx, "Alice")

	if _, err := hub.GetSession(ctx, "NOPE22"); !errors.Is(err, domain.ErrGameNotFound) {
		t.Fatalf("unknown code err = %v", err)
	}

	s1, err := hub.GetSession(ctx, alice.Code)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	s2, _ := hub.GetSession(ctx, " "+alice.Code)
	if s1 != s2 {
		t.Error("second lookup opened another session")
	}
	if n := hub.GetSessionCount(); n != 1 {
		t.Errorf("sessions = %d", n)
	}

	client := newFakeClient(alice.PlayerID)
	s1.RegisterClient(alice.PlayerID, client)
	if hub.GetClientCount() != 1 || hub.GetTotalPlayerCount() != 1 {
		t.Errorf("clients = %d players = %d", hub.GetClientCount(), hub.GetTotalPlayerCount())
	}

	hub.DeleteSession(alice.Code)
	if hub.GetSessionCount() != 0 || !client.isClosed() {
		t.Error("session not closed")
	}
}

func TestHubReapsIdleSessions(t *testing.T) {
	ctx := context.Background()
	hub, c := newTestHub(t, Timeouts{})

	alice, _ := c.CreateGame(ctx, "Alice")
	bob, _ := c.CreateGame(ctx, "Bob")

	idle, _ := hub.GetSession(ctx, alice.Code)
	busy, _ := hub.GetSession(ctx, bob.Code)
	busy.RegisterClient(bob.PlayerID, newFakeClient(bob.PlayerID))
	_ = idle

	if n := hub.cleanupIdleSessions(time.Now()); n != 0 {
		t.Fatalf("reaped %d fresh sessions", n)
	}
	if n := hub.cleanupIdleSessions(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Fatalf("reaped %d sessions, want 1", n)
	}
	if _, ok := hub.sessions[bob.Code]; !ok {
		t.Error("session with a client was reaped")
	}
}

func TestHubPhaseTimers(t *testing.T) {
	ctx := context.Background()
	hub, c := newTestHub(t, Timeouts{Situation: 20 * time.Millisecond, Playing: 20 * time.Millisecond})

	alice, _ := c.CreateGame(ctx, "Alice")
	c.JoinGame(ctx, alice.Code, "Bob")

	s, err := hub.GetSession(ctx, alice.Code)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	client := newFakeClient(alice.PlayerID)
	s.RegisterClient(alice.PlayerID, client)

	if err := c.StartGame(ctx, alice.PlayerID); err != nil {
		t.Fatalf("StartGame: %v", err)
	}

	// Situation expires with a built-in prompt, then playing expires with
	// nothing played, which skips straight to results
	v := waitForView(t, client, func(v *View) bool { return v.Phase == domain.PhaseResults })
	if v.Situation == "" {
		t.Error("no situation was auto-submitted")
	}
	if v.Deadline != nil {
		t.Errorf("results phase has deadline %v", v.Deadline)
	}
}

func TestArmTimerKeepsDeadlineForSamePhase(t *testing.T) {
	hub, _ := newTestHub(t, Timeouts{Voting: time.Hour})

	game := domain.NewGame("g1", "ABCDEF")
	game.Status = domain.StatusInProgress
	game.CurrentPhase = domain.PhaseVoting
	game.CurrentRound = 1

	first := hub.armTimer(game)
	if first.IsZero() {
		t.Fatal("voting timer not armed")
	}
	if again := hub.armTimer(game); !again.Equal(first) {
		t.Errorf("deadline moved from %v to %v", first, again)
	}

	game.CurrentPhase = domain.PhaseResults
	if d := hub.armTimer(game); !d.IsZero() {
		t.Errorf("results deadline = %v", d)
	}
	hub.timersMu.Lock()
	defer hub.timersMu.Unlock()
	if len(hub.timers) != 0 {
		t.Errorf("timers = %d after disarm", len(hub.timers))
	}
}

func TestHubReopensReapedSession(t *testing.T) {
	ctx := context.Background()
	hub, c := newTestHub(t, Timeouts{})

	alice, _ := c.CreateGame(ctx, "Alice")
	stale, err := hub.GetSession(ctx, alice.Code)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}

	// The reaper wins the race with a connecting client
	if n := hub.cleanupIdleSessions(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Fatalf("reaped %d sessions, want 1", n)
	}
	client := newFakeClient(alice.PlayerID)
	if err := stale.RegisterClient(alice.PlayerID, client); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("register on reaped session err = %v", err)
	}

	fresh, err := hub.GetSession(ctx, alice.Code)
	if err != nil {
		t.Fatalf("GetSession after reap: %v", err)
	}
	if fresh == stale {
		t.Fatal("hub handed out the reaped session")
	}
	if err := fresh.RegisterClient(alice.PlayerID, client); err != nil {
		t.Fatalf("register on fresh session: %v", err)
	}
	if hub.GetClientCount() != 1 {
		t.Errorf("clients = %d", hub.GetClientCount())
	}
}

func TestTimerOutdated(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"phase moved on", domain.ErrInvalidPhase, true},
		{"state changed underneath", domain.ErrStale, true},
		{"situation inserted by leader", fmt.Errorf("insert round 2: %w", domain.ErrDuplicate), true},
		{"database down", fmt.Errorf("%w: connection refused", domain.ErrTransport), false},
		{"game deleted", domain.ErrGameNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := timerOutdated(tt.err); got != tt.want {
				t.Errorf("timerOutdated(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
