package app

import (
	"context"
	"math/rand"
	"os"
	"sync"
	"testing"

	"memechaos/internal/domain"
	"memechaos/internal/store"
)

// testStores returns the stores the controller is exercised against. Set
// MEMECHAOS_TEST_DATABASE_URL to include postgres.
func testStores(t *testing.T) map[string]func(t *testing.T) store.Store {
	t.Helper()
	stores := map[string]func(t *testing.T) store.Store{
		"memory": func(t *testing.T) store.Store {
			st := store.NewMemoryStore()
			t.Cleanup(func() { st.Close() })
			return st
		},
	}

	if dsn := os.Getenv("MEMECHAOS_TEST_DATABASE_URL"); dsn != "" {
		stores["postgres"] = func(t *testing.T) store.Store {
			st, err := store.OpenPostgres(dsn, testLogger())
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			if err := st.Migrate(context.Background()); err != nil {
				t.Fatalf("migrate: %v", err)
			}
			t.Cleanup(func() { st.Close() })
			return st
		}
	}
	return stores
}

// together runs every fn at once and fails the test on any error
func together(t *testing.T, fns ...func() error) {
	t.Helper()
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make(chan error, len(fns))
	)
	for _, fn := range fns {
		wg.Add(1)
		go func(fn func() error) {
			defer wg.Done()
			<-start
			errs <- fn()
		}(fn)
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent action: %v", err)
		}
	}
}

func TestConcurrentFinalActionsAdvancePhase(t *testing.T) {
	for name, open := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)
			c := NewController(st, testCatalog(t, 20), DefaultSettings(), rand.New(rand.NewSource(5)), testLogger())

			for i := 0; i < 10; i++ {
				alice, err := c.CreateGame(ctx, "Alice")
				if err != nil {
					t.Fatalf("CreateGame: %v", err)
				}
				bob, _ := c.JoinGame(ctx, alice.Code, "Bob")
				carol, _ := c.JoinGame(ctx, alice.Code, "Carol")
				dave, _ := c.JoinGame(ctx, alice.Code, "Dave")

				if err := c.StartGame(ctx, alice.PlayerID); err != nil {
					t.Fatalf("StartGame: %v", err)
				}
				if err := c.SubmitSituation(ctx, alice.PlayerID, "When everyone clicks at once"); err != nil {
					t.Fatalf("SubmitSituation: %v", err)
				}

				play := func(id string) func() error {
					card := mustPlayer(t, st, id).Hand[0]
					return func() error { return c.PlayCard(ctx, id, card) }
				}
				together(t, play(bob.PlayerID), play(carol.PlayerID), play(dave.PlayerID))

				game := mustGame(t, st, alice.Code)
				if game.Phase() != domain.PhaseVoting {
					t.Fatalf("game %d phase = %s after every card was played, want voting", i, game.Phase())
				}

				_, plays := currentPlays(t, st, game)
				vote := func(voter, author string) func() error {
					id := playOf(t, plays, author).ID
					return func() error { return c.VoteForCard(ctx, voter, id) }
				}
				together(t,
					vote(alice.PlayerID, bob.PlayerID),
					vote(bob.PlayerID, carol.PlayerID),
					vote(carol.PlayerID, dave.PlayerID),
					vote(dave.PlayerID, bob.PlayerID),
				)

				game = mustGame(t, st, alice.Code)
				if game.Phase() != domain.PhaseResults {
					t.Fatalf("game %d phase = %s after every vote, want results", i, game.Phase())
				}
				if s := mustPlayer(t, st, bob.PlayerID).Score; s != 2 {
					t.Errorf("game %d bob score = %d, want 2", i, s)
				}
			}
		})
	}
}

func TestConcurrentJoinsTakeDistinctSeats(t *testing.T) {
	for name, open := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)
			c := NewController(st, testCatalog(t, 20), DefaultSettings(), rand.New(rand.NewSource(6)), testLogger())

			alice, err := c.CreateGame(ctx, "Alice")
			if err != nil {
				t.Fatalf("CreateGame: %v", err)
			}

			join := func(name string) func() error {
				return func() error {
					_, err := c.JoinGame(ctx, alice.Code, name)
					return err
				}
			}
			together(t, join("Bob"), join("Carol"), join("Dave"), join("Erin"))

			players, err := st.PlayersByGame(ctx, mustGame(t, st, alice.Code).ID)
			if err != nil {
				t.Fatalf("PlayersByGame: %v", err)
			}
			if len(players) != 5 {
				t.Fatalf("players = %d, want 5", len(players))
			}
			for i, p := range players {
				if p.Seat != i+1 {
					t.Errorf("seat %d held by %s at %d", i+1, p.Name, p.Seat)
				}
			}
		})
	}
}
