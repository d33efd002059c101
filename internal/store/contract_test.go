package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"memechaos/internal/domain"
)

// fixture is a game with two players and an open round
type fixture struct {
	game    *domain.Game
	alice   *domain.Player
	bob     *domain.Player
	round   *domain.Round
	bobPlay *domain.Play
}

func seed(t *testing.T, repo Repository) fixture {
	t.Helper()
	ctx := context.Background()

	game := domain.NewGame(uuid.NewString(), randomCode())
	if err := repo.InsertGame(ctx, game); err != nil {
		t.Fatalf("insert game: %v", err)
	}
	alice := domain.NewPlayer(uuid.NewString(), game.ID, "Alice", 1, []string{"c1", "c2"})
	bob := domain.NewPlayer(uuid.NewString(), game.ID, "Bob", 2, []string{"c3", "c4"})
	for _, p := range []*domain.Player{alice, bob} {
		if err := repo.InsertPlayer(ctx, p); err != nil {
			t.Fatalf("insert player %s: %v", p.Name, err)
		}
	}
	round := domain.NewRound(uuid.NewString(), game.ID, 1, alice.ID, "Test situation")
	if err := repo.InsertRound(ctx, round); err != nil {
		t.Fatalf("insert round: %v", err)
	}
	play := domain.NewPlay(uuid.NewString(), round.ID, bob.ID, "c3")
	if err := repo.InsertPlay(ctx, play); err != nil {
		t.Fatalf("insert play: %v", err)
	}

	return fixture{game: game, alice: alice, bob: bob, round: round, bobPlay: play}
}

func randomCode() string {
	return fmt.Sprintf("T%05d", time.Now().UnixNano()%100000)
}

// runContract exercises the behaviour every Store must share
func runContract(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("lookup by code is case-insensitive", func(t *testing.T) {
		s := open(t)
		f := seed(t, s)
		got, err := s.GameByCode(ctx, " "+f.game.Code+" ")
		if err != nil {
			t.Fatalf("GameByCode: %v", err)
		}
		if got.ID != f.game.ID {
			t.Fatalf("got game %s, want %s", got.ID, f.game.ID)
		}
		if _, err := s.GameByCode(ctx, "NOPE99"); !errors.Is(err, domain.ErrGameNotFound) {
			t.Fatalf("missing code err = %v", err)
		}
	})

	t.Run("duplicate code rejected", func(t *testing.T) {
		s := open(t)
		f := seed(t, s)
		dup := domain.NewGame(uuid.NewString(), f.game.Code)
		if err := s.InsertGame(ctx, dup); !errors.Is(err, domain.ErrConstraint) {
			t.Fatalf("duplicate code err = %v", err)
		}
	})

	t.Run("players in seat order with hands", func(t *testing.T) {
		s := open(t)
		f := seed(t, s)
		players, err := s.PlayersByGame(ctx, f.game.ID)
		if err != nil {
			t.Fatalf("PlayersByGame: %v", err)
		}
		if len(players) != 2 || players[0].Name != "Alice" || players[1].Name != "Bob" {
			t.Fatalf("players = %+v", players)
		}
		if len(players[1].Hand) != 2 {
			t.Fatalf("bob hand = %v", players[1].Hand)
		}

		seatTaken := domain.NewPlayer(uuid.NewString(), f.game.ID, "Carol", 2, nil)
		if err := s.InsertPlayer(ctx, seatTaken); !errors.Is(err, domain.ErrDuplicate) {
			t.Fatalf("seat collision err = %v", err)
		}
	})

	t.Run("one play per round and player", func(t *testing.T) {
		s := open(t)
		f := seed(t, s)
		again := domain.NewPlay(uuid.NewString(), f.round.ID, f.bob.ID, "c4")
		if err := s.InsertPlay(ctx, again); !errors.Is(err, domain.ErrDuplicate) {
			t.Fatalf("second play err = %v", err)
		}
	})

	t.Run("votes tallied and unique per voter", func(t *testing.T) {
		s := open(t)
		f := seed(t, s)
		vote := domain.NewVote(uuid.NewString(), f.bobPlay.ID, f.round.ID, f.alice.ID)
		if err := s.InsertVote(ctx, vote); err != nil {
			t.Fatalf("vote: %v", err)
		}
		again := domain.NewVote(uuid.NewString(), f.bobPlay.ID, f.round.ID, f.alice.ID)
		if err := s.InsertVote(ctx, again); !errors.Is(err, domain.ErrConstraint) {
			t.Fatalf("second vote err = %v", err)
		}

		plays, err := s.PlaysByRound(ctx, f.round.ID)
		if err != nil {
			t.Fatalf("PlaysByRound: %v", err)
		}
		if len(plays) != 1 || plays[0].Votes != 1 {
			t.Fatalf("plays = %+v", plays)
		}
		votes, err := s.VotesByRound(ctx, f.round.ID)
		if err != nil || len(votes) != 1 {
			t.Fatalf("votes = %v, %v", votes, err)
		}
	})

	t.Run("update game compares state", func(t *testing.T) {
		s := open(t)
		f := seed(t, s)
		from := f.game.GameState
		to, err := from.Advance(domain.PhaseSituation)
		if err != nil {
			t.Fatalf("advance: %v", err)
		}
		to.LeaderID = f.alice.ID

		if err := s.UpdateGame(ctx, f.game.ID, from, to); err != nil {
			t.Fatalf("UpdateGame: %v", err)
		}
		if err := s.UpdateGame(ctx, f.game.ID, from, to); !errors.Is(err, domain.ErrStale) {
			t.Fatalf("stale update err = %v", err)
		}
		if err := s.UpdateGame(ctx, "missing", from, to); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("missing game err = %v", err)
		}

		got, err := s.GameByID(ctx, f.game.ID)
		if err != nil {
			t.Fatalf("GameByID: %v", err)
		}
		if got.GameState != to {
			t.Fatalf("state = %+v, want %+v", got.GameState, to)
		}
	})

	t.Run("lock game inside a transaction", func(t *testing.T) {
		s := open(t)
		f := seed(t, s)

		err := s.Tx(ctx, func(tx Repository) error {
			game, err := tx.LockGame(ctx, f.game.ID)
			if err != nil {
				return err
			}
			if game.Code != f.game.Code || game.Status != domain.StatusWaiting {
				t.Errorf("locked game = %+v", game)
			}
			return tx.UpdateGame(ctx, game.ID, game.GameState, game.GameState)
		})
		if err != nil {
			t.Fatalf("Tx: %v", err)
		}

		if _, err := s.LockGame(ctx, "missing"); !errors.Is(err, domain.ErrGameNotFound) {
			t.Fatalf("missing game err = %v", err)
		}
	})

	t.Run("score and hand updates", func(t *testing.T) {
		s := open(t)
		f := seed(t, s)
		if err := s.AddPlayerScore(ctx, f.bob.ID, 3); err != nil {
			t.Fatalf("AddPlayerScore: %v", err)
		}
		if err := s.UpdatePlayerHand(ctx, f.bob.ID, []string{"c4"}); err != nil {
			t.Fatalf("UpdatePlayerHand: %v", err)
		}
		bob, err := s.PlayerByID(ctx, f.bob.ID)
		if err != nil {
			t.Fatalf("PlayerByID: %v", err)
		}
		if bob.Score != 3 || len(bob.Hand) != 1 || bob.Hand[0] != "c4" {
			t.Fatalf("bob = %+v", bob)
		}
		if err := s.AddPlayerScore(ctx, "missing", 1); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("missing player err = %v", err)
		}
	})

	t.Run("transaction rolls back", func(t *testing.T) {
		s := open(t)
		f := seed(t, s)
		sub := s.Subscribe(f.game.ID)
		defer sub.Close()

		boom := errors.New("boom")
		err := s.Tx(ctx, func(tx Repository) error {
			if err := tx.AddPlayerScore(ctx, f.bob.ID, 5); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) && !errors.Is(err, domain.ErrTransport) {
			t.Fatalf("Tx err = %v", err)
		}

		bob, err := s.PlayerByID(ctx, f.bob.ID)
		if err != nil {
			t.Fatalf("PlayerByID: %v", err)
		}
		if bob.Score != 0 {
			t.Fatalf("score = %d after rollback", bob.Score)
		}
		select {
		case c := <-sub.C:
			t.Fatalf("rolled back tx published %+v", c)
		default:
		}
	})

	t.Run("transaction publishes on commit", func(t *testing.T) {
		s := open(t)
		f := seed(t, s)
		sub := s.Subscribe(f.game.ID)
		defer sub.Close()

		err := s.Tx(ctx, func(tx Repository) error {
			if err := tx.AddPlayerScore(ctx, f.bob.ID, 1); err != nil {
				return err
			}
			return tx.SetRoundWinner(ctx, f.round.ID, f.bob.ID)
		})
		if err != nil {
			t.Fatalf("Tx: %v", err)
		}

		want := []domain.Entity{domain.EntityPlayer, domain.EntityRound}
		for _, entity := range want {
			select {
			case c := <-sub.C:
				if c.Entity != entity || c.GameID != f.game.ID {
					t.Fatalf("change = %+v, want %s", c, entity)
				}
			case <-time.After(time.Second):
				t.Fatalf("no %s change delivered", entity)
			}
		}

		round, err := s.RoundByNumber(ctx, f.game.ID, 1)
		if err != nil {
			t.Fatalf("RoundByNumber: %v", err)
		}
		if round.WinnerID != f.bob.ID {
			t.Fatalf("winner = %q", round.WinnerID)
		}
	})
}
