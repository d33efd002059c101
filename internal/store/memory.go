package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"memechaos/internal/domain"
)

type pairKey struct {
	a, b string
}

type seatKey struct {
	gameID string
	seat   int
}

type roundKey struct {
	gameID string
	number int
}

// memData is the full in-memory state. Rows are stored by value and copied
// on the way in and out so callers never share memory with the store.
type memData struct {
	games   map[string]domain.Game
	codes   map[string]string // code -> game id
	players map[string]domain.Player
	roster  map[string][]string // game id -> player ids
	seats   map[seatKey]string
	rounds  map[string]domain.Round
	numbers map[roundKey]string
	plays   map[string]domain.Play
	played  map[pairKey]string  // (round, player) -> play id
	order   map[string][]string // round id -> play ids in insertion order
	votes   map[string]domain.Vote
	voted   map[pairKey]bool    // (play, voter)
	ballots map[pairKey]bool    // (round, voter)
	tally   map[string]int      // play id -> vote count
	cast    map[string][]string // round id -> vote ids in insertion order
}

func newMemData() *memData {
	return &memData{
		games:   make(map[string]domain.Game),
		codes:   make(map[string]string),
		players: make(map[string]domain.Player),
		roster:  make(map[string][]string),
		seats:   make(map[seatKey]string),
		rounds:  make(map[string]domain.Round),
		numbers: make(map[roundKey]string),
		plays:   make(map[string]domain.Play),
		played:  make(map[pairKey]string),
		order:   make(map[string][]string),
		votes:   make(map[string]domain.Vote),
		voted:   make(map[pairKey]bool),
		ballots: make(map[pairKey]bool),
		tally:   make(map[string]int),
		cast:    make(map[string][]string),
	}
}

// put stores v under k and records how to restore the previous entry.
// Slice values are only ever replaced, never written in place, so the saved
// entry stays valid.
func put[K comparable, V any](tx *memTx, m map[K]V, k K, v V) {
	prev, had := m[k]
	tx.undo = append(tx.undo, func() {
		if had {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
	m[k] = v
}

// MemoryStore is a Store kept entirely in process memory. Every call is
// serialised by one mutex, so it also serves as the reference implementation
// of the repository's uniqueness rules.
type MemoryStore struct {
	mu   sync.Mutex
	data *memData
	feed *Broker
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: newMemData(),
		feed: NewBroker(DefaultFeedBuffer),
	}
}

// Subscribe implements Feed
func (s *MemoryStore) Subscribe(gameID string) *Subscription {
	return s.feed.Subscribe(gameID)
}

// SubscriberCount returns the number of live subscriptions for a game
func (s *MemoryStore) SubscriberCount(gameID string) int {
	return s.feed.SubscriberCount(gameID)
}

// Close shuts down the change feed
func (s *MemoryStore) Close() error {
	s.feed.Close()
	return nil
}

// do runs a single operation under the store lock and publishes its changes
func (s *MemoryStore) do(ctx context.Context, fn func(tx *memTx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}

	s.mu.Lock()
	tx := &memTx{data: s.data}
	err := fn(tx)
	if err != nil {
		tx.rollback()
	}
	s.mu.Unlock()

	if err == nil {
		s.feed.Publish(tx.pending...)
	}
	return err
}

// Tx implements Repository. Every write records its inverse, and the
// inverses are replayed newest first if fn fails.
func (s *MemoryStore) Tx(ctx context.Context, fn func(Repository) error) error {
	return s.do(ctx, func(tx *memTx) error { return fn(tx) })
}

func (s *MemoryStore) InsertGame(ctx context.Context, game *domain.Game) error {
	return s.do(ctx, func(tx *memTx) error { return tx.InsertGame(ctx, game) })
}

func (s *MemoryStore) GameByID(ctx context.Context, id string) (game *domain.Game, err error) {
	err = s.do(ctx, func(tx *memTx) error {
		game, err = tx.GameByID(ctx, id)
		return err
	})
	return game, err
}

func (s *MemoryStore) LockGame(ctx context.Context, id string) (game *domain.Game, err error) {
	err = s.do(ctx, func(tx *memTx) error {
		game, err = tx.LockGame(ctx, id)
		return err
	})
	return game, err
}

func (s *MemoryStore) GameByCode(ctx context.Context, code string) (game *domain.Game, err error) {
	err = s.do(ctx, func(tx *memTx) error {
		game, err = tx.GameByCode(ctx, code)
		return err
	})
	return game, err
}

func (s *MemoryStore) UpdateGame(ctx context.Context, id string, from, to domain.GameState) error {
	return s.do(ctx, func(tx *memTx) error { return tx.UpdateGame(ctx, id, from, to) })
}

func (s *MemoryStore) InsertPlayer(ctx context.Context, player *domain.Player) error {
	return s.do(ctx, func(tx *memTx) error { return tx.InsertPlayer(ctx, player) })
}

func (s *MemoryStore) PlayerByID(ctx context.Context, id string) (player *domain.Player, err error) {
	err = s.do(ctx, func(tx *memTx) error {
		player, err = tx.PlayerByID(ctx, id)
		return err
	})
	return player, err
}

func (s *MemoryStore) PlayersByGame(ctx context.Context, gameID string) (players []domain.Player, err error) {
	err = s.do(ctx, func(tx *memTx) error {
		players, err = tx.PlayersByGame(ctx, gameID)
		return err
	})
	return players, err
}

func (s *MemoryStore) UpdatePlayerHand(ctx context.Context, id string, hand []string) error {
	return s.do(ctx, func(tx *memTx) error { return tx.UpdatePlayerHand(ctx, id, hand) })
}

func (s *MemoryStore) AddPlayerScore(ctx context.Context, id string, delta int) error {
	return s.do(ctx, func(tx *memTx) error { return tx.AddPlayerScore(ctx, id, delta) })
}

func (s *MemoryStore) InsertRound(ctx context.Context, round *domain.Round) error {
	return s.do(ctx, func(tx *memTx) error { return tx.InsertRound(ctx, round) })
}

func (s *MemoryStore) RoundByNumber(ctx context.Context, gameID string, number int) (round *domain.Round, err error) {
	err = s.do(ctx, func(tx *memTx) error {
		round, err = tx.RoundByNumber(ctx, gameID, number)
		return err
	})
	return round, err
}

func (s *MemoryStore) SetRoundWinner(ctx context.Context, id, winnerID string) error {
	return s.do(ctx, func(tx *memTx) error { return tx.SetRoundWinner(ctx, id, winnerID) })
}

func (s *MemoryStore) InsertPlay(ctx context.Context, play *domain.Play) error {
	return s.do(ctx, func(tx *memTx) error { return tx.InsertPlay(ctx, play) })
}

func (s *MemoryStore) PlaysByRound(ctx context.Context, roundID string) (plays []domain.Play, err error) {
	err = s.do(ctx, func(tx *memTx) error {
		plays, err = tx.PlaysByRound(ctx, roundID)
		return err
	})
	return plays, err
}

func (s *MemoryStore) InsertVote(ctx context.Context, vote *domain.Vote) error {
	return s.do(ctx, func(tx *memTx) error { return tx.InsertVote(ctx, vote) })
}

func (s *MemoryStore) VotesByRound(ctx context.Context, roundID string) (votes []domain.Vote, err error) {
	err = s.do(ctx, func(tx *memTx) error {
		votes, err = tx.VotesByRound(ctx, roundID)
		return err
	})
	return votes, err
}

// memTx operates on memData with the store lock already held
type memTx struct {
	data    *memData
	pending []domain.Change
	undo    []func()
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	tx.pending = nil
}

func (tx *memTx) emit(entity domain.Entity, op domain.Op, gameID, id string) {
	tx.pending = append(tx.pending, domain.NewChange(entity, op, gameID, id))
}

func (tx *memTx) Tx(ctx context.Context, fn func(Repository) error) error {
	return fn(tx)
}

func (tx *memTx) InsertGame(ctx context.Context, game *domain.Game) error {
	d := tx.data
	if _, exists := d.games[game.ID]; exists {
		return fmt.Errorf("insert game %s: %w", game.ID, domain.ErrDuplicate)
	}
	if _, exists := d.codes[game.Code]; exists {
		return fmt.Errorf("insert game code %s: %w", game.Code, domain.ErrDuplicate)
	}

	put(tx, d.games, game.ID, *game)
	put(tx, d.codes, game.Code, game.ID)
	tx.emit(domain.EntityGame, domain.OpInserted, game.ID, game.ID)
	return nil
}

func (tx *memTx) GameByID(ctx context.Context, id string) (*domain.Game, error) {
	game, ok := tx.data.games[id]
	if !ok {
		return nil, domain.ErrGameNotFound
	}
	return &game, nil
}

// LockGame is GameByID: the store lock already serialises transactions
func (tx *memTx) LockGame(ctx context.Context, id string) (*domain.Game, error) {
	return tx.GameByID(ctx, id)
}

func (tx *memTx) GameByCode(ctx context.Context, code string) (*domain.Game, error) {
	id, ok := tx.data.codes[domain.NormalizeCode(code)]
	if !ok {
		return nil, domain.ErrGameNotFound
	}
	return tx.GameByID(ctx, id)
}

func (tx *memTx) UpdateGame(ctx context.Context, id string, from, to domain.GameState) error {
	game, ok := tx.data.games[id]
	if !ok {
		return domain.ErrGameNotFound
	}
	cur := game.GameState
	if cur.Status != from.Status || cur.CurrentPhase != from.CurrentPhase || cur.CurrentRound != from.CurrentRound {
		return domain.ErrStale
	}

	game.GameState = to
	put(tx, tx.data.games, id, game)
	tx.emit(domain.EntityGame, domain.OpUpdated, id, id)
	return nil
}

func (tx *memTx) InsertPlayer(ctx context.Context, player *domain.Player) error {
	d := tx.data
	if _, ok := d.games[player.GameID]; !ok {
		return domain.ErrGameNotFound
	}
	if _, exists := d.players[player.ID]; exists {
		return fmt.Errorf("insert player %s: %w", player.ID, domain.ErrDuplicate)
	}
	seat := seatKey{player.GameID, player.Seat}
	if _, taken := d.seats[seat]; taken {
		return fmt.Errorf("insert player seat %d: %w", player.Seat, domain.ErrDuplicate)
	}

	p := *player
	p.Hand = append([]string(nil), player.Hand...)
	p.IsLeader = false
	put(tx, d.players, p.ID, p)
	put(tx, d.seats, seat, p.ID)
	put(tx, d.roster, p.GameID, append(slices.Clip(d.roster[p.GameID]), p.ID))
	tx.emit(domain.EntityPlayer, domain.OpInserted, p.GameID, p.ID)
	return nil
}

func (tx *memTx) PlayerByID(ctx context.Context, id string) (*domain.Player, error) {
	p, ok := tx.data.players[id]
	if !ok {
		return nil, domain.ErrPlayerNotFound
	}
	p.Hand = append([]string(nil), p.Hand...)
	return &p, nil
}

func (tx *memTx) PlayersByGame(ctx context.Context, gameID string) ([]domain.Player, error) {
	ids := tx.data.roster[gameID]
	players := make([]domain.Player, 0, len(ids))
	for _, id := range ids {
		p := tx.data.players[id]
		p.Hand = append([]string(nil), p.Hand...)
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		return players[i].Seat < players[j].Seat
	})
	return players, nil
}

func (tx *memTx) UpdatePlayerHand(ctx context.Context, id string, hand []string) error {
	p, ok := tx.data.players[id]
	if !ok {
		return domain.ErrPlayerNotFound
	}
	p.Hand = append([]string(nil), hand...)
	put(tx, tx.data.players, id, p)
	tx.emit(domain.EntityPlayer, domain.OpUpdated, p.GameID, id)
	return nil
}

func (tx *memTx) AddPlayerScore(ctx context.Context, id string, delta int) error {
	p, ok := tx.data.players[id]
	if !ok {
		return domain.ErrPlayerNotFound
	}
	p.Score += delta
	put(tx, tx.data.players, id, p)
	tx.emit(domain.EntityPlayer, domain.OpUpdated, p.GameID, id)
	return nil
}

func (tx *memTx) InsertRound(ctx context.Context, round *domain.Round) error {
	d := tx.data
	if _, ok := d.games[round.GameID]; !ok {
		return domain.ErrGameNotFound
	}
	if _, exists := d.rounds[round.ID]; exists {
		return fmt.Errorf("insert round %s: %w", round.ID, domain.ErrDuplicate)
	}
	key := roundKey{round.GameID, round.RoundNumber}
	if _, exists := d.numbers[key]; exists {
		return fmt.Errorf("insert round %d: %w", round.RoundNumber, domain.ErrDuplicate)
	}

	put(tx, d.rounds, round.ID, *round)
	put(tx, d.numbers, key, round.ID)
	tx.emit(domain.EntityRound, domain.OpInserted, round.GameID, round.ID)
	return nil
}

func (tx *memTx) RoundByNumber(ctx context.Context, gameID string, number int) (*domain.Round, error) {
	id, ok := tx.data.numbers[roundKey{gameID, number}]
	if !ok {
		return nil, domain.ErrRoundNotFound
	}
	round := tx.data.rounds[id]
	return &round, nil
}

func (tx *memTx) SetRoundWinner(ctx context.Context, id, winnerID string) error {
	round, ok := tx.data.rounds[id]
	if !ok {
		return domain.ErrRoundNotFound
	}
	round.WinnerID = winnerID
	put(tx, tx.data.rounds, id, round)
	tx.emit(domain.EntityRound, domain.OpUpdated, round.GameID, id)
	return nil
}

func (tx *memTx) InsertPlay(ctx context.Context, play *domain.Play) error {
	d := tx.data
	round, ok := d.rounds[play.RoundID]
	if !ok {
		return domain.ErrRoundNotFound
	}
	if _, ok := d.players[play.PlayerID]; !ok {
		return domain.ErrPlayerNotFound
	}
	if _, exists := d.plays[play.ID]; exists {
		return fmt.Errorf("insert play %s: %w", play.ID, domain.ErrDuplicate)
	}
	key := pairKey{play.RoundID, play.PlayerID}
	if _, exists := d.played[key]; exists {
		return fmt.Errorf("insert play for player %s: %w", play.PlayerID, domain.ErrDuplicate)
	}

	p := *play
	p.Votes = 0
	put(tx, d.plays, p.ID, p)
	put(tx, d.played, key, p.ID)
	put(tx, d.order, p.RoundID, append(slices.Clip(d.order[p.RoundID]), p.ID))
	tx.emit(domain.EntityPlay, domain.OpInserted, round.GameID, p.ID)
	return nil
}

func (tx *memTx) PlaysByRound(ctx context.Context, roundID string) ([]domain.Play, error) {
	ids := tx.data.order[roundID]
	plays := make([]domain.Play, 0, len(ids))
	for _, id := range ids {
		p := tx.data.plays[id]
		p.Votes = tx.data.tally[id]
		plays = append(plays, p)
	}
	return plays, nil
}

func (tx *memTx) InsertVote(ctx context.Context, vote *domain.Vote) error {
	d := tx.data
	play, ok := d.plays[vote.PlayID]
	if !ok {
		return domain.ErrPlayNotFound
	}
	round, ok := d.rounds[vote.RoundID]
	if !ok || play.RoundID != vote.RoundID {
		return domain.ErrRoundNotFound
	}
	if _, ok := d.players[vote.VoterID]; !ok {
		return domain.ErrPlayerNotFound
	}
	if _, exists := d.votes[vote.ID]; exists {
		return fmt.Errorf("insert vote %s: %w", vote.ID, domain.ErrDuplicate)
	}
	byPlay := pairKey{vote.PlayID, vote.VoterID}
	byRound := pairKey{vote.RoundID, vote.VoterID}
	if d.voted[byPlay] || d.ballots[byRound] {
		return fmt.Errorf("insert vote for voter %s: %w", vote.VoterID, domain.ErrDuplicate)
	}

	put(tx, d.votes, vote.ID, *vote)
	put(tx, d.voted, byPlay, true)
	put(tx, d.ballots, byRound, true)
	put(tx, d.tally, vote.PlayID, d.tally[vote.PlayID]+1)
	put(tx, d.cast, vote.RoundID, append(slices.Clip(d.cast[vote.RoundID]), vote.ID))
	tx.emit(domain.EntityVote, domain.OpInserted, round.GameID, vote.ID)
	return nil
}

func (tx *memTx) VotesByRound(ctx context.Context, roundID string) ([]domain.Vote, error) {
	ids := tx.data.cast[roundID]
	votes := make([]domain.Vote, 0, len(ids))
	for _, id := range ids {
		votes = append(votes, tx.data.votes[id])
	}
	return votes, nil
}
