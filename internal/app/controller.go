package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	mrand "math/rand"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"memechaos/internal/catalog"
	"memechaos/internal/domain"
	"memechaos/internal/store"
)

// RoomCodeChars are characters used for room codes (no ambiguous chars)
const RoomCodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	// DefaultRoomCodeLength is the default length for room codes
	DefaultRoomCodeLength = 6

	maxCodeAttempts = 10
	maxSeatAttempts = 3
)

// ErrNoRoomCode is returned when every generated room code collided
var ErrNoRoomCode = errors.New("failed to generate unique room code")

// Settings are the game rules the controller enforces
type Settings struct {
	MinPlayers     int
	MaxPlayers     int
	HandSize       int
	MaxRounds      int // 0 means unlimited
	ScoreLimit     int // 0 means no score limit
	RoomCodeLength int
}

// DefaultSettings returns the standard rules
func DefaultSettings() Settings {
	return Settings{
		MinPlayers:     2,
		MaxPlayers:     10,
		HandSize:       domain.HandSize,
		MaxRounds:      10,
		ScoreLimit:     0,
		RoomCodeLength: DefaultRoomCodeLength,
	}
}

// Controller validates and applies player actions. It holds no game state:
// every operation reads a fresh snapshot from the repository and writes its
// changes in one transaction.
type Controller struct {
	repo     store.Repository
	cards    *catalog.Catalog
	settings Settings
	logger   *slog.Logger

	rngMu sync.Mutex
	rng   *mrand.Rand
}

// NewController creates a controller. rng drives dealing and situation
// picks; pass a seeded source for deterministic tests.
func NewController(repo store.Repository, cards *catalog.Catalog, settings Settings, rng *mrand.Rand, logger *slog.Logger) *Controller {
	if settings.RoomCodeLength <= 0 {
		settings.RoomCodeLength = DefaultRoomCodeLength
	}
	if settings.HandSize <= 0 {
		settings.HandSize = domain.HandSize
	}
	return &Controller{
		repo:     repo,
		cards:    cards,
		settings: settings,
		logger:   logger,
		rng:      rng,
	}
}

// Settings returns the rules in force
func (c *Controller) Settings() Settings {
	return c.settings
}

// GameSummary is the public lobby view of a game
type GameSummary struct {
	Code        string       `json:"code"`
	PlayerCount int          `json:"playerCount"`
	Phase       domain.Phase `json:"phase"`
	CanJoin     bool         `json:"canJoin"`
}

// CreateGame opens a new game with the caller as leader in seat 1
func (c *Controller) CreateGame(ctx context.Context, name string) (domain.SessionToken, error) {
	name, err := domain.NormalizeName(name)
	if err != nil {
		return domain.SessionToken{}, err
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := generateRoomCode(c.settings.RoomCodeLength)
		if err != nil {
			return domain.SessionToken{}, err
		}

		token, err := c.createGame(ctx, code, name)
		if errors.Is(err, domain.ErrDuplicate) {
			c.logger.Debug("room code collision", "roomCode", code, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return domain.SessionToken{}, err
		}

		c.logger.Info("game created", "roomCode", code, "playerID", token.PlayerID)
		return token, nil
	}

	return domain.SessionToken{}, ErrNoRoomCode
}

func (c *Controller) createGame(ctx context.Context, code, name string) (domain.SessionToken, error) {
	game := domain.NewGame(uuid.NewString(), code)
	leader := domain.NewPlayer(uuid.NewString(), game.ID, name, 1, c.deal())

	err := c.repo.Tx(ctx, func(tx store.Repository) error {
		if err := tx.InsertGame(ctx, game); err != nil {
			return err
		}
		if err := tx.InsertPlayer(ctx, leader); err != nil {
			return err
		}
		next := game.GameState
		next.LeaderID = leader.ID
		return tx.UpdateGame(ctx, game.ID, game.GameState, next)
	})
	if err != nil {
		return domain.SessionToken{}, err
	}

	return domain.SessionToken{Code: game.Code, PlayerID: leader.ID}, nil
}

// JoinGame adds a player to a game that has not started yet
func (c *Controller) JoinGame(ctx context.Context, code, name string) (domain.SessionToken, error) {
	name, err := domain.NormalizeName(name)
	if err != nil {
		return domain.SessionToken{}, err
	}
	code = domain.NormalizeCode(code)

	// Joins to one game are serialised by the game lock. The unique seat
	// index still rejects a clash with a writer that skips the lock, and the
	// loser retries.
	for attempt := 0; ; attempt++ {
		token, err := c.joinGame(ctx, code, name)
		if errors.Is(err, domain.ErrDuplicate) && attempt+1 < maxSeatAttempts {
			continue
		}
		if err != nil {
			return domain.SessionToken{}, err
		}

		c.logger.Info("player joined", "roomCode", code, "playerID", token.PlayerID)
		return token, nil
	}
}

func (c *Controller) joinGame(ctx context.Context, code, name string) (domain.SessionToken, error) {
	var token domain.SessionToken

	err := c.repo.Tx(ctx, func(tx store.Repository) error {
		found, err := tx.GameByCode(ctx, code)
		if err != nil {
			return err
		}
		// Holding the game lock makes a concurrent start wait for this join
		game, err := tx.LockGame(ctx, found.ID)
		if err != nil {
			return err
		}
		if game.Status != domain.StatusWaiting {
			return domain.ErrGameAlreadyStarted
		}

		players, err := tx.PlayersByGame(ctx, game.ID)
		if err != nil {
			return err
		}
		if c.settings.MaxPlayers > 0 && len(players) >= c.settings.MaxPlayers {
			return domain.ErrGameFull
		}

		seat := 1
		if len(players) > 0 {
			seat = players[len(players)-1].Seat + 1
		}

		player := domain.NewPlayer(uuid.NewString(), game.ID, name, seat, c.deal())
		if err := tx.InsertPlayer(ctx, player); err != nil {
			return err
		}

		token = domain.SessionToken{Code: game.Code, PlayerID: player.ID}
		return nil
	})

	return token, err
}

// StartGame moves a waiting game into its first round
func (c *Controller) StartGame(ctx context.Context, playerID string) error {
	return c.act(ctx, playerID, func(tx store.Repository, game *domain.Game, _ *domain.Player) error {
		if !game.IsLeader(playerID) {
			return domain.ErrNotLeader
		}
		if game.Phase() != domain.PhaseWaiting {
			return domain.ErrGameAlreadyStarted
		}

		players, err := tx.PlayersByGame(ctx, game.ID)
		if err != nil {
			return err
		}
		if len(players) < c.settings.MinPlayers {
			return domain.ErrNotEnoughPlayers
		}

		next, err := game.Advance(domain.PhaseSituation)
		if err != nil {
			return err
		}
		if err := tx.UpdateGame(ctx, game.ID, game.GameState, next); err != nil {
			return err
		}

		c.logger.Info("game started", "roomCode", game.Code, "players", len(players))
		return nil
	})
}

// SubmitSituation sets the prompt for the current round. Blank text picks a
// built-in situation.
func (c *Controller) SubmitSituation(ctx context.Context, playerID, text string) error {
	return c.act(ctx, playerID, func(tx store.Repository, game *domain.Game, _ *domain.Player) error {
		if !game.IsLeader(playerID) {
			return domain.ErrNotLeader
		}
		if err := game.Require(domain.PhaseSituation); err != nil {
			return err
		}
		return c.openRound(ctx, tx, game, text)
	})
}

// ExpireSituation auto-submits a situation when the leader ran out of time
func (c *Controller) ExpireSituation(ctx context.Context, gameID string, round int) error {
	return c.expire(ctx, gameID, round, domain.PhaseSituation, func(tx store.Repository, game *domain.Game) error {
		return c.openRound(ctx, tx, game, "")
	})
}

func (c *Controller) openRound(ctx context.Context, tx store.Repository, game *domain.Game, text string) error {
	situation := cleanSituation(text)
	if situation == "" {
		used, err := usedSituations(ctx, tx, game)
		if err != nil {
			return err
		}
		situation = c.randomSituation(used)
	}

	round := domain.NewRound(uuid.NewString(), game.ID, game.CurrentRound, game.LeaderID, situation)
	if err := tx.InsertRound(ctx, round); err != nil {
		return err
	}

	next, err := game.Advance(domain.PhasePlaying)
	if err != nil {
		return err
	}
	return tx.UpdateGame(ctx, game.ID, game.GameState, next)
}

// PlayCard plays a card from the player's hand into the current round
func (c *Controller) PlayCard(ctx context.Context, playerID, cardID string) error {
	return c.act(ctx, playerID, func(tx store.Repository, game *domain.Game, player *domain.Player) error {
		if err := game.Require(domain.PhasePlaying); err != nil {
			return err
		}
		if game.IsLeader(playerID) {
			return domain.ErrLeaderCannotPlay
		}

		round, err := tx.RoundByNumber(ctx, game.ID, game.CurrentRound)
		if err != nil {
			return err
		}
		plays, err := tx.PlaysByRound(ctx, round.ID)
		if err != nil {
			return err
		}
		for _, p := range plays {
			if p.PlayerID == playerID {
				return domain.ErrAlreadyPlayed
			}
		}
		if !player.HasCard(cardID) {
			return domain.ErrCardNotInHand
		}

		play := domain.NewPlay(uuid.NewString(), round.ID, playerID, cardID)
		if err := tx.InsertPlay(ctx, play); err != nil {
			return err
		}
		if err := tx.UpdatePlayerHand(ctx, playerID, player.HandWithout(cardID)); err != nil {
			return err
		}

		players, err := tx.PlayersByGame(ctx, game.ID)
		if err != nil {
			return err
		}
		if len(plays)+1 < countNonLeaders(players, game.LeaderID) {
			return nil
		}
		return c.openVoting(ctx, tx, game, round)
	})
}

// ExpirePlaying closes the playing phase with whatever was played
func (c *Controller) ExpirePlaying(ctx context.Context, gameID string, round int) error {
	return c.expire(ctx, gameID, round, domain.PhasePlaying, func(tx store.Repository, game *domain.Game) error {
		r, err := tx.RoundByNumber(ctx, game.ID, game.CurrentRound)
		if err != nil {
			return err
		}
		return c.openVoting(ctx, tx, game, r)
	})
}

// openVoting moves to voting, and straight on to results when nobody is
// able to vote.
func (c *Controller) openVoting(ctx context.Context, tx store.Repository, game *domain.Game, round *domain.Round) error {
	next, err := game.Advance(domain.PhaseVoting)
	if err != nil {
		return err
	}
	if err := tx.UpdateGame(ctx, game.ID, game.GameState, next); err != nil {
		return err
	}
	game.GameState = next

	done, err := c.votingComplete(ctx, tx, game, round)
	if err != nil || !done {
		return err
	}
	return c.closeVoting(ctx, tx, game, round)
}

// VoteForCard records the player's vote for a play of the current round
func (c *Controller) VoteForCard(ctx context.Context, playerID, playID string) error {
	return c.act(ctx, playerID, func(tx store.Repository, game *domain.Game, _ *domain.Player) error {
		if err := game.Require(domain.PhaseVoting); err != nil {
			return err
		}

		round, err := tx.RoundByNumber(ctx, game.ID, game.CurrentRound)
		if err != nil {
			return err
		}
		plays, err := tx.PlaysByRound(ctx, round.ID)
		if err != nil {
			return err
		}

		var target *domain.Play
		for i := range plays {
			if plays[i].ID == playID {
				target = &plays[i]
				break
			}
		}
		if target == nil {
			return domain.ErrPlayNotInRound
		}
		if target.PlayerID == playerID {
			return domain.ErrCannotVoteSelf
		}

		votes, err := tx.VotesByRound(ctx, round.ID)
		if err != nil {
			return err
		}
		for _, v := range votes {
			if v.VoterID == playerID {
				return domain.ErrAlreadyVoted
			}
		}

		vote := domain.NewVote(uuid.NewString(), playID, round.ID, playerID)
		if err := tx.InsertVote(ctx, vote); err != nil {
			return err
		}

		done, err := c.votingComplete(ctx, tx, game, round)
		if err != nil || !done {
			return err
		}
		return c.closeVoting(ctx, tx, game, round)
	})
}

// ExpireVoting closes the voting phase and scores the round
func (c *Controller) ExpireVoting(ctx context.Context, gameID string, round int) error {
	return c.expire(ctx, gameID, round, domain.PhaseVoting, func(tx store.Repository, game *domain.Game) error {
		r, err := tx.RoundByNumber(ctx, game.ID, game.CurrentRound)
		if err != nil {
			return err
		}
		return c.closeVoting(ctx, tx, game, r)
	})
}

// votingComplete reports whether every eligible voter has voted. A player is
// eligible when at least one play of the round is not their own.
func (c *Controller) votingComplete(ctx context.Context, tx store.Repository, game *domain.Game, round *domain.Round) (bool, error) {
	players, err := tx.PlayersByGame(ctx, game.ID)
	if err != nil {
		return false, err
	}
	plays, err := tx.PlaysByRound(ctx, round.ID)
	if err != nil {
		return false, err
	}
	votes, err := tx.VotesByRound(ctx, round.ID)
	if err != nil {
		return false, err
	}

	voted := make(map[string]bool, len(votes))
	for _, v := range votes {
		voted[v.VoterID] = true
	}

	for _, p := range players {
		if eligibleVoter(p.ID, plays) && !voted[p.ID] {
			return false, nil
		}
	}
	return true, nil
}

// closeVoting moves to results and applies the round's scores. The state
// change goes first so a racing close fails as stale before scoring twice.
func (c *Controller) closeVoting(ctx context.Context, tx store.Repository, game *domain.Game, round *domain.Round) error {
	next, err := game.Advance(domain.PhaseResults)
	if err != nil {
		return err
	}
	if err := tx.UpdateGame(ctx, game.ID, game.GameState, next); err != nil {
		return err
	}

	plays, err := tx.PlaysByRound(ctx, round.ID)
	if err != nil {
		return err
	}
	result := domain.ScoreRound(plays)
	for playerID, points := range result.Points {
		if err := tx.AddPlayerScore(ctx, playerID, points); err != nil {
			return err
		}
	}
	if result.WinnerID != "" {
		if err := tx.SetRoundWinner(ctx, round.ID, result.WinnerID); err != nil {
			return err
		}
	}

	c.logger.Info("round scored", "roomCode", game.Code, "round", round.RoundNumber, "winnerID", result.WinnerID)
	return nil
}

// NextRound ends the results phase: the game finishes when a limit is
// reached, otherwise leadership rotates and hands are refilled.
func (c *Controller) NextRound(ctx context.Context, playerID string) error {
	return c.act(ctx, playerID, func(tx store.Repository, game *domain.Game, _ *domain.Player) error {
		if !game.IsLeader(playerID) {
			return domain.ErrNotLeader
		}
		if err := game.Require(domain.PhaseResults); err != nil {
			return err
		}

		players, err := tx.PlayersByGame(ctx, game.ID)
		if err != nil {
			return err
		}

		if c.gameOver(game, players) {
			next, err := game.Advance(domain.PhaseFinished)
			if err != nil {
				return err
			}
			c.logger.Info("game finished", "roomCode", game.Code, "rounds", game.CurrentRound)
			return tx.UpdateGame(ctx, game.ID, game.GameState, next)
		}

		next, err := game.Advance(domain.PhaseSituation)
		if err != nil {
			return err
		}
		next.LeaderID = domain.NextLeader(players, game.LeaderID)
		if err := tx.UpdateGame(ctx, game.ID, game.GameState, next); err != nil {
			return err
		}

		for _, p := range players {
			if len(p.Hand) >= c.settings.HandSize {
				continue
			}
			if err := tx.UpdatePlayerHand(ctx, p.ID, c.topUp(p.Hand)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Controller) gameOver(game *domain.Game, players []domain.Player) bool {
	if c.settings.MaxRounds > 0 && game.CurrentRound >= c.settings.MaxRounds {
		return true
	}
	if c.settings.ScoreLimit > 0 {
		for _, p := range players {
			if p.Score >= c.settings.ScoreLimit {
				return true
			}
		}
	}
	return false
}

// ValidateToken checks that a session token names an existing player of an
// existing game
func (c *Controller) ValidateToken(ctx context.Context, token domain.SessionToken) (*domain.Game, *domain.Player, error) {
	game, err := c.repo.GameByCode(ctx, token.Code)
	if err != nil {
		return nil, nil, err
	}
	player, err := c.repo.PlayerByID(ctx, token.PlayerID)
	if err != nil {
		return nil, nil, err
	}
	if player.GameID != game.ID {
		return nil, nil, domain.ErrPlayerNotInGame
	}
	player.IsLeader = game.IsLeader(player.ID)
	return game, player, nil
}

// Summary describes a game for the join screen
func (c *Controller) Summary(ctx context.Context, code string) (*GameSummary, error) {
	game, err := c.repo.GameByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	players, err := c.repo.PlayersByGame(ctx, game.ID)
	if err != nil {
		return nil, err
	}

	return &GameSummary{
		Code:        game.Code,
		PlayerCount: len(players),
		Phase:       game.Phase(),
		CanJoin:     game.Status == domain.StatusWaiting && (c.settings.MaxPlayers <= 0 || len(players) < c.settings.MaxPlayers),
	}, nil
}

// act loads the acting player and locks their game inside a transaction.
// Every write to a started game takes that lock first, so each transaction
// sees the plays and votes committed before it.
func (c *Controller) act(ctx context.Context, playerID string, fn func(tx store.Repository, game *domain.Game, player *domain.Player) error) error {
	return c.repo.Tx(ctx, func(tx store.Repository) error {
		player, err := tx.PlayerByID(ctx, playerID)
		if err != nil {
			return err
		}
		game, err := tx.LockGame(ctx, player.GameID)
		if err != nil {
			return err
		}
		player.IsLeader = game.IsLeader(player.ID)
		return fn(tx, game, player)
	})
}

// expire locks the game and runs fn if it is still in the phase and round a
// timer was armed for
func (c *Controller) expire(ctx context.Context, gameID string, round int, phase domain.Phase, fn func(tx store.Repository, game *domain.Game) error) error {
	return c.repo.Tx(ctx, func(tx store.Repository) error {
		game, err := tx.LockGame(ctx, gameID)
		if err != nil {
			return err
		}
		if game.Phase() != phase || game.CurrentRound != round {
			return domain.ErrInvalidPhase
		}
		return fn(tx, game)
	})
}

func (c *Controller) deal() []string {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return domain.Deal(c.cards.IDs(), c.settings.HandSize, c.rng)
}

func (c *Controller) topUp(hand []string) []string {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return domain.TopUp(c.cards.IDs(), hand, c.settings.HandSize, c.rng)
}

func (c *Controller) randomSituation(used []string) string {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return RandomSituation(c.rng, used)
}

func usedSituations(ctx context.Context, tx store.Repository, game *domain.Game) ([]string, error) {
	used := make([]string, 0, game.CurrentRound)
	for n := 1; n < game.CurrentRound; n++ {
		r, err := tx.RoundByNumber(ctx, game.ID, n)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		used = append(used, r.Situation)
	}
	return used, nil
}

// cleanSituation trims a prompt and caps its length
func cleanSituation(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > domain.MaxSituationLength {
		text = strings.TrimSpace(string([]rune(text)[:domain.MaxSituationLength]))
	}
	return text
}

func countNonLeaders(players []domain.Player, leaderID string) int {
	n := 0
	for _, p := range players {
		if p.ID != leaderID {
			n++
		}
	}
	return n
}

func eligibleVoter(playerID string, plays []domain.Play) bool {
	for _, p := range plays {
		if p.PlayerID != playerID {
			return true
		}
	}
	return false
}

// generateRoomCode generates a random room code
func generateRoomCode(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}

	code := make([]byte, length)
	for i := range code {
		code[i] = RoomCodeChars[int(b[i])%len(RoomCodeChars)]
	}

	return string(code), nil
}
