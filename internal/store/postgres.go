package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"memechaos/internal/domain"
)

// PostgresStore is a Store backed by PostgreSQL through gorm. Uniqueness
// rules are unique indexes, so concurrent duplicate plays or votes lose at the
// database and surface as domain.ErrDuplicate.
type PostgresStore struct {
	db      *gorm.DB
	feed    *Broker
	pending *[]domain.Change // Set inside Tx; changes are held until commit
	dsn     string
	origin  string // Tags this process's notices so the listener skips them
	logger  *slog.Logger

	stopListen context.CancelFunc
	listenDone chan struct{}
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects to the database at dsn
func OpenPostgres(dsn string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(slog.NewLogLogger(logger.Handler(), slog.LevelWarn), gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", domain.ErrTransport, err)
	}

	return &PostgresStore{
		db:     db,
		feed:   NewBroker(DefaultFeedBuffer),
		dsn:    dsn,
		origin: uuid.NewString(),
		logger: logger,
	}, nil
}

// Migrate creates or updates the schema
func (s *PostgresStore) Migrate(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(
		&gameRow{},
		&playerRow{},
		&roundRow{},
		&playRow{},
		&voteRow{},
	)
	if err != nil {
		return fmt.Errorf("%w: migrate: %v", domain.ErrTransport, err)
	}
	return nil
}

// Subscribe implements Feed. Writes made through this process are always
// announced. Writes made by other processes on the same database are
// announced once StartListener is running.
func (s *PostgresStore) Subscribe(gameID string) *Subscription {
	return s.feed.Subscribe(gameID)
}

// Close stops the listener and shuts down the change feed and the connection
// pool
func (s *PostgresStore) Close() error {
	if s.stopListen != nil {
		s.stopListen()
		<-s.listenDone
	}
	s.feed.Close()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *PostgresStore) emit(ctx context.Context, entity domain.Entity, op domain.Op, gameID, id string) {
	change := domain.NewChange(entity, op, gameID, id)
	if s.pending != nil {
		*s.pending = append(*s.pending, change)
		return
	}
	s.feed.Publish(change)
	if err := s.notify(ctx, []domain.Change{change}); err != nil {
		s.logger.Warn("failed to announce change", "gameID", gameID, "error", err)
	}
}

// Tx implements Repository
func (s *PostgresStore) Tx(ctx context.Context, fn func(Repository) error) error {
	if s.pending != nil {
		return fn(s)
	}

	var changes []domain.Change
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inner := &PostgresStore{db: tx, feed: s.feed, pending: &changes, origin: s.origin, logger: s.logger}
		if err := fn(inner); err != nil {
			return err
		}
		// Postgres delivers notices only when the transaction commits
		return inner.notify(ctx, changes)
	})
	if err != nil {
		return translate(err, nil)
	}

	s.feed.Publish(changes...)
	return nil
}

// translate maps gorm errors into the domain taxonomy. Errors that already
// carry a domain category pass through unchanged.
func translate(err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case domain.Kind(err) != nil:
		return err
	case errors.Is(err, gorm.ErrRecordNotFound) && notFound != nil:
		return notFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", domain.ErrDuplicate, err)
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
}

func (s *PostgresStore) InsertGame(ctx context.Context, game *domain.Game) error {
	row := toGameRow(game)
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error; err != nil {
		return translate(err, nil)
	}
	s.emit(ctx, domain.EntityGame, domain.OpInserted, game.ID, game.ID)
	return nil
}

func (s *PostgresStore) GameByID(ctx context.Context, id string) (*domain.Game, error) {
	var row gameRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, translate(err, domain.ErrGameNotFound)
	}
	return row.toDomain(), nil
}

func (s *PostgresStore) LockGame(ctx context.Context, id string) (*domain.Game, error) {
	var row gameRow
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		Where("id = ?", id).
		First(&row).Error
	if err != nil {
		return nil, translate(err, domain.ErrGameNotFound)
	}
	return row.toDomain(), nil
}

func (s *PostgresStore) GameByCode(ctx context.Context, code string) (*domain.Game, error) {
	var row gameRow
	err := s.db.WithContext(ctx).Where("code = ?", domain.NormalizeCode(code)).First(&row).Error
	if err != nil {
		return nil, translate(err, domain.ErrGameNotFound)
	}
	return row.toDomain(), nil
}

func (s *PostgresStore) UpdateGame(ctx context.Context, id string, from, to domain.GameState) error {
	db := s.db.WithContext(ctx)
	res := db.Model(&gameRow{}).
		Where("id = ? AND status = ? AND current_phase = ? AND current_round = ?",
			id, string(from.Status), string(from.CurrentPhase), from.CurrentRound).
		Updates(map[string]any{
			"status":        string(to.Status),
			"current_phase": string(to.CurrentPhase),
			"current_round": to.CurrentRound,
			"leader_id":     nullable(to.LeaderID),
		})
	if res.Error != nil {
		return translate(res.Error, nil)
	}

	if res.RowsAffected == 0 {
		var count int64
		if err := db.Model(&gameRow{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return translate(err, nil)
		}
		if count == 0 {
			return domain.ErrGameNotFound
		}
		return domain.ErrStale
	}

	s.emit(ctx, domain.EntityGame, domain.OpUpdated, id, id)
	return nil
}

func (s *PostgresStore) InsertPlayer(ctx context.Context, player *domain.Player) error {
	row := toPlayerRow(player)
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error; err != nil {
		return translate(err, nil)
	}
	s.emit(ctx, domain.EntityPlayer, domain.OpInserted, player.GameID, player.ID)
	return nil
}

func (s *PostgresStore) PlayerByID(ctx context.Context, id string) (*domain.Player, error) {
	var row playerRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, translate(err, domain.ErrPlayerNotFound)
	}
	p := row.toDomain()
	return &p, nil
}

func (s *PostgresStore) PlayersByGame(ctx context.Context, gameID string) ([]domain.Player, error) {
	var rows []playerRow
	err := s.db.WithContext(ctx).Where("game_id = ?", gameID).Order("seat").Find(&rows).Error
	if err != nil {
		return nil, translate(err, nil)
	}

	players := make([]domain.Player, 0, len(rows))
	for _, row := range rows {
		players = append(players, row.toDomain())
	}
	return players, nil
}

func (s *PostgresStore) playerGameID(ctx context.Context, id string) (string, error) {
	var row playerRow
	if err := s.db.WithContext(ctx).Select("id", "game_id").Where("id = ?", id).First(&row).Error; err != nil {
		return "", translate(err, domain.ErrPlayerNotFound)
	}
	return row.GameID, nil
}

func (s *PostgresStore) UpdatePlayerHand(ctx context.Context, id string, hand []string) error {
	gameID, err := s.playerGameID(ctx, id)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Model(&playerRow{}).Where("id = ?", id).
		Update("hand", datatypes.JSONSlice[string](append([]string{}, hand...))).Error
	if err != nil {
		return translate(err, nil)
	}

	s.emit(ctx, domain.EntityPlayer, domain.OpUpdated, gameID, id)
	return nil
}

func (s *PostgresStore) AddPlayerScore(ctx context.Context, id string, delta int) error {
	gameID, err := s.playerGameID(ctx, id)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Model(&playerRow{}).Where("id = ?", id).
		Update("score", gorm.Expr("score + ?", delta)).Error
	if err != nil {
		return translate(err, nil)
	}

	s.emit(ctx, domain.EntityPlayer, domain.OpUpdated, gameID, id)
	return nil
}

func (s *PostgresStore) InsertRound(ctx context.Context, round *domain.Round) error {
	row := toRoundRow(round)
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error; err != nil {
		return translate(err, nil)
	}
	s.emit(ctx, domain.EntityRound, domain.OpInserted, round.GameID, round.ID)
	return nil
}

func (s *PostgresStore) RoundByNumber(ctx context.Context, gameID string, number int) (*domain.Round, error) {
	var row roundRow
	err := s.db.WithContext(ctx).Where("game_id = ? AND round_number = ?", gameID, number).First(&row).Error
	if err != nil {
		return nil, translate(err, domain.ErrRoundNotFound)
	}
	return row.toDomain(), nil
}

func (s *PostgresStore) roundGameID(ctx context.Context, id string) (string, error) {
	var row roundRow
	if err := s.db.WithContext(ctx).Select("id", "game_id").Where("id = ?", id).First(&row).Error; err != nil {
		return "", translate(err, domain.ErrRoundNotFound)
	}
	return row.GameID, nil
}

func (s *PostgresStore) SetRoundWinner(ctx context.Context, id, winnerID string) error {
	gameID, err := s.roundGameID(ctx, id)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Model(&roundRow{}).Where("id = ?", id).
		Update("winner_id", nullable(winnerID)).Error
	if err != nil {
		return translate(err, nil)
	}

	s.emit(ctx, domain.EntityRound, domain.OpUpdated, gameID, id)
	return nil
}

func (s *PostgresStore) InsertPlay(ctx context.Context, play *domain.Play) error {
	gameID, err := s.roundGameID(ctx, play.RoundID)
	if err != nil {
		return err
	}

	row := playRow{
		ID:        play.ID,
		RoundID:   play.RoundID,
		PlayerID:  play.PlayerID,
		CardID:    play.CardID,
		CreatedAt: play.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error; err != nil {
		return translate(err, nil)
	}

	s.emit(ctx, domain.EntityPlay, domain.OpInserted, gameID, play.ID)
	return nil
}

func (s *PostgresStore) PlaysByRound(ctx context.Context, roundID string) ([]domain.Play, error) {
	var rows []playTally
	err := s.db.WithContext(ctx).
		Table("plays").
		Select("plays.*, COUNT(votes.id) AS votes").
		Joins("LEFT JOIN votes ON votes.play_id = plays.id").
		Where("plays.round_id = ?", roundID).
		Group("plays.id").
		Order("plays.created_at, plays.id").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err, nil)
	}

	plays := make([]domain.Play, 0, len(rows))
	for _, row := range rows {
		plays = append(plays, row.toDomain())
	}
	return plays, nil
}

func (s *PostgresStore) InsertVote(ctx context.Context, vote *domain.Vote) error {
	gameID, err := s.roundGameID(ctx, vote.RoundID)
	if err != nil {
		return err
	}

	row := voteRow{
		ID:        vote.ID,
		PlayID:    vote.PlayID,
		RoundID:   vote.RoundID,
		VoterID:   vote.VoterID,
		CreatedAt: vote.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error; err != nil {
		return translate(err, nil)
	}

	s.emit(ctx, domain.EntityVote, domain.OpInserted, gameID, vote.ID)
	return nil
}

func (s *PostgresStore) VotesByRound(ctx context.Context, roundID string) ([]domain.Vote, error) {
	var rows []voteRow
	err := s.db.WithContext(ctx).Where("round_id = ?", roundID).Order("created_at, id").Find(&rows).Error
	if err != nil {
		return nil, translate(err, nil)
	}

	votes := make([]domain.Vote, 0, len(rows))
	for _, row := range rows {
		votes = append(votes, row.toDomain())
	}
	return votes, nil
}
