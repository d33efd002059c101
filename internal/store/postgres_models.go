package store

import (
	"time"

	"gorm.io/datatypes"

	"memechaos/internal/domain"
)

type gameRow struct {
	ID           string    `gorm:"primaryKey;size:36"`
	Code         string    `gorm:"size:12;uniqueIndex;not null"`
	Status       string    `gorm:"size:16;not null"`
	CurrentPhase string    `gorm:"size:16;not null;default:''"`
	CurrentRound int       `gorm:"not null;default:0"`
	LeaderID     *string   `gorm:"size:36"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (gameRow) TableName() string { return "games" }

type playerRow struct {
	ID        string                       `gorm:"primaryKey;size:36"`
	GameID    string                       `gorm:"size:36;index;not null;uniqueIndex:idx_players_game_seat"`
	Seat      int                          `gorm:"not null;uniqueIndex:idx_players_game_seat"`
	Name      string                       `gorm:"size:64;not null"`
	Score     int                          `gorm:"not null;default:0"`
	Hand      datatypes.JSONSlice[string] `gorm:"type:jsonb;not null"`
	CreatedAt time.Time                    `gorm:"not null"`
	UpdatedAt time.Time                    `gorm:"not null"`
	Game      gameRow                      `gorm:"foreignKey:GameID;constraint:OnDelete:CASCADE"`
}

func (playerRow) TableName() string { return "players" }

type roundRow struct {
	ID          string    `gorm:"primaryKey;size:36"`
	GameID      string    `gorm:"size:36;index;not null;uniqueIndex:idx_rounds_game_number"`
	RoundNumber int       `gorm:"not null;uniqueIndex:idx_rounds_game_number"`
	LeaderID    string    `gorm:"size:36;not null"`
	Situation   string    `gorm:"size:800;not null"`
	WinnerID    *string   `gorm:"size:36"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
	Game        gameRow   `gorm:"foreignKey:GameID;constraint:OnDelete:CASCADE"`
}

func (roundRow) TableName() string { return "rounds" }

type playRow struct {
	ID        string    `gorm:"primaryKey;size:36"`
	RoundID   string    `gorm:"size:36;index;not null;uniqueIndex:idx_plays_round_player"`
	PlayerID  string    `gorm:"size:36;index;not null;uniqueIndex:idx_plays_round_player"`
	CardID    string    `gorm:"size:64;not null"`
	CreatedAt time.Time `gorm:"not null"`
	Round     roundRow  `gorm:"foreignKey:RoundID;constraint:OnDelete:CASCADE"`
	Player    playerRow `gorm:"foreignKey:PlayerID;constraint:OnDelete:CASCADE"`
}

func (playRow) TableName() string { return "plays" }

type voteRow struct {
	ID        string    `gorm:"primaryKey;size:36"`
	PlayID    string    `gorm:"size:36;index;not null;uniqueIndex:idx_votes_play_voter"`
	RoundID   string    `gorm:"size:36;index;not null;uniqueIndex:idx_votes_round_voter"`
	VoterID   string    `gorm:"size:36;not null;uniqueIndex:idx_votes_play_voter;uniqueIndex:idx_votes_round_voter"`
	CreatedAt time.Time `gorm:"not null"`
	Play      playRow   `gorm:"foreignKey:PlayID;constraint:OnDelete:CASCADE"`
	Voter     playerRow `gorm:"foreignKey:VoterID;constraint:OnDelete:CASCADE"`
}

func (voteRow) TableName() string { return "votes" }

// playTally is a play row joined with its vote count
type playTally struct {
	playRow
	Votes int `gorm:"column:votes"`
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toGameRow(g *domain.Game) gameRow {
	return gameRow{
		ID:           g.ID,
		Code:         g.Code,
		Status:       string(g.Status),
		CurrentPhase: string(g.CurrentPhase),
		CurrentRound: g.CurrentRound,
		LeaderID:     nullable(g.LeaderID),
		CreatedAt:    g.CreatedAt,
	}
}

func (r gameRow) toDomain() *domain.Game {
	return &domain.Game{
		ID:        r.ID,
		Code:      r.Code,
		CreatedAt: r.CreatedAt,
		GameState: domain.GameState{
			Status:       domain.Status(r.Status),
			CurrentPhase: domain.Phase(r.CurrentPhase),
			CurrentRound: r.CurrentRound,
			LeaderID:     deref(r.LeaderID),
		},
	}
}

func toPlayerRow(p *domain.Player) playerRow {
	return playerRow{
		ID:        p.ID,
		GameID:    p.GameID,
		Seat:      p.Seat,
		Name:      p.Name,
		Score:     p.Score,
		Hand:      datatypes.JSONSlice[string](append([]string{}, p.Hand...)),
		CreatedAt: p.JoinedAt,
	}
}

func (r playerRow) toDomain() domain.Player {
	return domain.Player{
		ID:       r.ID,
		GameID:   r.GameID,
		Name:     r.Name,
		Score:    r.Score,
		Hand:     append([]string{}, r.Hand...),
		Seat:     r.Seat,
		JoinedAt: r.CreatedAt,
	}
}

func toRoundRow(r *domain.Round) roundRow {
	return roundRow{
		ID:          r.ID,
		GameID:      r.GameID,
		RoundNumber: r.RoundNumber,
		LeaderID:    r.LeaderID,
		Situation:   r.Situation,
		WinnerID:    nullable(r.WinnerID),
		CreatedAt:   r.CreatedAt,
	}
}

func (r roundRow) toDomain() *domain.Round {
	return &domain.Round{
		ID:          r.ID,
		GameID:      r.GameID,
		RoundNumber: r.RoundNumber,
		LeaderID:    r.LeaderID,
		Situation:   r.Situation,
		WinnerID:    deref(r.WinnerID),
		CreatedAt:   r.CreatedAt,
	}
}

func (r playTally) toDomain() domain.Play {
	return domain.Play{
		ID:        r.ID,
		RoundID:   r.RoundID,
		PlayerID:  r.PlayerID,
		CardID:    r.CardID,
		Votes:     r.Votes,
		CreatedAt: r.CreatedAt,
	}
}

func (r voteRow) toDomain() domain.Vote {
	return domain.Vote{
		ID:        r.ID,
		PlayID:    r.PlayID,
		RoundID:   r.RoundID,
		VoterID:   r.VoterID,
		CreatedAt: r.CreatedAt,
	}
}
