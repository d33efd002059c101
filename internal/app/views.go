package app

import (
	"sort"
	"time"

	"memechaos/internal/catalog"
	"memechaos/internal/domain"
)

// Snapshot is one consistent read of a game. It is never modified after it
// has been built; every view is a pure function of it.
type Snapshot struct {
	Game     *domain.Game
	Players  []domain.Player // Seat order, IsLeader marked
	Round    *domain.Round   // Current round, nil before the situation is set
	Plays    []domain.Play   // Current round, creation order
	Votes    []domain.Vote   // Current round
	Deadline time.Time       // Zero when the phase has no timer
}

// PlayedCard is a play of the current round as shown to one viewer
type PlayedCard struct {
	PlayID     string `json:"playId"`
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	CardID     string `json:"cardId"`
	Artwork    string `json:"artwork"`
	Alt        string `json:"alt,omitempty"`
	Votes      int    `json:"votes"`
	CanVote    bool   `json:"canVote"`
}

// View is everything one player's client renders
type View struct {
	Code        string              `json:"code"`
	Status      domain.Status       `json:"status"`
	Phase       domain.Phase        `json:"phase"`
	Round       int                 `json:"round"`
	LeaderID    string              `json:"leaderId,omitempty"`
	You         *domain.PlayerInfo  `json:"you,omitempty"`
	Players     []domain.PlayerInfo `json:"players"`
	Leaderboard []domain.PlayerInfo `json:"leaderboard"`
	Situation   string              `json:"situation,omitempty"`
	Hand        []domain.Card       `json:"hand"`
	PlayedCards []PlayedCard        `json:"playedCards"`
	PlayedCount int                 `json:"playedCount"`
	HasPlayed   bool                `json:"hasPlayed"`
	VotedPlayID string              `json:"votedPlayId,omitempty"`
	RoundWinner string              `json:"roundWinnerId,omitempty"`
	Deadline    *time.Time          `json:"deadline,omitempty"`
	CanStart    bool                `json:"canStart"`
	MinPlayers  int                 `json:"minPlayers"`
}

// Player returns the snapshot's copy of a player
func (s *Snapshot) Player(id string) (*domain.Player, bool) {
	for i := range s.Players {
		if s.Players[i].ID == id {
			return &s.Players[i], true
		}
	}
	return nil, false
}

// PlayedCards projects the current round's plays for a viewer. Plays stay
// hidden until voting opens; authors cannot vote for their own card.
func (s *Snapshot) PlayedCards(viewerID string, cards *catalog.Catalog) []PlayedCard {
	out := make([]PlayedCard, 0, len(s.Plays))
	phase := s.Game.Phase()
	if phase != domain.PhaseVoting && phase != domain.PhaseResults && phase != domain.PhaseFinished {
		return out
	}

	for _, play := range s.Plays {
		pc := PlayedCard{
			PlayID:   play.ID,
			PlayerID: play.PlayerID,
			CardID:   play.CardID,
			Votes:    play.Votes,
			CanVote:  viewerID != play.PlayerID,
		}
		if p, ok := s.Player(play.PlayerID); ok {
			pc.PlayerName = p.Name
		}
		if card, ok := cards.Card(play.CardID); ok {
			pc.Artwork = card.Artwork
			pc.Alt = card.Alt
		}
		out = append(out, pc)
	}
	return out
}

// Hand maps the viewer's hand to catalog cards. Ids missing from the catalog
// are skipped.
func (s *Snapshot) Hand(viewerID string, cards *catalog.Catalog) []domain.Card {
	p, ok := s.Player(viewerID)
	if !ok {
		return []domain.Card{}
	}

	hand := make([]domain.Card, 0, len(p.Hand))
	for _, id := range p.Hand {
		if card, ok := cards.Card(id); ok {
			hand = append(hand, card)
		}
	}
	return hand
}

// Leaderboard orders players by score, ties broken by seat
func (s *Snapshot) Leaderboard() []domain.PlayerInfo {
	board := s.playerInfos()
	sort.SliceStable(board, func(i, j int) bool {
		return board[i].Score > board[j].Score
	})
	return board
}

func (s *Snapshot) playerInfos() []domain.PlayerInfo {
	infos := make([]domain.PlayerInfo, 0, len(s.Players))
	for i := range s.Players {
		infos = append(infos, s.Players[i].ToInfo())
	}
	return infos
}

// ViewFor builds the view sent to one player
func (s *Snapshot) ViewFor(viewerID string, cards *catalog.Catalog, minPlayers int) *View {
	game := s.Game
	view := &View{
		Code:        game.Code,
		Status:      game.Status,
		Phase:       game.Phase(),
		Round:       game.CurrentRound,
		LeaderID:    game.LeaderID,
		Players:     s.playerInfos(),
		Leaderboard: s.Leaderboard(),
		Hand:        s.Hand(viewerID, cards),
		PlayedCards: s.PlayedCards(viewerID, cards),
		PlayedCount: len(s.Plays),
		MinPlayers:  minPlayers,
	}

	if p, ok := s.Player(viewerID); ok {
		info := p.ToInfo()
		view.You = &info
	}
	if s.Round != nil {
		view.Situation = s.Round.Situation
		view.RoundWinner = s.Round.WinnerID
	}
	for _, play := range s.Plays {
		if play.PlayerID == viewerID {
			view.HasPlayed = true
		}
	}
	for _, vote := range s.Votes {
		if vote.VoterID == viewerID {
			view.VotedPlayID = vote.PlayID
		}
	}
	if !s.Deadline.IsZero() {
		deadline := s.Deadline
		view.Deadline = &deadline
	}
	view.CanStart = view.Phase == domain.PhaseWaiting && game.IsLeader(viewerID) && len(s.Players) >= minPlayers

	return view
}
