package domain

import "errors"

// Error categories. Every domain error wraps exactly one of these so callers
// can branch on the category with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConstraint = errors.New("constraint violated")
	ErrTransport  = errors.New("repository unavailable")
)

// Domain errors
var (
	ErrEmptyName          = validation("player name cannot be empty")
	ErrNameTooLong        = validation("player name is too long")
	ErrGameAlreadyStarted = validation("game already started")
	ErrGameFull           = validation("game is full")
	ErrNotEnoughPlayers   = validation("not enough players to start")
	ErrNotLeader          = validation("only the leader can perform this action")
	ErrLeaderCannotPlay   = validation("the leader does not play a card")
	ErrInvalidPhase       = validation("invalid action for current phase")
	ErrInvalidTransition  = validation("invalid phase transition")
	ErrCardNotInHand      = validation("card is not in your hand")
	ErrAlreadyPlayed      = validation("already played a card this round")
	ErrAlreadyVoted       = validation("already voted this round")
	ErrCannotVoteSelf     = validation("cannot vote for your own card")
	ErrPlayNotInRound     = validation("play does not belong to the current round")
	ErrPlayerNotInGame    = validation("player does not belong to this game")

	ErrGameNotFound   = notFound("game not found")
	ErrPlayerNotFound = notFound("player not found")
	ErrRoundNotFound  = notFound("round not found")
	ErrPlayNotFound   = notFound("play not found")

	ErrDuplicate = constraint("duplicate record")
	ErrStale     = constraint("record was modified concurrently")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

func validation(msg string) error { return &kindError{kind: ErrValidation, msg: msg} }

func notFound(msg string) error { return &kindError{kind: ErrNotFound, msg: msg} }

func constraint(msg string) error { return &kindError{kind: ErrConstraint, msg: msg} }

// Kind returns the category an error belongs to, or nil if it is not a
// domain error.
func Kind(err error) error {
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrConstraint, ErrTransport} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// errorCodes are the stable identifiers sent to clients
var errorCodes = []struct {
	err  error
	code string
}{
	{ErrEmptyName, "EMPTY_NAME"},
	{ErrNameTooLong, "NAME_TOO_LONG"},
	{ErrGameAlreadyStarted, "GAME_STARTED"},
	{ErrGameFull, "GAME_FULL"},
	{ErrNotEnoughPlayers, "NOT_ENOUGH_PLAYERS"},
	{ErrNotLeader, "NOT_LEADER"},
	{ErrLeaderCannotPlay, "LEADER_CANNOT_PLAY"},
	{ErrInvalidPhase, "INVALID_PHASE"},
	{ErrInvalidTransition, "INVALID_TRANSITION"},
	{ErrCardNotInHand, "CARD_NOT_IN_HAND"},
	{ErrAlreadyPlayed, "ALREADY_PLAYED"},
	{ErrAlreadyVoted, "ALREADY_VOTED"},
	{ErrCannotVoteSelf, "CANNOT_VOTE_SELF"},
	{ErrPlayNotInRound, "PLAY_NOT_IN_ROUND"},
	{ErrPlayerNotInGame, "PLAYER_NOT_IN_GAME"},
	{ErrGameNotFound, "GAME_NOT_FOUND"},
	{ErrPlayerNotFound, "PLAYER_NOT_FOUND"},
	{ErrRoundNotFound, "ROUND_NOT_FOUND"},
	{ErrPlayNotFound, "PLAY_NOT_FOUND"},
	{ErrStale, "CONFLICT"},
	{ErrDuplicate, "DUPLICATE"},
	{ErrValidation, "INVALID_REQUEST"},
	{ErrNotFound, "NOT_FOUND"},
	{ErrConstraint, "CONFLICT"},
	{ErrTransport, "UNAVAILABLE"},
}

// Code returns the client-facing code for an error, INTERNAL_ERROR when the
// error is not a domain error
func Code(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "INTERNAL_ERROR"
}
