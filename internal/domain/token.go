package domain

import "strings"

// SessionToken identifies a player in a game. Clients keep it between page
// loads and the server validates it against the repository before use.
type SessionToken struct {
	Code     string `json:"code"`
	PlayerID string `json:"playerId"`
}

// String encodes the token as "CODE.playerID"
func (t SessionToken) String() string {
	return t.Code + "." + t.PlayerID
}

// IsZero reports whether the token is empty
func (t SessionToken) IsZero() bool {
	return t.Code == "" && t.PlayerID == ""
}

// ParseSessionToken decodes a token produced by String
func ParseSessionToken(s string) (SessionToken, bool) {
	code, playerID, ok := strings.Cut(s, ".")
	if !ok || code == "" || playerID == "" {
		return SessionToken{}, false
	}
	return SessionToken{Code: NormalizeCode(code), PlayerID: playerID}, true
}
