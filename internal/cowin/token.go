package cowin

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// parserUnverified reads claims without checking the signature; the server is the
// only party that can verify the token.
var parserUnverified = jwt.NewParser()

// Token is the bearer credential of one authenticated run.
type Token struct {
	raw       string
	expiresAt time.Time
}

// ParseToken builds a Token from the value the site keeps in sessionStorage.
// The site stores it JSON-encoded, so surrounding quotes are stripped. If the value
// is a JWT carrying an exp claim, the expiry is recorded.
func ParseToken(stored string) (Token, error) {
	raw := strings.TrimSpace(stored)
	if strings.HasPrefix(raw, `"`) {
		var unquoted string
		if err := json.Unmarshal([]byte(raw), &unquoted); err != nil {
			return Token{}, fmt.Errorf("malformed stored token: %w", err)
		}
		raw = unquoted
	}
	if raw == "" || raw == "null" {
		return Token{}, ErrNoToken
	}

	tok := Token{raw: raw}
	parsed, _, err := parserUnverified.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		// Opaque tokens are fine; they just never report expiry.
		return tok, nil
	}
	if exp, err := parsed.Claims.GetExpirationTime(); err == nil && exp != nil {
		tok.expiresAt = exp.Time
	}
	return tok, nil
}

// NewToken wraps an already-unquoted credential.
func NewToken(raw string) Token {
	return Token{raw: raw}
}

// String returns the raw credential.
func (t Token) String() string { return t.raw }

// IsZero reports whether no credential is held.
func (t Token) IsZero() bool { return t.raw == "" }

// ExpiresAt returns the decoded expiry, or the zero time if unknown.
func (t Token) ExpiresAt() time.Time { return t.expiresAt }

// Expired reports whether the token is known to be expired at now.
func (t Token) Expired(now time.Time) bool {
	return !t.expiresAt.IsZero() && !now.Before(t.expiresAt)
}

// bearer renders the authorization header value.
func (t Token) bearer() string { return "Bearer " + t.raw }
