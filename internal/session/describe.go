package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Info is what can be read from a credential without verifying it. The
// client core treats tokens as opaque; Info is for display and for stamping
// an expiry on stored tokens.
type Info struct {
	JWT       bool
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token carries an expiry that has passed.
// Tokens without an expiry are never reported as expired.
func (i Info) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// Describe decodes the registered claims of a JWT without checking its
// signature. Opaque tokens yield a zero Info.
func Describe(token string) Info {
	if token == "" {
		return Info{}
	}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Info{}
	}

	info := Info{JWT: true, Subject: claims.Subject}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Time
	}

	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}

	return info
}

// oauthToken wraps a bearer string in the record the durable stores persist.
func oauthToken(token string) *oauth2.Token {
	return &oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
		Expiry:      Describe(token).ExpiresAt,
	}
}
