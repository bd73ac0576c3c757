package auth

import (
	"crypto/rand"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/ports"
)

// SessionIssuer mints short-lived HS256 session tokens so clients do
// not present the long-lived credential on every call. The signing key
// is generated per process; sessions do not survive a restart.
type SessionIssuer struct {
	key   []byte
	ttl   time.Duration
	clock ports.Clock
}

func NewSessionIssuer(ttl time.Duration, clock ports.Clock) (*SessionIssuer, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.Wrap(err, "failed to generate session key")
	}
	return &SessionIssuer{key: key, ttl: ttl, clock: clock}, nil
}

// Issue mints a token for the principal and returns it with its expiry.
func (s *SessionIssuer) Issue(principal ports.UserID) (string, time.Time, error) {
	now := s.clock.Now()
	expires := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   string(principal),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "failed to sign session token")
	}
	return signed, expires, nil
}

// Verify returns the principal of a valid, unexpired token.
func (s *SessionIssuer) Verify(token string) (ports.UserID, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", errkind.Wrap(errkind.Unauthorized, err, "invalid session token")
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", errkind.New(errkind.Unauthorized, "invalid session token")
	}
	return ports.UserID(claims.Subject), nil
}
