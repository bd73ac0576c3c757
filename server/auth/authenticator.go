package auth

import (
	"log/slog"

	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/internal/profile"
	"github.com/hrygo/valet/ports"
)

// Authenticator resolves bearer tokens to principals: first as a
// session token, then against the configured credential digests. Digest
// verification runs against every configured digest, so response time
// does not leak which credential matched.
type Authenticator struct {
	credentials []profile.Credential
	sessions    *SessionIssuer
}

// NewAuthenticator builds an authenticator. sessions may be nil, in
// which case only credential digests are accepted.
func NewAuthenticator(credentials []profile.Credential, sessions *SessionIssuer) *Authenticator {
	return &Authenticator{credentials: credentials, sessions: sessions}
}

// Authenticate returns the principal for the presented credential. The
// error never reveals whether any credential exists.
func (a *Authenticator) Authenticate(secret string) (ports.UserID, error) {
	if secret == "" {
		return "", errkind.New(errkind.Unauthorized, "missing credential")
	}

	if a.sessions != nil {
		if principal, err := a.sessions.Verify(secret); err == nil {
			return principal, nil
		}
	}

	var matched ports.UserID
	for _, cred := range a.credentials {
		ok, err := VerifyCredential(secret, cred.Digest)
		if err != nil {
			slog.Warn("skipping malformed credential digest", "user", cred.UserID)
			continue
		}
		if ok && matched == "" {
			matched = ports.UserID(cred.UserID)
		}
	}
	if matched == "" {
		return "", errkind.New(errkind.Unauthorized, "invalid credential")
	}
	return matched, nil
}
