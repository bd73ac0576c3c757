package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/internal/profile"
	"github.com/hrygo/valet/ports"
	"github.com/hrygo/valet/ports/porttest"
)

func TestHashAndVerifyCredential(t *testing.T) {
	digest, err := HashCredential("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(digest, "$argon2id$v=19$"))
	assert.NotContains(t, digest, "correct horse")

	ok, err := VerifyCredential("correct horse battery staple", digest)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyCredential("wrong secret", digest)
	require.NoError(t, err)
	assert.False(t, ok)

	// Same secret hashes to different digests (random salt).
	digest2, err := HashCredential("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, digest, digest2)

	_, err = VerifyCredential("anything", "plaintext-not-a-digest")
	assert.Error(t, err)
}

func TestAuthenticator(t *testing.T) {
	digest, err := HashCredential("alice-secret")
	require.NoError(t, err)
	a := NewAuthenticator([]profile.Credential{{Digest: digest, UserID: "alice"}}, nil)

	userID, err := a.Authenticate("alice-secret")
	require.NoError(t, err)
	assert.Equal(t, ports.UserID("alice"), userID)

	_, err = a.Authenticate("bob-secret")
	require.Error(t, err)
	assert.Equal(t, errkind.Unauthorized, errkind.KindOf(err))

	_, err = a.Authenticate("")
	require.Error(t, err)
	assert.Equal(t, errkind.Unauthorized, errkind.KindOf(err))
}

func TestSessionIssuer_RoundTrip(t *testing.T) {
	clock := porttest.NewFakeClock(time.Unix(1_700_000_000, 0))
	issuer, err := NewSessionIssuer(time.Hour, clock)
	require.NoError(t, err)

	token, expires, err := issuer.Issue("alice")
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(time.Hour), expires)

	principal, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, ports.UserID("alice"), principal)

	// Expired tokens are rejected.
	clock.Advance(time.Hour + time.Second)
	_, err = issuer.Verify(token)
	require.Error(t, err)
	assert.Equal(t, errkind.Unauthorized, errkind.KindOf(err))
}

func TestSessionIssuer_RejectsForeignKey(t *testing.T) {
	clock := porttest.NewFakeClock(time.Unix(1_700_000_000, 0))
	issuer, err := NewSessionIssuer(time.Hour, clock)
	require.NoError(t, err)
	other, err := NewSessionIssuer(time.Hour, clock)
	require.NoError(t, err)

	token, _, err := other.Issue("alice")
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	require.Error(t, err)
	assert.Equal(t, errkind.Unauthorized, errkind.KindOf(err))

	_, err = issuer.Verify("not-a-token")
	require.Error(t, err)
}

func TestAuthenticator_AcceptsSessionToken(t *testing.T) {
	clock := porttest.NewFakeClock(time.Unix(1_700_000_000, 0))
	issuer, err := NewSessionIssuer(time.Hour, clock)
	require.NoError(t, err)
	digest, err := HashCredential("alice-secret")
	require.NoError(t, err)
	a := NewAuthenticator([]profile.Credential{{Digest: digest, UserID: "alice"}}, issuer)

	token, _, err := issuer.Issue("alice")
	require.NoError(t, err)

	// Both the session token and the raw credential resolve the
	// principal.
	principal, err := a.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, ports.UserID("alice"), principal)

	principal, err = a.Authenticate("alice-secret")
	require.NoError(t, err)
	assert.Equal(t, ports.UserID("alice"), principal)

	clock.Advance(2 * time.Hour)
	_, err = a.Authenticate(token)
	require.Error(t, err)
}

func TestRateLimiter_PerAddress(t *testing.T) {
	clock := porttest.NewFakeClock(time.Unix(1_700_000_000, 0))
	limiter := NewRateLimiter(1, 2, clock)

	ok, _ := limiter.Allow("10.0.0.1")
	assert.True(t, ok)
	ok, _ = limiter.Allow("10.0.0.1")
	assert.True(t, ok)
	ok, retryAfter := limiter.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.Greater(t, retryAfter, time.Duration(0))

	// A different address has its own bucket.
	ok, _ = limiter.Allow("10.0.0.2")
	assert.True(t, ok)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	clock := porttest.NewFakeClock(time.Unix(1_700_000_000, 0))
	limiter := NewRateLimiter(1, 1, clock)

	limiter.Allow("10.0.0.1")
	limiter.Allow("10.0.0.2")
	assert.Equal(t, 2, limiter.Size())

	clock.Advance(5 * time.Minute)
	limiter.Allow("10.0.0.2")
	clock.Advance(6 * time.Minute)

	assert.Equal(t, 1, limiter.Cleanup())
	assert.Equal(t, 1, limiter.Size())
}

func newEchoContext(req *http.Request) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestCorrelationMiddleware(t *testing.T) {
	handler := CorrelationMiddleware()(func(c echo.Context) error {
		assert.NotEmpty(t, RequestIDFrom(c))
		return c.NoContent(http.StatusOK)
	})

	// Fresh id when the caller sends none.
	c, rec := newEchoContext(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, handler(c))
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))

	// Caller-provided id is echoed back.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-123")
	c, rec = newEchoContext(req)
	require.NoError(t, handler(c))
	assert.Equal(t, "req-123", rec.Header().Get(HeaderRequestID))
}

func TestBearerAuthMiddleware(t *testing.T) {
	digest, err := HashCredential("alice-secret")
	require.NoError(t, err)
	a := NewAuthenticator([]profile.Credential{{Digest: digest, UserID: "alice"}}, nil)

	handler := BearerAuthMiddleware(a)(func(c echo.Context) error {
		assert.Equal(t, ports.UserID("alice"), UserFrom(c))
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer alice-secret")
	c, _ := newEchoContext(req)
	require.NoError(t, handler(c))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	c, _ = newEchoContext(req)
	err = handler(c)
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	clock := porttest.NewFakeClock(time.Unix(1_700_000_000, 0))
	limiter := NewRateLimiter(1, 1, clock)
	handler := RateLimitMiddleware(limiter)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	c, _ := newEchoContext(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, handler(c))

	c, rec := newEchoContext(httptest.NewRequest(http.MethodGet, "/", nil))
	err := handler(c)
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}
