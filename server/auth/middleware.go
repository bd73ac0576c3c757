package auth

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/valet/internal/idgen"
	"github.com/hrygo/valet/ports"
)

const (
	// HeaderRequestID carries the correlation id; echoed on every
	// response.
	HeaderRequestID = "X-Request-Id"

	contextKeyUserID    = "valet.user-id"
	contextKeyRequestID = "valet.request-id"
)

// UserFrom returns the authenticated principal, or "" before auth ran.
func UserFrom(c echo.Context) ports.UserID {
	if v, ok := c.Get(contextKeyUserID).(ports.UserID); ok {
		return v
	}
	return ""
}

// RequestIDFrom returns the correlation id assigned to the request.
func RequestIDFrom(c echo.Context) string {
	if v, ok := c.Get(contextKeyRequestID).(string); ok {
		return v
	}
	return ""
}

// CorrelationMiddleware assigns each request a correlation id, taking
// the caller's X-Request-Id when present, and echoes it back.
func CorrelationMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(HeaderRequestID)
			if id == "" {
				id = idgen.New()
			}
			c.Set(contextKeyRequestID, id)
			c.Response().Header().Set(HeaderRequestID, id)
			return next(c)
		}
	}
}

// LoggingMiddleware emits one structured line per request.
func LoggingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			attrs := []any{
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"request_id", RequestIDFrom(c),
			}
			if err != nil {
				slog.Warn("request failed", append(attrs, "error", err)...)
			} else {
				slog.Info("request", attrs...)
			}
			return err
		}
	}
}

// RateLimitMiddleware rejects clients over budget with 429 and a
// Retry-After hint.
func RateLimitMiddleware(limiter *RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ok, retryAfter := limiter.Allow(c.RealIP())
			if !ok {
				seconds := int(math.Ceil(retryAfter.Seconds()))
				if seconds < 1 {
					seconds = 1
				}
				c.Response().Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

// BearerAuthMiddleware authenticates Authorization: Bearer credentials
// and stores the principal in the request context.
func BearerAuthMiddleware(authenticator *Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer credential")
			}
			userID, err := authenticator.Authenticate(token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid credential")
			}
			c.Set(contextKeyUserID, userID)
			return next(c)
		}
	}
}
