package v1

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/valet/server/auth"
)

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueSession exchanges the presented credential for a short-lived
// session token. The route sits behind bearer auth, so the principal is
// already resolved.
func (s *APIV1Service) IssueSession(c echo.Context) error {
	token, expires, err := s.Sessions.Issue(auth.UserFrom(c))
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, sessionResponse{Token: token, ExpiresAt: expires})
}
