package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/server/auth"
	"github.com/hrygo/valet/store"
)

type systemStatus struct {
	Version      string `json:"version"`
	Mode         string `json:"mode"`
	Driver       string `json:"driver"`
	BreakerState string `json:"breaker_state"`
}

// SystemStatus reports build and runtime state.
func (s *APIV1Service) SystemStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, systemStatus{
		Version:      s.Profile.Version,
		Mode:         s.Profile.Mode,
		Driver:       s.Profile.Driver,
		BreakerState: s.Gateway.Breaker().State().String(),
	})
}

// ListReminders returns the principal's reminders, optionally filtered
// by ?state=PENDING.
func (s *APIV1Service) ListReminders(c echo.Context) error {
	var state *store.ReminderState
	if raw := c.QueryParam("state"); raw != "" {
		st := store.ReminderState(raw)
		switch st {
		case store.ReminderPending, store.ReminderSent, store.ReminderAcknowledged,
			store.ReminderExpired, store.ReminderDeleted:
			state = &st
		default:
			return s.respondError(c, errkind.Newf(errkind.Validation, "unknown state %q", raw))
		}
	}

	list, err := s.Reminders.List(c.Request().Context(), auth.UserFrom(c), state)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}
