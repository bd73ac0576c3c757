package v1

import (
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/valet/internal/errkind"
)

// statusOf maps the error taxonomy onto HTTP status codes.
func statusOf(kind errkind.Kind) int {
	switch kind {
	case errkind.Validation:
		return http.StatusBadRequest
	case errkind.Unauthorized:
		return http.StatusUnauthorized
	case errkind.Forbidden:
		return http.StatusForbidden
	case errkind.NotFound:
		return http.StatusNotFound
	case errkind.Conflict:
		return http.StatusConflict
	case errkind.RateLimited:
		return http.StatusTooManyRequests
	case errkind.UpstreamUnavailable:
		return http.StatusServiceUnavailable
	case errkind.UpstreamError:
		return http.StatusBadGateway
	case errkind.Cancelled:
		// Client closed request; nginx convention.
		return 499
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// respondError renders a kinded error. Internal details are redacted
// outside dev mode; retry hints surface as Retry-After.
func (s *APIV1Service) respondError(c echo.Context, err error) error {
	kind := errkind.KindOf(err)
	status := statusOf(kind)

	message := err.Error()
	if kind == errkind.Internal && s.Profile.IsProd() {
		message = "internal error"
	}
	if retryAfter := errkind.RetryAfterOf(err); retryAfter > 0 {
		seconds := int(math.Ceil(retryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	return c.JSON(status, errorBody{Code: kind.String(), Message: message})
}
