package v1

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/server/auth"
	"github.com/hrygo/valet/server/service/approval"
	"github.com/hrygo/valet/store"
)

type approvalResponse struct {
	ID        string          `json:"id"`
	State     string          `json:"state"`
	Intent    json.RawMessage `json:"intent"`
	Result    string          `json:"result,omitempty"`
	CreatedTs int64           `json:"created_ts"`
	DecidedTs int64           `json:"decided_ts,omitempty"`
	ExpiresTs int64           `json:"expires_ts"`
}

func toApprovalResponse(a *store.ApprovalRequest) approvalResponse {
	return approvalResponse{
		ID:        a.ID,
		State:     string(a.State),
		Intent:    json.RawMessage(a.Intent),
		Result:    a.Result,
		CreatedTs: a.CreatedTs,
		DecidedTs: a.DecidedTs,
		ExpiresTs: a.ExpiresTs,
	}
}

// ListApprovals returns the principal's requests, optionally filtered by
// ?state=PENDING.
func (s *APIV1Service) ListApprovals(c echo.Context) error {
	var state *store.ApprovalState
	if raw := c.QueryParam("state"); raw != "" {
		st := store.ApprovalState(raw)
		switch st {
		case store.ApprovalPending, store.ApprovalApproved, store.ApprovalDenied,
			store.ApprovalCancelled, store.ApprovalExpired:
			state = &st
		default:
			return s.respondError(c, errkind.Newf(errkind.Validation, "unknown state %q", raw))
		}
	}

	list, err := s.Approvals.List(c.Request().Context(), auth.UserFrom(c), state, 0)
	if err != nil {
		return s.respondError(c, err)
	}
	out := make([]approvalResponse, 0, len(list))
	for _, a := range list {
		out = append(out, toApprovalResponse(a))
	}
	return c.JSON(http.StatusOK, out)
}

// GetApproval returns one request.
func (s *APIV1Service) GetApproval(c echo.Context) error {
	a, err := s.Approvals.Get(c.Request().Context(), auth.UserFrom(c), c.Param("id"))
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, toApprovalResponse(a))
}

// decideHandler builds the approve/deny/cancel handler for one decision.
func (s *APIV1Service) decideHandler(decision approval.Decision) echo.HandlerFunc {
	return func(c echo.Context) error {
		a, err := s.Approvals.Decide(c.Request().Context(), auth.UserFrom(c), c.Param("id"), decision)
		if err != nil {
			return s.respondError(c, err)
		}
		return c.JSON(http.StatusOK, toApprovalResponse(a))
	}
}
