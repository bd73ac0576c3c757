package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/valet/ai/command"
	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/server/auth"
)

type commandRequest struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id"`
}

type commandResponse struct {
	Kind           string  `json:"kind"`
	Confidence     float64 `json:"confidence"`
	Queued         bool    `json:"queued"`
	ApprovalID     string  `json:"approval_id,omitempty"`
	Reply          string  `json:"reply,omitempty"`
	ConversationID string  `json:"conversation_id,omitempty"`
}

// ExecuteCommand classifies and routes one utterance. Side-effecting
// commands answer 202 with the approval id; conversational ones answer
// 200 with the reply.
func (s *APIV1Service) ExecuteCommand(c echo.Context) error {
	req := &commandRequest{}
	if err := c.Bind(req); err != nil {
		return s.respondError(c, errkind.Wrap(errkind.Validation, err, "malformed request"))
	}

	out, err := s.Dispatcher.Handle(c.Request().Context(), auth.UserFrom(c), req.ConversationID, req.Text)
	if err != nil {
		return s.respondError(c, err)
	}

	resp := commandResponse{
		Kind:           string(out.Intent.Kind),
		Confidence:     out.Intent.Confidence,
		Queued:         out.Queued,
		Reply:          out.Reply,
		ConversationID: out.ConversationID,
	}
	status := http.StatusOK
	if out.Queued {
		status = http.StatusAccepted
		resp.ApprovalID = out.Approval.ID
	}
	return c.JSON(status, resp)
}

type parseResponse struct {
	Intent        command.Intent `json:"intent"`
	SideEffecting bool           `json:"side_effecting"`
}

// ParseCommand classifies an utterance without executing it, so clients
// can preview what a command would do.
func (s *APIV1Service) ParseCommand(c echo.Context) error {
	req := &commandRequest{}
	if err := c.Bind(req); err != nil {
		return s.respondError(c, errkind.Wrap(errkind.Validation, err, "malformed request"))
	}

	intent, err := s.Dispatcher.Parse(req.Text)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, parseResponse{
		Intent:        intent,
		SideEffecting: intent.SideEffecting(),
	})
}
