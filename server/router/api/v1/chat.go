package v1

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/server/auth"
)

type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

type chatResponse struct {
	ConversationID string `json:"conversation_id"`
	Reply          string `json:"reply"`
	Model          string `json:"model,omitempty"`
	Degraded       bool   `json:"degraded"`
	Usage          any    `json:"usage,omitempty"`
}

// Chat runs one synchronous chat turn.
func (s *APIV1Service) Chat(c echo.Context) error {
	req := &chatRequest{}
	if err := c.Bind(req); err != nil {
		return s.respondError(c, errkind.Wrap(errkind.Validation, err, "malformed request"))
	}

	started := time.Now()
	convID, completion, err := s.Conversations.Chat(c.Request().Context(), auth.UserFrom(c), req.ConversationID, req.Message)
	if err != nil {
		s.observeChat("error", started)
		return s.respondError(c, err)
	}
	outcome := "ok"
	if completion.Degraded {
		outcome = "degraded"
		if s.Metrics != nil {
			s.Metrics.Degraded()
		}
	}
	s.observeChat(outcome, started)

	return c.JSON(http.StatusOK, chatResponse{
		ConversationID: convID,
		Reply:          completion.Content,
		Model:          completion.Model,
		Degraded:       completion.Degraded,
		Usage:          completion.Usage,
	})
}

// ChatStream runs one streaming chat turn over SSE. Deltas arrive as
// "message" events; the terminal "done" event carries the usage.
func (s *APIV1Service) ChatStream(c echo.Context) error {
	req := &chatRequest{}
	if err := c.Bind(req); err != nil {
		return s.respondError(c, errkind.Wrap(errkind.Validation, err, "malformed request"))
	}

	started := time.Now()
	convID, stream, err := s.Conversations.ChatStream(c.Request().Context(), auth.UserFrom(c), req.ConversationID, req.Message)
	if err != nil {
		s.observeChat("error", started)
		return s.respondError(c, err)
	}
	defer stream.Close()

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	for {
		delta, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			// The SSE status is already committed; surface the failure as
			// an error event and end the stream.
			writeSSE(c, "error", map[string]string{"code": errkind.KindOf(err).String()})
			s.observeChat("error", started)
			return nil
		}
		if delta.Content != "" {
			if err := writeSSE(c, "message", map[string]string{"content": delta.Content}); err != nil {
				return nil
			}
		}
		if delta.Usage != nil {
			_ = writeSSE(c, "done", map[string]any{
				"conversation_id": convID,
				"usage":           delta.Usage,
			})
		}
	}
	s.observeChat("ok", started)
	return nil
}

func writeSSE(c echo.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}

func (s *APIV1Service) observeChat(outcome string, started time.Time) {
	if s.Metrics != nil {
		s.Metrics.ObserveChat(outcome, time.Since(started))
	}
}

// ListConversations returns the principal's conversations.
func (s *APIV1Service) ListConversations(c echo.Context) error {
	list, err := s.Conversations.List(c.Request().Context(), auth.UserFrom(c))
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

// ListMessages returns one conversation's history.
func (s *APIV1Service) ListMessages(c echo.Context) error {
	messages, err := s.Conversations.History(c.Request().Context(), auth.UserFrom(c), c.Param("id"))
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, messages)
}

// DeleteConversation removes one conversation and its messages.
func (s *APIV1Service) DeleteConversation(c echo.Context) error {
	if err := s.Conversations.Delete(c.Request().Context(), auth.UserFrom(c), c.Param("id")); err != nil {
		return s.respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
