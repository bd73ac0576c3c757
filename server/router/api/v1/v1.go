// Package v1 is the JSON API surface. Handlers stay thin: bind, call
// the service, map the error taxonomy onto HTTP.
package v1

import (
	"github.com/labstack/echo/v4"

	"github.com/hrygo/valet/ai/gateway"
	"github.com/hrygo/valet/internal/metrics"
	"github.com/hrygo/valet/internal/profile"
	"github.com/hrygo/valet/server/auth"
	"github.com/hrygo/valet/server/service/approval"
	"github.com/hrygo/valet/server/service/conversation"
	"github.com/hrygo/valet/server/service/dispatch"
	"github.com/hrygo/valet/server/service/reminder"
	"github.com/hrygo/valet/store"
)

type APIV1Service struct {
	Profile *profile.Profile
	Store   *store.Store
	Metrics *metrics.Metrics

	Gateway       *gateway.Gateway
	Conversations *conversation.Service
	Reminders     *reminder.Service
	Approvals     *approval.Service
	Dispatcher    *dispatch.Dispatcher
	Sessions      *auth.SessionIssuer
}

func NewAPIV1Service(p *profile.Profile, st *store.Store, m *metrics.Metrics,
	gw *gateway.Gateway, conversations *conversation.Service, reminders *reminder.Service,
	approvals *approval.Service, dispatcher *dispatch.Dispatcher, sessions *auth.SessionIssuer) *APIV1Service {
	return &APIV1Service{
		Profile:       p,
		Store:         st,
		Metrics:       m,
		Gateway:       gw,
		Conversations: conversations,
		Reminders:     reminders,
		Approvals:     approvals,
		Dispatcher:    dispatcher,
		Sessions:      sessions,
	}
}

// RegisterRoutes mounts the authenticated surface under g (/v1).
func (s *APIV1Service) RegisterRoutes(g *echo.Group) {
	g.POST("/auth/session", s.IssueSession)

	g.POST("/chat", s.Chat)
	g.POST("/chat/stream", s.ChatStream)
	g.GET("/conversations", s.ListConversations)
	g.GET("/conversations/:id/messages", s.ListMessages)
	g.DELETE("/conversations/:id", s.DeleteConversation)

	g.POST("/commands", s.ExecuteCommand)
	g.POST("/commands/parse", s.ParseCommand)

	g.GET("/approvals", s.ListApprovals)
	g.GET("/approvals/:id", s.GetApproval)
	g.POST("/approvals/:id/approve", s.decideHandler(approval.DecisionApprove))
	g.POST("/approvals/:id/deny", s.decideHandler(approval.DecisionDeny))
	g.POST("/approvals/:id/cancel", s.decideHandler(approval.DecisionCancel))

	g.GET("/reminders", s.ListReminders)

	g.GET("/system/status", s.SystemStatus)
}
