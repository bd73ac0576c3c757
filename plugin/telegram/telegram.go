// Package telegram implements the Messenger port over the Telegram Bot
// API and feeds inbound messages into the assistant, both via long
// polling and via a secret-guarded webhook.
package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/internal/metrics"
	"github.com/hrygo/valet/ports"
)

// Telegram's secret-token webhook header.
const headerSecretToken = "X-Telegram-Bot-Api-Secret-Token"

// Handler processes one inbound utterance and returns the reply text.
type Handler func(ctx context.Context, principal ports.UserID, text string) (string, error)

// Messenger sends through the Telegram Bot API. Recipients are chat ids.
type Messenger struct {
	bot           *tgbotapi.BotAPI
	webhookSecret string
	metrics       *metrics.Metrics

	// chat id -> principal, from the profile recipient map.
	principals map[string]ports.UserID
	handler    Handler
}

// Options configures the messenger.
type Options struct {
	Token         string
	WebhookSecret string
	// Recipients maps user id -> chat id; inbound routing inverts it.
	Recipients map[string]string
	Metrics    *metrics.Metrics
}

func New(opts Options, handler Handler) (*Messenger, error) {
	bot, err := tgbotapi.NewBotAPI(opts.Token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create telegram bot")
	}

	principals := make(map[string]ports.UserID, len(opts.Recipients))
	for userID, chatID := range opts.Recipients {
		principals[chatID] = ports.UserID(userID)
	}
	return &Messenger{
		bot:           bot,
		webhookSecret: opts.WebhookSecret,
		metrics:       opts.Metrics,
		principals:    principals,
		handler:       handler,
	}, nil
}

// SendText renders the markdown reply to Telegram HTML and sends it.
// Render failures fall back to plain text rather than dropping the
// notification.
func (m *Messenger) SendText(_ context.Context, recipient string, text string) error {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return errkind.Newf(errkind.Validation, "invalid chat id %q", recipient)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if html, err := RenderHTML(text); err == nil {
		msg.Text = html
		msg.ParseMode = tgbotapi.ModeHTML
	}
	if _, err := m.bot.Send(msg); err != nil {
		return errkind.Wrap(errkind.UpstreamUnavailable, err, "telegram send failed")
	}
	return nil
}

// SendAudio sends a synthesized voice reply.
func (m *Messenger) SendAudio(_ context.Context, recipient string, audio []byte) error {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return errkind.Newf(errkind.Validation, "invalid chat id %q", recipient)
	}
	voice := tgbotapi.NewVoice(chatID, tgbotapi.FileBytes{Name: "reply.ogg", Bytes: audio})
	if _, err := m.bot.Send(voice); err != nil {
		return errkind.Wrap(errkind.UpstreamUnavailable, err, "telegram send failed")
	}
	return nil
}

// Run long-polls for updates until ctx ends. Long polling and the
// webhook feed the same handling path; Telegram only delivers through
// one of them at a time.
func (m *Messenger) Run(ctx context.Context) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := m.bot.GetUpdatesChan(cfg)
	defer m.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			m.handleUpdate(ctx, &update)
		}
	}
}

// RegisterWebhook mounts the webhook route. Requests must carry the
// configured secret token; the comparison is constant time.
func (m *Messenger) RegisterWebhook(e *echo.Echo, path string) {
	e.POST(path, func(c echo.Context) error {
		if !m.verifySecret(c.Request().Header.Get(headerSecretToken)) {
			m.countWebhook("rejected")
			return c.NoContent(http.StatusUnauthorized)
		}
		m.countWebhook("ok")

		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return c.NoContent(http.StatusBadRequest)
		}
		update := &tgbotapi.Update{}
		if err := json.Unmarshal(body, update); err != nil {
			slog.Warn("malformed telegram webhook payload", "error", err)
			return c.NoContent(http.StatusBadRequest)
		}
		m.handleUpdate(c.Request().Context(), update)
		return c.NoContent(http.StatusOK)
	})
}

func (m *Messenger) verifySecret(token string) bool {
	if m.webhookSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(m.webhookSecret)) == 1
}

func (m *Messenger) countWebhook(outcome string) {
	if m.metrics != nil {
		m.metrics.WebhookVerification(outcome)
	}
}

func (m *Messenger) handleUpdate(ctx context.Context, update *tgbotapi.Update) {
	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	if msg == nil || msg.Text == "" || m.handler == nil {
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	principal, ok := m.principals[chatID]
	if !ok {
		// Unknown chats get no reply and no resources.
		slog.Warn("ignoring message from unprovisioned chat", "chat", chatID)
		return
	}

	reply, err := m.handler(ctx, principal, msg.Text)
	if err != nil {
		slog.Warn("inbound message handling failed", "chat", chatID, "error", err)
		reply = "Das hat leider nicht geklappt: " + errkind.KindOf(err).String()
	}
	if reply == "" {
		return
	}
	if err := m.SendText(ctx, chatID, reply); err != nil {
		slog.Warn("telegram reply failed", "chat", chatID, "error", err)
	}
}
