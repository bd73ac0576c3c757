// Package server assembles the assistant: store, cache, gateway,
// domain services, HTTP surface, and the periodic tasks.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/hrygo/valet/ai/breaker"
	"github.com/hrygo/valet/ai/cache"
	"github.com/hrygo/valet/ai/command"
	"github.com/hrygo/valet/ai/embedding"
	"github.com/hrygo/valet/ai/gateway"
	"github.com/hrygo/valet/ai/llm"
	"github.com/hrygo/valet/ai/memory"
	"github.com/hrygo/valet/internal/metrics"
	"github.com/hrygo/valet/internal/profile"
	"github.com/hrygo/valet/plugin/collab"
	"github.com/hrygo/valet/plugin/telegram"
	"github.com/hrygo/valet/ports"
	"github.com/hrygo/valet/server/auth"
	apiv1 "github.com/hrygo/valet/server/router/api/v1"
	"github.com/hrygo/valet/server/service/approval"
	"github.com/hrygo/valet/server/service/conversation"
	"github.com/hrygo/valet/server/service/dispatch"
	"github.com/hrygo/valet/server/service/reminder"
	"github.com/hrygo/valet/store"
)

// Server owns every long-lived component and the echo instance.
type Server struct {
	Profile *profile.Profile
	Store   *store.Store
	Metrics *metrics.Metrics

	echo      *echo.Echo
	clock     ports.Clock
	tiered    *cache.Tiered
	gateway   *gateway.Gateway
	memory    *memory.Service
	limiter   *auth.RateLimiter
	approvals *approval.Service
	reminders *reminder.Service
	telegram  *telegram.Messenger

	wg sync.WaitGroup
}

// NewServer wires the whole system. It migrates the schema, loads the
// memory key, and registers every route, but starts nothing.
func NewServer(ctx context.Context, p *profile.Profile, st *store.Store) (*Server, error) {
	if err := st.Migrate(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to migrate schema")
	}

	clock := ports.SystemClock{}
	m := metrics.New()

	var l2 *cache.L2
	if p.CacheL2Path != "" {
		var err error
		if l2, err = cache.NewL2(p.CacheL2Path, clock); err != nil {
			return nil, errors.Wrap(err, "failed to open l2 cache")
		}
	}
	tiered := cache.NewTiered(l2, cache.Options{
		L1Capacity: p.CacheL1MaxEntries,
		TTLShort:   p.CacheTTLShort,
		TTLMedium:  p.CacheTTLMedium,
		TTLLong:    p.CacheTTLLong,
		TTLDynamic: p.CacheTTLDynamic,
		TTLStable:  p.CacheTTLStable,
		SweepEvery: p.CacheSweep,
		Clock:      clock,
	})

	brk := breaker.New(breaker.Options{
		FailureThreshold: p.DegradedFailureThreshold,
		SuccessThreshold: p.DegradedSuccessThreshold,
		OpenDuration:     p.DegradedCooldown,
		Clock:            clock,
		OnStateChange: func(_, to breaker.State) {
			m.SetBreakerState(int(to))
			slog.Warn("inference breaker transitioned", "state", to.String())
		},
	})

	backend, err := llm.NewService(&llm.Config{
		Model:       p.InferenceModel,
		APIKey:      p.InferenceAPIKey,
		BaseURL:     p.InferenceBaseURL,
		MaxTokens:   p.InferenceMaxTokens,
		Temperature: p.InferenceTemperature,
		Timeout:     int(p.InferenceTimeout.Seconds()),
	})
	if err != nil {
		return nil, err
	}

	gw := gateway.New(backend, tiered, brk, gateway.DegradedConfig{
		Enabled: p.DegradedEnabled,
		Message: p.DegradedMessage,
	}, func(ev gateway.Event) {
		switch ev {
		case gateway.EventCacheHit:
			m.CacheHit()
		case gateway.EventCacheMiss:
			m.CacheMiss()
		case gateway.EventDegradedServed:
			m.Degraded()
		}
	})

	var mem *memory.Service
	if p.MemoryEnabled {
		keyPath := p.MemoryKeyPath
		if keyPath == "" {
			keyPath = filepath.Join(p.Data, "memory.key")
		}
		key, err := memory.LoadOrCreateKey(keyPath, p.FreshInstall)
		if err != nil {
			return nil, err
		}
		embedBase := p.EmbeddingBaseURL
		if embedBase == "" {
			embedBase = p.InferenceBaseURL
		}
		embedder, err := embedding.NewService(&embedding.Config{
			Model:      p.EmbeddingModel,
			APIKey:     p.InferenceAPIKey,
			BaseURL:    embedBase,
			Dimensions: p.EmbeddingDim,
		})
		if err != nil {
			return nil, err
		}
		mem = memory.NewService(st, embedder, clock, key, memory.Options{
			MergeThreshold: p.MergeThreshold,
			RAGThreshold:   p.RAGThreshold,
			DecayFactor:    p.DecayFactor,
			MinImportance:  p.MinImportance,
		})
	}

	conversations := conversation.NewService(st, gw, mem, clock, conversation.Options{
		Model:       p.InferenceModel,
		MaxTokens:   p.InferenceMaxTokens,
		Temperature: p.InferenceTemperature,
		RAGLimit:    p.RAGLimit,
	})

	mail := collab.NewInMemoryMail()
	weather := &collab.StaticWeather{Clock: clock}
	search := collab.NewChainSearch(&collab.StaticSearch{})

	// Calendar reads go through the cache; mutations drop the namespace.
	var calendar ports.Calendar = cache.NewCachedCalendar(collab.NewInMemoryCalendar(), tiered)

	briefingAt, err := profile.ParseBriefingTime(p.BriefingTime)
	if err != nil {
		return nil, err
	}
	reminders := reminder.NewService(st, clock, nil, calendar, weather, reminder.Options{
		MaxSnooze:           p.MaxSnooze,
		DefaultSnooze:       p.DefaultSnooze,
		Lead:                p.ReminderLead,
		TickEvery:           p.ReminderTick,
		SyncEvery:           p.CalendarSync,
		BriefingAt:          briefingAt,
		RetryBackoff:        p.DispatchBackoff,
		MaxDispatchAttempts: p.MaxDispatchAttempts,
		Recipients:          p.TelegramRecipients,
		OnDispatch:          m.ReminderDispatch,
	})

	dispatcher := dispatch.New(command.NewParser(clock), conversations, reminders,
		mail, calendar, weather, search, tiered, dispatch.Options{})
	approvals := approval.NewService(st, dispatcher, clock, approval.Options{
		TTL:        p.ApprovalTTL,
		SweepEvery: p.ApprovalSweep,
	})
	dispatcher.SetApprovals(approvals)

	s := &Server{
		Profile:   p,
		Store:     st,
		Metrics:   m,
		clock:     clock,
		tiered:    tiered,
		gateway:   gw,
		memory:    mem,
		approvals: approvals,
		reminders: reminders,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(auth.CorrelationMiddleware())
	e.Use(auth.LoggingMiddleware())

	// Health and metrics stay outside admission.
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/ready", s.ready)
	e.GET("/ready/all", s.readyAll)
	e.GET("/metrics", func(c echo.Context) error {
		snap, err := m.Snapshot()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "metrics gather failed"})
		}
		return c.JSON(http.StatusOK, snap)
	})
	e.GET("/metrics/prometheus", echo.WrapHandler(m.Handler()))

	if p.TelegramToken != "" {
		tg, err := telegram.New(telegram.Options{
			Token:         p.TelegramToken,
			WebhookSecret: p.TelegramWebhookSecret,
			Recipients:    p.TelegramRecipients,
			Metrics:       m,
		}, func(ctx context.Context, principal ports.UserID, text string) (string, error) {
			out, err := dispatcher.Handle(ctx, principal, "", text)
			if err != nil {
				return "", err
			}
			return out.Reply, nil
		})
		if err != nil {
			return nil, err
		}
		s.telegram = tg
		reminders.SetMessenger(tg)
		tg.RegisterWebhook(e, "/webhook/telegram")
	}

	s.limiter = auth.NewRateLimiter(float64(p.RateLimitRPM)/60, p.RateLimitBurst, clock)
	sessions, err := auth.NewSessionIssuer(p.SessionTTL, clock)
	if err != nil {
		return nil, err
	}
	authenticator := auth.NewAuthenticator(p.Credentials, sessions)

	v1 := e.Group("/v1",
		auth.RateLimitMiddleware(s.limiter),
		auth.BearerAuthMiddleware(authenticator),
	)
	api := apiv1.NewAPIV1Service(p, st, m, gw, conversations, reminders, approvals, dispatcher, sessions)
	api.RegisterRoutes(v1)

	s.echo = e
	return s, nil
}

// ready reports whether the server can do useful work: the store must
// answer and the inference path must be usable, where degraded mode
// still counts as usable.
func (s *Server) ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := s.Store.GetDriver().GetDB().PingContext(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "store unavailable"})
	}
	if err := s.gateway.Health(ctx); err != nil && !s.Profile.DegradedEnabled {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "inference unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

// readyAll reports per-component readiness. The response is 200 even
// when a component is down; callers inspect the map.
func (s *Server) readyAll(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	components := map[string]string{
		"store":     "ok",
		"inference": "ok",
		"messenger": "not configured",
	}
	if err := s.Store.GetDriver().GetDB().PingContext(ctx); err != nil {
		components["store"] = err.Error()
	}
	if err := s.gateway.Health(ctx); err != nil {
		components["inference"] = err.Error()
	}
	if s.telegram != nil {
		components["messenger"] = "ok"
	}
	if s.memory != nil {
		components["memory"] = "ok"
	}
	return c.JSON(http.StatusOK, components)
}

// Start arms the periodic tasks and serves HTTP until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	s.background(ctx, s.approvals.RunSweeper)
	s.background(ctx, s.reminders.Run)
	s.background(ctx, s.tiered.RunSweeper)
	s.background(ctx, s.runMemoryDecay)
	s.background(ctx, s.runLimiterCleanup)
	if s.telegram != nil {
		s.background(ctx, s.telegram.Run)
	}

	addr := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	slog.Info("server listening", "addr", addr, "version", s.Profile.Version, "mode", s.Profile.Mode)
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) background(ctx context.Context, run func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		run(ctx)
	}()
}

// runMemoryDecay periodically decays and sweeps every provisioned
// user's memories.
func (s *Server) runMemoryDecay(ctx context.Context) {
	if s.memory == nil {
		return
	}
	every := s.Profile.MemoryDecaySweep
	if every <= 0 {
		every = time.Hour
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, cred := range s.Profile.Credentials {
				if _, err := s.memory.Decay(ctx, cred.UserID); err != nil {
					slog.Warn("memory decay failed", "user", cred.UserID, "error", err)
					continue
				}
				if n, err := s.memory.Cleanup(ctx, cred.UserID); err != nil {
					slog.Warn("memory cleanup failed", "user", cred.UserID, "error", err)
				} else if n > 0 {
					slog.Info("swept faded memories", "user", cred.UserID, "count", n)
				}
			}
		}
	}
}

func (s *Server) runLimiterCleanup(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Cleanup()
		}
	}
}

// Shutdown drains in-flight requests within the configured grace and
// waits for the periodic tasks, which stop with the parent context.
func (s *Server) Shutdown(ctx context.Context) {
	drain, cancel := context.WithTimeout(ctx, s.Profile.ShutdownGrace)
	defer cancel()
	if err := s.echo.Shutdown(drain); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
	s.wg.Wait()
	if err := s.Store.Close(); err != nil {
		slog.Error("store close failed", "error", err)
	}
	slog.Info("server stopped")
}
