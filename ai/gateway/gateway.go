// Package gateway composes the tiered cache, the circuit breaker and
// the degraded-mode fallback over the raw inference port. Layering from
// the outside in: degraded, cache, breaker, backend.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hrygo/valet/ai/breaker"
	"github.com/hrygo/valet/ai/cache"
	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/ports"
)

// Event identifies an observability hook firing.
type Event string

const (
	EventCacheHit       Event = "cache_hit"
	EventCacheMiss      Event = "cache_miss"
	EventBreakerOpen    Event = "breaker_open"
	EventDegradedServed Event = "degraded_served"
	EventBackendCall    Event = "backend_call"
)

// Hook receives gateway events. Hooks must be fast and non-blocking.
type Hook func(Event)

// DegradedConfig controls the canned fallback.
type DegradedConfig struct {
	Enabled bool
	Message string
}

// Options modulate a single call.
type Options struct {
	// CacheClass selects the TTL band for a cacheable completion.
	CacheClass cache.Class
	// SkipCache bypasses the cache tier entirely.
	SkipCache bool
}

// Gateway is safe for concurrent use.
type Gateway struct {
	backend  ports.Inference
	cache    *cache.Tiered
	brk      *breaker.Breaker
	degraded DegradedConfig
	hook     Hook
	// streamBuffer bounds in-flight deltas per stream; the producer
	// blocks on fullness instead of buffering unboundedly.
	streamBuffer int
}

// New builds a gateway. cache may be nil (no caching) and hook may be
// nil (no events).
func New(backend ports.Inference, tiered *cache.Tiered, brk *breaker.Breaker, degraded DegradedConfig, hook Hook) *Gateway {
	if brk == nil {
		brk = breaker.New(breaker.Options{})
	}
	if hook == nil {
		hook = func(Event) {}
	}
	return &Gateway{
		backend:      backend,
		cache:        tiered,
		brk:          brk,
		degraded:     degraded,
		hook:         hook,
		streamBuffer: 16,
	}
}

// Breaker exposes the breaker for health reporting.
func (g *Gateway) Breaker() *breaker.Breaker {
	return g.brk
}

// Generate serves a completion from the cache when possible, otherwise
// through the breaker to the backend. Upstream failures fall back to the
// degraded response when enabled.
func (g *Gateway) Generate(ctx context.Context, req ports.GenerateRequest, opts Options) (*ports.Completion, error) {
	if g.cache == nil || opts.SkipCache {
		completion, err := g.callBackend(ctx, req)
		if err != nil {
			return g.maybeDegrade(err)
		}
		return completion, nil
	}

	key := requestKey(req)
	cached := true
	raw, hit, err := g.cache.GetOrLoad(ctx, key, opts.CacheClass, func(ctx context.Context) ([]byte, error) {
		cached = false
		completion, err := g.callBackend(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(completion)
	})
	if err != nil {
		g.hook(EventCacheMiss)
		return g.maybeDegrade(err)
	}
	if hit || cached {
		g.hook(EventCacheHit)
	} else {
		g.hook(EventCacheMiss)
	}

	completion := &ports.Completion{}
	if err := json.Unmarshal(raw, completion); err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "corrupt cached completion")
	}
	return completion, nil
}

// GenerateStream opens a streaming generation. The returned stream
// always terminates with exactly one usage-carrying delta before io.EOF,
// including on mid-stream failure. Streaming never touches the cache.
func (g *Gateway) GenerateStream(ctx context.Context, req ports.GenerateRequest) (ports.Stream, error) {
	if err := g.brk.Allow(); err != nil {
		g.hook(EventBreakerOpen)
		if g.degraded.Enabled {
			g.hook(EventDegradedServed)
			return newCannedStream(g.degraded.Message), nil
		}
		return nil, g.withRetryAfter(err)
	}

	g.hook(EventBackendCall)
	inner, err := g.backend.GenerateStream(ctx, req)
	if err != nil {
		g.settle(err)
		// Caller errors always propagate; only upstream failures may be
		// masked by the canned response.
		if upstreamFailure(err) && g.degraded.Enabled {
			g.hook(EventDegradedServed)
			return newCannedStream(g.degraded.Message), nil
		}
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &pumpedStream{
		deltas: make(chan ports.Delta, g.streamBuffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go g.pump(ctx, inner, s)
	return s, nil
}

// Health reports backend reachability and the breaker state.
func (g *Gateway) Health(ctx context.Context) error {
	if g.brk.State() == breaker.StateOpen {
		return errkind.Newf(errkind.UpstreamUnavailable, "circuit breaker open, retry in %s", g.brk.RetryAfter().Round(time.Second))
	}
	return g.backend.Health(ctx)
}

// callBackend runs one request through the breaker.
func (g *Gateway) callBackend(ctx context.Context, req ports.GenerateRequest) (*ports.Completion, error) {
	if err := g.brk.Allow(); err != nil {
		g.hook(EventBreakerOpen)
		return nil, g.withRetryAfter(err)
	}
	g.hook(EventBackendCall)
	completion, err := g.backend.Generate(ctx, req)
	if err != nil {
		g.settle(err)
		return nil, err
	}
	g.brk.Success()
	return completion, nil
}

// upstreamFailure reports whether err blames the backend rather than
// the caller.
func upstreamFailure(err error) bool {
	switch errkind.KindOf(err) {
	case errkind.UpstreamUnavailable, errkind.UpstreamError:
		return true
	default:
		return false
	}
}

// settle records a failed backend call with the breaker. Upstream
// failures count against it; caller errors and cancellations only
// return the probe slot, so an admitted call always settles exactly
// once.
func (g *Gateway) settle(err error) {
	if upstreamFailure(err) {
		g.brk.Failure()
	} else {
		g.brk.Release()
	}
}

// maybeDegrade converts upstream failures into the canned completion
// when degraded mode is on. Caller errors always propagate.
func (g *Gateway) maybeDegrade(err error) (*ports.Completion, error) {
	if !upstreamFailure(err) || !g.degraded.Enabled {
		return nil, err
	}
	g.hook(EventDegradedServed)
	return &ports.Completion{
		Content:  g.degraded.Message,
		Degraded: true,
	}, nil
}

func (g *Gateway) withRetryAfter(err error) error {
	retryAfter := g.brk.RetryAfter()
	if retryAfter <= 0 {
		return err
	}
	return &errkind.Error{
		Err:        err,
		Msg:        "inference backend unavailable",
		Kind:       errkind.UpstreamUnavailable,
		RetryAfter: retryAfter,
	}
}

// requestKey hashes the output-relevant request fields. Client request
// ids and timeouts are deliberately absent.
func requestKey(req ports.GenerateRequest) string {
	parts := make([]string, 0, len(req.Messages)*2+3)
	parts = append(parts, req.Model,
		fmt.Sprintf("%d", req.MaxTokens),
		fmt.Sprintf("%.2f", req.Temperature))
	for _, m := range req.Messages {
		parts = append(parts, m.Role, m.Content)
	}
	return cache.Key(cache.NamespaceLLM, parts...)
}

// pump drains the backend stream into the bounded channel. The terminal
// usage delta is always delivered, even when the backend fails midway.
func (g *Gateway) pump(ctx context.Context, inner ports.Stream, s *pumpedStream) {
	defer close(s.deltas)
	defer inner.Close()

	for {
		delta, err := inner.Recv()
		if err == io.EOF {
			g.brk.Success()
			return
		}
		if err != nil {
			g.settle(err)
			slog.Warn("stream aborted", "error", err)
			// Deliver the end-marker so consumers always see one.
			select {
			case s.deltas <- ports.Delta{Usage: &ports.Usage{}}:
			case <-s.done:
			case <-ctx.Done():
			}
			return
		}
		select {
		case s.deltas <- delta:
		case <-s.done:
			// Consumer abandoned the stream before a terminal outcome;
			// the admitted probe slot must still be returned.
			g.brk.Release()
			return
		case <-ctx.Done():
			g.brk.Release()
			return
		}
	}
}

// pumpedStream adapts the producer channel back to the pull interface.
type pumpedStream struct {
	deltas    chan ports.Delta
	done      chan struct{}
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (s *pumpedStream) Recv() (ports.Delta, error) {
	delta, ok := <-s.deltas
	if !ok {
		return ports.Delta{}, io.EOF
	}
	return delta, nil
}

func (s *pumpedStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
	})
	return nil
}

// cannedStream emits the degraded message as one delta, then the
// end-marker.
type cannedStream struct {
	deltas []ports.Delta
	pos    int
}

func newCannedStream(message string) *cannedStream {
	return &cannedStream{deltas: []ports.Delta{
		{Content: message},
		{Usage: &ports.Usage{}},
	}}
}

func (s *cannedStream) Recv() (ports.Delta, error) {
	if s.pos >= len(s.deltas) {
		return ports.Delta{}, io.EOF
	}
	d := s.deltas[s.pos]
	s.pos++
	return d, nil
}

func (s *cannedStream) Close() error { return nil }
