package cache

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hrygo/valet/ports"
)

// Class selects the TTL band for a cache write. Upstream responses that
// depend on the conversation get the dynamic band; stable prompts like
// canned phrases can live much longer.
type Class int

const (
	ClassShort Class = iota
	ClassMedium
	ClassLong
	ClassLLMDynamic
	ClassLLMStable
)

// Options configures a tiered cache.
type Options struct {
	L1Capacity int
	TTLShort   time.Duration
	TTLMedium  time.Duration
	TTLLong    time.Duration
	TTLDynamic time.Duration
	TTLStable  time.Duration
	SweepEvery time.Duration
	Clock      ports.Clock
}

func (o *Options) fill() {
	if o.L1Capacity <= 0 {
		o.L1Capacity = 1000
	}
	if o.TTLShort <= 0 {
		o.TTLShort = 1 * time.Minute
	}
	if o.TTLMedium <= 0 {
		o.TTLMedium = 15 * time.Minute
	}
	if o.TTLLong <= 0 {
		o.TTLLong = 6 * time.Hour
	}
	if o.TTLDynamic <= 0 {
		o.TTLDynamic = 5 * time.Minute
	}
	if o.TTLStable <= 0 {
		o.TTLStable = 24 * time.Hour
	}
	if o.SweepEvery <= 0 {
		o.SweepEvery = 10 * time.Minute
	}
	if o.Clock == nil {
		o.Clock = ports.SystemClock{}
	}
}

// Tiered layers the in-memory LRU over the on-disk store. Reads promote
// L2 hits into L1 carrying the remaining TTL, so an entry never outlives
// its original expiry by moving between tiers. Concurrent loads for the
// same key are coalesced.
type Tiered struct {
	l1    *ByteLRUCache
	l2    *L2
	opts  Options
	group singleflight.Group
}

// NewTiered builds a tiered cache. l2 may be nil, in which case only the
// memory tier is used.
func NewTiered(l2 *L2, opts Options) *Tiered {
	opts.fill()
	return &Tiered{
		l1:   NewByteLRUCache(opts.L1Capacity, opts.TTLMedium, opts.Clock),
		l2:   l2,
		opts: opts,
	}
}

// TTL resolves a class to its configured duration.
func (t *Tiered) TTL(class Class) time.Duration {
	switch class {
	case ClassShort:
		return t.opts.TTLShort
	case ClassLong:
		return t.opts.TTLLong
	case ClassLLMDynamic:
		return t.opts.TTLDynamic
	case ClassLLMStable:
		return t.opts.TTLStable
	default:
		return t.opts.TTLMedium
	}
}

// Get checks L1 first, then L2. An L2 hit is promoted into L1 with its
// remaining TTL.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	if value, _, ok := t.l1.Get(key); ok {
		return value, true
	}
	if t.l2 == nil {
		return nil, false
	}
	value, remaining, ok, err := t.l2.Get(ctx, key)
	if err != nil {
		slog.Warn("cache read failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	t.l1.Set(key, value, remaining)
	return value, true
}

// Set writes through both tiers with the class TTL.
func (t *Tiered) Set(ctx context.Context, key string, value []byte, class Class) {
	ttl := t.TTL(class)
	t.l1.Set(key, value, ttl)
	if t.l2 == nil {
		return
	}
	if err := t.l2.Set(ctx, key, value, ttl); err != nil {
		slog.Warn("cache write failed", "key", key, "error", err)
	}
}

// Remove drops a key from both tiers.
func (t *Tiered) Remove(ctx context.Context, key string) {
	t.l1.Remove(key)
	if t.l2 != nil {
		if err := t.l2.Remove(ctx, key); err != nil {
			slog.Warn("cache remove failed", "key", key, "error", err)
		}
	}
}

// RemoveNamespace drops every entry in a namespace from both tiers.
// Used when the data behind a namespace changes out from under its
// cached answers, e.g. a calendar mutation.
func (t *Tiered) RemoveNamespace(ctx context.Context, namespace string) {
	prefix := namespace + ":"
	t.l1.RemoveFunc(func(key string) bool {
		return strings.HasPrefix(key, prefix)
	})
	if t.l2 != nil {
		if _, err := t.l2.RemovePrefix(ctx, prefix); err != nil {
			slog.Warn("cache namespace invalidation failed", "namespace", namespace, "error", err)
		}
	}
}

// GetOrLoad returns the cached value or invokes load once per key, no
// matter how many callers arrive while the load is in flight. The loaded
// value is written through both tiers before being returned.
func (t *Tiered) GetOrLoad(ctx context.Context, key string, class Class, load func(ctx context.Context) ([]byte, error)) ([]byte, bool, error) {
	if value, ok := t.Get(ctx, key); ok {
		return value, true, nil
	}

	v, err, _ := t.group.Do(key, func() (any, error) {
		// Another caller may have finished the load while this one
		// waited on the flight group.
		if value, ok := t.Get(ctx, key); ok {
			return value, nil
		}
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		t.Set(ctx, key, value, class)
		return value, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]byte), false, nil
}

// RunSweeper evicts expired entries from both tiers until ctx ends.
func (t *Tiered) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(t.opts.SweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dropped := t.l1.CleanupExpired()
			if t.l2 != nil {
				n, err := t.l2.CleanupExpired(ctx)
				if err != nil {
					slog.Warn("cache sweep failed", "error", err)
				}
				dropped += int(n)
			}
			if dropped > 0 {
				slog.Debug("cache sweep", "dropped", dropped)
			}
		}
	}
}
