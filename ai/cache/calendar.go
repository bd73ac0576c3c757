package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/ports"
)

// CachedCalendar wraps a calendar port so repeated listing windows hit
// the cache instead of the upstream provider. Window bounds are rounded
// to the minute when building the key, otherwise the moving "now" in
// briefing and sync windows would defeat every lookup. Mutations drop
// the whole calendar namespace so stale listings never survive a write.
type CachedCalendar struct {
	inner ports.Calendar
	cache *Tiered
}

// NewCachedCalendar decorates inner with the tiered cache.
func NewCachedCalendar(inner ports.Calendar, cache *Tiered) *CachedCalendar {
	return &CachedCalendar{inner: inner, cache: cache}
}

func (c *CachedCalendar) ListEvents(ctx context.Context, principal ports.UserID, from, to time.Time) ([]ports.CalendarEvent, error) {
	key := Key(NamespaceCalendar,
		string(principal),
		strconv.FormatInt(from.Truncate(time.Minute).Unix(), 10),
		strconv.FormatInt(to.Truncate(time.Minute).Unix(), 10),
	)
	raw, _, err := c.cache.GetOrLoad(ctx, key, ClassShort, func(ctx context.Context) ([]byte, error) {
		events, err := c.inner.ListEvents(ctx, principal, from, to)
		if err != nil {
			return nil, err
		}
		return json.Marshal(events)
	})
	if err != nil {
		return nil, err
	}
	var events []ports.CalendarEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "corrupt cached calendar listing")
	}
	return events, nil
}

func (c *CachedCalendar) CreateEvent(ctx context.Context, principal ports.UserID, event ports.CalendarEvent) (string, error) {
	eventID, err := c.inner.CreateEvent(ctx, principal, event)
	if err != nil {
		return "", err
	}
	c.cache.RemoveNamespace(ctx, NamespaceCalendar)
	return eventID, nil
}

func (c *CachedCalendar) DeleteEvent(ctx context.Context, principal ports.UserID, eventID string) error {
	if err := c.inner.DeleteEvent(ctx, principal, eventID); err != nil {
		return err
	}
	c.cache.RemoveNamespace(ctx, NamespaceCalendar)
	return nil
}
