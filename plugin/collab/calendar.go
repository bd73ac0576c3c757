package collab

import (
	"context"
	"sync"
	"time"

	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/internal/idgen"
	"github.com/hrygo/valet/ports"
)

// InMemoryCalendar is a per-process calendar with stable event ids.
type InMemoryCalendar struct {
	mu     sync.Mutex
	events map[ports.UserID][]ports.CalendarEvent
}

func NewInMemoryCalendar() *InMemoryCalendar {
	return &InMemoryCalendar{events: make(map[ports.UserID][]ports.CalendarEvent)}
}

func (c *InMemoryCalendar) ListEvents(_ context.Context, principal ports.UserID, from, to time.Time) ([]ports.CalendarEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []ports.CalendarEvent
	for _, ev := range c.events[principal] {
		if !ev.Start.Before(from) && ev.Start.Before(to) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (c *InMemoryCalendar) CreateEvent(_ context.Context, principal ports.UserID, event ports.CalendarEvent) (string, error) {
	if event.Title == "" {
		return "", errkind.New(errkind.Validation, "event needs a title")
	}
	if event.EventID == "" {
		event.EventID = idgen.NewShort()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[principal] = append(c.events[principal], event)
	return event.EventID, nil
}

func (c *InMemoryCalendar) DeleteEvent(_ context.Context, principal ports.UserID, eventID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	events := c.events[principal]
	for i, ev := range events {
		if ev.EventID == eventID {
			c.events[principal] = append(events[:i], events[i+1:]...)
			return nil
		}
	}
	return errkind.Newf(errkind.NotFound, "event %q not found", eventID)
}
