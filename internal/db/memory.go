package db

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryStorage struct {
	mu sync.RWMutex

	// Events (append-only)
	events []Event
}

func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		events: make([]Event, 0, 1024),
	}
}

func (m *MemoryStorage) Close() error { return nil }

func (m *MemoryStorage) LogEvent(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	event.Time = event.Time.UTC()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryStorage) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for _, e := range m.events {
		if eventType != "" && e.Type != eventType {
			continue
		}
		if e.Time.Before(start) || e.Time.After(end) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}
