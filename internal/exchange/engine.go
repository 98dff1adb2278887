package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amirphl/bookstream/internal/book"
	"github.com/amirphl/bookstream/internal/market"
)

// EngineConfig configures every venue supervisor of an Engine.
type EngineConfig struct {
	// Endpoints maps a venue to its WebSocket URL. Venues without a URL can
	// still be asked for their book but Connect fails with ErrMissingEndpoint.
	Endpoints         map[market.Venue]string
	HeartbeatInterval time.Duration
	InitialDelay      time.Duration
	MaxAttempts       int
	// SingleConnection keeps at most one venue streaming: connecting a venue
	// disconnects all others first.
	SingleConnection bool
}

// Engine runs one Supervisor per venue over a shared Store.
type Engine struct {
	cfg         EngineConfig
	store       *book.Store
	supervisors map[market.Venue]*Supervisor
	venues      []market.Venue

	// mu serializes Connect so single-connection teardown and start are atomic.
	mu sync.Mutex
}

func NewEngine(cfg EngineConfig, store *book.Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:         cfg,
		store:       store,
		supervisors: make(map[market.Venue]*Supervisor),
	}
	for _, venue := range market.AllVenues() {
		s, err := NewSupervisor(venue, SupervisorConfig{
			URL:               cfg.Endpoints[venue],
			HeartbeatInterval: cfg.HeartbeatInterval,
			InitialDelay:      cfg.InitialDelay,
			MaxAttempts:       cfg.MaxAttempts,
		}, store, opts...)
		if err != nil {
			return nil, err
		}
		e.supervisors[venue] = s
		e.venues = append(e.venues, venue)
	}
	return e, nil
}

func (e *Engine) supervisor(venue market.Venue) (*Supervisor, error) {
	s, ok := e.supervisors[venue]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVenue, venue)
	}
	return s, nil
}

// Connect starts streaming symbol on venue. The session is bound to ctx.
func (e *Engine) Connect(ctx context.Context, venue market.Venue, symbol string) error {
	s, err := e.supervisor(venue)
	if err != nil {
		return err
	}
	if s.URL() == "" {
		return fmt.Errorf("%s: %w", venue, ErrMissingEndpoint)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cfg.SingleConnection {
		for _, other := range e.venues {
			if other != venue {
				e.supervisors[other].Disconnect()
			}
		}
	}
	return s.Connect(ctx, symbol)
}

// Disconnect stops venue and clears its book.
func (e *Engine) Disconnect(venue market.Venue) error {
	s, err := e.supervisor(venue)
	if err != nil {
		return err
	}
	s.Disconnect()
	return nil
}

// DisconnectAll stops every venue concurrently and waits for all of them.
func (e *Engine) DisconnectAll() {
	var wg sync.WaitGroup
	for _, s := range e.supervisors {
		wg.Add(1)
		go func(s *Supervisor) {
			defer wg.Done()
			s.Disconnect()
		}(s)
	}
	wg.Wait()
}

// Book returns a copy of venue's current book.
func (e *Engine) Book(venue market.Venue) (market.Book, error) {
	if _, err := e.supervisor(venue); err != nil {
		return market.Book{}, err
	}
	return e.store.Get(venue), nil
}

func (e *Engine) State(venue market.Venue) (ConnectionState, error) {
	s, err := e.supervisor(venue)
	if err != nil {
		return Idle, err
	}
	return s.State(), nil
}

// VenueStatus is a point-in-time view of one supervisor.
type VenueStatus struct {
	Venue  market.Venue    `json:"venue"`
	State  ConnectionState `json:"state"`
	Symbol string          `json:"symbol,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Status reports every venue in stable order.
func (e *Engine) Status() []VenueStatus {
	out := make([]VenueStatus, 0, len(e.venues))
	for _, v := range e.venues {
		s := e.supervisors[v]
		st := VenueStatus{Venue: v, State: s.State(), Symbol: s.Symbol()}
		if err := s.Health(); err != nil {
			st.Error = err.Error()
		}
		out = append(out, st)
	}
	return out
}

func (e *Engine) States() map[market.Venue]ConnectionState {
	out := make(map[market.Venue]ConnectionState, len(e.venues))
	for _, v := range e.venues {
		out[v] = e.supervisors[v].State()
	}
	return out
}

// Ready reports whether at least one venue is streaming.
func (e *Engine) Ready() bool {
	for _, s := range e.supervisors {
		if s.State() == Streaming {
			return true
		}
	}
	return false
}

func (e *Engine) Venues() []market.Venue {
	out := make([]market.Venue, len(e.venues))
	copy(out, e.venues)
	return out
}
