package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amirphl/bookstream/internal/book"
	"github.com/amirphl/bookstream/internal/journal"
	"github.com/amirphl/bookstream/internal/market"
	"github.com/amirphl/bookstream/internal/metrics"
	"github.com/amirphl/bookstream/internal/notifier"
)

// ErrMissingEndpoint is returned by Connect when the venue has no URL.
var ErrMissingEndpoint = errors.New("missing endpoint url")

const (
	DefaultHeartbeatInterval = 25 * time.Second
	DefaultInitialDelay      = time.Second
	DefaultMaxAttempts       = 5
)

// SupervisorConfig tunes one venue supervisor. Zero values take the
// defaults; MaxAttempts < 0 disables reconnecting.
type SupervisorConfig struct {
	URL               string
	HeartbeatInterval time.Duration
	InitialDelay      time.Duration
	MaxAttempts       int
}

func (c SupervisorConfig) withDefaults() SupervisorConfig {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	switch {
	case c.MaxAttempts == 0:
		c.MaxAttempts = DefaultMaxAttempts
	case c.MaxAttempts < 0:
		c.MaxAttempts = 0
	}
	return c
}

// newBackOff yields InitialDelay * 2^(attempt-1) for attempts 1..MaxAttempts
// and backoff.Stop after that.
func (c SupervisorConfig) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = c.InitialDelay << 20
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(c.MaxAttempts))
}

type options struct {
	dialer   Dialer
	logger   zerolog.Logger
	journal  journal.Journaler
	notifier notifier.Notifier
}

// Option configures a Supervisor or an Engine.
type Option func(*options)

func WithDialer(d Dialer) Option { return func(o *options) { o.dialer = d } }

func WithLogger(l zerolog.Logger) Option { return func(o *options) { o.logger = l } }

func WithJournal(j journal.Journaler) Option { return func(o *options) { o.journal = j } }

func WithNotifier(n notifier.Notifier) Option { return func(o *options) { o.notifier = n } }

func newOptions(opts []Option) options {
	o := options{
		dialer:   WebsocketDialer{HandshakeTimeout: 10 * time.Second},
		logger:   zerolog.Nop(),
		journal:  journal.Nop{},
		notifier: notifier.Nop{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Supervisor owns the streaming connection of one venue: it dials, subscribes,
// keeps the connection alive with heartbeats, feeds decoded updates into the
// store and reconnects with exponential backoff until the attempts run out.
type Supervisor struct {
	venue market.Venue
	cfg   SupervisorConfig
	codec Codec
	store *book.Store
	opts  options

	// wait blocks for d or until ctx is done.
	wait func(ctx context.Context, d time.Duration) error

	// ctrl serializes Connect and Disconnect.
	ctrl   sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.RWMutex
	state     ConnectionState
	symbol    string
	session   uuid.UUID
	healthErr error
}

func NewSupervisor(venue market.Venue, cfg SupervisorConfig, store *book.Store, opts ...Option) (*Supervisor, error) {
	codec, err := CodecFor(venue)
	if err != nil {
		return nil, err
	}
	o := newOptions(opts)
	o.logger = o.logger.With().Str("component", "Supervisor").Str("venue", venue.String()).Logger()
	s := &Supervisor{
		venue: venue,
		cfg:   cfg.withDefaults(),
		codec: codec,
		store: store,
		opts:  o,
		wait:  sleepContext,
		state: Idle,
	}
	metrics.ConnectionState.WithLabelValues(venue.String()).Set(float64(Idle))
	return s, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Supervisor) Venue() market.Venue { return s.venue }

func (s *Supervisor) URL() string { return s.cfg.URL }

func (s *Supervisor) State() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Symbol returns the symbol of the current or last session.
func (s *Supervisor) Symbol() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.symbol
}

// Health returns the last transport error (if any)
func (s *Supervisor) Health() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthErr
}

// Connect starts streaming symbol, replacing any session this supervisor
// already runs. The session lives until Disconnect or until ctx is done.
// Only configuration problems are returned; transport failures show up in
// State and Health.
func (s *Supervisor) Connect(ctx context.Context, symbol string) error {
	if s.cfg.URL == "" {
		return fmt.Errorf("%s: %w", s.venue, ErrMissingEndpoint)
	}
	if symbol == "" {
		return fmt.Errorf("%s: %w", s.venue, ErrEmptySymbol)
	}

	s.ctrl.Lock()
	defer s.ctrl.Unlock()

	s.teardown()
	s.store.Clear(s.venue)

	sessionCtx, cancel := context.WithCancel(ctx)
	session := uuid.New()
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	s.mu.Lock()
	s.symbol = symbol
	s.session = session
	s.healthErr = nil
	s.mu.Unlock()
	s.setState(Connecting)

	s.opts.logger.Info().Str("symbol", symbol).Str("session", session.String()).Msg("Supervisor | connect")
	s.record(journal.EventConnect, 0, "", nil)

	go s.run(sessionCtx, symbol, done)
	return nil
}

// Disconnect stops the session, waits for it to exit and clears the venue's
// book. It is a no-op when nothing was connected.
func (s *Supervisor) Disconnect() {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()
	s.teardown()
}

// teardown must be called with ctrl held.
func (s *Supervisor) teardown() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.setState(Closing)
	<-s.done
	s.cancel = nil
	s.done = nil

	s.store.Clear(s.venue)
	s.refreshDepth()
	s.setState(Idle)
	s.opts.logger.Info().Str("symbol", s.Symbol()).Msg("Supervisor | disconnected")
	s.record(journal.EventDisconnect, 0, "", nil)
}

func (s *Supervisor) run(ctx context.Context, symbol string, done chan struct{}) {
	defer close(done)
	defer s.settle(ctx)

	policy := s.cfg.newBackOff()
	attempt := 0
	for {
		streamed, err := s.connectAndStream(ctx, symbol)
		if ctx.Err() != nil {
			return
		}
		if streamed {
			policy.Reset()
			attempt = 0
		}
		s.setHealthErr(err)

		delay := policy.NextBackOff()
		if delay == backoff.Stop {
			s.fail(ctx, err)
			return
		}
		attempt++
		if !s.transition(ctx, Reconnecting) {
			return
		}
		metrics.WSReconnectsTotal.WithLabelValues(s.venue.String()).Inc()
		s.opts.logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("Supervisor | disconnected, retrying")
		s.record(journal.EventReconnect, attempt, errText(err), map[string]any{"delay_ms": delay.Milliseconds()})

		if err := s.wait(ctx, delay); err != nil {
			return
		}
	}
}

// settle runs when the session goroutine exits. A session ended by its
// parent context, not by Disconnect, goes back to Idle.
func (s *Supervisor) settle(ctx context.Context) {
	if ctx.Err() == nil {
		return
	}
	s.mu.Lock()
	if s.state == Closing || s.state == Failed {
		s.mu.Unlock()
		return
	}
	s.state = Idle
	s.mu.Unlock()
	metrics.ConnectionState.WithLabelValues(s.venue.String()).Set(float64(Idle))
}

func (s *Supervisor) fail(ctx context.Context, err error) {
	if !s.transition(ctx, Failed) {
		return
	}
	s.opts.logger.Error().Err(err).Int("max_attempts", s.cfg.MaxAttempts).Msg("Supervisor | giving up reconnecting")
	s.record(journal.EventFailed, s.cfg.MaxAttempts, errText(err), nil)

	msg := fmt.Sprintf("bookstream: %s %s stream failed after %d reconnect attempts: %s",
		s.venue, s.Symbol(), s.cfg.MaxAttempts, errText(err))
	if nerr := s.opts.notifier.SendWithRetry(ctx, msg); nerr != nil {
		s.opts.logger.Warn().Err(nerr).Msg("Supervisor | failed to send alert")
	}
}

// connectAndStream runs one connection until it breaks. streamed reports
// whether the subscription went out.
func (s *Supervisor) connectAndStream(ctx context.Context, symbol string) (streamed bool, err error) {
	if !s.transition(ctx, Connecting) {
		return false, ctx.Err()
	}
	conn, err := s.opts.dialer.Dial(ctx, s.cfg.URL)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		stop()
		conn.Close()
	}()

	if !s.transition(ctx, Subscribing) {
		return false, ctx.Err()
	}
	frame, err := s.codec.Subscribe(symbol)
	if err != nil {
		return false, err
	}
	if err := conn.WriteMessage(frame); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}

	if !s.transition(ctx, Streaming) {
		return true, ctx.Err()
	}
	s.opts.logger.Info().Str("symbol", symbol).Msg("Supervisor | streaming")
	s.record(journal.EventStreaming, 0, "", nil)

	hbCtx, hbCancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.heartbeat(hbCtx, conn)
	}()
	defer func() {
		hbCancel()
		wg.Wait()
	}()

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		s.handle(raw)
	}
}

func (s *Supervisor) heartbeat(ctx context.Context, conn Conn) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame := s.codec.Heartbeat()
			if frame == nil {
				continue
			}
			if err := conn.WriteMessage(frame); err != nil {
				s.opts.logger.Debug().Err(err).Msg("Supervisor | heartbeat write failed")
				// unblock the reader so the session reconnects
				conn.Close()
				return
			}
			metrics.HeartbeatsSentTotal.WithLabelValues(s.venue.String()).Inc()
		}
	}
}

func (s *Supervisor) handle(raw []byte) {
	venue := s.venue.String()
	d := s.codec.Decode(raw)
	metrics.FramesTotal.WithLabelValues(venue, d.Kind.String()).Inc()
	if d.Dropped > 0 {
		metrics.LevelsDroppedTotal.WithLabelValues(venue).Add(float64(d.Dropped))
		s.opts.logger.Debug().Int("dropped", d.Dropped).Msg("Supervisor | dropped unparsable levels")
	}
	if d.Kind != BookUpdate {
		return
	}
	if s.store.Apply(d.Update) {
		metrics.BookUpdatesTotal.WithLabelValues(venue, d.Update.Kind()).Inc()
		s.refreshDepth()
	}
}

func (s *Supervisor) refreshDepth() {
	bids, asks := s.store.Len(s.venue)
	metrics.BookDepth.WithLabelValues(s.venue.String(), "bids").Set(float64(bids))
	metrics.BookDepth.WithLabelValues(s.venue.String(), "asks").Set(float64(asks))
}

// transition moves to state unless the session is already cancelled.
func (s *Supervisor) transition(ctx context.Context, state ConnectionState) bool {
	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	s.state = state
	s.mu.Unlock()
	metrics.ConnectionState.WithLabelValues(s.venue.String()).Set(float64(state))
	return true
}

func (s *Supervisor) setState(state ConnectionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	metrics.ConnectionState.WithLabelValues(s.venue.String()).Set(float64(state))
}

func (s *Supervisor) setHealthErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthErr = err
}

func (s *Supervisor) record(eventType string, attempt int, description string, data map[string]any) {
	s.mu.RLock()
	event := journal.Event{
		Time:        time.Now(),
		Type:        eventType,
		SessionID:   s.session,
		Venue:       s.venue.String(),
		Symbol:      s.symbol,
		Attempt:     attempt,
		Description: description,
		Data:        data,
	}
	s.mu.RUnlock()
	// the session context may already be cancelled here
	if err := s.opts.journal.LogEvent(context.Background(), event); err != nil {
		s.opts.logger.Warn().Err(err).Str("event", eventType).Msg("Supervisor | failed to journal event")
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
