package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/bookstream/internal/db"
	"github.com/amirphl/bookstream/internal/exchange"
	"github.com/amirphl/bookstream/internal/journal"
	"github.com/amirphl/bookstream/internal/market"
)

type fakeEngine struct {
	books map[market.Venue]market.Book
	ready bool
}

func (f *fakeEngine) Book(v market.Venue) (market.Book, error) {
	b, ok := f.books[v]
	if !ok {
		return market.Book{}, market.ErrUnknownVenue
	}
	return b, nil
}

func (f *fakeEngine) Status() []exchange.VenueStatus {
	return []exchange.VenueStatus{
		{Venue: market.Bybit, State: exchange.Streaming, Symbol: "BTCUSDT"},
		{Venue: market.Deribit, State: exchange.Failed, Error: "dial: refused"},
		{Venue: market.OKX, State: exchange.Idle},
	}
}

func (f *fakeEngine) Ready() bool { return f.ready }

func lvl(p, s string) market.Level {
	return market.NewLevel(decimal.RequireFromString(p), decimal.RequireFromString(s))
}

func newTestServer(t *testing.T, ready bool, j journal.Journaler, reg *prometheus.Registry) (*Server, *httptest.Server) {
	t.Helper()
	eng := &fakeEngine{
		ready: ready,
		books: map[market.Venue]market.Book{
			market.Bybit: {
				Venue:   market.Bybit,
				Bids:    market.Side{lvl("64000", "1"), lvl("63990", "2")},
				Asks:    market.Side{lvl("64010", "1"), lvl("64020", "3")},
				Version: 7,
			},
			market.OKX:     {Venue: market.OKX},
			market.Deribit: {Venue: market.Deribit},
		},
	}
	s := New(eng, j, reg, zerolog.Nop())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body json.RawMessage
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp, body
}

func TestBook(t *testing.T) {
	_, srv := newTestServer(t, true, nil, nil)

	resp, body := get(t, srv.URL+"/books/bybit")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	var b struct {
		Venue   string `json:"venue"`
		Version int    `json:"version"`
		Bids    []struct {
			Price string `json:"price"`
			Size  string `json:"size"`
		} `json:"bids"`
	}
	require.NoError(t, json.Unmarshal(body, &b))
	assert.Equal(t, "Bybit", b.Venue)
	assert.Equal(t, 7, b.Version)
	require.Len(t, b.Bids, 2)
	assert.Equal(t, "64000", b.Bids[0].Price)

	resp, body = get(t, srv.URL+"/books/BYBIT?depth=1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &b))
	assert.Len(t, b.Bids, 1)

	resp, _ = get(t, srv.URL+"/books/bybit?depth=-1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = get(t, srv.URL+"/books/kraken")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStates(t *testing.T) {
	_, srv := newTestServer(t, true, nil, nil)
	resp, body := get(t, srv.URL+"/states")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var states []map[string]string
	require.NoError(t, json.Unmarshal(body, &states))
	require.Len(t, states, 3)
	assert.Equal(t, map[string]string{"venue": "Bybit", "state": "streaming", "symbol": "BTCUSDT"}, states[0])
	assert.Equal(t, "failed", states[1]["state"])
	assert.Equal(t, "dial: refused", states[1]["error"])
}

func TestImpact(t *testing.T) {
	_, srv := newTestServer(t, true, nil, nil)

	resp, body := get(t, srv.URL+"/impact/bybit?side=buy&qty=2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var m struct {
		Venue        string `json:"venue"`
		Type         string `json:"type"`
		FillPercent  string `json:"fillPercent"`
		AvgPrice     string `json:"avgPrice"`
		ImpactPrice  string `json:"impactPrice"`
		HighSlippage bool   `json:"highSlippage"`
	}
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, "Bybit", m.Venue)
	assert.Equal(t, "market", m.Type)
	assert.Equal(t, "100", m.FillPercent)
	assert.Equal(t, "64015", m.AvgPrice)
	assert.Equal(t, "64020", m.ImpactPrice)
	assert.False(t, m.HighSlippage)

	resp, body = get(t, srv.URL+"/impact/bybit?side=sell&qty=1&price=64005")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, "limit", m.Type)
	assert.Equal(t, "0", m.FillPercent)

	for _, q := range []string{"side=hold&qty=1", "side=buy&qty=x", "side=buy&qty=1&price=-3"} {
		resp, _ = get(t, srv.URL+"/impact/bybit?"+q)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
	resp, _ = get(t, srv.URL+"/impact/kraken?side=buy&qty=1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEvents(t *testing.T) {
	mem := db.NewMemory()
	s, srv := newTestServer(t, true, mem, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	sid := uuid.New()
	ctx := context.Background()
	require.NoError(t, mem.LogEvent(ctx, journal.Event{Time: now.Add(-time.Hour), Type: journal.EventConnect, SessionID: sid, Venue: "OKX", Symbol: "BTC-USDT"}))
	require.NoError(t, mem.LogEvent(ctx, journal.Event{Time: now.Add(-30 * time.Minute), Type: journal.EventReconnect, SessionID: sid, Venue: "OKX", Attempt: 1, Description: "read: EOF"}))
	require.NoError(t, mem.LogEvent(ctx, journal.Event{Time: now.Add(-48 * time.Hour), Type: journal.EventConnect, SessionID: uuid.New(), Venue: "Bybit"}))

	var events []map[string]any
	resp, body := get(t, srv.URL+"/events")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &events))
	require.Len(t, events, 2)
	assert.Equal(t, "connect", events[0]["type"])
	assert.Equal(t, sid.String(), events[0]["sessionId"])

	resp, body = get(t, srv.URL+"/events?type=reconnect")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &events))
	require.Len(t, events, 1)
	assert.Equal(t, "read: EOF", events[0]["description"])

	resp, body = get(t, srv.URL+"/events?since=2026-02-01T00:00:00Z")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &events))
	assert.Len(t, events, 3)

	resp, _ = get(t, srv.URL+"/events?since=yesterday")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, srv := newTestServer(t, false, nil, reg)

	resp, _ := get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = get(t, srv.URL+"/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp, _ = get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, ready := newTestServer(t, true, nil, nil)
	resp, _ = get(t, ready.URL+"/readyz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = get(t, ready.URL+"/metrics")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRequestIDPropagates(t *testing.T) {
	_, srv := newTestServer(t, true, nil, nil)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "abc-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "abc-123", resp.Header.Get(RequestIDHeader))
}
