package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/amirphl/bookstream/internal/market"
)

// InstrumentURLs are the REST endpoints listing tradable instruments.
type InstrumentURLs struct {
	OKX        string
	Bybit      string
	DeribitBTC string
	DeribitETH string
}

func DefaultInstrumentURLs() InstrumentURLs {
	return InstrumentURLs{
		OKX:        "https://www.okx.com/api/v5/public/instruments?instType=SPOT",
		Bybit:      "https://api.bybit.com/v5/market/instruments-info?category=spot",
		DeribitBTC: "https://www.deribit.com/api/v2/public/get_instruments?currency=BTC&kind=future&expired=false",
		DeribitETH: "https://www.deribit.com/api/v2/public/get_instruments?currency=ETH&kind=future&expired=false",
	}
}

var fallbackInstruments = map[market.Venue][]string{
	market.OKX:     {"BTC-USDT", "ETH-USDT", "SOL-USDT", "LTC-USDT", "XRP-USDT"},
	market.Bybit:   {"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT", "DOGEUSDT"},
	market.Deribit: {"BTC-PERPETUAL", "ETH-PERPETUAL"},
}

// FallbackInstruments returns the fixed instrument list of venue.
func FallbackInstruments(venue market.Venue) []string {
	list := fallbackInstruments[venue]
	out := make([]string, len(list))
	copy(out, list)
	return out
}

// InstrumentFetcher discovers the currently tradable symbols of each venue.
type InstrumentFetcher struct {
	URLs InstrumentURLs
	// Retries is the number of extra attempts per request.
	Retries int

	client *http.Client
	logger zerolog.Logger
}

func NewInstrumentFetcher(urls InstrumentURLs, client *http.Client, logger zerolog.Logger) *InstrumentFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &InstrumentFetcher{
		URLs:    urls,
		Retries: 2,
		client:  client,
		logger:  logger.With().Str("component", "Instruments").Logger(),
	}
}

// Instruments returns the live list of venue, or the fallback list when the
// live list cannot be fetched or is empty.
func (f *InstrumentFetcher) Instruments(ctx context.Context, venue market.Venue) []string {
	list, err := f.Fetch(ctx, venue)
	if err != nil {
		f.logger.Warn().Err(err).Str("venue", venue.String()).Msg("Instruments | using fallback list")
		return FallbackInstruments(venue)
	}
	if len(list) == 0 {
		f.logger.Warn().Str("venue", venue.String()).Msg("Instruments | no instruments returned, using fallback list")
		return FallbackInstruments(venue)
	}
	return list
}

// Fetch returns the live instrument list of venue.
func (f *InstrumentFetcher) Fetch(ctx context.Context, venue market.Venue) ([]string, error) {
	switch venue {
	case market.OKX:
		return f.fetchOKX(ctx)
	case market.Bybit:
		return f.fetchBybit(ctx)
	case market.Deribit:
		return f.fetchDeribit(ctx)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVenue, venue)
	}
}

func (f *InstrumentFetcher) fetchOKX(ctx context.Context) ([]string, error) {
	var resp struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data []struct {
			InstID string `json:"instId"`
			State  string `json:"state"`
		} `json:"data"`
	}
	if err := f.getJSON(ctx, f.URLs.OKX, &resp); err != nil {
		return nil, fmt.Errorf("okx instruments: %w", err)
	}
	if resp.Code != "0" {
		return nil, fmt.Errorf("okx instruments: code %s: %s", resp.Code, resp.Msg)
	}
	var out []string
	for _, inst := range resp.Data {
		if inst.State == "live" {
			out = append(out, inst.InstID)
		}
	}
	return out, nil
}

func (f *InstrumentFetcher) fetchBybit(ctx context.Context) ([]string, error) {
	var resp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List []struct {
				Symbol string `json:"symbol"`
				Status string `json:"status"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := f.getJSON(ctx, f.URLs.Bybit, &resp); err != nil {
		return nil, fmt.Errorf("bybit instruments: %w", err)
	}
	if resp.RetCode != 0 {
		return nil, fmt.Errorf("bybit instruments: retCode %d: %s", resp.RetCode, resp.RetMsg)
	}
	var out []string
	for _, inst := range resp.Result.List {
		if inst.Status == "Trading" {
			out = append(out, inst.Symbol)
		}
	}
	return out, nil
}

type deribitInstruments struct {
	Result []struct {
		InstrumentName string `json:"instrument_name"`
		IsActive       bool   `json:"is_active"`
	} `json:"result"`
}

// fetchDeribit queries the BTC and ETH future lists concurrently; either
// failing fails the whole fetch.
func (f *InstrumentFetcher) fetchDeribit(ctx context.Context) ([]string, error) {
	var btc, eth deribitInstruments
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return f.getJSON(gctx, f.URLs.DeribitBTC, &btc) })
	g.Go(func() error { return f.getJSON(gctx, f.URLs.DeribitETH, &eth) })
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("deribit instruments: %w", err)
	}

	seen := make(map[string]struct{})
	var out []string
	for _, list := range []deribitInstruments{btc, eth} {
		for _, inst := range list.Result {
			if !inst.IsActive {
				continue
			}
			if _, ok := seen[inst.InstrumentName]; ok {
				continue
			}
			seen[inst.InstrumentName] = struct{}{}
			out = append(out, inst.InstrumentName)
		}
	}
	return out, nil
}

var errEmptyURL = errors.New("empty url")

// getJSON GETs url into dest, retrying transport errors and 5xx responses.
func (f *InstrumentFetcher) getJSON(ctx context.Context, url string, dest any) error {
	if url == "" {
		return errEmptyURL
	}
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("status %s", resp.Status)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("status %s", resp.Status))
		}
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return backoff.Permanent(fmt.Errorf("decode: %w", err))
		}
		return nil
	}

	retries := f.Retries
	if retries < 0 {
		retries = 0
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
	return backoff.RetryNotify(op, policy, func(err error, d time.Duration) {
		f.logger.Debug().Err(err).Dur("backoff", d).Str("url", url).Msg("Instruments | retrying")
	})
}
