// Package config
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/amirphl/bookstream/internal/market"
	"github.com/amirphl/bookstream/internal/utils"
)

/*
YAML config example:
logging:
  level: info
  pretty: false
server:
  addr: ":8080"
venues:
  okx:
    ws_url: "wss://ws.okx.com:8443/ws/v5/public"
  bybit:
    ws_url: "wss://stream.bybit.com/v5/public/spot"
  deribit:
    ws_url: "wss://www.deribit.com/ws/api/v2"
stream:
  depth: 15
  heartbeat_interval: 25s
  initial_retry_delay: 1s
  max_reconnect_attempts: 5
  handshake_timeout: 10s
  single_connection: false
journal:
  db_conn_str: "postgres://..."
notifier:
  telegram_token: "..."
  telegram_chat_id: "..."
*/

type Config struct {
	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`
	Server struct {
		Addr         string        `yaml:"addr"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`
	Venues struct {
		OKX struct {
			WSURL          string `yaml:"ws_url"`
			InstrumentsURL string `yaml:"instruments_url"`
		} `yaml:"okx"`
		Bybit struct {
			WSURL          string `yaml:"ws_url"`
			InstrumentsURL string `yaml:"instruments_url"`
		} `yaml:"bybit"`
		Deribit struct {
			WSURL             string `yaml:"ws_url"`
			InstrumentsBTCURL string `yaml:"instruments_btc_url"`
			InstrumentsETHURL string `yaml:"instruments_eth_url"`
		} `yaml:"deribit"`
	} `yaml:"venues"`
	Stream struct {
		Depth                int           `yaml:"depth"`
		HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
		InitialRetryDelay    time.Duration `yaml:"initial_retry_delay"`
		MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
		HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
		// SingleConnection keeps at most one venue streaming at a time.
		SingleConnection bool `yaml:"single_connection"`
	} `yaml:"stream"`
	Journal struct {
		DBConnStr string `yaml:"db_conn_str"`
		DBMaxOpen int    `yaml:"db_max_open"`
		DBMaxIdle int    `yaml:"db_max_idle"`
	} `yaml:"journal"`
	Notifier struct {
		TelegramToken  string        `yaml:"telegram_token"`
		TelegramChatID string        `yaml:"telegram_chat_id"`
		Retries        int           `yaml:"retries"`
		RetryDelay     time.Duration `yaml:"retry_delay"`
	} `yaml:"notifier"`
}

// Default returns the configuration used when nothing overrides it.
// WebSocket URLs have no default.
func Default() Config {
	var c Config
	c.Logging.Level = "info"
	c.Server.Addr = ":8080"
	c.Server.ReadTimeout = 5 * time.Second
	c.Server.WriteTimeout = 10 * time.Second
	c.Venues.OKX.InstrumentsURL = "https://www.okx.com/api/v5/public/instruments?instType=SPOT"
	c.Venues.Bybit.InstrumentsURL = "https://api.bybit.com/v5/market/instruments-info?category=spot"
	c.Venues.Deribit.InstrumentsBTCURL = "https://www.deribit.com/api/v2/public/get_instruments?currency=BTC&kind=future&expired=false"
	c.Venues.Deribit.InstrumentsETHURL = "https://www.deribit.com/api/v2/public/get_instruments?currency=ETH&kind=future&expired=false"
	c.Stream.Depth = market.DefaultDepth
	c.Stream.HeartbeatInterval = 25 * time.Second
	c.Stream.InitialRetryDelay = time.Second
	c.Stream.MaxReconnectAttempts = 5
	c.Stream.HandshakeTimeout = 10 * time.Second
	c.Journal.DBMaxOpen = 10
	c.Journal.DBMaxIdle = 5
	c.Notifier.Retries = 3
	c.Notifier.RetryDelay = 5 * time.Second
	return c
}

// Load builds the configuration from defaults, the optional YAML file at
// path, a .env file in the working directory and the process environment,
// later sources overriding earlier ones. Variables already set in the
// process win over .env entries.
func Load(path string) (Config, error) {
	dotenv, err := godotenv.Read()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to read .env: %w", err)
	}
	return load(path, func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	})
}

// MustLoad is Load that exits the process on error.
func MustLoad(path string) Config {
	c, err := Load(path)
	if err != nil {
		logger := utils.GetLogger()
		logger.Fatal().Err(err).Str("path", path).Msg("Config | failed to load configuration")
	}
	return c
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	e := envReader{lookup: lookup}
	e.str(&c.Logging.Level, "BOOKSTREAM_LOG_LEVEL")
	e.boolean(&c.Logging.Pretty, "BOOKSTREAM_LOG_PRETTY")
	e.str(&c.Server.Addr, "BOOKSTREAM_HTTP_ADDR")

	// the NEXT_PUBLIC_ names keep existing front-end .env files usable
	e.str(&c.Venues.OKX.WSURL, "NEXT_PUBLIC_OKX_WSS_URL", "OKX_WSS_URL")
	e.str(&c.Venues.Bybit.WSURL, "NEXT_PUBLIC_BYBIT_WSS_URL", "BYBIT_WSS_URL")
	e.str(&c.Venues.Deribit.WSURL, "NEXT_PUBLIC_DERIBIT_WSS_URL", "DERIBIT_WSS_URL")
	e.str(&c.Venues.OKX.InstrumentsURL, "NEXT_PUBLIC_OKX_REST_API", "OKX_REST_API")
	e.str(&c.Venues.Bybit.InstrumentsURL, "NEXT_PUBLIC_BYBIT_REST_API", "BYBIT_REST_API")
	e.str(&c.Venues.Deribit.InstrumentsBTCURL, "NEXT_PUBLIC_DERIBIT_BTC_REST_API", "DERIBIT_BTC_REST_API")
	e.str(&c.Venues.Deribit.InstrumentsETHURL, "NEXT_PUBLIC_DERIBIT_ETH_REST_API", "DERIBIT_ETH_REST_API")

	e.integer(&c.Stream.Depth, "BOOKSTREAM_DEPTH")
	e.duration(&c.Stream.HeartbeatInterval, "BOOKSTREAM_HEARTBEAT_INTERVAL")
	e.duration(&c.Stream.InitialRetryDelay, "BOOKSTREAM_INITIAL_RETRY_DELAY")
	e.integer(&c.Stream.MaxReconnectAttempts, "BOOKSTREAM_MAX_RECONNECT_ATTEMPTS")
	e.duration(&c.Stream.HandshakeTimeout, "BOOKSTREAM_HANDSHAKE_TIMEOUT")
	e.boolean(&c.Stream.SingleConnection, "BOOKSTREAM_SINGLE_CONNECTION")

	e.str(&c.Journal.DBConnStr, "DB_CONN_STR")
	e.str(&c.Notifier.TelegramToken, "TELEGRAM_TOKEN")
	e.str(&c.Notifier.TelegramChatID, "TELEGRAM_CHAT_ID")
	if e.err != nil {
		return Config{}, e.err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Stream.Depth <= 0:
		return fmt.Errorf("stream.depth must be positive, got %d", c.Stream.Depth)
	case c.Stream.HeartbeatInterval <= 0:
		return fmt.Errorf("stream.heartbeat_interval must be positive, got %s", c.Stream.HeartbeatInterval)
	case c.Stream.InitialRetryDelay <= 0:
		return fmt.Errorf("stream.initial_retry_delay must be positive, got %s", c.Stream.InitialRetryDelay)
	case c.Stream.MaxReconnectAttempts < 0:
		return fmt.Errorf("stream.max_reconnect_attempts must not be negative, got %d", c.Stream.MaxReconnectAttempts)
	case c.Stream.HandshakeTimeout <= 0:
		return fmt.Errorf("stream.handshake_timeout must be positive, got %s", c.Stream.HandshakeTimeout)
	case c.Server.Addr == "":
		return errors.New("server.addr must not be empty")
	}
	return nil
}

// EndpointFor returns the WebSocket URL of venue, empty when not configured.
func (c Config) EndpointFor(venue market.Venue) string {
	switch venue {
	case market.OKX:
		return c.Venues.OKX.WSURL
	case market.Bybit:
		return c.Venues.Bybit.WSURL
	case market.Deribit:
		return c.Venues.Deribit.WSURL
	default:
		return ""
	}
}

// Endpoints returns EndpointFor of every venue.
func (c Config) Endpoints() map[market.Venue]string {
	out := make(map[market.Venue]string)
	for _, v := range market.AllVenues() {
		out[v] = c.EndpointFor(v)
	}
	return out
}

// envReader applies environment overrides and keeps the first parse error.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

// get returns the value of the last key that is set and non-empty.
func (e *envReader) get(keys ...string) (string, string, bool) {
	var key, val string
	found := false
	for _, k := range keys {
		if v, ok := e.lookup(k); ok && strings.TrimSpace(v) != "" {
			key, val, found = k, strings.TrimSpace(v), true
		}
	}
	return key, val, found
}

func (e *envReader) str(dst *string, keys ...string) {
	if _, v, ok := e.get(keys...); ok {
		*dst = v
	}
}

func (e *envReader) integer(dst *int, key string) {
	if _, v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) boolean(dst *bool, key string) {
	if _, v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(dst *time.Duration, key string) {
	if _, v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = d
	}
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}
