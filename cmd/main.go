package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/amirphl/bookstream/internal/api"
	"github.com/amirphl/bookstream/internal/book"
	"github.com/amirphl/bookstream/internal/config"
	"github.com/amirphl/bookstream/internal/db"
	"github.com/amirphl/bookstream/internal/exchange"
	"github.com/amirphl/bookstream/internal/market"
	"github.com/amirphl/bookstream/internal/metrics"
	"github.com/amirphl/bookstream/internal/notifier"
	"github.com/amirphl/bookstream/internal/utils"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "bookstream",
	Short:         "Streams and normalizes OKX, Bybit and Deribit order books",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.AddCommand(newStreamCmd(), newInstrumentsCmd(), newMigrateCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger := utils.GetLogger()
		logger.Error().Err(err).Msg("bookstream | exiting")
		stop()
		os.Exit(1)
	}
}

// setup loads the configuration and installs the process logger.
func setup() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, zerolog.Logger{}, err
	}
	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.Pretty)
	utils.SetLogger(logger)
	return cfg, logger, nil
}

func newStreamCmd() *cobra.Command {
	var venues, symbols []string
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream order books and serve them over HTTP",
		Long: `Connects to every --venue (paired by position with --symbol) and serves
the normalized books until interrupted. A venue without a symbol streams the
first instrument discovered for it.`,
		Example: "  bookstream stream --venue okx --symbol BTC-USDT --venue deribit --symbol BTC-PERPETUAL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(venues) == 0 {
				return fmt.Errorf("at least one --venue is required")
			}
			if len(symbols) > len(venues) {
				return fmt.Errorf("got %d symbols for %d venues", len(symbols), len(venues))
			}
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			return runStream(cmd.Context(), cfg, logger, venues, symbols)
		},
	}
	cmd.Flags().StringArrayVar(&venues, "venue", nil, "venue to stream (okx, bybit, deribit), repeatable")
	cmd.Flags().StringArrayVar(&symbols, "symbol", nil, "symbol for the venue at the same position, repeatable")
	return cmd
}

func runStream(ctx context.Context, cfg config.Config, logger zerolog.Logger, venueNames, symbols []string) error {
	storage, err := openJournal(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer storage.Close()

	var alerts notifier.Notifier = notifier.Nop{}
	if cfg.Notifier.TelegramToken != "" {
		alerts = notifier.NewTelegramNotifier(cfg.Notifier.TelegramToken, cfg.Notifier.TelegramChatID,
			cfg.Notifier.Retries, cfg.Notifier.RetryDelay)
	}

	reg := metrics.Init(logger)
	store := book.NewStore(cfg.Stream.Depth, market.AllVenues()...)
	engine, err := exchange.NewEngine(exchange.EngineConfig{
		Endpoints:         cfg.Endpoints(),
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		InitialDelay:      cfg.Stream.InitialRetryDelay,
		MaxAttempts:       cfg.Stream.MaxReconnectAttempts,
		SingleConnection:  cfg.Stream.SingleConnection,
	}, store,
		exchange.WithDialer(exchange.WebsocketDialer{HandshakeTimeout: cfg.Stream.HandshakeTimeout}),
		exchange.WithLogger(logger),
		exchange.WithJournal(storage),
		exchange.WithNotifier(alerts),
	)
	if err != nil {
		return err
	}
	defer engine.DisconnectAll()

	if cfg.Stream.SingleConnection && len(venueNames) > 1 {
		logger.Warn().Int("venues", len(venueNames)).Msg("bookstream | single_connection is set, only the last venue keeps streaming")
	}
	fetcher := exchange.NewInstrumentFetcher(instrumentURLs(cfg), nil, logger)
	for i, name := range venueNames {
		venue, err := market.ParseVenue(name)
		if err != nil {
			return err
		}
		symbol := ""
		if i < len(symbols) {
			symbol = symbols[i]
		}
		if symbol == "" {
			if list := fetcher.Instruments(ctx, venue); len(list) > 0 {
				symbol = list[0]
			}
		}
		if err := engine.Connect(ctx, venue, symbol); err != nil {
			return fmt.Errorf("connect %s: %w", venue, err)
		}
		logger.Info().Str("venue", venue.String()).Str("symbol", symbol).Msg("bookstream | streaming requested")
	}

	srv := api.New(engine, storage, reg, logger)
	err = srv.Run(ctx, cfg.Server.Addr, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
	logger.Info().Msg("bookstream | shutting down")
	return err
}

func openJournal(ctx context.Context, cfg config.Config, logger zerolog.Logger) (db.Storage, error) {
	if cfg.Journal.DBConnStr == "" {
		logger.Info().Msg("bookstream | no DB_CONN_STR, journaling in memory")
		return db.NewMemory(), nil
	}
	pg, err := db.OpenPostgres(ctx, cfg.Journal.DBConnStr, cfg.Journal.DBMaxOpen, cfg.Journal.DBMaxIdle)
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("bookstream | connected to Postgres journal")
	return pg, nil
}

func instrumentURLs(cfg config.Config) exchange.InstrumentURLs {
	return exchange.InstrumentURLs{
		OKX:        cfg.Venues.OKX.InstrumentsURL,
		Bybit:      cfg.Venues.Bybit.InstrumentsURL,
		DeribitBTC: cfg.Venues.Deribit.InstrumentsBTCURL,
		DeribitETH: cfg.Venues.Deribit.InstrumentsETHURL,
	}
}
