package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/amirphl/bookstream/internal/db"
	"github.com/amirphl/bookstream/internal/exchange"
	"github.com/amirphl/bookstream/internal/market"
)

func newInstrumentsCmd() *cobra.Command {
	var (
		venueNames []string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "instruments",
		Short: "List tradable instruments per venue, falling back to the built-in lists",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			venues := market.AllVenues()
			if len(venueNames) > 0 {
				venues = venues[:0]
				for _, name := range venueNames {
					v, err := market.ParseVenue(name)
					if err != nil {
						return err
					}
					venues = append(venues, v)
				}
			}

			fetcher := exchange.NewInstrumentFetcher(instrumentURLs(cfg), nil, logger)
			out := make(map[market.Venue][]string, len(venues))
			for _, v := range venues {
				out[v] = fetcher.Instruments(cmd.Context(), v)
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			for _, v := range venues {
				fmt.Printf("%s:\n", v)
				for _, s := range out[v] {
					fmt.Printf("  %s\n", s)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&venueNames, "venue", nil, "venue to list, repeatable (default all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	var schemaPath string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the journal database and apply the schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if cfg.Journal.DBConnStr == "" {
				return fmt.Errorf("journal.db_conn_str (DB_CONN_STR) is not set")
			}
			return db.Migrate(cmd.Context(), cfg.Journal.DBConnStr, schemaPath, logger)
		},
	}
	cmd.Flags().StringVar(&schemaPath, "schema", "scripts/schema.sql", "schema file to apply")
	return cmd
}
