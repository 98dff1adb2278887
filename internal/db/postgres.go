package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/amirphl/bookstream/internal/db/conf"
)

// Transaction context key
type txKey struct{}

// WithTransaction adds a transaction to the context
func WithTransaction(ctx context.Context, tx *sqlx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTransaction retrieves a transaction from context, or returns nil if not present
func GetTransaction(ctx context.Context) *sqlx.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return nil
}

type Postgres struct {
	db *sqlx.DB
}

// NewPostgres wraps an open connection from conf.
func NewPostgres(c conf.Config) (*Postgres, error) {
	if c.DB == nil {
		return nil, errors.New("postgres: nil database handle")
	}
	return &Postgres{db: sqlx.NewDb(c.DB, "postgres")}, nil
}

// OpenPostgres connects with connStr and verifies the connection.
func OpenPostgres(ctx context.Context, connStr string, maxOpen, maxIdle int) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

// executeWithTransaction executes a function with proper transaction management
// If a transaction exists in context, it uses that. Otherwise, it creates a new one.
func (p *Postgres) executeWithTransaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if tx := GetTransaction(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}
	return nil
}

// selectWithTransaction runs a select using the transaction from context if available
func (p *Postgres) selectWithTransaction(ctx context.Context, dest any, query string, args ...any) error {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.SelectContext(ctx, dest, query, args...)
	}
	return p.db.SelectContext(ctx, dest, query, args...)
}

type eventRow struct {
	Time        time.Time `db:"time"`
	Type        string    `db:"type"`
	SessionID   uuid.UUID `db:"session_id"`
	Venue       string    `db:"venue"`
	Symbol      string    `db:"symbol"`
	Attempt     int       `db:"attempt"`
	Description string    `db:"description"`
	Data        []byte    `db:"data"`
}

const insertEvent = `INSERT INTO session_events (time, type, session_id, venue, symbol, attempt, description, data)
VALUES (:time, :type, :session_id, :venue, :symbol, :attempt, :description, :data)`

func (p *Postgres) LogEvent(ctx context.Context, event Event) error {
	row := eventRow{
		Time:        event.Time.UTC(),
		Type:        event.Type,
		SessionID:   event.SessionID,
		Venue:       event.Venue,
		Symbol:      event.Symbol,
		Attempt:     event.Attempt,
		Description: event.Description,
	}
	if event.Data != nil {
		data, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("failed to encode event data: %w", err)
		}
		row.Data = data
	}
	return p.executeWithTransaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, insertEvent, row); err != nil {
			return fmt.Errorf("failed to log event: %w", err)
		}
		return nil
	})
}

// LogEvents writes events in one transaction; either all are stored or none.
func (p *Postgres) LogEvents(ctx context.Context, events []Event) error {
	return p.executeWithTransaction(ctx, func(tx *sqlx.Tx) error {
		txCtx := WithTransaction(ctx, tx)
		for _, e := range events {
			if err := p.LogEvent(txCtx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Postgres) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]Event, error) {
	var rows []eventRow
	err := p.selectWithTransaction(ctx, &rows,
		`SELECT time, type, session_id, venue, symbol, attempt, description, data
		 FROM session_events
		 WHERE ($1 = '' OR type = $1) AND time >= $2 AND time <= $3
		 ORDER BY time ASC, id ASC`, eventType, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	events := make([]Event, 0, len(rows))
	for _, r := range rows {
		e := Event{
			Time:        r.Time.UTC(),
			Type:        r.Type,
			SessionID:   r.SessionID,
			Venue:       r.Venue,
			Symbol:      r.Symbol,
			Attempt:     r.Attempt,
			Description: r.Description,
		}
		if len(r.Data) > 0 {
			if err := json.Unmarshal(r.Data, &e.Data); err != nil {
				return nil, fmt.Errorf("failed to decode event data: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, nil
}

// DeleteEvents removes events of eventType older than before.
func (p *Postgres) DeleteEvents(ctx context.Context, eventType string, before time.Time) error {
	return p.executeWithTransaction(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM session_events WHERE type=$1 AND time < $2`, eventType, before)
		if err != nil {
			return fmt.Errorf("failed to delete events: %w", err)
		}
		return nil
	})
}
