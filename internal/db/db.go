// Package db
package db

import (
	"github.com/amirphl/bookstream/internal/journal"
)

type Event = journal.Event

// Storage is the interface for all persistent storage.
type Storage interface {
	journal.Journaler
	Close() error
}
