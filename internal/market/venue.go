package market

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownVenue is returned when a venue name cannot be resolved.
var ErrUnknownVenue = errors.New("unknown venue")

// Venue identifies one external trading platform.
type Venue string

const (
	OKX     Venue = "OKX"
	Bybit   Venue = "Bybit"
	Deribit Venue = "Deribit"
)

// AllVenues lists the supported venues in display order.
func AllVenues() []Venue {
	return []Venue{Bybit, Deribit, OKX}
}

// ParseVenue resolves a venue name case-insensitively (e.g. "okx", "BYBIT").
func ParseVenue(s string) (Venue, error) {
	for _, v := range AllVenues() {
		if strings.EqualFold(strings.TrimSpace(s), string(v)) {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVenue, s)
}

func (v Venue) String() string { return string(v) }

// Key is the lower-case form used in config keys and metric labels.
func (v Venue) Key() string { return strings.ToLower(string(v)) }
