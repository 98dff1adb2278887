// Package exchange
//
// Codec implementations translate each venue's WebSocket protocol into
// market.Update values. Supervisor drives one streaming connection per venue
// and feeds decoded updates into a book.Store. Engine groups the supervisors
// behind the connect/disconnect surface used by the CLI and the read API.
package exchange

import (
	"errors"
	"fmt"

	"github.com/amirphl/bookstream/internal/market"
)

var (
	// ErrUnknownVenue is returned for venues without a codec or supervisor.
	ErrUnknownVenue = market.ErrUnknownVenue
	// ErrEmptySymbol is returned when a subscribe is requested without a symbol.
	ErrEmptySymbol = errors.New("empty symbol")
)

// Frame is one outbound text message. A nil Frame means nothing to send.
type Frame []byte

// Kind classifies an inbound frame.
type Kind int

const (
	// Unrecognized frames are dropped silently.
	Unrecognized Kind = iota
	// Control frames (acks, pongs, heartbeat echoes) are ignored.
	Control
	// BookUpdate frames carry a snapshot or delta.
	BookUpdate
)

func (k Kind) String() string {
	switch k {
	case Control:
		return "control"
	case BookUpdate:
		return "book"
	default:
		return "unrecognized"
	}
}

// Decoded is the result of decoding one inbound frame.
type Decoded struct {
	Kind   Kind
	Update market.Update
	// Dropped counts levels discarded because they failed to parse.
	Dropped int
}

// Codec builds outbound frames and decodes inbound frames for one venue.
// Decode never fails: anything it cannot use is reported as Unrecognized.
type Codec interface {
	Venue() market.Venue
	Subscribe(symbol string) (Frame, error)
	Heartbeat() Frame
	Decode(raw []byte) Decoded
}

// CodecFor returns the codec of venue.
func CodecFor(venue market.Venue) (Codec, error) {
	switch venue {
	case market.OKX:
		return NewOKXCodec(), nil
	case market.Bybit:
		return NewBybitCodec(), nil
	case market.Deribit:
		return NewDeribitCodec(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVenue, venue)
	}
}

func bookDecoded(u market.Update, dropped int) Decoded {
	// a book frame that ends up with no usable level is not applied
	if u.IsEmpty() {
		return Decoded{Kind: Unrecognized, Dropped: dropped}
	}
	return Decoded{Kind: BookUpdate, Update: u, Dropped: dropped}
}
