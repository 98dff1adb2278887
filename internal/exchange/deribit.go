package exchange

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/amirphl/bookstream/internal/market"
)

// deribitInterval is the notification interval of the book channel.
const deribitInterval = "100ms"

// DeribitCodec speaks Deribit JSON-RPC 2.0 over WebSocket. Request ids are
// the current unix time in milliseconds.
type DeribitCodec struct {
	now func() time.Time
}

func NewDeribitCodec() *DeribitCodec { return &DeribitCodec{now: time.Now} }

func (c *DeribitCodec) Venue() market.Venue { return market.Deribit }

type deribitParams struct {
	Channels []string `json:"channels"`
}

type deribitRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Method  string         `json:"method"`
	Params  *deribitParams `json:"params,omitempty"`
}

// Subscribe builds a public/subscribe request for book.SYMBOL.100ms.
func (c *DeribitCodec) Subscribe(symbol string) (Frame, error) {
	if symbol == "" {
		return nil, fmt.Errorf("deribit subscribe: %w", ErrEmptySymbol)
	}
	channel := fmt.Sprintf("book.%s.%s", symbol, deribitInterval)
	return json.Marshal(deribitRequest{
		JSONRPC: "2.0",
		ID:      c.now().UnixMilli(),
		Method:  "public/subscribe",
		Params:  &deribitParams{Channels: []string{channel}},
	})
}

// Heartbeat builds a public/test request.
func (c *DeribitCodec) Heartbeat() Frame {
	frame, err := json.Marshal(deribitRequest{JSONRPC: "2.0", ID: c.now().UnixMilli(), Method: "public/test"})
	if err != nil {
		return nil
	}
	return frame
}

type deribitMessage struct {
	Event  json.RawMessage `json:"event"`
	Op     string          `json:"op"`
	Method string          `json:"method"`
	ID     json.RawMessage `json:"id"`
	Params struct {
		Channel string `json:"channel"`
		Data    *struct {
			Type string     `json:"type"`
			Bids [][]number `json:"bids"`
			Asks [][]number `json:"asks"`
		} `json:"data"`
	} `json:"params"`
}

// Decode handles subscription notifications such as
// {"method":"subscription","params":{"channel":"book.BTC-PERPETUAL.100ms","data":{"type":"change","bids":[["new",50000,1.5]],"asks":[]}}}.
// Any frame carrying an "id" is a reply to one of our requests.
func (c *DeribitCodec) Decode(raw []byte) Decoded {
	var msg deribitMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Decoded{Kind: Unrecognized}
	}
	if isControl(msg.Event, msg.Op, msg.Method) || present(msg.ID) {
		return Decoded{Kind: Control}
	}
	data := msg.Params.Data
	if data == nil {
		return Decoded{Kind: Unrecognized}
	}

	snapshot := data.Type == "snapshot"
	p := levelParser{snapshot: snapshot}
	u := market.Update{
		Venue:    market.Deribit,
		Bids:     deribitLevels(&p, data.Bids),
		Asks:     deribitLevels(&p, data.Asks),
		Snapshot: snapshot,
	}
	return bookDecoded(u, p.dropped)
}

// deribitLevels accepts three row shapes:
//
//	[price, size]
//	["delete", price] or ["delete", price, size]  removes price
//	[action, price, size]                         absolute size at price
func deribitLevels(p *levelParser, rows [][]number) []market.Level {
	out := make([]market.Level, 0, len(rows))
	for _, row := range rows {
		switch {
		case len(row) >= 2 && row[0] == "delete":
			price, err := row[1].decimal()
			if err != nil {
				p.dropped++
				continue
			}
			out = p.addParsed(out, price, decimal.Zero)
		case len(row) == 2:
			out = p.add(out, row[0], row[1])
		case len(row) >= 3:
			out = p.add(out, row[1], row[2])
		default:
			p.dropped++
		}
	}
	return out
}
