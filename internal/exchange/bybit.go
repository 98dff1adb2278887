package exchange

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/amirphl/bookstream/internal/market"
)

// bybitDepth is the orderbook topic depth requested from Bybit.
const bybitDepth = 200

// BybitCodec speaks the Bybit v5 public "orderbook.<depth>.<symbol>" topic.
type BybitCodec struct{}

func NewBybitCodec() *BybitCodec { return &BybitCodec{} }

func (c *BybitCodec) Venue() market.Venue { return market.Bybit }

type bybitRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

// Subscribe builds {"op":"subscribe","args":["orderbook.200.SYMBOL"]}.
func (c *BybitCodec) Subscribe(symbol string) (Frame, error) {
	if symbol == "" {
		return nil, fmt.Errorf("bybit subscribe: %w", ErrEmptySymbol)
	}
	topic := fmt.Sprintf("orderbook.%d.%s", bybitDepth, symbol)
	return json.Marshal(bybitRequest{Op: "subscribe", Args: []string{topic}})
}

// Heartbeat builds {"op":"ping"}.
func (c *BybitCodec) Heartbeat() Frame {
	return Frame(`{"op":"ping"}`)
}

type bybitMessage struct {
	Event  json.RawMessage `json:"event"`
	Op     string          `json:"op"`
	Method string          `json:"method"`
	Topic  string          `json:"topic"`
	Type   string          `json:"type"`
	Data   struct {
		Bids [][]number `json:"b"`
		Asks [][]number `json:"a"`
	} `json:"data"`
}

// Decode handles frames such as
// {"topic":"orderbook.200.BTCUSDT","type":"snapshot","data":{"s":"BTCUSDT","b":[["100","1"]],"a":[["101","2"]]}}.
// Replies to our own requests ({"op":"subscribe","success":true} and the ping
// reply) carry an "op" but no topic and are treated as control frames.
func (c *BybitCodec) Decode(raw []byte) Decoded {
	var msg bybitMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Decoded{Kind: Unrecognized}
	}
	if isControl(msg.Event, msg.Op, msg.Method) || (msg.Op != "" && msg.Topic == "") {
		return Decoded{Kind: Control}
	}
	if !strings.Contains(msg.Topic, "orderbook") {
		return Decoded{Kind: Unrecognized}
	}

	snapshot := msg.Type == "snapshot"
	p := levelParser{snapshot: snapshot}
	u := market.Update{
		Venue:    market.Bybit,
		Bids:     p.pairs(msg.Data.Bids),
		Asks:     p.pairs(msg.Data.Asks),
		Snapshot: snapshot,
	}
	return bookDecoded(u, p.dropped)
}
