package exchange

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/amirphl/bookstream/internal/market"
)

// OKXCodec speaks the OKX v5 public "books" channel.
type OKXCodec struct{}

func NewOKXCodec() *OKXCodec { return &OKXCodec{} }

func (c *OKXCodec) Venue() market.Venue { return market.OKX }

type okxArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type okxRequest struct {
	Op   string   `json:"op"`
	Args []okxArg `json:"args,omitempty"`
}

// Subscribe builds {"op":"subscribe","args":[{"channel":"books","instId":SYMBOL}]}.
func (c *OKXCodec) Subscribe(symbol string) (Frame, error) {
	if symbol == "" {
		return nil, fmt.Errorf("okx subscribe: %w", ErrEmptySymbol)
	}
	return json.Marshal(okxRequest{Op: "subscribe", Args: []okxArg{{Channel: "books", InstID: symbol}}})
}

// Heartbeat builds {"op":"ping"}.
func (c *OKXCodec) Heartbeat() Frame {
	return Frame(`{"op":"ping"}`)
}

type okxMessage struct {
	Event  json.RawMessage `json:"event"`
	Op     string          `json:"op"`
	Method string          `json:"method"`
	Action string          `json:"action"`
	Arg    okxArg          `json:"arg"`
	Data   []struct {
		Bids [][]number `json:"bids"`
		Asks [][]number `json:"asks"`
	} `json:"data"`
}

// Decode handles book frames such as
// {"arg":{"channel":"books","instId":"BTC-USDT"},"action":"snapshot","data":[{"bids":[["100.0","2","0","1"]],"asks":[...]}]}.
// Snapshot vs delta comes from "action"; in delta mode a size of exactly zero
// deletes the price.
func (c *OKXCodec) Decode(raw []byte) Decoded {
	var msg okxMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Decoded{Kind: Unrecognized}
	}
	if isControl(msg.Event, msg.Op, msg.Method) {
		return Decoded{Kind: Control}
	}
	if msg.Arg.Channel != "books" || len(msg.Data) == 0 {
		return Decoded{Kind: Unrecognized}
	}

	snapshot := msg.Action == "snapshot"
	p := levelParser{snapshot: snapshot}
	u := market.Update{
		Venue:    market.OKX,
		Bids:     p.pairs(msg.Data[0].Bids),
		Asks:     p.pairs(msg.Data[0].Asks),
		Snapshot: snapshot,
	}
	return bookDecoded(u, p.dropped)
}
