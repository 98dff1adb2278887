package exchange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/bookstream/internal/book"
	"github.com/amirphl/bookstream/internal/market"
)

func rows(levels []market.Level) [][2]string {
	out := make([][2]string, 0, len(levels))
	for _, l := range levels {
		out = append(out, [2]string{l.Price.String(), l.Size.String()})
	}
	return out
}

func TestCodecFor(t *testing.T) {
	for _, v := range market.AllVenues() {
		c, err := CodecFor(v)
		require.NoError(t, err)
		assert.Equal(t, v, c.Venue())
	}
	_, err := CodecFor(market.Venue("Kraken"))
	assert.ErrorIs(t, err, ErrUnknownVenue)
}

func TestSubscribeFrames(t *testing.T) {
	deribit := NewDeribitCodec()
	deribit.now = func() time.Time { return time.UnixMilli(1700000000123) }

	tests := []struct {
		name   string
		codec  Codec
		symbol string
		want   string
	}{
		{
			name:   "okx",
			codec:  NewOKXCodec(),
			symbol: "BTC-USDT",
			want:   `{"op":"subscribe","args":[{"channel":"books","instId":"BTC-USDT"}]}`,
		},
		{
			name:   "bybit",
			codec:  NewBybitCodec(),
			symbol: "BTCUSDT",
			want:   `{"op":"subscribe","args":["orderbook.200.BTCUSDT"]}`,
		},
		{
			name:   "deribit",
			codec:  deribit,
			symbol: "BTC-PERPETUAL",
			want:   `{"jsonrpc":"2.0","id":1700000000123,"method":"public/subscribe","params":{"channels":["book.BTC-PERPETUAL.100ms"]}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := tt.codec.Subscribe(tt.symbol)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(frame))

			_, err = tt.codec.Subscribe("")
			assert.ErrorIs(t, err, ErrEmptySymbol)
		})
	}
}

func TestHeartbeatFrames(t *testing.T) {
	deribit := NewDeribitCodec()
	deribit.now = func() time.Time { return time.UnixMilli(42) }

	assert.JSONEq(t, `{"op":"ping"}`, string(NewOKXCodec().Heartbeat()))
	assert.JSONEq(t, `{"op":"ping"}`, string(NewBybitCodec().Heartbeat()))
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":42,"method":"public/test"}`, string(deribit.Heartbeat()))
}

func TestDecodeControlFrames(t *testing.T) {
	tests := []struct {
		name  string
		codec Codec
		raw   string
	}{
		{"okx subscribe ack", NewOKXCodec(), `{"event":"subscribe","arg":{"channel":"books","instId":"BTC-USDT"}}`},
		{"okx error event", NewOKXCodec(), `{"event":"error","code":"60012","msg":"Invalid request"}`},
		{"okx pong", NewOKXCodec(), `{"op":"pong"}`},
		{"bybit subscribe ack", NewBybitCodec(), `{"success":true,"ret_msg":"","conn_id":"x","op":"subscribe"}`},
		{"bybit ping reply", NewBybitCodec(), `{"success":true,"ret_msg":"pong","op":"ping"}`},
		{"deribit rpc reply", NewDeribitCodec(), `{"jsonrpc":"2.0","id":17,"result":["book.BTC-PERPETUAL.100ms"]}`},
		{"deribit heartbeat", NewDeribitCodec(), `{"jsonrpc":"2.0","method":"heartbeat","params":{"type":"test_request"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, Control, tt.codec.Decode([]byte(tt.raw)).Kind)
		})
	}
}

func TestDecodeUnrecognizedFrames(t *testing.T) {
	tests := []struct {
		name  string
		codec Codec
		raw   string
	}{
		{"okx plain pong", NewOKXCodec(), `pong`},
		{"okx other channel", NewOKXCodec(), `{"arg":{"channel":"trades","instId":"BTC-USDT"},"data":[{"px":"1"}]}`},
		{"okx empty data", NewOKXCodec(), `{"arg":{"channel":"books"},"action":"update","data":[]}`},
		{"okx empty sides", NewOKXCodec(), `{"arg":{"channel":"books"},"action":"update","data":[{"bids":[],"asks":[]}]}`},
		{"bybit other topic", NewBybitCodec(), `{"topic":"publicTrade.BTCUSDT","type":"snapshot","data":[]}`},
		{"bybit truncated", NewBybitCodec(), `{"topic":"orderbook.200.BTCUSDT",`},
		{"deribit no data", NewDeribitCodec(), `{"jsonrpc":"2.0","method":"subscription","params":{"channel":"x"}}`},
		{"empty", NewDeribitCodec(), ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, Unrecognized, tt.codec.Decode([]byte(tt.raw)).Kind)
		})
	}
}

func TestOKXDecode(t *testing.T) {
	c := NewOKXCodec()

	snap := c.Decode([]byte(`{"arg":{"channel":"books","instId":"BTC-USDT"},"action":"snapshot",
		"data":[{"bids":[["100.0","2","0","1"],["99","0","0","0"]],"asks":[["101.0","3","0","1"]],"ts":"1"}]}`))
	require.Equal(t, BookUpdate, snap.Kind)
	assert.True(t, snap.Update.Snapshot)
	assert.Equal(t, market.OKX, snap.Update.Venue)
	assert.Equal(t, [][2]string{{"100", "2"}}, rows(snap.Update.Bids))
	assert.Equal(t, [][2]string{{"101", "3"}}, rows(snap.Update.Asks))
	assert.Equal(t, 1, snap.Dropped)

	delta := c.Decode([]byte(`{"arg":{"channel":"books","instId":"BTC-USDT"},"action":"update",
		"data":[{"bids":[["100.0","0","0","0"],["99.5","1","0","1"]],"asks":[]}]}`))
	require.Equal(t, BookUpdate, delta.Kind)
	assert.False(t, delta.Update.Snapshot)
	assert.Equal(t, [][2]string{{"100", "0"}, {"99.5", "1"}}, rows(delta.Update.Bids))
	assert.Empty(t, delta.Update.Asks)

	store := book.NewStore(market.DefaultDepth, market.OKX)
	require.True(t, store.Apply(snap.Update))
	require.True(t, store.Apply(delta.Update))
	b := store.Get(market.OKX)
	assert.Equal(t, [][2]string{{"99.5", "1"}}, rows(b.Bids))
	assert.Equal(t, [][2]string{{"101", "3"}}, rows(b.Asks))
}

func TestBybitDecode(t *testing.T) {
	c := NewBybitCodec()

	d := c.Decode([]byte(`{"topic":"orderbook.200.BTCUSDT","type":"snapshot","ts":1,
		"data":{"s":"BTCUSDT","b":[["65000.5","0.25"],["64999","x"]],"a":[["65001","1.5"]],"u":1,"seq":2}}`))
	require.Equal(t, BookUpdate, d.Kind)
	assert.True(t, d.Update.Snapshot)
	assert.Equal(t, [][2]string{{"65000.5", "0.25"}}, rows(d.Update.Bids))
	assert.Equal(t, [][2]string{{"65001", "1.5"}}, rows(d.Update.Asks))
	assert.Equal(t, 1, d.Dropped)

	d = c.Decode([]byte(`{"topic":"orderbook.200.BTCUSDT","type":"delta","data":{"b":[],"a":[["65001","0"],["65002","-1"]]}}`))
	require.Equal(t, BookUpdate, d.Kind)
	assert.False(t, d.Update.Snapshot)
	assert.Equal(t, [][2]string{{"65001", "0"}}, rows(d.Update.Asks))
	assert.Equal(t, 1, d.Dropped)
}

func TestDeribitDecode(t *testing.T) {
	c := NewDeribitCodec()

	tests := []struct {
		name     string
		raw      string
		snapshot bool
		bids     [][2]string
		asks     [][2]string
		dropped  int
	}{
		{
			name: "snapshot with numeric values",
			raw: `{"jsonrpc":"2.0","method":"subscription","params":{"channel":"book.BTC-PERPETUAL.100ms",
				"data":{"type":"snapshot","bids":[["new",50000.0,1.5],["new",49999.5,2]],"asks":[["new",50001,3]]}}}`,
			snapshot: true,
			bids:     [][2]string{{"50000", "1.5"}, {"49999.5", "2"}},
			asks:     [][2]string{{"50001", "3"}},
		},
		{
			name: "delete with two elements",
			raw: `{"jsonrpc":"2.0","method":"subscription","params":{"channel":"book.BTC-PERPETUAL.100ms",
				"data":{"type":"change","bids":[["delete","50000.0"]],"asks":[]}}}`,
			bids: [][2]string{{"50000", "0"}},
			asks: [][2]string{},
		},
		{
			name: "delete with size and plain pair",
			raw: `{"jsonrpc":"2.0","method":"subscription","params":{"channel":"book.ETH-PERPETUAL.100ms",
				"data":{"type":"change","bids":[["delete",3000,0]],"asks":[["3001.5","4"],["change",3002,7]]}}}`,
			bids: [][2]string{{"3000", "0"}},
			asks: [][2]string{{"3001.5", "4"}, {"3002", "7"}},
		},
		{
			name: "malformed rows dropped",
			raw: `{"jsonrpc":"2.0","method":"subscription","params":{"channel":"book.BTC-PERPETUAL.100ms",
				"data":{"type":"change","bids":[["new"],["new","abc",1],["delete","?"]],"asks":[["new",1,2]]}}}`,
			bids:    [][2]string{},
			asks:    [][2]string{{"1", "2"}},
			dropped: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := c.Decode([]byte(tt.raw))
			require.Equal(t, BookUpdate, d.Kind)
			assert.Equal(t, tt.snapshot, d.Update.Snapshot)
			assert.Equal(t, tt.bids, rows(d.Update.Bids))
			assert.Equal(t, tt.asks, rows(d.Update.Asks))
			assert.Equal(t, tt.dropped, d.Dropped)
		})
	}
}

func TestDeribitDeleteRemovesLevel(t *testing.T) {
	c := NewDeribitCodec()
	store := book.NewStore(market.DefaultDepth, market.Deribit)

	snap := c.Decode([]byte(`{"method":"subscription","params":{"data":{"type":"snapshot",
		"bids":[["new",50000.0,1],["new",49990.0,2]],"asks":[["new",50010.0,1]]}}}`))
	require.Equal(t, BookUpdate, snap.Kind)
	require.True(t, store.Apply(snap.Update))

	del := c.Decode([]byte(`{"method":"subscription","params":{"data":{"type":"change","bids":[["delete","50000.0"]],"asks":[]}}}`))
	require.Equal(t, BookUpdate, del.Kind)
	require.True(t, store.Apply(del.Update))

	b := store.Get(market.Deribit)
	assert.Equal(t, [][2]string{{"49990", "2"}}, rows(b.Bids))
	assert.Equal(t, [][2]string{{"50010", "1"}}, rows(b.Asks))
}
