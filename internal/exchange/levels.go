package exchange

import (
	"bytes"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/amirphl/bookstream/internal/market"
)

// number keeps the literal text of a JSON string or bare JSON value so that
// venues sending "100.5" and 100.5 parse the same way.
type number string

func (n *number) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = number(s)
		return nil
	}
	*n = number(b)
	return nil
}

func (n number) decimal() (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(string(n)))
}

// levelParser accumulates parsed levels for one frame and counts the ones it
// had to drop.
type levelParser struct {
	snapshot bool
	dropped  int
}

func (p *levelParser) add(out []market.Level, rawPrice, rawSize number) []market.Level {
	price, err := rawPrice.decimal()
	if err != nil {
		p.dropped++
		return out
	}
	size, err := rawSize.decimal()
	if err != nil || size.IsNegative() {
		p.dropped++
		return out
	}
	return p.addParsed(out, price, size)
}

func (p *levelParser) addParsed(out []market.Level, price, size decimal.Decimal) []market.Level {
	if size.IsZero() && p.snapshot {
		p.dropped++
		return out
	}
	return append(out, market.NewLevel(price, size))
}

// pairs parses [price, size, ...] rows; extra columns are ignored.
func (p *levelParser) pairs(rows [][]number) []market.Level {
	out := make([]market.Level, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			p.dropped++
			continue
		}
		out = p.add(out, row[0], row[1])
	}
	return out
}

// present reports whether a raw JSON value is set to something truthy.
func present(raw json.RawMessage) bool {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 {
		return false
	}
	switch string(v) {
	case "null", "false", `""`, "0":
		return false
	}
	return true
}

// isControl applies the checks shared by every venue: a subscription event,
// a pong or a server heartbeat.
func isControl(event json.RawMessage, op, method string) bool {
	return present(event) || op == "pong" || method == "heartbeat"
}
