// Package impact estimates how an order would fill against a normalized book.
package impact

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/amirphl/bookstream/internal/market"
)

// HighSlippageThreshold is the slippage percentage above which an estimate is flagged.
var HighSlippageThreshold = decimal.NewFromFloat(0.5)

var hundred = decimal.NewFromInt(100)

// Side of the simulated order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Type of the simulated order.
type Type string

const (
	Market Type = "market"
	Limit  Type = "limit"
)

// Order represents a simulated order. Price is only used by limit orders.
type Order struct {
	Side     Side
	Type     Type
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// Metrics is the outcome of walking the book for an Order.
type Metrics struct {
	FillPercent  decimal.Decimal `json:"fillPercent"`
	AvgPrice     decimal.Decimal `json:"avgPrice"`
	Slippage     decimal.Decimal `json:"slippage"`
	ImpactPrice  decimal.Decimal `json:"impactPrice"`
	HighSlippage bool            `json:"highSlippage"`
}

// ParseSide accepts buy or sell in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	}
	return "", fmt.Errorf("invalid side %q", s)
}

// NewOrder builds an order from request values. A positive price makes it a
// limit order, an empty price a market order.
func NewOrder(side, quantity, price string) (Order, error) {
	sd, err := ParseSide(side)
	if err != nil {
		return Order{}, err
	}
	qty, err := decimal.NewFromString(quantity)
	if err != nil {
		return Order{}, fmt.Errorf("invalid quantity %q: %w", quantity, err)
	}
	o := Order{Side: sd, Type: Market, Quantity: qty}
	if price == "" {
		return o, nil
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return Order{}, fmt.Errorf("invalid price %q: %w", price, err)
	}
	if !p.IsPositive() {
		return Order{}, errors.New("limit price must be positive")
	}
	o.Type, o.Price = Limit, p
	return o, nil
}

// Estimate walks asks for a buy and bids for a sell, best price first, until
// the quantity is filled, the side runs out or a limit price is crossed.
// A non-positive quantity yields zero metrics.
func Estimate(book market.Book, o Order) Metrics {
	if !o.Quantity.IsPositive() {
		return Metrics{}
	}
	levels, dir := book.Asks, market.Ascending
	if o.Side == Sell {
		levels, dir = book.Bids, market.Descending
	}

	var m Metrics
	filled, cost := decimal.Zero, decimal.Zero
	remaining := o.Quantity
	for _, l := range levels {
		// the limit is crossed once it sorts before the level price
		if o.Type == Limit && o.Price.IsPositive() && dir.Before(o.Price, l.Price) {
			break
		}
		take := decimal.Min(remaining, l.Size)
		filled = filled.Add(take)
		cost = cost.Add(take.Mul(l.Price))
		remaining = remaining.Sub(take)
		m.ImpactPrice = l.Price
		if !remaining.IsPositive() {
			break
		}
	}

	m.FillPercent = filled.Div(o.Quantity).Mul(hundred)
	if filled.IsPositive() {
		m.AvgPrice = cost.Div(filled)
	}
	if best, ok := levels.Best(); ok && best.Price.IsPositive() && m.AvgPrice.IsPositive() {
		m.Slippage = m.AvgPrice.Sub(best.Price).Div(best.Price).Mul(hundred).Abs()
	}
	m.HighSlippage = m.Slippage.GreaterThan(HighSlippageThreshold)
	return m
}
