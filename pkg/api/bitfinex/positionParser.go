package bitfinex

import (
	"encoding/json"
	"fmt"
	"strings"

	"marginBot/pkg/constants"
	"marginBot/pkg/data/domains"

	"github.com/shopspring/decimal"
)

/* Bitfinex v2 position array:
   [0] SYMBOL, [1] STATUS, [2] AMOUNT, [3] BASE_PRICE, [6] PL,
   [9] LEVERAGE, [16] PRICE, [17] COLLATERAL */
func ParseRawPosition(raw []interface{}) (domains.Position, error) {
	fullSymbol, ok := raw[0].(string)
	if !ok {
		return domains.Position{}, fmt.Errorf("position symbol is not a string: %v", raw[0])
	}

	amount, err := decimalAt(raw, 2)
	if err != nil {
		return domains.Position{}, err
	}

	side := constants.LONG
	if amount.IsNegative() {
		side = constants.SHORT
	}

	entryPrice, err := decimalAt(raw, 3)
	if err != nil {
		return domains.Position{}, err
	}

	currentPrice, err := decimalAt(raw, 16)
	if err != nil || currentPrice.IsZero() {
		currentPrice = entryPrice
	}

	margin, err := decimalAt(raw, 17)
	if err != nil {
		margin = decimal.Zero
	}

	leverage := 1
	if lev, err := floatAt(raw, 9); err == nil && lev > 0 {
		leverage = int(lev)
	}

	unrealizedPnl, err := decimalAt(raw, 6)
	if err != nil {
		unrealizedPnl = decimal.Zero
	}

	return domains.Position{
		Symbol:        ParseShortSymbol(fullSymbol),
		Side:          side,
		Quantity:      amount.Abs(),
		EntryPrice:    entryPrice,
		CurrentPrice:  currentPrice,
		Margin:        margin,
		Leverage:      leverage,
		UnrealizedPnl: unrealizedPnl,
	}, nil
}

/* "tBTCF0:USTF0" -> "BTC" */
func ParseShortSymbol(fullSymbol string) string {
	short := strings.TrimPrefix(fullSymbol, "t")
	if idx := strings.Index(short, "F0"); idx >= 0 {
		short = short[:idx]
	}
	return short
}

func decimalAt(raw []interface{}, idx int) (decimal.Decimal, error) {
	if idx >= len(raw) || raw[idx] == nil {
		return decimal.Zero, fmt.Errorf("missing field at index %d", idx)
	}
	num, ok := raw[idx].(json.Number)
	if !ok {
		return decimal.Zero, fmt.Errorf("field at index %d is not a number: %v", idx, raw[idx])
	}
	return decimal.NewFromString(num.String())
}

func floatAt(raw []interface{}, idx int) (float64, error) {
	if idx >= len(raw) || raw[idx] == nil {
		return 0, fmt.Errorf("missing field at index %d", idx)
	}
	num, ok := raw[idx].(json.Number)
	if !ok {
		return 0, fmt.Errorf("field at index %d is not a number: %v", idx, raw[idx])
	}
	return num.Float64()
}
