package api

import (
	"marginBot/pkg/constants"
	"marginBot/pkg/data/domains"

	"github.com/shopspring/decimal"
)

type ExchangeApi interface {
	GetPositions() ([]domains.Position, error)

	GetDerivativesBalance() (decimal.Decimal, error)

	/* Daily close prices in chronological order, oldest first. */
	GetCandles(symbol string, timeframe string, limit int) ([]float64, error)

	/* Positive delta adds collateral, negative subtracts. Never raises. */
	UpdatePositionMargin(fullSymbol string, delta decimal.Decimal) bool

	/* Market order opposite to the position side. Never raises. */
	ClosePosition(fullSymbol string, side constants.PositionSide, quantity decimal.Decimal) bool

	GetFullSymbol(symbol string) string
}

type PriceCallback func(symbol string, price decimal.Decimal)

type StreamingApi interface {
	/* Replaces the subscription set atomically with the given one. */
	Subscribe(symbols []string)

	OnPrice(callback PriceCallback)

	Start()

	Close()
}
