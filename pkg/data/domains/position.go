package domains

import (
	"marginBot/pkg/constants"

	"github.com/shopspring/decimal"
)

/* Read-only snapshot of one active derivative position, fetched each cycle. */
type Position struct {
	Symbol string

	Side constants.PositionSide

	Quantity decimal.Decimal

	EntryPrice decimal.Decimal

	CurrentPrice decimal.Decimal

	/* Isolated collateral currently attached to the position. */
	Margin decimal.Decimal

	Leverage int

	UnrealizedPnl decimal.Decimal
}

func (p *Position) Notional() decimal.Decimal {
	return p.Quantity.Mul(p.CurrentPrice)
}

/* Margin as percent of notional; 0 when the notional is 0. */
func (p *Position) MarginRate() decimal.Decimal {
	notional := p.Notional()
	if notional.IsZero() {
		return decimal.Zero
	}
	return p.Margin.Div(notional).Mul(decimal.NewFromInt(100))
}

func (p *Position) IsProfitable() bool {
	return p.UnrealizedPnl.IsPositive()
}
