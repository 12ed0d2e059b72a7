package domains

import (
	"time"

	"marginBot/pkg/constants"

	"github.com/shopspring/decimal"
)

type Liquidation struct {
	Id int64

	Symbol string

	Side constants.PositionSide

	Quantity decimal.Decimal

	Price decimal.Decimal

	ReleasedMargin decimal.Decimal `db:"released_margin"`

	Reason string

	CreatedAt time.Time `db:"created_at"`
}
