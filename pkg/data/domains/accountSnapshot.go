package domains

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountSnapshot struct {
	Id int64

	TotalEquity decimal.Decimal `db:"total_equity"`

	TotalMargin decimal.Decimal `db:"total_margin"`

	AvailableBalance decimal.Decimal `db:"available_balance"`

	/* JSON array with one entry per open position. */
	PositionsJson string `db:"positions_json"`

	CreatedAt time.Time `db:"created_at"`
}
