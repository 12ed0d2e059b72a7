package domains

import (
	"time"

	"marginBot/pkg/constants"

	"github.com/shopspring/decimal"
)

type MarginAdjustment struct {
	Id int64

	Symbol string

	Direction constants.AdjustmentDirection

	/* Always positive, the direction carries the sign. */
	Amount decimal.Decimal

	BeforeMargin decimal.Decimal `db:"before_margin"`

	AfterMargin decimal.Decimal `db:"after_margin"`

	TriggerType constants.TriggerType `db:"trigger_type"`

	CreatedAt time.Time `db:"created_at"`
}
