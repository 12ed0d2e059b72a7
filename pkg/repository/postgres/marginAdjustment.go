package postgres

import (
	"time"

	"marginBot/pkg/data/domains"

	"github.com/jmoiron/sqlx"
)

func NewMarginAdjustment(db *sqlx.DB) *MarginAdjustment {
	return &MarginAdjustment{db: db}
}

type MarginAdjustment struct {
	db *sqlx.DB
}

func (r *MarginAdjustment) Save(adjustment *domains.MarginAdjustment) error {
	row := r.db.QueryRow(
		"INSERT INTO margin_adjustment (symbol, direction, amount, before_margin, after_margin, trigger_type, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id",
		adjustment.Symbol, adjustment.Direction, adjustment.Amount, adjustment.BeforeMargin,
		adjustment.AfterMargin, adjustment.TriggerType, adjustment.CreatedAt)

	return row.Scan(&adjustment.Id)
}

func (r *MarginAdjustment) FindAllByCreatedAtAfter(moment time.Time) ([]domains.MarginAdjustment, error) {
	var adjustments []domains.MarginAdjustment
	if err := r.db.Select(&adjustments,
		"SELECT * FROM margin_adjustment WHERE created_at > $1 ORDER BY created_at", moment); err != nil {
		return nil, err
	}
	return adjustments, nil
}
