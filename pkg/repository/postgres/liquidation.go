package postgres

import (
	"time"

	"marginBot/pkg/data/domains"

	"github.com/jmoiron/sqlx"
)

func NewLiquidation(db *sqlx.DB) *Liquidation {
	return &Liquidation{db: db}
}

type Liquidation struct {
	db *sqlx.DB
}

func (r *Liquidation) Save(liquidation *domains.Liquidation) error {
	row := r.db.QueryRow(
		"INSERT INTO liquidation (symbol, side, quantity, price, released_margin, reason, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id",
		liquidation.Symbol, liquidation.Side, liquidation.Quantity, liquidation.Price,
		liquidation.ReleasedMargin, liquidation.Reason, liquidation.CreatedAt)

	return row.Scan(&liquidation.Id)
}

func (r *Liquidation) FindAllByCreatedAtAfter(moment time.Time) ([]domains.Liquidation, error) {
	var liquidations []domains.Liquidation
	if err := r.db.Select(&liquidations,
		"SELECT * FROM liquidation WHERE created_at > $1 ORDER BY created_at", moment); err != nil {
		return nil, err
	}
	return liquidations, nil
}
