package postgres

import (
	"strings"

	"marginBot/pkg/data/domains"

	"github.com/jmoiron/sqlx"
)

func NewAccountSnapshot(db *sqlx.DB) *AccountSnapshot {
	return &AccountSnapshot{db: db}
}

type AccountSnapshot struct {
	db *sqlx.DB
}

func (r *AccountSnapshot) Save(snapshot *domains.AccountSnapshot) error {
	row := r.db.QueryRow(
		"INSERT INTO account_snapshot (total_equity, total_margin, available_balance, positions_json, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id",
		snapshot.TotalEquity, snapshot.TotalMargin, snapshot.AvailableBalance,
		snapshot.PositionsJson, snapshot.CreatedAt)

	return row.Scan(&snapshot.Id)
}

func (r *AccountSnapshot) FindLast() (*domains.AccountSnapshot, error) {
	var snapshot domains.AccountSnapshot
	if err := r.db.Get(&snapshot,
		"SELECT * FROM account_snapshot ORDER BY created_at DESC LIMIT 1"); err != nil {
		if strings.Contains(err.Error(), "no rows in result set") {
			return nil, nil
		}
		return nil, err
	}
	return &snapshot, nil
}
