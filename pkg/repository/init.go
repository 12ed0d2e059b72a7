package repository

import (
	"time"

	"marginBot/pkg/data/domains"
	"marginBot/pkg/repository/postgres"

	"github.com/jmoiron/sqlx"
)

type MarginAdjustment interface {
	Save(adjustment *domains.MarginAdjustment) error
	FindAllByCreatedAtAfter(moment time.Time) ([]domains.MarginAdjustment, error)
}

type Liquidation interface {
	Save(liquidation *domains.Liquidation) error
	FindAllByCreatedAtAfter(moment time.Time) ([]domains.Liquidation, error)
}

type AccountSnapshot interface {
	Save(snapshot *domains.AccountSnapshot) error
	FindLast() (*domains.AccountSnapshot, error)
}

type Repository struct {
	MarginAdjustment MarginAdjustment
	Liquidation      Liquidation
	AccountSnapshot  AccountSnapshot
}

func NewRepositories(postgresDb *sqlx.DB) *Repository {
	return &Repository{
		MarginAdjustment: postgres.NewMarginAdjustment(postgresDb),
		Liquidation:      postgres.NewLiquidation(postgresDb),
		AccountSnapshot:  postgres.NewAccountSnapshot(postgresDb),
	}
}
