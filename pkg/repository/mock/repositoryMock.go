package mock

import (
	"errors"
	"time"

	"marginBot/pkg/data/domains"
)

func NewMarginAdjustmentMock() *MarginAdjustmentMock {
	return &MarginAdjustmentMock{}
}

type MarginAdjustmentMock struct {
	Saved   []domains.MarginAdjustment
	SaveErr error
	FindErr error
}

func (r *MarginAdjustmentMock) Save(adjustment *domains.MarginAdjustment) error {
	if r.SaveErr != nil {
		return r.SaveErr
	}
	adjustment.Id = int64(len(r.Saved) + 1)
	r.Saved = append(r.Saved, *adjustment)
	return nil
}

func (r *MarginAdjustmentMock) FindAllByCreatedAtAfter(moment time.Time) ([]domains.MarginAdjustment, error) {
	if r.FindErr != nil {
		return nil, r.FindErr
	}
	var result []domains.MarginAdjustment
	for _, adjustment := range r.Saved {
		if adjustment.CreatedAt.After(moment) {
			result = append(result, adjustment)
		}
	}
	return result, nil
}

func NewLiquidationMock() *LiquidationMock {
	return &LiquidationMock{}
}

type LiquidationMock struct {
	Saved   []domains.Liquidation
	SaveErr error
	FindErr error
}

func (r *LiquidationMock) Save(liquidation *domains.Liquidation) error {
	if r.SaveErr != nil {
		return r.SaveErr
	}
	liquidation.Id = int64(len(r.Saved) + 1)
	r.Saved = append(r.Saved, *liquidation)
	return nil
}

func (r *LiquidationMock) FindAllByCreatedAtAfter(moment time.Time) ([]domains.Liquidation, error) {
	if r.FindErr != nil {
		return nil, r.FindErr
	}
	var result []domains.Liquidation
	for _, liquidation := range r.Saved {
		if liquidation.CreatedAt.After(moment) {
			result = append(result, liquidation)
		}
	}
	return result, nil
}

func NewAccountSnapshotMock() *AccountSnapshotMock {
	return &AccountSnapshotMock{}
}

type AccountSnapshotMock struct {
	Saved   []domains.AccountSnapshot
	SaveErr error
}

func (r *AccountSnapshotMock) Save(snapshot *domains.AccountSnapshot) error {
	if r.SaveErr != nil {
		return r.SaveErr
	}
	snapshot.Id = int64(len(r.Saved) + 1)
	r.Saved = append(r.Saved, *snapshot)
	return nil
}

func (r *AccountSnapshotMock) FindLast() (*domains.AccountSnapshot, error) {
	if len(r.Saved) == 0 {
		return nil, nil
	}
	last := r.Saved[len(r.Saved)-1]
	return &last, nil
}

var ErrMockFailure = errors.New("mock repository failure")
