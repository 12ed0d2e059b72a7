package mock

import (
	"errors"

	"marginBot/pkg/constants"
	"marginBot/pkg/data/domains"

	"github.com/shopspring/decimal"
)

func NewBitfinexApiMock() *BitfinexApiMock {
	return &BitfinexApiMock{
		Candles: make(map[string][]float64),
	}
}

/* Scripted exchange double. Read fields configure responses, the call
   slices record what the code under test executed, in order. */
type BitfinexApiMock struct {
	Positions    []domains.Position
	PositionsErr error

	Balance decimal.Decimal
	/* Consumed one by one when set; lets a test script balance changes between fetches. */
	BalanceSequence []decimal.Decimal
	BalanceErr      error

	Candles    map[string][]float64
	CandlesErr error

	/* Symbols whose margin update / close must fail. */
	FailMarginFor map[string]bool
	FailCloseFor  map[string]bool

	CandleRequests []string
	MarginCalls    []MarginCall
	CloseCalls     []CloseCall
}

type MarginCall struct {
	FullSymbol string
	Delta      decimal.Decimal
}

type CloseCall struct {
	FullSymbol string
	Side       constants.PositionSide
	Quantity   decimal.Decimal
}

func (apiMock *BitfinexApiMock) GetPositions() ([]domains.Position, error) {
	if apiMock.PositionsErr != nil {
		return nil, apiMock.PositionsErr
	}
	return apiMock.Positions, nil
}

func (apiMock *BitfinexApiMock) GetDerivativesBalance() (decimal.Decimal, error) {
	if apiMock.BalanceErr != nil {
		return decimal.Zero, apiMock.BalanceErr
	}
	if len(apiMock.BalanceSequence) > 0 {
		balance := apiMock.BalanceSequence[0]
		apiMock.BalanceSequence = apiMock.BalanceSequence[1:]
		return balance, nil
	}
	return apiMock.Balance, nil
}

func (apiMock *BitfinexApiMock) GetCandles(symbol string, timeframe string, limit int) ([]float64, error) {
	apiMock.CandleRequests = append(apiMock.CandleRequests, symbol)
	if apiMock.CandlesErr != nil {
		return nil, apiMock.CandlesErr
	}
	closes, ok := apiMock.Candles[symbol]
	if !ok {
		return nil, errors.New("no candles scripted for " + symbol)
	}
	return closes, nil
}

func (apiMock *BitfinexApiMock) UpdatePositionMargin(fullSymbol string, delta decimal.Decimal) bool {
	apiMock.MarginCalls = append(apiMock.MarginCalls, MarginCall{FullSymbol: fullSymbol, Delta: delta})
	return !apiMock.FailMarginFor[fullSymbol]
}

func (apiMock *BitfinexApiMock) ClosePosition(fullSymbol string, side constants.PositionSide, quantity decimal.Decimal) bool {
	apiMock.CloseCalls = append(apiMock.CloseCalls, CloseCall{FullSymbol: fullSymbol, Side: side, Quantity: quantity})
	return !apiMock.FailCloseFor[fullSymbol]
}

func (apiMock *BitfinexApiMock) GetFullSymbol(symbol string) string {
	return "t" + symbol + "F0:USTF0"
}
