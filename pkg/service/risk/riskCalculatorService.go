package risk

import (
	"time"

	"marginBot/pkg/api"
	"marginBot/pkg/data/domains"
	"marginBot/pkg/service/date"
	"marginBot/pkg/util"

	"github.com/sdcoffey/big"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	referenceSymbol = "BTC"
	volatilityFloor = 0.001
	defaultWeight   = 1.0
)

func NewRiskCalculatorService(exchangeApi api.ExchangeApi, clock date.Clock) *RiskCalculatorService {
	return &RiskCalculatorService{
		exchangeApi: exchangeApi,
		Clock:       clock,
		weights:     make(map[string]cacheEntry),
	}
}

/* Risk weight per symbol: manual override from config when present, otherwise
   historical volatility normalized by the reference symbol. State is written
   only under the balancer's serialization. */
type RiskCalculatorService struct {
	exchangeApi api.ExchangeApi
	Clock       date.Clock

	weights   map[string]cacheEntry
	reference *cacheEntry

	lastSpikeAt time.Time
}

type cacheEntry struct {
	value      float64
	computedAt time.Time
}

/* NoteSpike collapses the cache window to the short one until no spike has
   been observed for a full normal window. */
func (s *RiskCalculatorService) NoteSpike() {
	s.lastSpikeAt = s.Clock.NowTime()
}

func (s *RiskCalculatorService) cacheTtl() time.Duration {
	normal := time.Duration(viper.GetInt("monitor.volatilityUpdateHours")) * time.Hour
	if !s.lastSpikeAt.IsZero() && s.Clock.NowTime().Sub(s.lastSpikeAt) < normal {
		return time.Duration(viper.GetInt("monitor.volatilitySpikeWindowMinutes")) * time.Minute
	}
	return normal
}

func (s *RiskCalculatorService) GetRiskWeight(symbol string) float64 {
	if viper.IsSet("riskWeights." + symbol) {
		return viper.GetFloat64("riskWeights." + symbol)
	}

	ttl := s.cacheTtl()
	now := s.Clock.NowTime()

	if entry, ok := s.weights[symbol]; ok && now.Sub(entry.computedAt) < ttl {
		return entry.value
	}

	volatility, ok := s.fetchVolatility(symbol)
	if !ok {
		return defaultWeight
	}

	reference, ok := s.referenceVolatility(ttl)
	if !ok {
		return defaultWeight
	}

	weight := volatility.Div(reference).Float()
	s.weights[symbol] = cacheEntry{value: weight, computedAt: now}

	return weight
}

func (s *RiskCalculatorService) referenceVolatility(ttl time.Duration) (big.Decimal, bool) {
	now := s.Clock.NowTime()

	if s.reference != nil && now.Sub(s.reference.computedAt) < ttl {
		return big.NewDecimal(s.reference.value), true
	}

	volatility, ok := s.fetchVolatility(referenceSymbol)
	if !ok {
		return big.ZERO, false
	}

	s.reference = &cacheEntry{value: volatility.Float(), computedAt: now}
	return volatility, true
}

/* Population standard deviation of daily simple returns, floored so the
   normalization never divides by a vanishing number. */
func (s *RiskCalculatorService) fetchVolatility(symbol string) (big.Decimal, bool) {
	lookback := viper.GetInt("monitor.volatilityLookbackDays")

	closes, err := s.exchangeApi.GetCandles("t"+symbol+"USD", "1D", lookback)
	if err != nil {
		zap.S().Warnf("Candle fetch for %s failed, falling back to default weight: %s", symbol, err.Error())
		return big.ZERO, false
	}
	if len(closes) < 2 {
		return big.ZERO, false
	}

	volatility := big.NewDecimal(util.StandardDeviation(util.SimpleReturns(closes)))
	if volatility.LT(big.NewDecimal(volatilityFloor)) {
		volatility = big.NewDecimal(volatilityFloor)
	}

	return volatility, true
}

func (s *RiskCalculatorService) ClearCache() {
	s.weights = make(map[string]cacheEntry)
	s.reference = nil
}

/* CalculateTargetMargins distributes the total budget across positions
   proportionally to notional * risk weight. The result sums to the budget
   and does not depend on position order. */
func (s *RiskCalculatorService) CalculateTargetMargins(positions []domains.Position, totalMargin decimal.Decimal) map[string]decimal.Decimal {
	if len(positions) == 0 {
		return map[string]decimal.Decimal{}
	}

	weighted := make(map[string]decimal.Decimal, len(positions))
	totalWeighted := decimal.Zero

	for i := range positions {
		weight := s.GetRiskWeight(positions[i].Symbol)
		weightedValue := positions[i].Notional().Mul(decimal.NewFromFloat(weight))
		weighted[positions[i].Symbol] = weightedValue
		totalWeighted = totalWeighted.Add(weightedValue)
	}

	targets := make(map[string]decimal.Decimal, len(positions))

	if totalWeighted.IsZero() {
		avg := totalMargin.Div(decimal.NewFromInt(int64(len(positions))))
		for i := range positions {
			targets[positions[i].Symbol] = avg
		}
		return targets
	}

	for i := range positions {
		targets[positions[i].Symbol] = totalMargin.Mul(weighted[positions[i].Symbol]).Div(totalWeighted)
	}

	return targets
}
