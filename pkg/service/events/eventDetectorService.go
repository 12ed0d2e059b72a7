package events

import (
	"marginBot/pkg/data/domains"
	"marginBot/pkg/util"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func NewEventDetectorService() *EventDetectorService {
	return &EventDetectorService{
		priceCache: make(map[string]decimal.Decimal),
	}
}

/* Inspects position snapshots and streamed prices for emergencies. The
   last-price table and the warning latch are written only under the
   balancer's serialization. */
type EventDetectorService struct {
	priceCache map[string]decimal.Decimal

	accountWarningSent bool
}

type PriceSpike struct {
	Symbol string
	From   decimal.Decimal
	To     decimal.Decimal
}

/* CheckEmergencyConditions returns positions whose margin rate fell below
   the emergency threshold. */
func (s *EventDetectorService) CheckEmergencyConditions(positions []domains.Position) []domains.Position {
	threshold := decimal.NewFromFloat(viper.GetFloat64("thresholds.emergencyMarginRate"))

	var critical []domains.Position
	for i := range positions {
		marginRate := positions[i].MarginRate()
		if marginRate.LessThan(threshold) {
			zap.S().Warnf("Emergency condition detected: %s margin_rate=%s%% < %s%%",
				positions[i].Symbol, marginRate.StringFixed(2), threshold.String())
			critical = append(critical, positions[i])
		}
	}

	return critical
}

/* OnPriceUpdate records the price and reports a spike when the move against
   the previous observation reaches the threshold. The first observation for
   a symbol only records the baseline. */
func (s *EventDetectorService) OnPriceUpdate(symbol string, price decimal.Decimal) *PriceSpike {
	prevPrice, known := s.priceCache[symbol]
	s.priceCache[symbol] = price

	if !known || prevPrice.IsZero() {
		return nil
	}

	prev, _ := prevPrice.Float64()
	current, _ := price.Float64()
	changePct := util.CalculateChangeInPercentsAbs(prev, current)

	if changePct >= viper.GetFloat64("thresholds.priceSpikePct") {
		zap.S().Warnf("Price spike detected: %s changed %.2f%% (%s -> %s)",
			symbol, changePct, prevPrice.String(), price.String())
		return &PriceSpike{Symbol: symbol, From: prevPrice, To: price}
	}

	return nil
}

/* CheckAccountMarginRate returns the account rate and whether a warning
   should go out now. The warning is latched until the rate recovers. */
func (s *EventDetectorService) CheckAccountMarginRate(totalEquity, totalMargin decimal.Decimal) (float64, bool) {
	if totalMargin.IsZero() {
		s.accountWarningSent = false
		return 0, false
	}

	rate, _ := totalEquity.Div(totalMargin).Mul(decimal.NewFromInt(100)).Float64()
	threshold := viper.GetFloat64("thresholds.accountMarginRateWarning")

	if rate >= threshold {
		s.accountWarningSent = false
		return rate, false
	}

	zap.S().Warnf("Account margin rate warning: %.2f%% < %.2f%%", rate, threshold)

	if s.accountWarningSent {
		return rate, false
	}
	s.accountWarningSent = true
	return rate, true
}

func (s *EventDetectorService) GetCachedPrice(symbol string) (decimal.Decimal, bool) {
	price, ok := s.priceCache[symbol]
	return price, ok
}

func (s *EventDetectorService) ClearPriceCache() {
	s.priceCache = make(map[string]decimal.Decimal)
}
