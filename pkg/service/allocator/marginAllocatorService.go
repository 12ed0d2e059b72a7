package allocator

import (
	"sort"

	"marginBot/pkg/api"
	"marginBot/pkg/constants"
	"marginBot/pkg/data/domains"
	"marginBot/pkg/repository"
	"marginBot/pkg/service/date"
	"marginBot/pkg/service/risk"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func NewMarginAllocatorService(riskCalculatorService *risk.RiskCalculatorService, exchangeApi api.ExchangeApi,
	adjustmentRepo repository.MarginAdjustment, clock date.Clock) *MarginAllocatorService {
	return &MarginAllocatorService{
		riskCalculatorService: riskCalculatorService,
		exchangeApi:           exchangeApi,
		adjustmentRepo:        adjustmentRepo,
		Clock:                 clock,
	}
}

type MarginAllocatorService struct {
	riskCalculatorService *risk.RiskCalculatorService
	exchangeApi           api.ExchangeApi
	adjustmentRepo        repository.MarginAdjustment
	Clock                 date.Clock
}

type MarginAdjustmentPlan struct {
	Symbol        string
	CurrentMargin decimal.Decimal
	TargetMargin  decimal.Decimal
	Delta         decimal.Decimal
}

func (p *MarginAdjustmentPlan) IsIncrease() bool {
	return p.Delta.IsPositive()
}

type RebalanceResult struct {
	SuccessCount  int
	FailCount     int
	TotalAdjusted decimal.Decimal
	Adjustments   []domains.MarginAdjustment
}

func emptyResult() RebalanceResult {
	return RebalanceResult{TotalAdjusted: decimal.Zero}
}

/* CalculateAdjustmentPlans keeps only deltas that clear both thresholds:
   the absolute minimum and, when the position has margin, the percent
   deviation. The two filters are conjunctive. */
func (s *MarginAllocatorService) CalculateAdjustmentPlans(positions []domains.Position, targets map[string]decimal.Decimal) []MarginAdjustmentPlan {
	minAdjustment := decimal.NewFromFloat(viper.GetFloat64("thresholds.minAdjustmentUsdt"))
	minDeviationPct := decimal.NewFromFloat(viper.GetFloat64("thresholds.minDeviationPct"))

	var plans []MarginAdjustmentPlan

	for i := range positions {
		target, ok := targets[positions[i].Symbol]
		if !ok {
			continue
		}

		delta := target.Sub(positions[i].Margin)
		absDelta := delta.Abs()

		if absDelta.LessThan(minAdjustment) {
			continue
		}

		if positions[i].Margin.IsPositive() {
			deviationPct := absDelta.Div(positions[i].Margin).Mul(decimal.NewFromInt(100))
			if deviationPct.LessThan(minDeviationPct) {
				continue
			}
		}

		plans = append(plans, MarginAdjustmentPlan{
			Symbol:        positions[i].Symbol,
			CurrentMargin: positions[i].Margin,
			TargetMargin:  target,
			Delta:         delta,
		})
	}

	return plans
}

/* SortPlans orders decreases before increases so freed collateral is on the
   account before any top-up. Decreases free the most first, increases take
   the cheapest first. */
func (s *MarginAllocatorService) SortPlans(plans []MarginAdjustmentPlan) []MarginAdjustmentPlan {
	var decreases, increases []MarginAdjustmentPlan

	for _, plan := range plans {
		if plan.IsIncrease() {
			increases = append(increases, plan)
		} else {
			decreases = append(decreases, plan)
		}
	}

	sort.SliceStable(decreases, func(i, j int) bool {
		return decreases[i].Delta.Abs().GreaterThan(decreases[j].Delta.Abs())
	})
	sort.SliceStable(increases, func(i, j int) bool {
		return increases[i].Delta.LessThan(increases[j].Delta)
	})

	return append(decreases, increases...)
}

func (s *MarginAllocatorService) ExecuteRebalance(positions []domains.Position, totalAvailableMargin decimal.Decimal,
	triggerType constants.TriggerType) RebalanceResult {

	targets := s.riskCalculatorService.CalculateTargetMargins(positions, totalAvailableMargin)

	plans := s.CalculateAdjustmentPlans(positions, targets)
	if len(plans) == 0 {
		return emptyResult()
	}

	sortedPlans := s.SortPlans(plans)

	result := emptyResult()

	for _, plan := range sortedPlans {
		fullSymbol := s.exchangeApi.GetFullSymbol(plan.Symbol)

		if !s.exchangeApi.UpdatePositionMargin(fullSymbol, plan.Delta) {
			zap.S().Errorf("Margin adjustment failed for %s, delta %s", plan.Symbol, plan.Delta.String())
			result.FailCount++
			continue
		}

		result.SuccessCount++
		result.TotalAdjusted = result.TotalAdjusted.Add(plan.Delta.Abs())
		result.Adjustments = append(result.Adjustments, s.recordAdjustment(plan, triggerType))
	}

	return result
}

/* EmergencyRebalance tops the critical position up toward twice the
   emergency margin rate, bounded by the available balance. It never touches
   other positions; cross-position moves belong to the scheduled path. */
func (s *MarginAllocatorService) EmergencyRebalance(critical *domains.Position, availableBalance decimal.Decimal) RebalanceResult {
	targetRate := decimal.NewFromFloat(viper.GetFloat64("thresholds.emergencyMarginRate") * 2)

	if critical.MarginRate().GreaterThanOrEqual(targetRate) {
		return emptyResult()
	}

	neededMargin := critical.Notional().Mul(targetRate).Div(decimal.NewFromInt(100))
	delta := neededMargin.Sub(critical.Margin)

	if delta.GreaterThan(availableBalance) {
		delta = availableBalance
	}

	minAdjustment := decimal.NewFromFloat(viper.GetFloat64("thresholds.minAdjustmentUsdt"))
	if delta.LessThan(minAdjustment) {
		return emptyResult()
	}

	fullSymbol := s.exchangeApi.GetFullSymbol(critical.Symbol)

	if !s.exchangeApi.UpdatePositionMargin(fullSymbol, delta) {
		zap.S().Errorf("Emergency margin top-up failed for %s, delta %s", critical.Symbol, delta.String())
		return RebalanceResult{FailCount: 1, TotalAdjusted: decimal.Zero}
	}

	plan := MarginAdjustmentPlan{
		Symbol:        critical.Symbol,
		CurrentMargin: critical.Margin,
		TargetMargin:  critical.Margin.Add(delta),
		Delta:         delta,
	}

	return RebalanceResult{
		SuccessCount:  1,
		TotalAdjusted: delta,
		Adjustments:   []domains.MarginAdjustment{s.recordAdjustment(plan, constants.EMERGENCY)},
	}
}

func (s *MarginAllocatorService) recordAdjustment(plan MarginAdjustmentPlan, triggerType constants.TriggerType) domains.MarginAdjustment {
	direction := constants.DECREASE
	if plan.IsIncrease() {
		direction = constants.INCREASE
	}

	adjustment := domains.MarginAdjustment{
		Symbol:       plan.Symbol,
		Direction:    direction,
		Amount:       plan.Delta.Abs(),
		BeforeMargin: plan.CurrentMargin,
		AfterMargin:  plan.TargetMargin,
		TriggerType:  triggerType,
		CreatedAt:    s.Clock.NowTime(),
	}

	// The exchange stays the source of truth, a failed insert must not stop the cycle.
	if err := s.adjustmentRepo.Save(&adjustment); err != nil {
		zap.S().Errorf("Failed to save margin adjustment for %s: %s", plan.Symbol, err.Error())
	}

	return adjustment
}
