package liquidator

import (
	"fmt"
	"sort"
	"time"

	"marginBot/pkg/api"
	"marginBot/pkg/constants"
	"marginBot/pkg/data/domains"
	"marginBot/pkg/repository"
	"marginBot/pkg/service/date"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const defaultPriority = 50

func NewPositionLiquidatorService(exchangeApi api.ExchangeApi, liquidationRepo repository.Liquidation,
	clock date.Clock) *PositionLiquidatorService {
	return &PositionLiquidatorService{
		exchangeApi:     exchangeApi,
		liquidationRepo: liquidationRepo,
		Clock:           clock,
	}
}

/* Partially closes positions when total collateral cannot keep every
   position above the safety floor. The cooldown clock lives for the process
   lifetime and advances only after a live execution pass that closed
   something. */
type PositionLiquidatorService struct {
	exchangeApi     api.ExchangeApi
	liquidationRepo repository.Liquidation
	Clock           date.Clock

	lastLiquidationTime time.Time
}

type LiquidationPlan struct {
	Symbol           string
	Side             constants.PositionSide
	CurrentQuantity  decimal.Decimal
	CloseQuantity    decimal.Decimal
	CurrentPrice     decimal.Decimal
	EstimatedRelease decimal.Decimal
}

type LiquidationResult struct {
	Executed      bool
	Reason        string
	Plans         []LiquidationPlan
	SuccessCount  int
	FailCount     int
	TotalReleased decimal.Decimal
}

func notExecuted(reason string, plans []LiquidationPlan) LiquidationResult {
	return LiquidationResult{Executed: false, Reason: reason, Plans: plans, TotalReleased: decimal.Zero}
}

/* CalculateMarginGap returns how much collateral is missing to hold every
   position at notional * maintenance rate * safety multiplier. */
func (s *PositionLiquidatorService) CalculateMarginGap(positions []domains.Position, availableBalance decimal.Decimal) decimal.Decimal {
	maintenanceRate := decimal.NewFromFloat(viper.GetFloat64("liquidation.maintenanceMarginRate"))
	safetyMultiplier := decimal.NewFromFloat(viper.GetFloat64("liquidation.safetyMarginMultiplier"))

	totalNotional := decimal.Zero
	totalMargin := decimal.Zero
	for i := range positions {
		totalNotional = totalNotional.Add(positions[i].Notional())
		totalMargin = totalMargin.Add(positions[i].Margin)
	}

	minSafeMargin := totalNotional.Mul(maintenanceRate).Mul(safetyMultiplier)

	gap := minSafeMargin.Sub(totalMargin).Sub(availableBalance)
	if gap.IsNegative() {
		return decimal.Zero
	}
	return gap
}

func positionPriority(symbol string) int {
	if viper.IsSet("positionPriority." + symbol) {
		return viper.GetInt("positionPriority." + symbol)
	}
	if viper.IsSet("positionPriority.default") {
		return viper.GetInt("positionPriority.default")
	}
	return defaultPriority
}

func (s *PositionLiquidatorService) sortByPriority(positions []domains.Position) []domains.Position {
	sorted := append([]domains.Position(nil), positions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return positionPriority(sorted[i].Symbol) < positionPriority(sorted[j].Symbol)
	})
	return sorted
}

func (s *PositionLiquidatorService) createPlan(position *domains.Position, neededRelease decimal.Decimal) LiquidationPlan {
	maxClosePct := decimal.NewFromFloat(viper.GetFloat64("liquidation.maxSingleClosePct")).Div(decimal.NewFromInt(100))
	maxCloseQty := position.Quantity.Mul(maxClosePct)

	var qtyForRelease decimal.Decimal
	if position.Margin.IsPositive() {
		qtyForRelease = neededRelease.Div(position.Margin).Mul(position.Quantity)
	} else {
		qtyForRelease = maxCloseQty
	}

	closeQty := qtyForRelease
	if closeQty.GreaterThan(maxCloseQty) {
		closeQty = maxCloseQty
	}

	estimatedRelease := decimal.Zero
	if position.Quantity.IsPositive() {
		estimatedRelease = closeQty.Div(position.Quantity).Mul(position.Margin)
	}

	return LiquidationPlan{
		Symbol:           position.Symbol,
		Side:             position.Side,
		CurrentQuantity:  position.Quantity,
		CloseQuantity:    closeQty,
		CurrentPrice:     position.CurrentPrice,
		EstimatedRelease: estimatedRelease,
	}
}

func (s *PositionLiquidatorService) InCooldown() bool {
	if s.lastLiquidationTime.IsZero() {
		return false
	}
	cooldown := time.Duration(viper.GetInt("liquidation.cooldownSeconds")) * time.Second
	return s.Clock.NowTime().Sub(s.lastLiquidationTime) < cooldown
}

func (s *PositionLiquidatorService) ExecuteIfNeeded(positions []domains.Position, availableBalance decimal.Decimal) LiquidationResult {
	if !viper.GetBool("liquidation.enabled") {
		return notExecuted("Liquidation disabled", nil)
	}

	if s.InCooldown() {
		return notExecuted("In cooldown period", nil)
	}

	gap := s.CalculateMarginGap(positions, availableBalance)
	if !gap.IsPositive() {
		return notExecuted("No margin gap", nil)
	}

	sortedPositions := s.sortByPriority(positions)

	var plans []LiquidationPlan
	remainingGap := gap

	for i := range sortedPositions {
		if !remainingGap.IsPositive() {
			break
		}
		plan := s.createPlan(&sortedPositions[i], remainingGap)
		if !plan.CloseQuantity.IsPositive() {
			continue
		}
		plans = append(plans, plan)
		remainingGap = remainingGap.Sub(plan.EstimatedRelease)
	}

	if len(plans) == 0 {
		return notExecuted("No closable positions", nil)
	}

	if viper.GetBool("liquidation.dryRun") {
		zap.S().Infof("Liquidation dry run: %d plans for gap %s", len(plans), gap.String())
		return notExecuted("Dry run mode", plans)
	}

	return s.executePlans(plans, gap)
}

func (s *PositionLiquidatorService) executePlans(plans []LiquidationPlan, gap decimal.Decimal) LiquidationResult {
	successCount := 0
	failCount := 0
	totalReleased := decimal.Zero

	for _, plan := range plans {
		fullSymbol := s.exchangeApi.GetFullSymbol(plan.Symbol)

		if !s.exchangeApi.ClosePosition(fullSymbol, plan.Side, plan.CloseQuantity) {
			zap.S().Errorf("Liquidation close failed for %s, qty %s", plan.Symbol, plan.CloseQuantity.String())
			failCount++
			continue
		}

		successCount++
		totalReleased = totalReleased.Add(plan.EstimatedRelease)

		liquidation := domains.Liquidation{
			Symbol:         plan.Symbol,
			Side:           plan.Side,
			Quantity:       plan.CloseQuantity,
			Price:          plan.CurrentPrice,
			ReleasedMargin: plan.EstimatedRelease,
			Reason:         fmt.Sprintf("Margin gap: %s", gap.String()),
			CreatedAt:      s.Clock.NowTime(),
		}
		if err := s.liquidationRepo.Save(&liquidation); err != nil {
			zap.S().Errorf("Failed to save liquidation record for %s: %s", plan.Symbol, err.Error())
		}
	}

	if successCount > 0 {
		s.lastLiquidationTime = s.Clock.NowTime()
	}

	return LiquidationResult{
		Executed:      true,
		Reason:        fmt.Sprintf("Executed %d liquidations", successCount),
		Plans:         plans,
		SuccessCount:  successCount,
		FailCount:     failCount,
		TotalReleased: totalReleased,
	}
}
