package balancer

import (
	"encoding/json"
	"sync"
	"time"

	"marginBot/pkg/api"
	"marginBot/pkg/constants"
	"marginBot/pkg/data/domains"
	"marginBot/pkg/repository"
	"marginBot/pkg/service/allocator"
	"marginBot/pkg/service/date"
	"marginBot/pkg/service/events"
	"marginBot/pkg/service/liquidator"
	"marginBot/pkg/service/risk"
	"marginBot/pkg/service/telegram"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func NewBalancerService(exchangeApi api.ExchangeApi, streamingApi api.StreamingApi,
	riskCalculatorService *risk.RiskCalculatorService, allocatorService *allocator.MarginAllocatorService,
	liquidatorService *liquidator.PositionLiquidatorService, eventDetectorService *events.EventDetectorService,
	telegramService *telegram.TelegramService, snapshotRepo repository.AccountSnapshot,
	clock date.Clock) *BalancerService {
	return &BalancerService{
		exchangeApi:           exchangeApi,
		streamingApi:          streamingApi,
		riskCalculatorService: riskCalculatorService,
		allocatorService:      allocatorService,
		liquidatorService:     liquidatorService,
		eventDetectorService:  eventDetectorService,
		telegramService:       telegramService,
		snapshotRepo:          snapshotRepo,
		Clock:                 clock,
	}
}

/* The single writer. Every exchange write goes through a method of this
   service, and the mutex guarantees a scheduled cycle and an emergency
   handler never interleave: one runs to completion before the other
   begins. Shutdown does not take this mutex: a price-update handler that
   is running when the process unwinds is not waited for. */
type BalancerService struct {
	mu sync.Mutex

	exchangeApi  api.ExchangeApi
	streamingApi api.StreamingApi

	riskCalculatorService *risk.RiskCalculatorService
	allocatorService      *allocator.MarginAllocatorService
	liquidatorService     *liquidator.PositionLiquidatorService
	eventDetectorService  *events.EventDetectorService
	telegramService       *telegram.TelegramService
	snapshotRepo          repository.AccountSnapshot
	Clock                 date.Clock

	statusMu   sync.Mutex
	lastTickAt time.Time
	lastTickOk bool
}

/* Preflight verifies the authenticated surface before the daemon starts. */
func (s *BalancerService) Preflight() error {
	positions, err := s.exchangeApi.GetPositions()
	if err != nil {
		return err
	}

	balance, err := s.exchangeApi.GetDerivativesBalance()
	if err != nil {
		return err
	}

	totalMargin := decimal.Zero
	for i := range positions {
		totalMargin = totalMargin.Add(positions[i].Margin)
	}

	zap.S().Infof("Exchange connection OK (equity: %s USDt, positions: %d)",
		balance.Add(totalMargin).StringFixed(2), len(positions))
	return nil
}

/* Tick runs one full rebalance cycle. A fetch failure on positions or
   balance aborts only this cycle; write failures inside the cycle are
   counted and reported but never stop the remainder. */
func (s *BalancerService) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setLastTick(s.tickLocked())
}

func (s *BalancerService) tickLocked() bool {
	zap.S().Debug("Starting rebalance cycle")

	positions, err := s.exchangeApi.GetPositions()
	if err != nil {
		zap.S().Errorf("Failed to fetch positions, aborting cycle: %s", err.Error())
		return false
	}

	if len(positions) == 0 {
		zap.S().Debug("No active positions, skipping rebalance")
		s.publishHighRiskLocked(nil)
		return true
	}

	availableBalance, err := s.exchangeApi.GetDerivativesBalance()
	if err != nil {
		zap.S().Errorf("Failed to fetch balance, aborting cycle: %s", err.Error())
		return false
	}

	totalMargin := decimal.Zero
	for i := range positions {
		totalMargin = totalMargin.Add(positions[i].Margin)
	}
	totalBudget := totalMargin.Add(availableBalance)

	rebalanceResult := s.allocatorService.ExecuteRebalance(positions, totalBudget, constants.SCHEDULED)
	zap.S().Infof("Rebalance completed: %d success, %d failed, %s moved",
		rebalanceResult.SuccessCount, rebalanceResult.FailCount, rebalanceResult.TotalAdjusted.StringFixed(2))

	if rebalanceResult.SuccessCount > 0 || rebalanceResult.FailCount > 0 {
		s.telegramService.SendAdjustmentReport(rebalanceResult)
	}

	s.handleCriticalPositionsLocked(positions)

	updatedBalance, err := s.exchangeApi.GetDerivativesBalance()
	if err != nil {
		zap.S().Errorf("Failed to refresh balance, skipping liquidation check: %s", err.Error())
		s.saveSnapshotLocked(positions, availableBalance, totalMargin)
		s.publishHighRiskLocked(positions)
		return false
	}

	if rate, warn := s.eventDetectorService.CheckAccountMarginRate(updatedBalance.Add(totalMargin), totalMargin); warn {
		s.telegramService.SendAccountMarginWarning(rate)
	}

	liquidationResult := s.liquidatorService.ExecuteIfNeeded(positions, updatedBalance)
	if liquidationResult.Executed || len(liquidationResult.Plans) > 0 {
		zap.S().Infof("Liquidation check: executed=%v, plans=%d", liquidationResult.Executed, len(liquidationResult.Plans))
		s.telegramService.SendLiquidationAlert(liquidationResult)
	}

	s.saveSnapshotLocked(positions, updatedBalance, totalMargin)
	s.publishHighRiskLocked(positions)

	return true
}

/* Positions under the emergency threshold are topped up from the available
   balance right inside the scheduled cycle, before the deficit check. */
func (s *BalancerService) handleCriticalPositionsLocked(positions []domains.Position) {
	critical := s.eventDetectorService.CheckEmergencyConditions(positions)

	for i := range critical {
		availableBalance, err := s.exchangeApi.GetDerivativesBalance()
		if err != nil {
			zap.S().Errorf("Failed to fetch balance for emergency top-up of %s: %s", critical[i].Symbol, err.Error())
			return
		}

		result := s.allocatorService.EmergencyRebalance(&critical[i], availableBalance)
		if result.SuccessCount > 0 || result.FailCount > 0 {
			s.telegramService.SendEmergencyAlert(&critical[i], result)
		}
	}
}

/* HandlePriceUpdate is the streaming entry point. Spikes shorten the risk
   cache window and trigger an emergency pass for the moved symbol, fully
   serialized with the scheduled cycle. */
func (s *BalancerService) HandlePriceUpdate(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	spike := s.eventDetectorService.OnPriceUpdate(symbol, price)
	if spike == nil {
		return
	}

	s.riskCalculatorService.NoteSpike()

	positions, err := s.exchangeApi.GetPositions()
	if err != nil {
		zap.S().Errorf("Failed to fetch positions on price spike for %s: %s", symbol, err.Error())
		return
	}

	critical := s.eventDetectorService.CheckEmergencyConditions(positions)
	for i := range critical {
		if critical[i].Symbol != symbol {
			continue
		}

		availableBalance, err := s.exchangeApi.GetDerivativesBalance()
		if err != nil {
			zap.S().Errorf("Failed to fetch balance on price spike for %s: %s", symbol, err.Error())
			return
		}

		result := s.allocatorService.EmergencyRebalance(&critical[i], availableBalance)
		if result.SuccessCount > 0 || result.FailCount > 0 {
			s.telegramService.SendEmergencyAlert(&critical[i], result)
		}
		return
	}
}

/* High risk means margin rate under twice the emergency threshold; only
   those symbols stay on the price stream. */
func (s *BalancerService) publishHighRiskLocked(positions []domains.Position) {
	if s.streamingApi == nil {
		return
	}

	threshold := decimal.NewFromFloat(viper.GetFloat64("thresholds.emergencyMarginRate") * 2)

	var highRisk []string
	for i := range positions {
		if positions[i].MarginRate().LessThan(threshold) {
			highRisk = append(highRisk, positions[i].Symbol)
		}
	}

	s.streamingApi.Subscribe(highRisk)
}

func (s *BalancerService) saveSnapshotLocked(positions []domains.Position, availableBalance, totalMargin decimal.Decimal) {
	type positionEntry struct {
		Symbol     string `json:"symbol"`
		Side       string `json:"side"`
		Quantity   string `json:"quantity"`
		Price      string `json:"current_price"`
		Margin     string `json:"margin"`
		MarginRate string `json:"margin_rate"`
	}

	entries := make([]positionEntry, 0, len(positions))
	for i := range positions {
		entries = append(entries, positionEntry{
			Symbol:     positions[i].Symbol,
			Side:       string(positions[i].Side),
			Quantity:   positions[i].Quantity.String(),
			Price:      positions[i].CurrentPrice.String(),
			Margin:     positions[i].Margin.String(),
			MarginRate: positions[i].MarginRate().StringFixed(4),
		})
	}

	positionsJson, err := json.Marshal(entries)
	if err != nil {
		zap.S().Errorf("Failed to marshal snapshot positions: %s", err.Error())
		return
	}

	snapshot := domains.AccountSnapshot{
		TotalEquity:      availableBalance.Add(totalMargin),
		TotalMargin:      totalMargin,
		AvailableBalance: availableBalance,
		PositionsJson:    string(positionsJson),
		CreatedAt:        s.Clock.NowTime(),
	}

	if err := s.snapshotRepo.Save(&snapshot); err != nil {
		zap.S().Errorf("Failed to save account snapshot: %s", err.Error())
	}
}

func (s *BalancerService) setLastTick(ok bool) {
	s.statusMu.Lock()
	s.lastTickAt = s.Clock.NowTime()
	s.lastTickOk = ok
	s.statusMu.Unlock()
}

type Status struct {
	LastTickAt time.Time `json:"last_tick_at"`
	LastTickOk bool      `json:"last_tick_ok"`
}

func (s *BalancerService) GetStatus() Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return Status{LastTickAt: s.lastTickAt, LastTickOk: s.lastTickOk}
}
