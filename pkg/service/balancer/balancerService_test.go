package balancer

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"marginBot/pkg/api"
	apiMock "marginBot/pkg/api/bitfinex/mock"
	"marginBot/pkg/constants"
	"marginBot/pkg/data/domains"
	repoMock "marginBot/pkg/repository/mock"
	"marginBot/pkg/service/allocator"
	"marginBot/pkg/service/date"
	"marginBot/pkg/service/events"
	"marginBot/pkg/service/liquidator"
	"marginBot/pkg/service/risk"
	"marginBot/pkg/service/telegram"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initTestConfig() {
	viper.Reset()
	viper.Set("monitor.volatilityUpdateHours", 1)
	viper.Set("monitor.volatilitySpikeWindowMinutes", 10)
	viper.Set("monitor.volatilityLookbackDays", 7)
	viper.Set("thresholds.minAdjustmentUsdt", 50.0)
	viper.Set("thresholds.minDeviationPct", 5.0)
	viper.Set("thresholds.emergencyMarginRate", 2.0)
	viper.Set("thresholds.priceSpikePct", 3.0)
	viper.Set("thresholds.accountMarginRateWarning", 3.0)
	viper.Set("telegram.enabled", false)
	viper.Set("liquidation.enabled", true)
	viper.Set("liquidation.dryRun", true)
	viper.Set("liquidation.maxSingleClosePct", 25.0)
	viper.Set("liquidation.cooldownSeconds", 30)
	viper.Set("liquidation.safetyMarginMultiplier", 3.0)
	viper.Set("liquidation.maintenanceMarginRate", 0.005)
	viper.Set("positionPriority.default", 50)
}

func d(value string) decimal.Decimal {
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		panic(err)
	}
	return parsed
}

type fixture struct {
	exchange     *apiMock.BitfinexApiMock
	streaming    *apiMock.StreamingApiMock
	snapshotRepo *repoMock.AccountSnapshotMock
	service      *BalancerService
}

func newFixture() *fixture {
	exchange := apiMock.NewBitfinexApiMock()
	return newFixtureWithApi(exchange, exchange)
}

/* writeApi lets a test wrap the exchange double with instrumentation while
   the scripted mock keeps holding the state. */
func newFixtureWithApi(exchange *apiMock.BitfinexApiMock, writeApi api.ExchangeApi) *fixture {
	clock := date.GetClockMock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	streaming := apiMock.NewStreamingApiMock()
	snapshotRepo := repoMock.NewAccountSnapshotMock()

	riskService := risk.NewRiskCalculatorService(writeApi, clock)
	allocatorService := allocator.NewMarginAllocatorService(riskService, writeApi, repoMock.NewMarginAdjustmentMock(), clock)
	liquidatorService := liquidator.NewPositionLiquidatorService(writeApi, repoMock.NewLiquidationMock(), clock)
	eventDetectorService := events.NewEventDetectorService()
	telegramService := telegram.NewTelegramService()

	service := NewBalancerService(writeApi, streaming, riskService, allocatorService, liquidatorService,
		eventDetectorService, telegramService, snapshotRepo, clock)

	return &fixture{exchange: exchange, streaming: streaming, snapshotRepo: snapshotRepo, service: service}
}

func TestTickRebalancesAndRecordsSnapshot(t *testing.T) {
	initTestConfig()
	viper.Set("riskWeights.BTC", 1.0)
	viper.Set("riskWeights.ETH", 1.2)

	f := newFixture()
	f.exchange.Positions = []domains.Position{
		{Symbol: "BTC", Side: constants.LONG, Quantity: d("0.5"), CurrentPrice: d("50000"), Margin: d("400")},
		{Symbol: "ETH", Side: constants.LONG, Quantity: d("10"), CurrentPrice: d("3000"), Margin: d("400")},
	}
	f.exchange.Balance = d("0")

	f.service.Tick()

	require.Len(t, f.exchange.MarginCalls, 2)
	assert.True(t, f.exchange.MarginCalls[0].Delta.IsNegative(), "decrease must run first")
	assert.True(t, f.exchange.MarginCalls[1].Delta.IsPositive())

	require.Len(t, f.snapshotRepo.Saved, 1)
	assert.Equal(t, "800", f.snapshotRepo.Saved[0].TotalEquity.String())
	assert.Contains(t, f.snapshotRepo.Saved[0].PositionsJson, "\"symbol\":\"BTC\"")

	status := f.service.GetStatus()
	assert.True(t, status.LastTickOk)
}

func TestTickAbortsOnPositionFetchFailure(t *testing.T) {
	initTestConfig()

	f := newFixture()
	f.exchange.PositionsErr = errors.New("exchange is down")

	f.service.Tick()

	assert.Empty(t, f.exchange.MarginCalls)
	assert.Empty(t, f.exchange.CloseCalls)
	assert.Empty(t, f.snapshotRepo.Saved)
	assert.False(t, f.service.GetStatus().LastTickOk)
}

func TestTickPublishesHighRiskSymbols(t *testing.T) {
	initTestConfig()
	viper.Set("riskWeights.BTC", 1.0)
	viper.Set("riskWeights.ETH", 1.0)

	f := newFixture()
	f.exchange.Positions = []domains.Position{
		// 3% margin rate, under the 4% high-risk line.
		{Symbol: "BTC", Side: constants.LONG, Quantity: d("1"), CurrentPrice: d("50000"), Margin: d("1500")},
		// 10% margin rate, healthy.
		{Symbol: "ETH", Side: constants.LONG, Quantity: d("10"), CurrentPrice: d("3000"), Margin: d("3000")},
	}
	f.exchange.Balance = d("0")

	f.service.Tick()

	assert.Equal(t, []string{"BTC"}, f.streaming.LastSubscription())
}

func TestTickWithoutPositionsClearsSubscriptions(t *testing.T) {
	initTestConfig()

	f := newFixture()

	f.service.Tick()

	require.Len(t, f.streaming.Subscriptions, 1)
	assert.Empty(t, f.streaming.LastSubscription())
	assert.Empty(t, f.exchange.MarginCalls)
}

func TestTickTopsUpCriticalPosition(t *testing.T) {
	initTestConfig()
	// Weights chosen so the scheduled targets already equal the margins and
	// only the emergency path moves collateral.
	viper.Set("riskWeights.BTC", 1.0)
	viper.Set("riskWeights.ETH", 6.6666666666666667)

	f := newFixture()
	f.exchange.Positions = []domains.Position{
		// 1% margin rate, critical.
		{Symbol: "BTC", Side: constants.LONG, Quantity: d("1"), CurrentPrice: d("50000"), Margin: d("500")},
		{Symbol: "ETH", Side: constants.LONG, Quantity: d("10"), CurrentPrice: d("3000"), Margin: d("2000")},
	}
	// Budget fetch sees 0, the emergency top-up sees 600, liquidation sees 0.
	f.exchange.BalanceSequence = []decimal.Decimal{d("0"), d("600"), d("0")}

	f.service.Tick()

	// Needs 1500 to reach twice the emergency rate, clamped to the 600 available.
	require.Len(t, f.exchange.MarginCalls, 1)
	assert.Equal(t, "tBTCF0:USTF0", f.exchange.MarginCalls[0].FullSymbol)
	assert.Equal(t, "600", f.exchange.MarginCalls[0].Delta.String())
}

func TestPriceSpikeTriggersEmergencyPath(t *testing.T) {
	initTestConfig()

	f := newFixture()
	f.exchange.Positions = []domains.Position{
		// 1% margin rate, critical.
		{Symbol: "BTC", Side: constants.LONG, Quantity: d("1"), CurrentPrice: d("48000"), Margin: d("480")},
	}
	f.exchange.Balance = d("5000")

	f.service.HandlePriceUpdate("BTC", d("50000"))
	require.Empty(t, f.exchange.MarginCalls, "baseline observation must not trigger anything")

	f.service.HandlePriceUpdate("BTC", d("48000"))

	require.Len(t, f.exchange.MarginCalls, 1)
	assert.Equal(t, "tBTCF0:USTF0", f.exchange.MarginCalls[0].FullSymbol)
	assert.True(t, f.exchange.MarginCalls[0].Delta.IsPositive())
}

func TestPriceSpikeOnHealthyPositionDoesNothing(t *testing.T) {
	initTestConfig()

	f := newFixture()
	f.exchange.Positions = []domains.Position{
		// 10% margin rate, not critical.
		{Symbol: "BTC", Side: constants.LONG, Quantity: d("1"), CurrentPrice: d("48000"), Margin: d("4800")},
	}
	f.exchange.Balance = d("5000")

	f.service.HandlePriceUpdate("BTC", d("50000"))
	f.service.HandlePriceUpdate("BTC", d("48000"))

	assert.Empty(t, f.exchange.MarginCalls)
}

/* serializedApi fails the test when two exchange calls overlap, proving the
   single-writer discipline between the tick and the emergency path. */
type serializedApi struct {
	inner     *apiMock.BitfinexApiMock
	mu        sync.Mutex
	active    int32
	violated  int32
	callDelay time.Duration
}

func (s *serializedApi) enter() {
	if atomic.AddInt32(&s.active, 1) != 1 {
		atomic.StoreInt32(&s.violated, 1)
	}
	time.Sleep(s.callDelay)
}

func (s *serializedApi) leave() {
	atomic.AddInt32(&s.active, -1)
}

func (s *serializedApi) GetPositions() ([]domains.Position, error) {
	s.enter()
	defer s.leave()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.GetPositions()
}

func (s *serializedApi) GetDerivativesBalance() (decimal.Decimal, error) {
	s.enter()
	defer s.leave()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.GetDerivativesBalance()
}

func (s *serializedApi) GetCandles(symbol string, timeframe string, limit int) ([]float64, error) {
	s.enter()
	defer s.leave()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.GetCandles(symbol, timeframe, limit)
}

func (s *serializedApi) UpdatePositionMargin(fullSymbol string, delta decimal.Decimal) bool {
	s.enter()
	defer s.leave()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.UpdatePositionMargin(fullSymbol, delta)
}

func (s *serializedApi) ClosePosition(fullSymbol string, side constants.PositionSide, quantity decimal.Decimal) bool {
	s.enter()
	defer s.leave()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.ClosePosition(fullSymbol, side, quantity)
}

func (s *serializedApi) GetFullSymbol(symbol string) string {
	return s.inner.GetFullSymbol(symbol)
}

func TestTickAndEmergencyNeverInterleave(t *testing.T) {
	initTestConfig()
	viper.Set("riskWeights.BTC", 1.0)

	exchange := apiMock.NewBitfinexApiMock()
	exchange.Positions = []domains.Position{
		{Symbol: "BTC", Side: constants.LONG, Quantity: d("1"), CurrentPrice: d("48000"), Margin: d("480")},
	}
	exchange.Balance = d("5000")

	guard := &serializedApi{inner: exchange, callDelay: time.Millisecond}
	f := newFixtureWithApi(exchange, guard)

	// Seed the price baseline so the concurrent update is compared.
	f.service.HandlePriceUpdate("BTC", d("50000"))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.service.Tick()
		}()
		wg.Add(1)
		go func(round int) {
			defer wg.Done()
			price := d("48000").Add(decimal.NewFromInt(int64(round * 3000)))
			f.service.HandlePriceUpdate("BTC", price)
		}(i)
	}
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&guard.violated), "exchange calls interleaved across handlers")
}
