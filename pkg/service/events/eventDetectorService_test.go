package events

import (
	"testing"

	"marginBot/pkg/constants"
	"marginBot/pkg/data/domains"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initTestConfig() {
	viper.Reset()
	viper.Set("thresholds.emergencyMarginRate", 2.0)
	viper.Set("thresholds.priceSpikePct", 3.0)
	viper.Set("thresholds.accountMarginRateWarning", 3.0)
}

func d(value string) decimal.Decimal {
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		panic(err)
	}
	return parsed
}

func TestFirstPriceOnlyRecordsBaseline(t *testing.T) {
	initTestConfig()
	service := NewEventDetectorService()

	spike := service.OnPriceUpdate("BTC", d("50000"))

	assert.Nil(t, spike)
	cached, ok := service.GetCachedPrice("BTC")
	require.True(t, ok)
	assert.Equal(t, "50000", cached.String())
}

func TestSmallMoveIsNotASpike(t *testing.T) {
	initTestConfig()
	service := NewEventDetectorService()

	service.OnPriceUpdate("BTC", d("50000"))
	spike := service.OnPriceUpdate("BTC", d("50500"))

	assert.Nil(t, spike)
}

func TestSpikeDetectedOnLargeMove(t *testing.T) {
	initTestConfig()
	service := NewEventDetectorService()

	service.OnPriceUpdate("BTC", d("50000"))
	spike := service.OnPriceUpdate("BTC", d("48000"))

	require.NotNil(t, spike)
	assert.Equal(t, "BTC", spike.Symbol)
	assert.Equal(t, "50000", spike.From.String())
	assert.Equal(t, "48000", spike.To.String())
}

func TestSpikeComparesAgainstLatestObservation(t *testing.T) {
	initTestConfig()
	service := NewEventDetectorService()

	service.OnPriceUpdate("BTC", d("50000"))
	service.OnPriceUpdate("BTC", d("49000"))
	// 2% against 49000, not against the original 50000.
	spike := service.OnPriceUpdate("BTC", d("48020"))

	assert.Nil(t, spike)
}

func TestCheckEmergencyConditions(t *testing.T) {
	initTestConfig()
	service := NewEventDetectorService()

	positions := []domains.Position{
		// 1% margin rate.
		{Symbol: "BTC", Side: constants.LONG, Quantity: d("1"), CurrentPrice: d("50000"), Margin: d("500")},
		// 5% margin rate.
		{Symbol: "ETH", Side: constants.LONG, Quantity: d("10"), CurrentPrice: d("3000"), Margin: d("1500")},
	}

	critical := service.CheckEmergencyConditions(positions)

	require.Len(t, critical, 1)
	assert.Equal(t, "BTC", critical[0].Symbol)
}

func TestAccountWarningIsLatched(t *testing.T) {
	initTestConfig()
	service := NewEventDetectorService()

	rate, warn := service.CheckAccountMarginRate(d("20"), d("1000"))
	assert.InDelta(t, 2.0, rate, 1e-9)
	assert.True(t, warn)

	// Still breached: no repeat warning.
	_, warn = service.CheckAccountMarginRate(d("20"), d("1000"))
	assert.False(t, warn)

	// Recovered: the latch resets.
	_, warn = service.CheckAccountMarginRate(d("100"), d("1000"))
	assert.False(t, warn)

	_, warn = service.CheckAccountMarginRate(d("20"), d("1000"))
	assert.True(t, warn)
}

func TestZeroMarginNeverWarns(t *testing.T) {
	initTestConfig()
	service := NewEventDetectorService()

	rate, warn := service.CheckAccountMarginRate(d("100"), d("0"))

	assert.Zero(t, rate)
	assert.False(t, warn)
}

func TestClearPriceCache(t *testing.T) {
	initTestConfig()
	service := NewEventDetectorService()

	service.OnPriceUpdate("BTC", d("50000"))
	service.ClearPriceCache()

	_, ok := service.GetCachedPrice("BTC")
	assert.False(t, ok)

	// Back to baseline behavior.
	assert.Nil(t, service.OnPriceUpdate("BTC", d("10")))
}
