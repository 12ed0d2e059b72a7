package bitfinex

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"marginBot/pkg/constants"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApi(handler http.HandlerFunc) (*BitfinexApi, *httptest.Server) {
	server := httptest.NewServer(handler)
	viper.Reset()
	viper.Set("bitfinex.baseUrl", server.URL)
	return NewBitfinexApi("test-key", "test-secret"), server
}

func TestGetFullSymbol(t *testing.T) {
	bfxApi := NewBitfinexApi("", "")

	assert.Equal(t, "tBTCF0:USTF0", bfxApi.GetFullSymbol("BTC"))
	assert.Equal(t, "tDOGEF0:USTF0", bfxApi.GetFullSymbol("DOGE"))
}

func TestParseShortSymbol(t *testing.T) {
	assert.Equal(t, "BTC", ParseShortSymbol("tBTCF0:USTF0"))
	assert.Equal(t, "ETH", ParseShortSymbol("tETHF0:USTF0"))
}

func TestGetPositionsParsesActiveOnly(t *testing.T) {
	bfxApi, server := newTestApi(func(res http.ResponseWriter, req *http.Request) {
		require.Equal(t, "/v2/auth/r/positions", req.URL.Path)
		assert.NotEmpty(t, req.Header.Get("bfx-signature"))
		assert.NotEmpty(t, req.Header.Get("bfx-nonce"))

		res.Write([]byte(`[
			["tBTCF0:USTF0","ACTIVE",0.5,48000,0,0,120.5,1.2,45000,10,null,0,0,null,null,null,50000,400,12,null],
			["tETHF0:USTF0","CLOSED",10,2900,0,0,0,0,0,5,null,0,0,null,null,null,3000,300,9,null],
			["tDOGEF0:USTF0","ACTIVE",-10000,0.11,0,0,-5,0,0.2,3,null,0,0,null,null,null,0.1,10,1,null]
		]`))
	})
	defer server.Close()

	positions, err := bfxApi.GetPositions()

	require.NoError(t, err)
	require.Len(t, positions, 2)

	btc := positions[0]
	assert.Equal(t, "BTC", btc.Symbol)
	assert.Equal(t, constants.LONG, btc.Side)
	assert.Equal(t, "0.5", btc.Quantity.String())
	assert.Equal(t, "50000", btc.CurrentPrice.String())
	assert.Equal(t, "400", btc.Margin.String())
	assert.Equal(t, 10, btc.Leverage)
	assert.Equal(t, "1.6", btc.MarginRate().String())

	doge := positions[1]
	assert.Equal(t, "DOGE", doge.Symbol)
	assert.Equal(t, constants.SHORT, doge.Side)
	assert.Equal(t, "10000", doge.Quantity.String())
}

func TestGetDerivativesBalanceFindsDerivWallet(t *testing.T) {
	bfxApi, server := newTestApi(func(res http.ResponseWriter, req *http.Request) {
		require.Equal(t, "/v2/auth/r/wallets", req.URL.Path)
		res.Write([]byte(`[
			["exchange","BTC",0.5,0,0.5],
			["deriv","UST",1500,0,1234.56],
			["margin","UST",99,0,99]
		]`))
	})
	defer server.Close()

	balance, err := bfxApi.GetDerivativesBalance()

	require.NoError(t, err)
	assert.Equal(t, "1234.56", balance.String())
}

func TestGetCandlesReturnsChronologicalCloses(t *testing.T) {
	bfxApi, server := newTestApi(func(res http.ResponseWriter, req *http.Request) {
		require.Equal(t, "/v2/candles/trade:1D:tBTCUSD/hist", req.URL.Path)
		assert.Equal(t, "7", req.URL.Query().Get("limit"))

		// Newest first, as the hist endpoint serves them.
		res.Write([]byte(`[
			[1714600000000,104,105,106,103,9],
			[1714500000000,103,104,105,102,9],
			[1714400000000,102,103,104,101,9]
		]`))
	})
	defer server.Close()

	closes, err := bfxApi.GetCandles("tBTCUSD", "1D", 7)

	require.NoError(t, err)
	assert.Equal(t, []float64{103, 104, 105}, closes)
}

func TestUpdatePositionMarginReadsSuccessMarker(t *testing.T) {
	bfxApi, server := newTestApi(func(res http.ResponseWriter, req *http.Request) {
		require.Equal(t, "/v2/auth/w/deriv/collateral/set", req.URL.Path)
		res.Write([]byte(`[1714600000000,"pu-req",null,null,[],0,"SUCCESS","Collateral updated"]`))
	})
	defer server.Close()

	assert.True(t, bfxApi.UpdatePositionMargin("tBTCF0:USTF0", decimal.NewFromInt(100)))
}

func TestUpdatePositionMarginFailureMarker(t *testing.T) {
	bfxApi, server := newTestApi(func(res http.ResponseWriter, req *http.Request) {
		res.Write([]byte(`[1714600000000,"pu-req",null,null,[],0,"ERROR","insufficient balance"]`))
	})
	defer server.Close()

	assert.False(t, bfxApi.UpdatePositionMargin("tBTCF0:USTF0", decimal.NewFromInt(100)))
}

func TestClosePositionFlipsTheAmountSign(t *testing.T) {
	var submittedAmount string
	bfxApi, server := newTestApi(func(res http.ResponseWriter, req *http.Request) {
		require.Equal(t, "/v2/auth/w/order/submit", req.URL.Path)

		var body map[string]interface{}
		require.NoError(t, jsonDecode(req, &body))
		submittedAmount, _ = body["amount"].(string)
		assert.Equal(t, "MARKET", body["type"])

		res.Write([]byte(`[1714600000000,"on-req",null,null,[],0,"SUCCESS","Submitted"]`))
	})
	defer server.Close()

	require.True(t, bfxApi.ClosePosition("tBTCF0:USTF0", constants.LONG, decimal.NewFromInt(2)))
	assert.Equal(t, "-2", submittedAmount)

	require.True(t, bfxApi.ClosePosition("tDOGEF0:USTF0", constants.SHORT, decimal.NewFromInt(2500)))
	assert.Equal(t, "2500", submittedAmount)
}

func TestAuthFailureDisablesWrites(t *testing.T) {
	bfxApi, server := newTestApi(func(res http.ResponseWriter, req *http.Request) {
		res.WriteHeader(http.StatusUnauthorized)
	})
	defer server.Close()

	assert.False(t, bfxApi.UpdatePositionMargin("tBTCF0:USTF0", decimal.NewFromInt(100)))

	// Short-circuits without another request once flagged.
	server.Close()
	assert.False(t, bfxApi.ClosePosition("tBTCF0:USTF0", constants.LONG, decimal.NewFromInt(1)))
}

func TestNotificationSucceededParsing(t *testing.T) {
	assert.True(t, notificationSucceeded([]byte(`[0,"x",null,null,[],0,"SUCCESS","ok"]`)))
	assert.False(t, notificationSucceeded([]byte(`[0,"x",null,null,[],0,"ERROR","no"]`)))
	assert.False(t, notificationSucceeded([]byte(`[0,"x"]`)))
	assert.False(t, notificationSucceeded([]byte(`not json`)))
}

func jsonDecode(req *http.Request, target interface{}) error {
	return json.NewDecoder(req.Body).Decode(target)
}
