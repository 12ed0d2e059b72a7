package bitfinex

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	telegramApi "marginBot/pkg/api/telegram"
	"marginBot/pkg/constants"
	"marginBot/pkg/data/domains"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	maxRetries = 5
	baseDelay  = time.Second
)

func NewBitfinexApi(apiKey string, apiSecret string) *BitfinexApi {
	return &BitfinexApi{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

type BitfinexApi struct {
	apiKey    string
	apiSecret string
	client    *http.Client

	/* Set on authentication failure, cleared on the next successful signed call.
	   While set, write endpoints short-circuit to false. */
	authFailed atomic.Bool
}

func (bfxApi *BitfinexApi) baseUrl() string {
	return strings.TrimSuffix(viper.GetString("bitfinex.baseUrl"), "/")
}

func (bfxApi *BitfinexApi) signature(path string, nonce string, body string) string {
	message := "/api" + path + nonce + body
	mac := hmac.New(sha512.New384, []byte(bfxApi.apiSecret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func (bfxApi *BitfinexApi) signedRequest(path string, body interface{}) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(baseDelay * time.Duration(1<<uint(attempt-1)))
		}

		responseBody, err := bfxApi.signedRequestOnce(path, body)
		if err == nil {
			return responseBody, nil
		}
		if errors.Is(err, errUnauthorized) {
			return nil, err
		}

		lastErr = err
		zap.S().Warnf("Bitfinex request %s failed (attempt %d/%d): %s", path, attempt+1, maxRetries, err.Error())
	}

	telegramApi.SendTextToTelegramChat(fmt.Sprintf("<b>⚠️ Bitfinex request failed</b>\n%s gave up after %d attempts.", path, maxRetries))
	return nil, fmt.Errorf("request %s failed after %d attempts: %w", path, maxRetries, lastErr)
}

var errUnauthorized = errors.New("bitfinex authentication rejected")

func (bfxApi *BitfinexApi) signedRequestOnce(path string, body interface{}) ([]byte, error) {
	bodyJson := "{}"
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyJson = string(raw)
	}

	nonce := fmt.Sprintf("%d", time.Now().UnixMicro())

	req, err := http.NewRequest(http.MethodPost, bfxApi.baseUrl()+path, bytes.NewBufferString(bodyJson))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("bfx-nonce", nonce)
	req.Header.Set("bfx-apikey", bfxApi.apiKey)
	req.Header.Set("bfx-signature", bfxApi.signature(path, nonce, bodyJson))

	res, err := bfxApi.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		bfxApi.markAuthFailed()
		return nil, errUnauthorized
	}
	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("bitfinex responded %d on %s", res.StatusCode, path)
	}

	bfxApi.markAuthOk()
	return io.ReadAll(res.Body)
}

func (bfxApi *BitfinexApi) markAuthFailed() {
	if bfxApi.authFailed.CompareAndSwap(false, true) {
		zap.S().Error("Bitfinex authentication failed, write operations disabled")
		telegramApi.SendTextToTelegramChat("<b>⚠️ Bitfinex authentication failed</b>\nWrite operations are disabled until the API accepts the key again.")
	}
}

func (bfxApi *BitfinexApi) markAuthOk() {
	if bfxApi.authFailed.CompareAndSwap(true, false) {
		zap.S().Info("Bitfinex authentication recovered, write operations enabled")
	}
}

func (bfxApi *BitfinexApi) publicRequest(path string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(baseDelay * time.Duration(1<<uint(attempt-1)))
		}

		res, err := bfxApi.client.Get(bfxApi.baseUrl() + path)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if res.StatusCode >= 400 {
			lastErr = fmt.Errorf("bitfinex responded %d on %s", res.StatusCode, path)
			continue
		}
		return body, nil
	}

	return nil, fmt.Errorf("request %s failed after %d attempts: %w", path, maxRetries, lastErr)
}

func (bfxApi *BitfinexApi) GetPositions() ([]domains.Position, error) {
	body, err := bfxApi.signedRequest("/v2/auth/r/positions", nil)
	if err != nil {
		return nil, err
	}

	var raw [][]interface{}
	if err := unmarshalNumbers(body, &raw); err != nil {
		return nil, err
	}

	var positions []domains.Position
	for _, entry := range raw {
		if len(entry) < 18 {
			continue
		}
		if status, ok := entry[1].(string); !ok || status != "ACTIVE" {
			continue
		}
		position, err := ParseRawPosition(entry)
		if err != nil {
			zap.S().Warnf("Skipping unparsable position entry: %s", err.Error())
			continue
		}
		positions = append(positions, position)
	}

	return positions, nil
}

func (bfxApi *BitfinexApi) GetDerivativesBalance() (decimal.Decimal, error) {
	body, err := bfxApi.signedRequest("/v2/auth/r/wallets", nil)
	if err != nil {
		return decimal.Zero, err
	}

	var wallets [][]interface{}
	if err := unmarshalNumbers(body, &wallets); err != nil {
		return decimal.Zero, err
	}

	for _, wallet := range wallets {
		if len(wallet) < 5 {
			continue
		}
		walletType, _ := wallet[0].(string)
		currency, _ := wallet[1].(string)
		if walletType == "deriv" && (currency == "UST" || currency == "USDt") {
			return decimalAt(wallet, 4)
		}
	}

	return decimal.Zero, nil
}

func (bfxApi *BitfinexApi) GetCandles(symbol string, timeframe string, limit int) ([]float64, error) {
	path := fmt.Sprintf("/v2/candles/trade:%s:%s/hist?limit=%d", timeframe, symbol, limit)

	body, err := bfxApi.publicRequest(path)
	if err != nil {
		return nil, err
	}

	var raw [][]interface{}
	if err := unmarshalNumbers(body, &raw); err != nil {
		return nil, err
	}

	// hist endpoint returns newest first
	closes := make([]float64, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		if len(raw[i]) < 3 {
			continue
		}
		closePrice, err := floatAt(raw[i], 2)
		if err != nil {
			continue
		}
		closes = append(closes, closePrice)
	}

	return closes, nil
}

func (bfxApi *BitfinexApi) UpdatePositionMargin(fullSymbol string, delta decimal.Decimal) bool {
	if bfxApi.authFailed.Load() {
		return false
	}

	body := map[string]interface{}{
		"symbol": fullSymbol,
		"delta":  delta.String(),
	}

	response, err := bfxApi.signedRequest("/v2/auth/w/deriv/collateral/set", body)
	if err != nil {
		zap.S().Errorf("UpdatePositionMargin %s %s failed: %s", fullSymbol, delta.String(), err.Error())
		return false
	}

	return notificationSucceeded(response)
}

func (bfxApi *BitfinexApi) ClosePosition(fullSymbol string, side constants.PositionSide, quantity decimal.Decimal) bool {
	if bfxApi.authFailed.Load() {
		return false
	}

	amount := quantity
	if side == constants.LONG {
		amount = quantity.Neg()
	}

	body := map[string]interface{}{
		"type":   "MARKET",
		"symbol": fullSymbol,
		"amount": amount.String(),
		"flags":  0,
	}

	response, err := bfxApi.signedRequest("/v2/auth/w/order/submit", body)
	if err != nil {
		zap.S().Errorf("ClosePosition %s %s failed: %s", fullSymbol, amount.String(), err.Error())
		return false
	}

	return notificationSucceeded(response)
}

func (bfxApi *BitfinexApi) GetFullSymbol(symbol string) string {
	return "t" + symbol + "F0:USTF0"
}

/* Notification array: [MTS, TYPE, MESSAGE_ID, null, DATA, CODE, STATUS, TEXT] */
func notificationSucceeded(body []byte) bool {
	var raw []interface{}
	if err := unmarshalNumbers(body, &raw); err != nil {
		return false
	}
	if len(raw) < 7 {
		return false
	}
	status, ok := raw[6].(string)
	return ok && status == "SUCCESS"
}

func unmarshalNumbers(body []byte, target interface{}) error {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	return decoder.Decode(target)
}
