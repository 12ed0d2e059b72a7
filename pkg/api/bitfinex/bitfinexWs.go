package bitfinex

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"marginBot/pkg/api"
	telegramApi "marginBot/pkg/api/telegram"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	maxReconnectAttempts  = 10
	initialReconnectDelay = time.Second
	maxReconnectDelay     = 60 * time.Second
)

func NewBitfinexWs(wsUrl string) *BitfinexWs {
	return &BitfinexWs{
		wsUrl:      wsUrl,
		subscribed: make(map[string]bool),
		channelMap: make(map[int64]string),
		closeChan:  make(chan struct{}),
	}
}

/* Ticker stream for derivative pairs. One reader goroutine delivers price
   callbacks serially; reconnects resubscribe the current set. On retry
   exhaustion the stream stays down and the daemon continues polling-only. */
type BitfinexWs struct {
	wsUrl string

	mu         sync.Mutex
	conn       *websocket.Conn
	running    bool
	subscribed map[string]bool
	channelMap map[int64]string

	callback api.PriceCallback

	closeChan chan struct{}
	closeOnce sync.Once
}

func (ws *BitfinexWs) OnPrice(callback api.PriceCallback) {
	ws.mu.Lock()
	ws.callback = callback
	ws.mu.Unlock()
}

func (ws *BitfinexWs) Connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(ws.wsUrl, nil)
	if err != nil {
		return err
	}

	ws.mu.Lock()
	ws.conn = conn
	ws.running = true
	ws.channelMap = make(map[int64]string)
	ws.mu.Unlock()

	zap.S().Infof("WebSocket connected to %s", ws.wsUrl)
	return nil
}

func (ws *BitfinexWs) Start() {
	go ws.listen()
}

func (ws *BitfinexWs) IsConnected() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.running && ws.conn != nil
}

/* Subscribe replaces the subscription set atomically: symbols missing from
   the new set are unsubscribed, new ones are subscribed. */
func (ws *BitfinexWs) Subscribe(symbols []string) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if !ws.running || ws.conn == nil {
		// Remember the set anyway, a later reconnect picks it up.
		ws.subscribed = make(map[string]bool)
		for _, symbol := range symbols {
			ws.subscribed[symbol] = true
		}
		return
	}

	wanted := make(map[string]bool, len(symbols))
	for _, symbol := range symbols {
		wanted[symbol] = true
	}

	for symbol := range ws.subscribed {
		if !wanted[symbol] {
			ws.sendUnsubscribeLocked(symbol)
			delete(ws.subscribed, symbol)
		}
	}

	for symbol := range wanted {
		if !ws.subscribed[symbol] {
			if ws.sendSubscribeLocked(symbol) {
				ws.subscribed[symbol] = true
			}
		}
	}

	zap.S().Debugf("WebSocket subscriptions updated: %d symbols monitored", len(ws.subscribed))
}

func (ws *BitfinexWs) sendSubscribeLocked(symbol string) bool {
	msg := map[string]interface{}{
		"event":   "subscribe",
		"channel": "ticker",
		"symbol":  "t" + symbol + "F0:USTF0",
	}
	if err := ws.conn.WriteJSON(msg); err != nil {
		zap.S().Errorf("Failed to subscribe %s: %s", symbol, err.Error())
		return false
	}
	return true
}

func (ws *BitfinexWs) sendUnsubscribeLocked(symbol string) {
	var channelId int64 = -1
	for cid, sym := range ws.channelMap {
		if sym == symbol {
			channelId = cid
			break
		}
	}
	if channelId < 0 {
		return
	}

	msg := map[string]interface{}{
		"event":  "unsubscribe",
		"chanId": channelId,
	}
	if err := ws.conn.WriteJSON(msg); err != nil {
		zap.S().Errorf("Failed to unsubscribe %s: %s", symbol, err.Error())
		return
	}
	delete(ws.channelMap, channelId)
}

func (ws *BitfinexWs) listen() {
	for {
		ws.mu.Lock()
		conn := ws.conn
		running := ws.running
		ws.mu.Unlock()

		if !running || conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ws.closeChan:
				return
			default:
			}
			zap.S().Warnf("WebSocket read error: %s", err.Error())
			ws.reconnect()
			return
		}

		ws.handleMessage(message)
	}
}

func (ws *BitfinexWs) handleMessage(message []byte) {
	decoder := json.NewDecoder(bytes.NewReader(message))
	decoder.UseNumber()

	var data interface{}
	if err := decoder.Decode(&data); err != nil {
		zap.S().Warnf("Invalid WebSocket message: %s", string(message))
		return
	}

	switch payload := data.(type) {
	case map[string]interface{}:
		ws.handleEvent(payload)
	case []interface{}:
		ws.handleChannelData(payload)
	}
}

func (ws *BitfinexWs) handleEvent(event map[string]interface{}) {
	switch event["event"] {
	case "subscribed":
		channelId, ok := event["chanId"].(json.Number)
		symbol, _ := event["symbol"].(string)
		if ok {
			cid, _ := channelId.Int64()
			ws.mu.Lock()
			ws.channelMap[cid] = ParseShortSymbol(symbol)
			ws.mu.Unlock()
			zap.S().Infof("Channel %d mapped to %s", cid, ParseShortSymbol(symbol))
		}
	case "unsubscribed":
		if channelId, ok := event["chanId"].(json.Number); ok {
			cid, _ := channelId.Int64()
			ws.mu.Lock()
			delete(ws.channelMap, cid)
			ws.mu.Unlock()
		}
	case "error":
		zap.S().Errorf("WebSocket error event: %v", event["msg"])
	}
}

/* Ticker payload: [CHAN_ID, [BID, BID_SIZE, ASK, ASK_SIZE, DAILY_CHANGE,
   DAILY_CHANGE_REL, LAST_PRICE, VOLUME, HIGH, LOW]] */
func (ws *BitfinexWs) handleChannelData(data []interface{}) {
	if len(data) < 2 {
		return
	}

	if hb, ok := data[1].(string); ok && hb == "hb" {
		return
	}

	channelId, ok := data[0].(json.Number)
	if !ok {
		return
	}
	cid, _ := channelId.Int64()

	ws.mu.Lock()
	symbol, known := ws.channelMap[cid]
	callback := ws.callback
	ws.mu.Unlock()

	if !known || callback == nil {
		return
	}

	ticker, ok := data[1].([]interface{})
	if !ok || len(ticker) < 7 {
		return
	}
	lastPrice, ok := ticker[6].(json.Number)
	if !ok {
		return
	}

	price, err := decimal.NewFromString(lastPrice.String())
	if err != nil {
		return
	}

	callback(symbol, price)
}

func (ws *BitfinexWs) reconnect() {
	delay := initialReconnectDelay

	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		select {
		case <-ws.closeChan:
			return
		case <-time.After(delay):
		}

		zap.S().Infof("WebSocket reconnecting, attempt %d/%d", attempt, maxReconnectAttempts)

		if err := ws.Connect(); err == nil {
			ws.mu.Lock()
			symbols := make([]string, 0, len(ws.subscribed))
			for symbol := range ws.subscribed {
				symbols = append(symbols, symbol)
			}
			ws.subscribed = make(map[string]bool)
			ws.mu.Unlock()

			ws.Subscribe(symbols)
			ws.Start()
			zap.S().Info("WebSocket reconnected")
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}

	ws.mu.Lock()
	ws.running = false
	ws.mu.Unlock()

	zap.S().Errorf("WebSocket gave up after %d reconnect attempts, continuing in polling-only mode", maxReconnectAttempts)
	telegramApi.SendTextToTelegramChat("<b>⚠️ Price stream lost</b>\nReconnect attempts exhausted, continuing in polling-only mode.")
}

func (ws *BitfinexWs) Close() {
	ws.closeOnce.Do(func() {
		close(ws.closeChan)
	})

	ws.mu.Lock()
	defer ws.mu.Unlock()

	ws.running = false
	if ws.conn != nil {
		ws.conn.Close()
		ws.conn = nil
	}
	ws.subscribed = make(map[string]bool)
	ws.channelMap = make(map[int64]string)

	zap.S().Info("WebSocket closed")
}
