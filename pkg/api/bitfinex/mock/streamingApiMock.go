package mock

import (
	"sort"

	"marginBot/pkg/api"
)

func NewStreamingApiMock() *StreamingApiMock {
	return &StreamingApiMock{}
}

type StreamingApiMock struct {
	Subscriptions [][]string
	Callback      api.PriceCallback
	Started       bool
	Closed        bool
}

func (wsMock *StreamingApiMock) Subscribe(symbols []string) {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)
	wsMock.Subscriptions = append(wsMock.Subscriptions, sorted)
}

func (wsMock *StreamingApiMock) OnPrice(callback api.PriceCallback) {
	wsMock.Callback = callback
}

func (wsMock *StreamingApiMock) Start() {
	wsMock.Started = true
}

func (wsMock *StreamingApiMock) Close() {
	wsMock.Closed = true
}

func (wsMock *StreamingApiMock) LastSubscription() []string {
	if len(wsMock.Subscriptions) == 0 {
		return nil
	}
	return wsMock.Subscriptions[len(wsMock.Subscriptions)-1]
}
