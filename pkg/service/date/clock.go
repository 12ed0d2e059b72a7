package date

import (
	"time"
)

type Clock interface {
	NowTime() time.Time
}

func GetClock() Clock {
	return &ClockReal{}
}

type ClockReal struct {
}

func (c *ClockReal) NowTime() time.Time {
	return time.Now()
}
