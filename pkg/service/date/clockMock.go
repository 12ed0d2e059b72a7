package date

import "time"

func GetClockMock(nowMock time.Time) *ClockMock {
	return &ClockMock{mockTime: nowMock}
}

type ClockMock struct {
	mockTime time.Time
}

func (c *ClockMock) NowTime() time.Time {
	return c.mockTime
}

func (c *ClockMock) SetTime(moment time.Time) {
	c.mockTime = moment
}

func (c *ClockMock) AddTime(d time.Duration) {
	c.mockTime = c.mockTime.Add(d)
}
