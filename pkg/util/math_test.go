package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateChangeInPercentsAbs(t *testing.T) {
	assert.InDelta(t, 4.0, CalculateChangeInPercentsAbs(50000, 48000), 1e-9)
	assert.InDelta(t, 4.0, CalculateChangeInPercentsAbs(50000, 52000), 1e-9)
	assert.InDelta(t, 0.0, CalculateChangeInPercentsAbs(100, 100), 1e-9)
}

func TestSimpleReturns(t *testing.T) {
	returns := SimpleReturns([]float64{100, 110, 99})

	assert.InDelta(t, 0.1, returns[0], 1e-9)
	assert.InDelta(t, -0.1, returns[1], 1e-9)

	assert.Nil(t, SimpleReturns([]float64{100}))
	assert.Nil(t, SimpleReturns(nil))
}

func TestStandardDeviationIsPopulation(t *testing.T) {
	// Population stddev of {2, 4, 4, 4, 5, 5, 7, 9} is exactly 2.
	assert.InDelta(t, 2.0, StandardDeviation([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-9)

	assert.Zero(t, StandardDeviation(nil))
	assert.Zero(t, StandardDeviation([]float64{5}))
}
