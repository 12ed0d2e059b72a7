package util

import (
	"math"
)

func CalculateChangeInPercentsAbs(prev, current float64) float64 {
	return math.Abs((current - prev) / prev * 100)
}

func CalculateChangeInPercents(prev, current float64) float64 {
	return (current - prev) / prev * 100
}

/* SimpleReturns([100, 110, 99]) == [0.1, -0.1] */
func SimpleReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		returns[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
	}
	return returns
}

func StandardDeviation(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))

	return math.Sqrt(variance)
}
