package constants

type AdjustmentDirection string

const (
	INCREASE AdjustmentDirection = "increase"
	DECREASE AdjustmentDirection = "decrease"
)
