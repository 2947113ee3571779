package ml

import (
	"math"
	"sort"
)

// FloorFlags derives Is_Top_Floor and Is_Ground_Floor.
func FloorFlags(floorNum, totalFloors float64) (isTop, isGround float64) {
	if floorNum == totalFloors {
		isTop = 1
	}
	if floorNum == 0 {
		isGround = 1
	}
	return isTop, isGround
}

// LogTarget is the training target transform.
func LogTarget(rent float64) float64 {
	return math.Log1p(rent)
}

// InverseLogTarget undoes LogTarget exactly.
func InverseLogTarget(v float64) float64 {
	return math.Expm1(v)
}

// meanStd returns the mean and population standard deviation.
func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	return mean, math.Sqrt(variance / float64(len(values)))
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func standardize(value, mean, scale float64) float64 {
	return (value - mean) / scale
}

// safeScale maps a degenerate learned scale to 1 so constant columns
// transform to their centered value instead of dividing by zero.
func safeScale(std float64) float64 {
	if std == 0 || math.IsNaN(std) || math.IsInf(std, 0) {
		return 1
	}
	return std
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
