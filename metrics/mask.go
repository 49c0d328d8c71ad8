// Package metrics computes the masked segmentation loss and the evaluation
// scores. Every function derives the validity mask from the labels it is
// given; pixels labelled NoData never contribute to any statistic.
package metrics

import (
	"math"
)

// NoData is the label value marking pixels without ground truth.
const NoData = 255

// ValidMask reports, per pixel, whether the label carries ground truth.
func ValidMask(labels []float32) []bool {
	valid := make([]bool, len(labels))
	for i, v := range labels {
		valid[i] = v != NoData
	}
	return valid
}

// Sigmoid is the numerically stable logistic function.
func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// Probabilities applies Sigmoid elementwise.
func Probabilities(logits []float32) []float32 {
	out := make([]float32, len(logits))
	for i, x := range logits {
		out[i] = float32(Sigmoid(float64(x)))
	}
	return out
}

// Threshold turns probabilities into a binary prediction: 1 where p > t.
func Threshold(probs []float32, t float32) []float32 {
	out := make([]float32, len(probs))
	for i, p := range probs {
		if p > t {
			out[i] = 1
		}
	}
	return out
}
