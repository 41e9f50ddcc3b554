// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package beamsearch

import (
	"math"

	"github.com/gomlx/beamsearch/pkg/core/dtypes"
)

// LengthPenalty returns the divisor applied to the cumulative log-probability of a hypothesis of the
// given length: `((5 + length) / 6) ^ weight`, as in Wu et al. 2016, "Google's Neural Machine
// Translation System" (https://arxiv.org/abs/1609.08144).
//
// A weight of 0 disables it (the penalty is always 1).
func LengthPenalty(length int32, weight float64) float64 {
	if weight == 0 {
		return 1
	}
	return math.Pow((5+float64(length))/6, weight)
}

// candidateLength is the length of a hypothesis of the given length after emitting token.
// The length of a finished hypothesis is frozen, and the end token doesn't count.
func candidateLength(length int32, finished bool, token, endToken int32) int32 {
	if finished || token == endToken {
		return length
	}
	return length + 1
}

// penalizedScore returns total / penalty. Dividing a finite total by a penalty smaller than 1 (length 0)
// may overflow: the score is then clamped to the lowest (or highest) finite float64, so only infinite
// totals have infinite scores. NaN is preserved.
func penalizedScore[T dtypes.GoFloat](total T, penalty float64) float64 {
	score := float64(total) / penalty
	if math.IsInf(score, 0) && !math.IsInf(float64(total), 0) {
		return math.Copysign(math.MaxFloat64, score)
	}
	return score
}
