// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package beamsearch

import (
	"math"

	"github.com/gomlx/beamsearch/pkg/core/dtypes"
	"github.com/gomlx/beamsearch/pkg/core/tensors"
	"github.com/pkg/errors"
)

// LogSoftmax returns the log-softmax of logits over its last axis. It is what Step uses to convert the
// model logits to log-probabilities.
func LogSoftmax[T dtypes.GoFloat](logits *tensors.Tensor[T]) (*tensors.Tensor[T], error) {
	if logits.Rank() < 1 || logits.Dim(-1) == 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "LogSoftmax(logits=%s) requires a non-empty last axis", logits.Shape())
	}
	logProbs := tensors.FromShape[T](logits.Shape().Dimensions...)
	dst, src := logProbs.Flat(), logits.Flat()
	rowLen := logits.Dim(-1)
	for start := 0; start < len(src); start += rowLen {
		logSoftmaxRow(dst[start:start+rowLen], src[start:start+rowLen])
	}
	return logProbs, nil
}

// logSoftmaxRow writes the log-softmax of src into dst. It is shifted by the max value and accumulated
// in float64.
//
// A row where every logit is -Inf (no token allowed) results in -Inf everywhere. NaN logits propagate
// to the whole row.
func logSoftmaxRow[T dtypes.GoFloat](dst, src []T) {
	maxLogit := math.Inf(-1)
	hasNaN := false
	for _, v := range src {
		v64 := float64(v)
		if math.IsNaN(v64) {
			hasNaN = true
		} else if v64 > maxLogit {
			maxLogit = v64
		}
	}
	if !hasNaN && math.IsInf(maxLogit, -1) {
		for ii := range dst {
			dst[ii] = T(math.Inf(-1))
		}
		return
	}
	var sum float64
	for _, v := range src {
		sum += math.Exp(float64(v) - maxLogit)
	}
	logSumExp := maxLogit + math.Log(sum)
	for ii, v := range src {
		dst[ii] = saturate[T](float64(v) - logSumExp)
	}
}

// saturate converts v to T, clamping finite values that overflow T to its finite range.
// Infinities and NaN are preserved.
func saturate[T dtypes.GoFloat](v float64) T {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return T(v)
	}
	lowest := float64(dtypes.LowestFinite[T]())
	if v < lowest {
		return T(lowest)
	} else if v > -lowest {
		return T(-lowest)
	}
	return T(v)
}
