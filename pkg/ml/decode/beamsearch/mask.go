// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package beamsearch

import (
	"github.com/gomlx/beamsearch/pkg/core/dtypes"
	"github.com/gomlx/beamsearch/pkg/core/shapes"
	"github.com/gomlx/beamsearch/pkg/core/tensors"
	"github.com/pkg/errors"
)

// MaskFinished returns a copy of logProbs (shaped `[batch, beam, vocab]`) where the rows of finished
// hypotheses (finished is shaped `[batch, beam]`) are replaced by a distribution that only allows
// the end token: 0 at endToken and the lowest finite value of T everywhere else.
//
// Rows of unfinished hypotheses are copied unchanged. The lowest finite value is used instead of -Inf
// so that later additions and the length penalty division never produce NaN.
func MaskFinished[T dtypes.GoFloat](logProbs *tensors.Tensor[T], endToken int32, finished *tensors.Tensor[bool]) (*tensors.Tensor[T], error) {
	if err := logProbs.Shape().CheckDims(-1, -1, -1); err != nil {
		return nil, errors.Wrapf(ErrShapeMismatch, "MaskFinished(logProbs=%s): %v", logProbs.Shape(), err)
	}
	batchSize, beamWidth, vocabSize := logProbs.Dim(0), logProbs.Dim(1), logProbs.Dim(2)
	if err := shapes.CheckDims(finished, batchSize, beamWidth); err != nil {
		return nil, errors.Wrapf(ErrShapeMismatch, "MaskFinished(logProbs=%s, finished=%s): %v",
			logProbs.Shape(), finished.Shape(), err)
	}
	if endToken < 0 || int(endToken) >= vocabSize {
		return nil, errors.Wrapf(ErrInvalidConfig, "MaskFinished(): end token %d out of range for vocabulary of size %d",
			endToken, vocabSize)
	}
	masked := logProbs.Clone()
	for batchIdx := range batchSize {
		for beamIdx := range beamWidth {
			if finished.At(batchIdx, beamIdx) {
				maskRow(masked.Row(batchIdx, beamIdx), endToken)
			}
		}
	}
	return masked, nil
}

// maskRow overwrites row with the finished hypothesis distribution.
func maskRow[T dtypes.GoFloat](row []T, endToken int32) {
	lowest := dtypes.LowestFinite[T]()
	for ii := range row {
		row[ii] = lowest
	}
	row[endToken] = 0
}
