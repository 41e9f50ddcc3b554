// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package beamsearch

import (
	"github.com/gomlx/beamsearch/pkg/core/tensors"
	"github.com/pkg/errors"
)

// GatherTree reconstructs the token sequence of each final beam by following the parent ids backward.
//
// predictedIDs and parentIDs are time-major, shaped `[time, batch, beam]`: at step t, beam slot k of
// batch element b chose token predictedIDs[t, b, k] and extends the hypothesis held by beam slot
// parentIDs[t, b, k] at step t-1.
//
// The result is shaped `[time, batch, beam]`: for each final beam slot k, the tokens along its ancestry,
// which at intermediate steps usually differ from what was recorded in slot k itself, since the slots
// are reassigned at every step.
//
// It returns ErrParentOutOfRange if any parent id is outside `[0, beam)`: parents are never clamped,
// since it means the history is corrupted.
func GatherTree(predictedIDs, parentIDs *tensors.Tensor[int32]) (*tensors.Tensor[int32], error) {
	if err := checkDims("GatherTree(predictedIDs)", predictedIDs, -1, -1, -1); err != nil {
		return nil, err
	}
	numSteps, batchSize, beamWidth := predictedIDs.Dim(0), predictedIDs.Dim(1), predictedIDs.Dim(2)
	if err := checkDims("GatherTree(parentIDs)", parentIDs, numSteps, batchSize, beamWidth); err != nil {
		return nil, err
	}
	if err := validateParents(parentIDs.Flat(), beamWidth); err != nil {
		return nil, errors.WithMessage(err, "GatherTree()")
	}

	sequences := tensors.FromShape[int32](numSteps, batchSize, beamWidth)
	for batchIdx := range batchSize {
		for beamIdx := range beamWidth {
			ancestor := beamIdx
			for time := numSteps - 1; time >= 0; time-- {
				sequences.Set(predictedIDs.At(time, batchIdx, ancestor), time, batchIdx, beamIdx)
				ancestor = int(parentIDs.At(time, batchIdx, ancestor))
			}
		}
	}
	return sequences, nil
}

// validateParents checks that all parent ids are in [0, beamWidth).
func validateParents(parentIDs []int32, beamWidth int) error {
	for ii, parent := range parentIDs {
		if parent < 0 || int(parent) >= beamWidth {
			return errors.Wrapf(ErrParentOutOfRange, "parent id %d (at flat position %d) not in [0, %d)",
				parent, ii, beamWidth)
		}
	}
	return nil
}
