// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package beamsearch

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/gomlx/beamsearch/pkg/core/dtypes"
	"github.com/gomlx/beamsearch/pkg/core/tensors"
	"github.com/pkg/errors"
)

// History is the ordered list of StepRecord of a decoding, one per step.
type History[T dtypes.GoFloat] struct {
	Records []*StepRecord[T]

	batchSize, beamWidth int
}

// NewHistory creates an empty History for the given batch size and beam width.
func NewHistory[T dtypes.GoFloat](batchSize, beamWidth int) *History[T] {
	return &History[T]{batchSize: batchSize, beamWidth: beamWidth}
}

// BatchSize of the recorded steps.
func (h *History[T]) BatchSize() int { return h.batchSize }

// BeamWidth of the recorded steps.
func (h *History[T]) BeamWidth() int { return h.beamWidth }

// Len returns the number of recorded steps.
func (h *History[T]) Len() int { return len(h.Records) }

// Append a step record, checking its shapes.
func (h *History[T]) Append(record *StepRecord[T]) error {
	time := len(h.Records)
	for _, err := range []error{
		checkDims("PredictedIDs", record.PredictedIDs, h.batchSize, h.beamWidth),
		checkDims("ParentIDs", record.ParentIDs, h.batchSize, h.beamWidth),
		checkDims("Scores", record.Scores, h.batchSize, h.beamWidth),
	} {
		if err != nil {
			return errors.WithMessagef(err, "appending step %d to beam search history", time)
		}
	}
	h.Records = append(h.Records, record)
	return nil
}

// stack the `[batch, beam]` tensors returned by field for every record into a time-major
// `[time, batch, beam]` tensor, or batch-major `[batch, time, beam]` tensor.
func stack[T dtypes.GoFloat, E tensors.Element](h *History[T], timeMajor bool, field func(*StepRecord[T]) *tensors.Tensor[E]) *tensors.Tensor[E] {
	numSteps := len(h.Records)
	stepSize := h.batchSize * h.beamWidth
	flat := make([]E, 0, numSteps*stepSize)
	for _, record := range h.Records {
		flat = append(flat, field(record).Flat()...)
	}
	stacked := tensors.FromFlatDataAndDimensions(flat, numSteps, h.batchSize, h.beamWidth)
	if !timeMajor {
		stacked = stacked.Transpose(1, 0, 2)
	}
	return stacked
}

// PredictedIDs returns the predicted token ids of every step, shaped `[time, batch, beam]` if timeMajor,
// or `[batch, time, beam]` otherwise.
func (h *History[T]) PredictedIDs(timeMajor bool) *tensors.Tensor[int32] {
	return stack(h, timeMajor, func(r *StepRecord[T]) *tensors.Tensor[int32] { return r.PredictedIDs })
}

// ParentIDs returns the parent beam ids of every step, shaped `[time, batch, beam]` if timeMajor,
// or `[batch, time, beam]` otherwise.
func (h *History[T]) ParentIDs(timeMajor bool) *tensors.Tensor[int32] {
	return stack(h, timeMajor, func(r *StepRecord[T]) *tensors.Tensor[int32] { return r.ParentIDs })
}

// Scores returns the scores of every step, shaped `[time, batch, beam]` if timeMajor,
// or `[batch, time, beam]` otherwise.
func (h *History[T]) Scores(timeMajor bool) *tensors.Tensor[T] {
	return stack(h, timeMajor, func(r *StepRecord[T]) *tensors.Tensor[T] { return r.Scores })
}

// NumNaN returns the total number of NaN scores seen over all steps.
func (h *History[T]) NumNaN() int {
	var total int
	for _, record := range h.Records {
		total += record.NumNaN
	}
	return total
}

// Validate checks that every recorded parent id points to a valid beam slot.
func (h *History[T]) Validate() error {
	for time, record := range h.Records {
		if err := validateParents(record.ParentIDs.Flat(), h.beamWidth); err != nil {
			return errors.WithMessagef(err, "beam search history step %d", time)
		}
	}
	return nil
}

// GatherTree reconstructs the sequences of the final beams, shaped `[time, batch, beam]`.
// See the GatherTree function.
func (h *History[T]) GatherTree() (*tensors.Tensor[int32], error) {
	return GatherTree(h.PredictedIDs(true), h.ParentIDs(true))
}

// Fingerprint returns a hash of the whole history (predicted ids, parent ids and the bits of the scores).
// Two decodings with the same inputs and configuration have the same fingerprint, which makes it
// handy to check reproducibility in logs.
func (h *History[T]) Fingerprint() uint64 {
	digest := xxhash.New()
	var buf [8]byte
	writeUint64 := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = digest.Write(buf[:])
	}
	writeUint64(uint64(h.batchSize))
	writeUint64(uint64(h.beamWidth))
	for _, record := range h.Records {
		for ii, token := range record.PredictedIDs.Flat() {
			writeUint64(uint64(uint32(token))<<32 | uint64(uint32(record.ParentIDs.Flat()[ii])))
		}
		for _, score := range record.Scores.Flat() {
			writeUint64(math.Float64bits(float64(score)))
		}
	}
	return digest.Sum64()
}
