// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package beamsearch

import (
	"fmt"

	"github.com/gomlx/beamsearch/pkg/core/dtypes"
	"github.com/gomlx/beamsearch/pkg/core/tensors"
	"github.com/pkg/errors"
)

// ModelState is the opaque state of the sequence model (e.g. hidden states or KV caches), carried along
// with each hypothesis. The beam search never looks into it.
type ModelState interface {
	// GatherBeams returns the model state reordered along the beam axis: beam slot k of batch element b
	// of the returned state is a copy of beam slot parentIDs[b, k] of the receiver. parentIDs is shaped
	// `[batch, beam]` and may contain duplicates.
	//
	// The receiver must not be modified.
	GatherBeams(parentIDs *tensors.Tensor[int32]) (ModelState, error)
}

// State of the beam search, carried between steps. All tensors are shaped `[batch, beam]`.
//
// A State is treated as an immutable value: Step always returns a new one.
type State[T dtypes.GoFloat] struct {
	// LogProbs is the cumulative log-probability of each hypothesis, not length-penalized.
	LogProbs *tensors.Tensor[T]

	// Lengths is the number of non-end tokens emitted by each hypothesis.
	Lengths *tensors.Tensor[int32]

	// Finished indicates the hypotheses that already emitted the end token.
	Finished *tensors.Tensor[bool]

	// ModelState is the optional model state, see ModelState. It can be nil.
	ModelState ModelState
}

// NewInitialState returns the state at the start of the decoding: for each batch element only
// beam 0 is "alive" (log-probability 0), the other beams start with the lowest finite value of T,
// so the first step expands a single hypothesis instead of beamWidth identical copies.
func NewInitialState[T dtypes.GoFloat](batchSize, beamWidth int, modelState ModelState) *State[T] {
	logProbs := tensors.FromScalarAndDimensions(dtypes.LowestFinite[T](), batchSize, beamWidth)
	for batchIdx := range batchSize {
		logProbs.Set(0, batchIdx, 0)
	}
	return &State[T]{
		LogProbs:   logProbs,
		Lengths:    tensors.FromShape[int32](batchSize, beamWidth),
		Finished:   tensors.FromShape[bool](batchSize, beamWidth),
		ModelState: modelState,
	}
}

// BatchSize of the state.
func (s *State[T]) BatchSize() int { return s.LogProbs.Dim(0) }

// BeamWidth of the state.
func (s *State[T]) BeamWidth() int { return s.LogProbs.Dim(1) }

// NumFinished returns the number of finished hypotheses over all batch elements.
func (s *State[T]) NumFinished() int {
	var count int
	for _, finished := range s.Finished.Flat() {
		if finished {
			count++
		}
	}
	return count
}

// AllFinished returns whether every hypothesis is finished.
func (s *State[T]) AllFinished() bool {
	return s.NumFinished() == s.Finished.Size()
}

// WithModelState returns a shallow copy of the state with the model state replaced.
func (s *State[T]) WithModelState(modelState ModelState) *State[T] {
	newState := *s
	newState.ModelState = modelState
	return &newState
}

// Validate checks that the state tensors are present and have consistent `[batch, beam]` shapes.
func (s *State[T]) Validate() error {
	if s == nil || s.LogProbs == nil || s.Lengths == nil || s.Finished == nil {
		return errors.Wrap(ErrShapeMismatch, "beam search state is missing LogProbs, Lengths or Finished")
	}
	if err := checkDims("state.LogProbs", s.LogProbs, -1, -1); err != nil {
		return err
	}
	batchSize, beamWidth := s.LogProbs.Dim(0), s.LogProbs.Dim(1)
	if err := checkDims("state.Lengths", s.Lengths, batchSize, beamWidth); err != nil {
		return err
	}
	return checkDims("state.Finished", s.Finished, batchSize, beamWidth)
}

// String implements fmt.Stringer.
func (s *State[T]) String() string {
	return fmt.Sprintf("beamsearch.State{LogProbs: %v, Lengths: %v, Finished: %v}",
		s.LogProbs.Value2D(), s.Lengths.Value2D(), s.Finished.Value2D())
}
