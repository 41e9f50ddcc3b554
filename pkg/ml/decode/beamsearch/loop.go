// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package beamsearch

import (
	"github.com/gomlx/beamsearch/pkg/core/dtypes"
	"github.com/gomlx/beamsearch/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// StepFn is the sequence model, called once per step.
//
// It takes the time step, the tokens emitted in the previous step (the start tokens at time 0),
// shaped `[batch, beam]`, and the current model state. Beam slot k of previousTokens continues the
// hypothesis whose model state is at beam slot k of modelState.
//
// It returns the logits of the next token, shaped `[batch, beam, vocab]`, and the updated model state,
// which the beam search will then reorder (see ModelState) according to the selected hypotheses.
//
// It should be deterministic, for the decoding to be reproducible.
type StepFn[T dtypes.GoFloat] func(time int, previousTokens *tensors.Tensor[int32], modelState ModelState) (
	logits *tensors.Tensor[T], nextModelState ModelState, err error)

// StepObserver is called by Decode after each step, with the step record and the new state.
// If it returns an error, the decoding is interrupted and the error returned.
type StepObserver[T dtypes.GoFloat] func(time int, record *StepRecord[T], state *State[T]) error

// Decode runs the beam search: it calls stepFn and Step until every hypothesis is finished or
// cfg.MaxIterations steps were taken, whichever comes first.
//
// startTokens holds one start token per batch element, and the initial state must be shaped
// `[len(startTokens), cfg.BeamWidth]`, see NewInitialState.
//
// It returns the History of the steps taken, and the final state. Reaching cfg.MaxIterations with
// unfinished hypotheses is not an error: the final state will have Finished set to false for them.
//
// Errors returned by stepFn or by the observers interrupt the decoding: they are returned with the
// time step added as a message, and errors.Cause returns the original error.
func Decode[T dtypes.GoFloat](initialState *State[T], startTokens []int32, stepFn StepFn[T], cfg Config,
	observers ...StepObserver[T]) (*History[T], *State[T], error) {
	if err := cfg.validateLoop(); err != nil {
		return nil, nil, err
	}
	if err := initialState.Validate(); err != nil {
		return nil, nil, errors.WithMessage(err, "invalid initial beam search state")
	}
	batchSize, beamWidth := initialState.BatchSize(), initialState.BeamWidth()
	if len(startTokens) != batchSize || beamWidth != cfg.BeamWidth {
		return nil, nil, errors.Wrapf(ErrInvalidConfig,
			"initial state shaped [%d, %d] doesn't match %d start tokens and beam width %d",
			batchSize, beamWidth, len(startTokens), cfg.BeamWidth)
	}

	previousTokens := tensors.FromShape[int32](batchSize, beamWidth)
	for batchIdx, token := range startTokens {
		for beamIdx := range beamWidth {
			previousTokens.Set(token, batchIdx, beamIdx)
		}
	}

	history := NewHistory[T](batchSize, beamWidth)
	state := initialState
	for time := range cfg.MaxIterations {
		logits, nextModelState, err := stepFn(time, previousTokens, state.ModelState)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "beam search step function failed at time %d", time)
		}
		record, nextState, err := Step(time, logits, state.WithModelState(nextModelState), cfg)
		if err != nil {
			return nil, nil, err
		}
		if err = history.Append(record); err != nil {
			return nil, nil, err
		}
		state = nextState
		previousTokens = record.PredictedIDs
		klog.V(2).Infof("beam search step %d: %d/%d hypotheses finished", time, state.NumFinished(), state.Finished.Size())
		for _, observer := range observers {
			if err = observer(time, record, state); err != nil {
				return nil, nil, errors.WithMessagef(err, "beam search interrupted at time %d", time)
			}
		}
		if state.AllFinished() {
			break
		}
	}
	return history, state, nil
}
