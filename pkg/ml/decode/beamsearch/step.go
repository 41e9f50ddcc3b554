// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package beamsearch

import (
	"math"

	"github.com/gomlx/beamsearch/pkg/core/dtypes"
	"github.com/gomlx/beamsearch/pkg/core/tensors"
	"github.com/pkg/errors"
)

// StepRecord is what is recorded from one beam search step, for the final reconstruction of the
// sequences. All tensors are shaped `[batch, beam]`.
type StepRecord[T dtypes.GoFloat] struct {
	// PredictedIDs holds the token chosen for each beam slot.
	PredictedIDs *tensors.Tensor[int32]

	// ParentIDs holds, for each beam slot, the beam slot of the previous step that it extends.
	ParentIDs *tensors.Tensor[int32]

	// Scores holds the length-penalized score used to rank each selected hypothesis.
	Scores *tensors.Tensor[T]

	// NumNaN is the number of candidates (over the whole `[batch, beam, vocab]` space) whose score was
	// NaN. They are never selected while a non-NaN candidate is available, but a NaN indicates a defect
	// in the model, and callers may want to report it.
	NumNaN int
}

// Step performs one beam search step.
//
// It takes the model logits for the current step, shaped `[batch, beam, vocab]`, and the current state,
// and returns the record of this step and the next state:
//
//  1. Logits are converted to log-probabilities (log-softmax over the vocabulary).
//  2. Finished hypotheses are masked, see MaskFinished.
//  3. Each candidate (beam, token) gets the total log-probability `state.LogProbs[beam] + logProb[beam, token]`
//     and the candidate length (+1 unless the token is the end token or the hypothesis is finished).
//  4. Candidates are scored by `total / LengthPenalty(length)` and the best cfg.BeamWidth candidates
//     over the flattened `[beam, vocab]` axis are selected. Ties are broken by the lowest flattened index,
//     and NaN scores rank last. A NaN candidate selected for lack of others is carried with the lowest
//     finite value, like a masked one.
//  5. The next state carries the (not penalized) total log-probability, the candidate lengths and finished
//     flags of the selected candidates, and the model state gathered by the parent beam ids.
//
// The time is only used for error messages. Batch elements are processed in parallel if cfg.Pool is set.
func Step[T dtypes.GoFloat](time int, logits *tensors.Tensor[T], state *State[T], cfg Config) (*StepRecord[T], *State[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if err := state.Validate(); err != nil {
		return nil, nil, errors.WithMessagef(err, "beam search step %d", time)
	}
	batchSize, beamWidth := state.BatchSize(), state.BeamWidth()
	if beamWidth != cfg.BeamWidth {
		return nil, nil, errors.Wrapf(ErrShapeMismatch, "beam search step %d: state has %d beams, configured beam width is %d",
			time, beamWidth, cfg.BeamWidth)
	}
	if err := checkDims("logits", logits, batchSize, beamWidth, -1); err != nil {
		return nil, nil, errors.WithMessagef(err, "beam search step %d", time)
	}
	vocabSize := logits.Dim(2)
	if vocabSize == 0 {
		return nil, nil, errors.Wrapf(ErrShapeMismatch, "beam search step %d: logits %s have an empty vocabulary",
			time, logits.Shape())
	}
	if int(cfg.EndToken) >= vocabSize {
		return nil, nil, errors.Wrapf(ErrInvalidConfig, "beam search step %d: end token %d out of range for vocabulary of size %d",
			time, cfg.EndToken, vocabSize)
	}

	record := &StepRecord[T]{
		PredictedIDs: tensors.FromShape[int32](batchSize, beamWidth),
		ParentIDs:    tensors.FromShape[int32](batchSize, beamWidth),
		Scores:       tensors.FromShape[T](batchSize, beamWidth),
	}
	next := &State[T]{
		LogProbs: tensors.FromShape[T](batchSize, beamWidth),
		Lengths:  tensors.FromShape[int32](batchSize, beamWidth),
		Finished: tensors.FromShape[bool](batchSize, beamWidth),
	}

	// Each batch element only writes to its own rows of record and next.
	numNaNPerBatch := make([]int, batchSize)
	stepFn := func(batchIdx int) {
		numNaNPerBatch[batchIdx] = stepBatchElement(batchIdx, logits, state, cfg, record, next)
	}
	if cfg.Pool != nil {
		cfg.Pool.ParallelFor(batchSize, stepFn)
	} else {
		for batchIdx := range batchSize {
			stepFn(batchIdx)
		}
	}
	for _, numNaN := range numNaNPerBatch {
		record.NumNaN += numNaN
	}

	if state.ModelState != nil {
		gathered, err := state.ModelState.GatherBeams(record.ParentIDs)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "beam search step %d: failed to gather model state", time)
		}
		next.ModelState = gathered
	}
	return record, next, nil
}

// stepBatchElement runs the beam search step for one batch element, writing its rows of record and next.
// It returns the number of NaN scores.
func stepBatchElement[T dtypes.GoFloat](batchIdx int, logits *tensors.Tensor[T], state *State[T], cfg Config,
	record *StepRecord[T], next *State[T]) (numNaN int) {
	beamWidth, vocabSize := cfg.BeamWidth, logits.Dim(2)

	// totals and scores are indexed by the flattened `[beam, vocab]` candidate index.
	totals := make([]T, beamWidth*vocabSize)
	scores := make([]float64, beamWidth*vocabSize)
	for beamIdx := range beamWidth {
		start := beamIdx * vocabSize
		row := totals[start : start+vocabSize]
		logSoftmaxRow(row, logits.Row(batchIdx, beamIdx))
		finished := state.Finished.At(batchIdx, beamIdx)
		if finished {
			maskRow(row, cfg.EndToken)
		}

		length := state.Lengths.At(batchIdx, beamIdx)
		endPenalty := LengthPenalty(candidateLength(length, finished, cfg.EndToken, cfg.EndToken), cfg.LengthPenaltyWeight)
		tokenPenalty := LengthPenalty(candidateLength(length, finished, -1, cfg.EndToken), cfg.LengthPenaltyWeight)
		cumulative := float64(state.LogProbs.At(batchIdx, beamIdx))
		for token, logProb := range row {
			total := saturate[T](cumulative + float64(logProb))
			row[token] = total
			penalty := tokenPenalty
			if int32(token) == cfg.EndToken {
				penalty = endPenalty
			}
			score := penalizedScore(total, penalty)
			if math.IsNaN(score) {
				numNaN++
			}
			scores[start+token] = score
		}
	}

	lowest := dtypes.LowestFinite[T]()
	for slot, idx := range topK(scores, beamWidth) {
		parent, token := idx/vocabSize, int32(idx%vocabSize)
		parentFinished := state.Finished.At(batchIdx, parent)
		parentLength := state.Lengths.At(batchIdx, parent)
		total, score := totals[idx], saturate[T](scores[idx])
		if math.IsNaN(scores[idx]) {
			// Only selected when there are not enough other candidates: it's carried as a masked
			// candidate, so it is not counted again in the following steps.
			total, score = lowest, lowest
		}
		record.PredictedIDs.Set(token, batchIdx, slot)
		record.ParentIDs.Set(int32(parent), batchIdx, slot)
		record.Scores.Set(score, batchIdx, slot)
		next.LogProbs.Set(total, batchIdx, slot)
		next.Lengths.Set(candidateLength(parentLength, parentFinished, token, cfg.EndToken), batchIdx, slot)
		next.Finished.Set(parentFinished || token == cfg.EndToken, batchIdx, slot)
	}
	return numNaN
}
