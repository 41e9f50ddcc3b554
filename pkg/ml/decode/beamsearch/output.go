// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package beamsearch

import (
	"slices"

	"github.com/gomlx/beamsearch/pkg/core/dtypes"
	"github.com/gomlx/beamsearch/pkg/core/tensors"
	"github.com/pkg/errors"
)

// FinalOutput is the result of a beam search decoding.
type FinalOutput[T dtypes.GoFloat] struct {
	// Sequences[b][k] holds the tokens of the final hypothesis k of batch element b. Sequences are
	// trimmed after the first end token (included). Hypotheses that never emitted the end token have
	// one token per step taken.
	Sequences [][][]int32

	// LogProbs, Lengths, Scores and Finished are shaped `[batch, beam]`.
	// Scores are the length-penalized LogProbs used for ranking.
	LogProbs *tensors.Tensor[T]
	Lengths  *tensors.Tensor[int32]
	Scores   *tensors.Tensor[T]
	Finished *tensors.Tensor[bool]

	// NumSteps is the number of steps taken.
	NumSteps int

	// gathered is the time-major `[time, batch, beam]` output of GatherTree, not trimmed.
	gathered *tensors.Tensor[int32]
}

// Hypothesis is one final hypothesis of one batch element, see FinalOutput.Best.
type Hypothesis[T dtypes.GoFloat] struct {
	Beam     int
	Tokens   []int32
	Length   int32
	LogProb  T
	Score    T
	Finished bool
}

// Finalize reconstructs the sequences of the final beams from the history and the final state of Decode.
func Finalize[T dtypes.GoFloat](history *History[T], final *State[T], cfg Config) (*FinalOutput[T], error) {
	if err := final.Validate(); err != nil {
		return nil, err
	}
	batchSize, beamWidth := final.BatchSize(), final.BeamWidth()
	if history.BatchSize() != batchSize || history.BeamWidth() != beamWidth {
		return nil, errors.Wrapf(ErrShapeMismatch, "history for [%d, %d] doesn't match final state for [%d, %d]",
			history.BatchSize(), history.BeamWidth(), batchSize, beamWidth)
	}
	gathered, err := history.GatherTree()
	if err != nil {
		return nil, err
	}

	output := &FinalOutput[T]{
		Sequences: make([][][]int32, batchSize),
		LogProbs:  final.LogProbs.Clone(),
		Lengths:   final.Lengths.Clone(),
		Scores:    tensors.FromShape[T](batchSize, beamWidth),
		Finished:  final.Finished.Clone(),
		NumSteps:  history.Len(),
		gathered:  gathered,
	}
	for batchIdx := range batchSize {
		output.Sequences[batchIdx] = make([][]int32, beamWidth)
		for beamIdx := range beamWidth {
			sequence := make([]int32, 0, output.NumSteps)
			for time := range output.NumSteps {
				token := gathered.At(time, batchIdx, beamIdx)
				sequence = append(sequence, token)
				if token == cfg.EndToken {
					break
				}
			}
			output.Sequences[batchIdx][beamIdx] = sequence
			penalty := LengthPenalty(final.Lengths.At(batchIdx, beamIdx), cfg.LengthPenaltyWeight)
			output.Scores.Set(saturate[T](penalizedScore(final.LogProbs.At(batchIdx, beamIdx), penalty)), batchIdx, beamIdx)
		}
	}
	return output, nil
}

// PredictedIDs returns the reconstructed (not trimmed) sequences of all final beams, shaped
// `[time, batch, beam]` if timeMajor, or `[batch, time, beam]` otherwise.
// Positions after a hypothesis finished hold the end token.
func (o *FinalOutput[T]) PredictedIDs(timeMajor bool) *tensors.Tensor[int32] {
	if timeMajor {
		return o.gathered.Clone()
	}
	return o.gathered.Transpose(1, 0, 2)
}

// Best returns for each batch element the n best hypotheses, ordered by score (best first), ties broken by
// the beam index. n is clamped to the beam width.
func (o *FinalOutput[T]) Best(n int) [][]Hypothesis[T] {
	batchSize, beamWidth := o.Scores.Dim(0), o.Scores.Dim(1)
	n = max(0, min(n, beamWidth))
	best := make([][]Hypothesis[T], batchSize)
	for batchIdx := range batchSize {
		scores := make([]float64, beamWidth)
		for beamIdx := range beamWidth {
			scores[beamIdx] = float64(o.Scores.At(batchIdx, beamIdx))
		}
		best[batchIdx] = make([]Hypothesis[T], 0, n)
		for _, beamIdx := range topK(scores, n) {
			best[batchIdx] = append(best[batchIdx], Hypothesis[T]{
				Beam:     beamIdx,
				Tokens:   slices.Clone(o.Sequences[batchIdx][beamIdx]),
				Length:   o.Lengths.At(batchIdx, beamIdx),
				LogProb:  o.LogProbs.At(batchIdx, beamIdx),
				Score:    o.Scores.At(batchIdx, beamIdx),
				Finished: o.Finished.At(batchIdx, beamIdx),
			})
		}
	}
	return best
}
