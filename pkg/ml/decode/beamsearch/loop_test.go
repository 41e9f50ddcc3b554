// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package beamsearch

import (
	"math"
	"slices"
	"testing"

	"github.com/gomlx/beamsearch/internal/workerspool"
	"github.com/gomlx/beamsearch/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tokenHistory is a model state that records, per hypothesis, the tokens it was fed.
type tokenHistory [][][]int32

func (h tokenHistory) GatherBeams(parentIDs *tensors.Tensor[int32]) (ModelState, error) {
	gathered := make(tokenHistory, len(h))
	for batchIdx := range h {
		for _, parent := range parentIDs.Row(batchIdx) {
			gathered[batchIdx] = append(gathered[batchIdx], slices.Clone(h[batchIdx][parent]))
		}
	}
	return gathered, nil
}

// bigramStepFn returns a model where the next token after token p is preferably the following non-end
// token (cycling over 1...vocabSize-1), then anything else, with the end token (0) given endLogit.
func bigramStepFn(vocabSize int, endLogit float64) StepFn[float64] {
	return func(time int, previousTokens *tensors.Tensor[int32], modelState ModelState) (*tensors.Tensor[float64], ModelState, error) {
		batchSize, beamWidth := previousTokens.Dim(0), previousTokens.Dim(1)
		history, _ := modelState.(tokenHistory)
		if history == nil {
			history = make(tokenHistory, batchSize)
			for batchIdx := range batchSize {
				history[batchIdx] = make([][]int32, beamWidth)
			}
		}
		next := make(tokenHistory, batchSize)
		logits := tensors.FromShape[float64](batchSize, beamWidth, vocabSize)
		for batchIdx := range batchSize {
			next[batchIdx] = make([][]int32, beamWidth)
			for beamIdx := range beamWidth {
				previous := previousTokens.At(batchIdx, beamIdx)
				next[batchIdx][beamIdx] = append(slices.Clone(history[batchIdx][beamIdx]), previous)
				row := logits.Row(batchIdx, beamIdx)
				row[0] = endLogit
				row[1+int(previous)%(vocabSize-1)] = 2
			}
		}
		return logits, next, nil
	}
}

func TestDecode(t *testing.T) {
	t.Run("Properties", func(t *testing.T) {
		const batchSize, beamWidth, vocabSize = 2, 3, 5
		startTokens := []int32{1, 3}
		cfg := Config{BeamWidth: beamWidth, EndToken: 0, LengthPenaltyWeight: 0.6, MaxIterations: 12,
			Pool: workerspool.NewWithParallelism(2)}
		initial := NewInitialState[float64](batchSize, beamWidth, nil)

		previous := initial
		var numObserved int
		observer := func(time int, record *StepRecord[float64], state *State[float64]) error {
			assert.Equal(t, numObserved, time)
			numObserved++
			assert.GreaterOrEqual(t, state.NumFinished(), previous.NumFinished(), "finished count can't decrease")
			for batchIdx := range batchSize {
				for slot := range beamWidth {
					parent := int(record.ParentIDs.At(batchIdx, slot))
					if !previous.Finished.At(batchIdx, parent) {
						continue
					}
					// Finished hypotheses are frozen.
					assert.True(t, state.Finished.At(batchIdx, slot))
					assert.Equal(t, int32(0), record.PredictedIDs.At(batchIdx, slot))
					assert.Equal(t, previous.Lengths.At(batchIdx, parent), state.Lengths.At(batchIdx, slot))
					assert.Equal(t, previous.LogProbs.At(batchIdx, parent), state.LogProbs.At(batchIdx, slot))
				}
			}
			previous = state
			return nil
		}
		history, final, err := Decode(initial, startTokens, bigramStepFn(vocabSize, 1), cfg, observer)
		require.NoError(t, err)
		require.Equal(t, numObserved, history.Len())
		require.LessOrEqual(t, history.Len(), cfg.MaxIterations)
		require.NoError(t, history.Validate())

		// The model state followed the hypotheses: for each final beam it holds the start token followed
		// by the reconstructed sequence, except its last token (not fed to the model yet).
		sequences, err := history.GatherTree()
		require.NoError(t, err)
		numSteps := history.Len()
		modelHistory := final.ModelState.(tokenHistory)
		for batchIdx := range batchSize {
			for beamIdx := range beamWidth {
				want := []int32{startTokens[batchIdx]}
				for time := range numSteps - 1 {
					want = append(want, sequences.At(time, batchIdx, beamIdx))
				}
				assert.Equal(t, want, modelHistory[batchIdx][beamIdx], "batch %d, beam %d", batchIdx, beamIdx)
			}
		}

		// Deterministic.
		history2, _, err := Decode(initial, startTokens, bigramStepFn(vocabSize, 1), cfg)
		require.NoError(t, err)
		assert.Equal(t, history.Fingerprint(), history2.Fingerprint())
	})

	t.Run("AllFinished", func(t *testing.T) {
		cfg := Config{BeamWidth: 3, EndToken: 0, MaxIterations: 10}
		stepFn := func(time int, previousTokens *tensors.Tensor[int32], modelState ModelState) (*tensors.Tensor[float32], ModelState, error) {
			logits := tensors.FromShape[float32](previousTokens.Dim(0), previousTokens.Dim(1), 4)
			for batchIdx := range previousTokens.Dim(0) {
				for beamIdx := range previousTokens.Dim(1) {
					logits.Row(batchIdx, beamIdx)[0] = 10
				}
			}
			return logits, nil, nil
		}
		history, final, err := Decode(NewInitialState[float32](1, 3, nil), []int32{1}, stepFn, cfg)
		require.NoError(t, err)
		assert.Equal(t, 2, history.Len(), "all hypotheses finish at the second step")
		assert.True(t, final.AllFinished())
		assert.Equal(t, [][]int32{{0, 0, 0}}, history.Records[1].PredictedIDs.Value2D())
		assert.Equal(t, [][]int32{{0, 1, 1}}, final.Lengths.Value2D())
	})

	t.Run("MaxIterations", func(t *testing.T) {
		cfg := Config{BeamWidth: 3, EndToken: 0, LengthPenaltyWeight: 1, MaxIterations: 5}
		history, final, err := Decode(NewInitialState[float64](2, 3, nil), []int32{1, 2},
			bigramStepFn(4, -100), cfg)
		require.NoError(t, err, "reaching the limit is not an error")
		assert.Equal(t, 5, history.Len())
		assert.Equal(t, 0, final.NumFinished())
		assert.Equal(t, [][]int32{{5, 5, 5}, {5, 5, 5}}, final.Lengths.Value2D())
		for _, v := range final.LogProbs.Flat() {
			assert.False(t, math.IsNaN(v))
		}
	})

	t.Run("Errors", func(t *testing.T) {
		cfg := Config{BeamWidth: 3, EndToken: 0, MaxIterations: 5}
		initial := NewInitialState[float64](2, 3, nil)

		modelErr := errors.New("model exploded")
		failing := func(time int, previousTokens *tensors.Tensor[int32], modelState ModelState) (*tensors.Tensor[float64], ModelState, error) {
			if time == 2 {
				return nil, nil, modelErr
			}
			return tensors.FromShape[float64](2, 3, 4), nil, nil
		}
		_, _, err := Decode(initial, []int32{1, 1}, failing, cfg)
		require.Error(t, err)
		assert.Equal(t, modelErr, errors.Cause(err))
		assert.Contains(t, err.Error(), "time 2")

		// Observers can interrupt.
		stop := errors.New("stop")
		_, _, err = Decode(initial, []int32{1, 1}, bigramStepFn(4, 0), cfg,
			func(time int, _ *StepRecord[float64], _ *State[float64]) error { return stop })
		assert.True(t, errors.Is(err, stop))

		// End token outside the vocabulary.
		_, _, err = Decode(initial, []int32{1, 1}, bigramStepFn(4, 0), Config{BeamWidth: 3, EndToken: 4, MaxIterations: 5})
		assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)

		// Configuration.
		_, _, err = Decode(initial, []int32{1, 1}, bigramStepFn(4, 0), Config{BeamWidth: 3, EndToken: 0})
		assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		_, _, err = Decode(initial, []int32{1}, bigramStepFn(4, 0), cfg)
		assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		_, _, err = Decode(initial, []int32{1, 1}, bigramStepFn(4, 0), Config{BeamWidth: 2, EndToken: 0, MaxIterations: 5})
		assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
	})
}
