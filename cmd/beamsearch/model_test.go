// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"math"
	"testing"

	"github.com/gomlx/beamsearch/pkg/core/dtypes"
	"github.com/gomlx/beamsearch/pkg/core/tensors"
	"github.com/gomlx/beamsearch/pkg/ml/decode"
	"github.com/gomlx/beamsearch/pkg/ml/decode/beamsearch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBigramModel(t *testing.T) {
	model := newBigramModel(8, 0, 42)
	state := model.initialState(2, 3)
	tokens := tensors.FromValue2D([][]int32{{1, 2, 3}, {4, 5, 6}})

	logits, nextState, err := model.Step(0, tokens, state)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 8}, logits.Shape().Dimensions)

	// Deterministic for the same seed.
	logits2, _, err := newBigramModel(8, 0, 42).Step(0, tokens, state)
	require.NoError(t, err)
	assert.True(t, logits.Equal(logits2))

	// The state is gathered by parent.
	gathered, err := nextState.GatherBeams(tensors.FromValue2D([][]int32{{2, 2, 0}, {1, 0, 0}}))
	require.NoError(t, err)
	hashes := nextState.(*historyState).hashes
	gatheredHashes := gathered.(*historyState).hashes
	assert.Equal(t, hashes.At(0, 2), gatheredHashes.At(0, 0))
	assert.Equal(t, hashes.At(0, 2), gatheredHashes.At(0, 1))
	assert.Equal(t, hashes.At(1, 1), gatheredHashes.At(1, 0))

	_, err = nextState.GatherBeams(tensors.FromShape[int32](2, 2))
	require.ErrorIs(t, err, beamsearch.ErrShapeMismatch)

	_, _, err = model.Step(0, tensors.FromValue2D([][]int32{{9}}), model.initialState(1, 1))
	require.Error(t, err)
	_, _, err = model.Step(0, tokens, nil)
	require.Error(t, err)

	assert.Equal(t, "t3 t1 <eos>", model.detokenize([]int32{3, 1, 0}))
}

func TestLogitsDType(t *testing.T) {
	for name, want := range map[string]dtypes.DType{
		"float32": dtypes.Float32, "F16": dtypes.Float16, "bf16": dtypes.BFloat16, "BFloat16": dtypes.BFloat16,
	} {
		dtype, err := parseLogitsDType(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, dtype, name)
	}
	for _, name := range []string{"float64", "int32", "bool", "complex64"} {
		_, err := parseLogitsDType(name)
		require.Error(t, err, name)
	}

	logits := tensors.FromValue2D([][]float32{{1.0 / 3, -70000}})
	f16 := roundTo(dtypes.Float16, logits)
	assert.InDelta(t, 1.0/3, f16.At(0, 0), 1e-3)
	assert.NotEqual(t, float32(1.0/3), f16.At(0, 0))
	assert.True(t, math.IsInf(float64(f16.At(0, 1)), -1), "float16 overflows beyond 65504")

	bf16 := roundTo(dtypes.BFloat16, logits)
	assert.InDelta(t, 1.0/3, bf16.At(0, 0), 1e-2)
	assert.InDelta(t, -70000, bf16.At(0, 1), 512)
	assert.Equal(t, []int{1, 2}, bf16.Shape().Dimensions)
}

func TestBigramModelDecode(t *testing.T) {
	model := newBigramModel(12, 0, 7)
	for _, dtype := range []dtypes.DType{dtypes.Float32, dtypes.Float16, dtypes.BFloat16} {
		model.logitsDType = dtype
		result32, err := decode.New[float32](model.Step).
			WithEndToken(0).
			WithBeamWidth(4).
			WithMaxIterations(30).
			WithNumReturnSequences(2).
			Decode([]int32{1, 5, 9}, model.initialState(3, 4))
		require.NoError(t, err, "logits dtype %s", dtype)
		require.Len(t, result32.Best, 3)
		for _, best := range result32.Best {
			require.Len(t, best, 2)
			assert.GreaterOrEqual(t, best[0].Score, best[1].Score)
		}

		result64, err := decode.New[float64](model.Step64).
			WithEndToken(0).
			WithBeamWidth(4).
			WithMaxIterations(30).
			WithNumReturnSequences(2).
			Decode([]int32{1, 5, 9}, model.initialState(3, 4))
		require.NoError(t, err, "logits dtype %s", dtype)
		require.Len(t, result64.Best, 3)
	}
}
