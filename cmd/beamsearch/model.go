// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"
	"github.com/gomlx/beamsearch/pkg/core/dtypes"
	"github.com/gomlx/beamsearch/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/beamsearch/pkg/core/tensors"
	"github.com/gomlx/beamsearch/pkg/ml/decode/beamsearch"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// bigramModel is a toy language model: the logits of the next token are given by a random bigram table,
// plus a small bias that depends on the whole prefix of the hypothesis, carried by historyState.
//
// The end token is made more likely as the sequence grows, so most hypotheses finish.
//
// logitsDType emulates a model emitting its logits in a lower precision (Float16 or BFloat16): logits are
// rounded to it before being handed to the decoder.
type bigramModel struct {
	vocabSize, endToken int
	table                [][]float32
	logitsDType          dtypes.DType
}

func newBigramModel(vocabSize, endToken int, seed int64) *bigramModel {
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
	m := &bigramModel{vocabSize: vocabSize, endToken: endToken, table: make([][]float32, vocabSize),
		logitsDType: dtypes.Float32}
	for ii := range m.table {
		m.table[ii] = make([]float32, vocabSize)
		for jj := range m.table[ii] {
			m.table[ii][jj] = float32(rng.NormFloat64() * 2)
		}
	}
	return m
}

// historyState holds one running hash of the tokens generated so far per hypothesis, shaped [batch, beam].
type historyState struct {
	hashes *tensors.Tensor[int64]
}

// GatherBeams implements beamsearch.ModelState.
func (s *historyState) GatherBeams(parentIDs *tensors.Tensor[int32]) (beamsearch.ModelState, error) {
	if !parentIDs.Shape().EqualDimensions(s.hashes.Shape()) {
		return nil, errors.Wrapf(beamsearch.ErrShapeMismatch, "parent ids %s don't match history state %s",
			parentIDs.Shape(), s.hashes.Shape())
	}
	batchSize, beamWidth := parentIDs.Dim(0), parentIDs.Dim(1)
	gathered := tensors.FromShape[int64](batchSize, beamWidth)
	for batchIdx := range batchSize {
		for beamIdx := range beamWidth {
			gathered.Set(s.hashes.At(batchIdx, int(parentIDs.At(batchIdx, beamIdx))), batchIdx, beamIdx)
		}
	}
	return &historyState{hashes: gathered}, nil
}

func (m *bigramModel) initialState(batchSize, beamWidth int) *historyState {
	return &historyState{hashes: tensors.FromShape[int64](batchSize, beamWidth)}
}

// Step implements beamsearch.StepFn.
func (m *bigramModel) Step(time int, previousTokens *tensors.Tensor[int32], modelState beamsearch.ModelState) (
	*tensors.Tensor[float32], beamsearch.ModelState, error) {
	state, ok := modelState.(*historyState)
	if !ok {
		return nil, nil, errors.Errorf("bigram model requires a *historyState, got %T", modelState)
	}
	batchSize, beamWidth := previousTokens.Dim(0), previousTokens.Dim(1)
	logits := tensors.FromShape[float32](batchSize, beamWidth, m.vocabSize)
	nextState := tensors.FromShape[int64](batchSize, beamWidth)
	var buf [16]byte
	for batchIdx := range batchSize {
		for beamIdx := range beamWidth {
			token := previousTokens.At(batchIdx, beamIdx)
			if int(token) >= m.vocabSize || token < 0 {
				return nil, nil, errors.Errorf("token %d out of vocabulary (size %d)", token, m.vocabSize)
			}
			binary.LittleEndian.PutUint64(buf[:8], uint64(state.hashes.At(batchIdx, beamIdx)))
			binary.LittleEndian.PutUint64(buf[8:], uint64(token))
			hash := xxhash.Sum64(buf[:])
			nextState.Set(int64(hash), batchIdx, beamIdx)

			row := logits.Row(batchIdx, beamIdx)
			copy(row, m.table[token])
			// Prefix dependent bias in [-0.25, 0.25).
			row[hash%uint64(m.vocabSize)] += float32(hash>>40)/float32(1<<24)*0.5 - 0.25
			row[m.endToken] += 0.5 * float32(time)
		}
	}
	if m.logitsDType.IsFloat16() {
		logits = roundTo(m.logitsDType, logits)
	}
	return logits, &historyState{hashes: nextState}, nil
}

// roundTo rounds the logits to one of the 16 bits float types.
func roundTo(dtype dtypes.DType, logits *tensors.Tensor[float32]) *tensors.Tensor[float32] {
	dims := logits.Shape().Dimensions
	if dtype == dtypes.BFloat16 {
		bf16 := make([]bfloat16.BFloat16, logits.Size())
		for ii, v := range logits.Flat() {
			bf16[ii] = bfloat16.FromFloat32(v)
		}
		return tensors.FromBFloat16(bf16, dims...)
	}
	half := make([]float16.Float16, logits.Size())
	for ii, v := range logits.Flat() {
		half[ii] = float16.Fromfloat32(v)
	}
	return tensors.FromFloat16(half, dims...)
}

// parseLogitsDType parses the dtype name of the model's logits: it must be a float of at most 32 bits.
func parseLogitsDType(name string) (dtypes.DType, error) {
	dtype, err := dtypes.FromName(name)
	if err != nil {
		return dtypes.InvalidDType, err
	}
	if !dtype.IsFloat() || dtype.Size() > dtypes.Float32.Size() {
		return dtypes.InvalidDType, errors.Errorf("logits dtype must be one of Float32, Float16 or BFloat16, got %s", dtype)
	}
	return dtype, nil
}

// Step64 runs Step and converts the logits to float64, to decode in double precision.
func (m *bigramModel) Step64(time int, previousTokens *tensors.Tensor[int32], modelState beamsearch.ModelState) (
	*tensors.Tensor[float64], beamsearch.ModelState, error) {
	logits, nextState, err := m.Step(time, previousTokens, modelState)
	if err != nil {
		return nil, nil, err
	}
	return tensors.ToFloat64(logits), nextState, nil
}

// detokenize names the tokens: "<eos>" for the end token and "t<id>" for the others.
func (m *bigramModel) detokenize(tokens []int32) string {
	var out []byte
	for ii, token := range tokens {
		if ii > 0 {
			out = append(out, ' ')
		}
		if int(token) == m.endToken {
			out = append(out, "<eos>"...)
		} else {
			out = fmt.Appendf(out, "t%d", token)
		}
	}
	return string(out)
}
