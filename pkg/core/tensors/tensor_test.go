// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"math"
	"testing"

	"github.com/gomlx/beamsearch/pkg/core/dtypes"
	"github.com/gomlx/beamsearch/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestTensor(t *testing.T) {
	t.Run("Construction", func(t *testing.T) {
		x := FromValue3D([][][]int32{{{1, 2}, {3, 4}}, {{5, 6}, {7, 8}}, {{9, 10}, {11, 12}}})
		assert.Equal(t, []int{3, 2, 2}, x.Shape().Dimensions)
		assert.Equal(t, dtypes.Int32, x.DType())
		assert.Equal(t, 12, x.Size())
		assert.Equal(t, int32(7), x.At(1, 1, 0))
		assert.Equal(t, []int32{11, 12}, x.Row(2, 1))
		assert.Equal(t, []int{4, 2, 1}, x.LayoutStrides())

		y := FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
		assert.Equal(t, [][]float32{{1, 2, 3}, {4, 5, 6}}, y.Value2D())
		assert.True(t, y.Equal(FromValue2D([][]float32{{1, 2, 3}, {4, 5, 6}})))

		z := FromScalarAndDimensions(true, 2, 2)
		assert.Equal(t, []bool{true, true, true, true}, z.Flat())

		c := y.Clone()
		c.Set(10, 0, 0)
		assert.Equal(t, float32(1), y.At(0, 0), "Clone must not share storage")
	})

	t.Run("Errors", func(t *testing.T) {
		x := FromShape[float64](2, 3)
		require.Error(t, exceptions.TryCatch[error](func() { x.At(2, 0) }))
		require.Error(t, exceptions.TryCatch[error](func() { x.At(0) }))
		require.Error(t, exceptions.TryCatch[error](func() { FromFlatDataAndDimensions([]int32{1, 2, 3}, 2, 2) }))
		require.Error(t, exceptions.TryCatch[error](func() { FromValue2D([][]int32{{1, 2}, {3}}) }))
		require.Error(t, exceptions.TryCatch[error](func() { x.Transpose(0, 0) }))
	})

	t.Run("Transpose", func(t *testing.T) {
		// time-major [time=2, batch=3, beam=2]
		timeMajor := FromValue3D([][][]int32{
			{{1, 2}, {3, 4}, {5, 6}},
			{{7, 8}, {9, 10}, {11, 12}},
		})
		batchMajor := timeMajor.Transpose(1, 0, 2)
		assert.Equal(t, [][][]int32{
			{{1, 2}, {7, 8}},
			{{3, 4}, {9, 10}},
			{{5, 6}, {11, 12}},
		}, batchMajor.Value3D())
		assert.True(t, timeMajor.Equal(batchMajor.Transpose(1, 0, 2)))

		m := FromValue2D([][]int32{{1, 2, 3}, {4, 5, 6}})
		assert.Equal(t, [][]int32{{1, 4}, {2, 5}, {3, 6}}, m.Transpose(1, 0).Value2D())

		cyclic := timeMajor.Transpose(2, 0, 1)
		assert.Equal(t, []int{2, 2, 3}, cyclic.Shape().Dimensions)
		assert.Equal(t, timeMajor.At(1, 2, 0), cyclic.At(0, 1, 2))

		empty := FromShape[int32](0, 2, 3).Transpose(1, 0, 2)
		assert.Equal(t, []int{2, 0, 3}, empty.Shape().Dimensions)
	})

	t.Run("HalfPrecision", func(t *testing.T) {
		f16 := []float16.Float16{float16.Fromfloat32(1.5), float16.Fromfloat32(-2), float16.Inf(-1), float16.Fromfloat32(0)}
		x := FromFloat16(f16, 2, 2)
		assert.Equal(t, [][]float32{{1.5, -2}, {float32(math.Inf(-1)), 0}}, x.Value2D())

		bf16 := []bfloat16.BFloat16{bfloat16.FromFloat32(3), bfloat16.FromFloat32(-math.MaxFloat32)}
		y := FromBFloat16(bf16, 1, 2)
		assert.Equal(t, float32(3), y.At(0, 0))
		assert.Equal(t, bf16[1].Float32(), y.At(0, 1))
		assert.False(t, math.IsInf(float64(y.At(0, 1)), -1))

		z := ToFloat64(y)
		assert.Equal(t, dtypes.Float64, z.DType())
		assert.Equal(t, 3.0, z.At(0, 0))
	})
}
