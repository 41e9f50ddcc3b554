// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"github.com/gomlx/beamsearch/pkg/core/dtypes"
	"github.com/gomlx/beamsearch/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/beamsearch/pkg/core/shapes"
	"github.com/x448/float16"
)

// FromFloat16 converts half-precision data (typically logits of a model running in float16) to a float32
// Tensor with the given dimensions. Conversion is exact, including NaN and infinities.
func FromFloat16(data []float16.Float16, dimensions ...int) *Tensor[float32] {
	flat := make([]float32, len(data))
	for ii, v := range data {
		flat[ii] = v.Float32()
	}
	return FromFlatDataAndDimensions(flat, dimensions...)
}

// FromBFloat16 converts bfloat16 data to a float32 Tensor with the given dimensions.
// Conversion is exact, including NaN and infinities.
func FromBFloat16(data []bfloat16.BFloat16, dimensions ...int) *Tensor[float32] {
	flat := make([]float32, len(data))
	for ii, v := range data {
		flat[ii] = v.Float32()
	}
	return FromFlatDataAndDimensions(flat, dimensions...)
}

// ToFloat64 converts a float32 tensor to float64, e.g. to run the beam search in double precision.
func ToFloat64(t *Tensor[float32]) *Tensor[float64] {
	flat := make([]float64, t.Size())
	for ii, v := range t.flat {
		flat[ii] = float64(v)
	}
	return &Tensor[float64]{shape: shapes.Make(dtypes.Float64, t.shape.Dimensions...), flat: flat}
}
