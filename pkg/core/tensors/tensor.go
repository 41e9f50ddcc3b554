// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements a simple dense, row-major, local Tensor[T] used to pass fixed-shape
// numeric buffers -- logits, log-probabilities, token ids, parent indices -- in and out of the beam
// search.
//
// Axes follow the convention `[time]`, `[batch]`, `[beam]`, `[vocab]` in some subset/order. Both
// time-major (`[time, batch, beam]`) and batch-major (`[batch, time, beam]`) layouts are obtained
// from one another with Tensor.Transpose.
//
// Tensors are treated as immutable values once handed over: functions in this module never modify
// their inputs and always return new tensors. Flat returns the underlying storage, and callers are
// expected not to modify it.
//
// Index errors in this package are considered bugs in the calling code (the indices are computed,
// not user-given), so they panic with exceptions.Panicf, like the rest of GoMLX.
package tensors

import (
	"fmt"
	"slices"

	"github.com/gomlx/beamsearch/pkg/core/dtypes"
	"github.com/gomlx/beamsearch/pkg/core/shapes"
	"github.com/gomlx/exceptions"
)

// Element lists the Go types a Tensor can hold.
type Element interface {
	bool | int32 | int64 | float32 | float64
}

// Tensor is a dense multidimensional array of T stored in row-major order.
type Tensor[T Element] struct {
	shape shapes.Shape
	flat  []T
}

// FromShape returns a zero-initialized Tensor with the given dimensions.
func FromShape[T Element](dimensions ...int) *Tensor[T] {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	return &Tensor[T]{shape: shape, flat: make([]T, shape.Size())}
}

// FromScalarAndDimensions returns a Tensor with the given dimensions, filled with the given scalar value.
func FromScalarAndDimensions[T Element](value T, dimensions ...int) *Tensor[T] {
	t := FromShape[T](dimensions...)
	for ii := range t.flat {
		t.flat[ii] = value
	}
	return t
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, filled with the flattened values given in `data`.
// The data is copied into the Tensor.
//
// It panics if len(data) doesn't match the size of the dimensions.
func FromFlatDataAndDimensions[T Element](data []T, dimensions ...int) *Tensor[T] {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions(): data size is %d, but dimensions %v size is %d",
			len(data), dimensions, shape.Size())
	}
	return &Tensor[T]{shape: shape, flat: slices.Clone(data)}
}

// FromValue2D creates a Tensor from a (non-ragged) 2D slice.
func FromValue2D[T Element](rows [][]T) *Tensor[T] {
	dim1 := 0
	if len(rows) > 0 {
		dim1 = len(rows[0])
	}
	t := FromShape[T](len(rows), dim1)
	for ii, row := range rows {
		if len(row) != dim1 {
			exceptions.Panicf("FromValue2D(): ragged slice, row %d has %d elements, wanted %d", ii, len(row), dim1)
		}
		copy(t.flat[ii*dim1:], row)
	}
	return t
}

// FromValue3D creates a Tensor from a (non-ragged) 3D slice.
func FromValue3D[T Element](value [][][]T) *Tensor[T] {
	dim1, dim2 := 0, 0
	if len(value) > 0 {
		dim1 = len(value[0])
		if dim1 > 0 {
			dim2 = len(value[0][0])
		}
	}
	t := FromShape[T](len(value), dim1, dim2)
	pos := 0
	for ii, rows := range value {
		if len(rows) != dim1 {
			exceptions.Panicf("FromValue3D(): ragged slice, value[%d] has %d rows, wanted %d", ii, len(rows), dim1)
		}
		for jj, row := range rows {
			if len(row) != dim2 {
				exceptions.Panicf("FromValue3D(): ragged slice, value[%d][%d] has %d elements, wanted %d",
					ii, jj, len(row), dim2)
			}
			copy(t.flat[pos:], row)
			pos += dim2
		}
	}
	return t
}

// Shape of the tensor.
func (t *Tensor[T]) Shape() shapes.Shape { return t.shape }

// DType of the tensor elements.
func (t *Tensor[T]) DType() dtypes.DType { return t.shape.DType }

// Rank of the tensor.
func (t *Tensor[T]) Rank() int { return t.shape.Rank() }

// Size is the number of elements of the tensor.
func (t *Tensor[T]) Size() int { return len(t.flat) }

// Dim returns the dimension of the given axis, see shapes.Shape.Dim.
func (t *Tensor[T]) Dim(axis int) int { return t.shape.Dim(axis) }

// Flat returns the underlying row-major storage. It must not be modified.
func (t *Tensor[T]) Flat() []T { return t.flat }

// Clone returns a deep copy of the tensor.
func (t *Tensor[T]) Clone() *Tensor[T] {
	return &Tensor[T]{shape: t.shape.Clone(), flat: slices.Clone(t.flat)}
}

// LayoutStrides return the strides for each axis, in number of elements.
func (t *Tensor[T]) LayoutStrides() (strides []int) {
	rank := t.shape.Rank()
	strides = make([]int, rank)
	stride := 1
	for axis := rank - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= t.shape.Dimensions[axis]
	}
	return
}

// offset of the element at the given indices. Trailing axes not given are taken as 0.
func (t *Tensor[T]) offset(indices []int) int {
	if len(indices) > t.shape.Rank() {
		exceptions.Panicf("tensor %s indexed with %d indices %v", t.shape, len(indices), indices)
	}
	offset := 0
	for axis, dim := range t.shape.Dimensions {
		offset *= dim
		if axis < len(indices) {
			idx := indices[axis]
			if idx < 0 || idx >= dim {
				exceptions.Panicf("tensor %s index %v out-of-bounds for axis %d", t.shape, indices, axis)
			}
			offset += idx
		}
	}
	return offset
}

// At returns the element at the given indices.
func (t *Tensor[T]) At(indices ...int) T {
	if len(indices) != t.shape.Rank() {
		exceptions.Panicf("tensor %s At() requires %d indices, got %v", t.shape, t.shape.Rank(), indices)
	}
	return t.flat[t.offset(indices)]
}

// Set sets the element at the given indices. Only to be used while building a new tensor.
func (t *Tensor[T]) Set(value T, indices ...int) {
	if len(indices) != t.shape.Rank() {
		exceptions.Panicf("tensor %s Set() requires %d indices, got %v", t.shape, t.shape.Rank(), indices)
	}
	t.flat[t.offset(indices)] = value
}

// Row returns the contiguous sub-slice of the last axis addressed by the leading indices.
// E.g. for logits shaped `[batch, beam, vocab]`, `Row(b, k)` returns the `vocab` logits of beam k in batch b.
//
// The returned slice shares storage with the tensor.
func (t *Tensor[T]) Row(indices ...int) []T {
	if len(indices) != t.shape.Rank()-1 {
		exceptions.Panicf("tensor %s Row() requires %d indices, got %v", t.shape, t.shape.Rank()-1, indices)
	}
	rowLen := t.shape.Dim(-1)
	start := t.offset(indices)
	return t.flat[start : start+rowLen : start+rowLen]
}

// Value2D returns a copy of a rank-2 tensor as a [][]T.
func (t *Tensor[T]) Value2D() [][]T {
	t.shape.AssertDims(-1, -1)
	dim1 := t.shape.Dimensions[1]
	value := make([][]T, t.shape.Dimensions[0])
	for ii := range value {
		value[ii] = slices.Clone(t.flat[ii*dim1 : (ii+1)*dim1])
	}
	return value
}

// Value3D returns a copy of a rank-3 tensor as a [][][]T.
func (t *Tensor[T]) Value3D() [][][]T {
	t.shape.AssertDims(-1, -1, -1)
	dim1, dim2 := t.shape.Dimensions[1], t.shape.Dimensions[2]
	value := make([][][]T, t.shape.Dimensions[0])
	for ii := range value {
		value[ii] = make([][]T, dim1)
		for jj := range value[ii] {
			start := (ii*dim1 + jj) * dim2
			value[ii][jj] = slices.Clone(t.flat[start : start+dim2])
		}
	}
	return value
}

// Transpose returns a new tensor with the axes permuted: axis ii of the result is axis permutation[ii]
// of t. E.g. Transpose(1, 0, 2) converts a time-major `[time, batch, beam]` tensor to batch-major
// `[batch, time, beam]` (and back).
func (t *Tensor[T]) Transpose(permutation ...int) *Tensor[T] {
	rank := t.shape.Rank()
	if len(permutation) != rank {
		exceptions.Panicf("Transpose(%v) of tensor %s requires %d axes", permutation, t.shape, rank)
	}
	seen := make([]bool, rank)
	newDims := make([]int, rank)
	for ii, axis := range permutation {
		if axis < 0 || axis >= rank || seen[axis] {
			exceptions.Panicf("Transpose(%v) of tensor %s: invalid permutation", permutation, t.shape)
		}
		seen[axis] = true
		newDims[ii] = t.shape.Dimensions[axis]
	}
	result := FromShape[T](newDims...)
	if result.Size() == 0 {
		return result
	}
	srcStrides := t.LayoutStrides()
	permutedStrides := make([]int, rank)
	for ii, axis := range permutation {
		permutedStrides[ii] = srcStrides[axis]
	}

	// Iterate over the result in row-major order, keeping track of the source offset.
	indices := make([]int, rank)
	srcOffset := 0
	for dstOffset := range result.flat {
		result.flat[dstOffset] = t.flat[srcOffset]
		for axis := rank - 1; axis >= 0; axis-- {
			indices[axis]++
			srcOffset += permutedStrides[axis]
			if indices[axis] < newDims[axis] {
				break
			}
			srcOffset -= indices[axis] * permutedStrides[axis]
			indices[axis] = 0
		}
	}
	return result
}

// Equal returns whether both tensors have the same shape and the exact same values.
// NaN values are never equal.
func (t *Tensor[T]) Equal(other *Tensor[T]) bool {
	if other == nil {
		return false
	}
	return t.shape.Equal(other.shape) && slices.Equal(t.flat, other.flat)
}

// String implements fmt.Stringer.
func (t *Tensor[T]) String() string {
	switch t.shape.Rank() {
	case 2:
		return fmt.Sprintf("%s: %v", t.shape, t.Value2D())
	case 3:
		return fmt.Sprintf("%s: %v", t.shape, t.Value3D())
	default:
		return fmt.Sprintf("%s: %v", t.shape, t.flat)
	}
}
