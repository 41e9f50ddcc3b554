// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package beamsearch

import (
	"github.com/gomlx/beamsearch/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Errors returned by the beam search. They are wrapped with context, use errors.Is to test for them.
var (
	// ErrShapeMismatch is returned when logits, state or history tensors have incompatible shapes.
	ErrShapeMismatch = errors.New("beam search shape mismatch")

	// ErrParentOutOfRange is returned when a recorded parent id doesn't point to a valid beam slot,
	// which means the search history is corrupted.
	ErrParentOutOfRange = errors.New("beam search parent id out of range")

	// ErrNonFiniteScore is returned (only when requested, see decode.Decoder.WithFailOnNaN) when the
	// model produced NaN scores.
	ErrNonFiniteScore = errors.New("beam search non-finite (NaN) score")

	// ErrInvalidConfig is returned for invalid beam search parameters.
	ErrInvalidConfig = errors.New("invalid beam search configuration")
)

// checkDims wraps shapes.CheckDims errors with ErrShapeMismatch.
func checkDims(name string, shaped shapes.HasShape, dimensions ...int) error {
	if err := shapes.CheckDims(shaped, dimensions...); err != nil {
		return errors.Wrapf(ErrShapeMismatch, "%s: %v", name, err)
	}
	return nil
}
