// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package beamsearch

import (
	"math"

	"github.com/gomlx/beamsearch/internal/workerspool"
	"github.com/pkg/errors"
)

// Config holds the parameters of the beam search.
type Config struct {
	// BeamWidth is the number of hypotheses kept per batch element. It must be >= 1.
	BeamWidth int

	// EndToken is the id of the end-of-sequence token. It must be a valid vocabulary index.
	EndToken int32

	// LengthPenaltyWeight is the exponent of the length penalty, see LengthPenalty.
	// 0 disables length normalization.
	LengthPenaltyWeight float64

	// MaxIterations is the maximum number of steps taken by Decode. It is not used by Step.
	MaxIterations int

	// Pool, if not nil, is used to process the batch elements of each step in parallel.
	// Results are the same as sequential processing.
	Pool *workerspool.Pool
}

// Validate the parameters used by Step.
func (cfg Config) Validate() error {
	if cfg.BeamWidth < 1 {
		return errors.Wrapf(ErrInvalidConfig, "beam width must be >= 1, got %d", cfg.BeamWidth)
	}
	if cfg.EndToken < 0 {
		return errors.Wrapf(ErrInvalidConfig, "end token must be >= 0, got %d", cfg.EndToken)
	}
	if math.IsNaN(cfg.LengthPenaltyWeight) || math.IsInf(cfg.LengthPenaltyWeight, 0) {
		return errors.Wrapf(ErrInvalidConfig, "length penalty weight must be finite, got %g", cfg.LengthPenaltyWeight)
	}
	return nil
}

// validateLoop validates the parameters used by Decode.
func (cfg Config) validateLoop() error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.MaxIterations < 1 {
		return errors.Wrapf(ErrInvalidConfig, "max iterations must be >= 1, got %d", cfg.MaxIterations)
	}
	return nil
}
