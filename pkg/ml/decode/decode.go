// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package decode configures and runs beam search decoding over a caller-provided model.
//
// The algorithm itself lives in the beamsearch sub-package. The Decoder adds the configuration
// (builder methods or hyperparameters), validation, logging, metrics, and the selection of the best
// sequences.
package decode

import (
	"math"
	"runtime"
	"time"

	"github.com/gomlx/beamsearch/internal/workerspool"
	"github.com/gomlx/beamsearch/pkg/core/dtypes"
	"github.com/gomlx/beamsearch/pkg/ml/decode/beamsearch"
	"github.com/gomlx/beamsearch/pkg/support/scoped"
	"github.com/gomlx/beamsearch/pkg/support/xslices"
	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Hyperparameter keys for the scoped.Params configuration, see Decoder.FromParams.
const (
	ParamBeamWidth          = "beam_width"
	ParamEndToken           = "beam_end_token"
	ParamLengthPenalty      = "beam_length_penalty"
	ParamMaxIterations      = "beam_max_iterations"
	ParamParallelism        = "beam_parallelism"
	ParamFailOnNaN          = "beam_fail_on_nan"
	ParamNumReturnSequences = "beam_num_return_sequences"
)

// Decoder configures and executes beam search decoding.
//
// Create it with New, configure it with the With* methods or FromParams, and then call Decode.
// Configuration errors are kept and returned by Decode (or Err). The configuration can't be changed after
// the first call to Decode.
type Decoder[T dtypes.GoFloat] struct {
	// StepFn is the model.
	StepFn beamsearch.StepFn[T]

	BeamWidth          int
	EndToken           int
	LengthPenalty      float64
	MaxIterations      int
	Parallelism        int // 0 disables parallelism, -1 means unlimited.
	FailOnNaN          bool
	NumReturnSequences int

	observers []beamsearch.StepObserver[T]
	pool      *workerspool.Pool
	frozen    bool
	err       error
}

// Result of a Decoder.Decode call.
type Result[T dtypes.GoFloat] struct {
	// RunID identifies the decoding in the logs.
	RunID string

	// Output holds all final hypotheses.
	Output *beamsearch.FinalOutput[T]

	// Best holds, for each batch element, the NumReturnSequences best hypotheses, best first.
	Best [][]beamsearch.Hypothesis[T]

	// History of all steps.
	History *beamsearch.History[T]

	// Fingerprint of the History, see beamsearch.History.Fingerprint.
	Fingerprint uint64

	// NumNaN is the total number of NaN scores produced by the model.
	NumNaN int

	Elapsed time.Duration
}

// New creates a beam search decoder for the given model.
//
// Default parameters are: beam width 4, no length penalty, 100 max iterations, parallelism of
// runtime.NumCPU() and 1 returned sequence. The end token has no default and must be set.
//
// Example:
//
//	decoder := decode.New(model.Step).
//		WithEndToken(eosID).
//		WithBeamWidth(8).
//		WithLengthPenalty(0.6)
//	result, err := decoder.Decode(startTokens, model.InitialState(batchSize, 8))
func New[T dtypes.GoFloat](stepFn beamsearch.StepFn[T]) *Decoder[T] {
	return &Decoder[T]{
		StepFn:             stepFn,
		BeamWidth:          4,
		EndToken:           -1,
		LengthPenalty:      0,
		MaxIterations:      100,
		Parallelism:        runtime.NumCPU(),
		NumReturnSequences: 1,
	}
}

// Err returns the first configuration error, if any.
func (d *Decoder[T]) Err() error {
	return d.err
}

// configure applies setFn if the decoder configuration can still be changed.
func (d *Decoder[T]) configure(name string, setFn func()) *Decoder[T] {
	if d.err != nil {
		return d
	}
	if d.frozen {
		d.err = errors.Errorf("cannot change configuration (%s) after the Decoder was used", name)
		return d
	}
	setFn()
	return d
}

// FromParams configures the decoder with hyperparameters from params, searched from the given scope up to
// the root scope. Parameters not set are left unchanged.
//
// Supported hyperparameters:
//   - beam_width: number of hypotheses kept per batch element.
//   - beam_end_token: end-of-sequence token id.
//   - beam_length_penalty: length penalty weight, 0 disables it.
//   - beam_max_iterations: maximum number of steps.
//   - beam_parallelism: number of batch elements processed in parallel, 0 disables it, -1 for unlimited.
//   - beam_fail_on_nan: whether NaN scores produced by the model are an error.
//   - beam_num_return_sequences: number of best hypotheses returned per batch element.
//
// Example:
//
//	params := scoped.New(scoped.RootScope)
//	params.SetParams(scoped.RootScope, map[string]any{
//	    "beam_width": 8,
//	    "beam_length_penalty": 0.6,
//	})
//	decoder.FromParams(params, scoped.RootScope)
func (d *Decoder[T]) FromParams(params *scoped.Params, scope string) *Decoder[T] {
	return d.configure("FromParams", func() {
		d.err = exceptions.TryCatch[error](func() {
			d.BeamWidth = scoped.GetParamOr(params, scope, ParamBeamWidth, d.BeamWidth)
			d.EndToken = scoped.GetParamOr(params, scope, ParamEndToken, d.EndToken)
			d.LengthPenalty = scoped.GetParamOr(params, scope, ParamLengthPenalty, d.LengthPenalty)
			d.MaxIterations = scoped.GetParamOr(params, scope, ParamMaxIterations, d.MaxIterations)
			d.Parallelism = scoped.GetParamOr(params, scope, ParamParallelism, d.Parallelism)
			d.FailOnNaN = scoped.GetParamOr(params, scope, ParamFailOnNaN, d.FailOnNaN)
			d.NumReturnSequences = scoped.GetParamOr(params, scope, ParamNumReturnSequences, d.NumReturnSequences)
		})
		if d.err != nil {
			d.err = errors.WithMessage(d.err, "Decoder.FromParams()")
		}
	})
}

// WithBeamWidth sets the number of hypotheses kept per batch element.
// Higher values explore more candidates but are slower.
func (d *Decoder[T]) WithBeamWidth(beamWidth int) *Decoder[T] {
	return d.configure("WithBeamWidth", func() { d.BeamWidth = beamWidth })
}

// WithEndToken sets the end-of-sequence token id.
func (d *Decoder[T]) WithEndToken(endToken int) *Decoder[T] {
	return d.configure("WithEndToken", func() { d.EndToken = endToken })
}

// WithLengthPenalty sets the length penalty weight, see beamsearch.LengthPenalty.
// Larger values favor longer sequences, 0 disables it.
func (d *Decoder[T]) WithLengthPenalty(weight float64) *Decoder[T] {
	return d.configure("WithLengthPenalty", func() { d.LengthPenalty = weight })
}

// WithMaxIterations sets the maximum number of steps. Hypotheses not finished by then are returned truncated.
func (d *Decoder[T]) WithMaxIterations(maxIterations int) *Decoder[T] {
	return d.configure("WithMaxIterations", func() { d.MaxIterations = maxIterations })
}

// WithParallelism sets how many batch elements are processed in parallel in each step.
// 0 disables parallelism, and -1 makes it unlimited.
func (d *Decoder[T]) WithParallelism(parallelism int) *Decoder[T] {
	return d.configure("WithParallelism", func() { d.Parallelism = parallelism })
}

// WithFailOnNaN makes the decoding fail with beamsearch.ErrNonFiniteScore if the model produces NaN scores.
// Otherwise they are only logged and counted, and NaN candidates are never selected while there are others.
func (d *Decoder[T]) WithFailOnNaN(failOnNaN bool) *Decoder[T] {
	return d.configure("WithFailOnNaN", func() { d.FailOnNaN = failOnNaN })
}

// WithNumReturnSequences sets how many of the best hypotheses per batch element are returned in Result.Best.
func (d *Decoder[T]) WithNumReturnSequences(n int) *Decoder[T] {
	return d.configure("WithNumReturnSequences", func() { d.NumReturnSequences = n })
}

// WithObserver adds a function called after each step, e.g. to display progress.
func (d *Decoder[T]) WithObserver(observer beamsearch.StepObserver[T]) *Decoder[T] {
	return d.configure("WithObserver", func() { d.observers = append(d.observers, observer) })
}

// config returns the beamsearch.Config for the current parameters.
func (d *Decoder[T]) config() beamsearch.Config {
	return beamsearch.Config{
		BeamWidth:           d.BeamWidth,
		EndToken:            int32(d.EndToken),
		LengthPenaltyWeight: d.LengthPenalty,
		MaxIterations:       d.MaxIterations,
		Pool:                d.pool,
	}
}

// validate checks that the decoder configuration is valid.
func (d *Decoder[T]) validate() error {
	if d.StepFn == nil {
		return errors.Wrap(beamsearch.ErrInvalidConfig, "model step function not set")
	}
	if d.EndToken < 0 || d.EndToken > math.MaxInt32 {
		return errors.Wrapf(beamsearch.ErrInvalidConfig, "end token must be set to a valid token id, got %d", d.EndToken)
	}
	if d.NumReturnSequences < 1 || d.NumReturnSequences > d.BeamWidth {
		return errors.Wrapf(beamsearch.ErrInvalidConfig, "number of returned sequences (%d) must be in [1, beam width=%d]",
			d.NumReturnSequences, d.BeamWidth)
	}
	cfg := d.config()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if d.MaxIterations < 1 {
		return errors.Wrapf(beamsearch.ErrInvalidConfig, "max iterations must be >= 1, got %d", d.MaxIterations)
	}
	return nil
}

// Decode runs the beam search for a batch of sequences, one per start token.
//
// initialModelState is the model state for `[len(startTokens), BeamWidth]` hypotheses, or nil if the
// model has no state.
//
// Example:
//
//	result, err := decoder.Decode([]int32{bosID, bosID}, nil)
//	if err != nil { ... }
//	for batchIdx, best := range result.Best {
//		fmt.Printf("#%d: %v (score %.3f)\n", batchIdx, best[0].Tokens, best[0].Score)
//	}
func (d *Decoder[T]) Decode(startTokens []int32, initialModelState beamsearch.ModelState) (*Result[T], error) {
	if d.err != nil {
		return nil, d.err
	}
	if err := d.validate(); err != nil {
		return nil, errors.WithMessagef(err, "invalid beam search decoder config")
	}
	if len(startTokens) == 0 {
		return nil, errors.Wrap(beamsearch.ErrInvalidConfig, "no start tokens given, the batch is empty")
	}
	d.frozen = true
	if d.pool == nil {
		d.pool = workerspool.NewWithParallelism(d.Parallelism)
	}

	runID := uuid.NewString()
	start := time.Now()
	var (
		result *Result[T]
		err    error
	)
	if panicErr := exceptions.TryCatch[error](func() { result, err = d.decode(runID, startTokens, initialModelState) }); panicErr != nil {
		err = errors.WithMessagef(panicErr, "beam search %s failed", runID)
	}
	elapsed := time.Since(start)
	decodeDuration.Observe(elapsed.Seconds())
	if err != nil {
		decodeOps.WithLabelValues(statusError).Inc()
		klog.V(1).Infof("beam search %s failed after %s: %v", runID, elapsed, err)
		return nil, err
	}
	decodeOps.WithLabelValues(statusOK).Inc()
	result.Elapsed = elapsed
	final := result.Output
	klog.V(1).Infof("beam search %s: batch=%d, beam=%d, parallelism=%d, %d steps, %d/%d finished in %s, fingerprint=%016x",
		runID, len(startTokens), d.BeamWidth, d.pool.MaxParallelism(), final.NumSteps, xslices.Count(final.Finished.Flat(), func(f bool) bool { return f }), final.Finished.Size(),
		elapsed, result.Fingerprint)
	return result, nil
}

// decode runs the beam search, it may panic on bugs.
func (d *Decoder[T]) decode(runID string, startTokens []int32, initialModelState beamsearch.ModelState) (*Result[T], error) {
	cfg := d.config()
	var numNaN int
	nanObserver := func(time int, record *beamsearch.StepRecord[T], _ *beamsearch.State[T]) error {
		stepOps.Inc()
		if record.NumNaN == 0 {
			return nil
		}
		numNaN += record.NumNaN
		nanScores.Add(float64(record.NumNaN))
		klog.Warningf("beam search %s: step %d produced %d NaN scores, the model may be broken", runID, time, record.NumNaN)
		if d.FailOnNaN {
			return errors.Wrapf(beamsearch.ErrNonFiniteScore, "%d NaN scores at step %d", record.NumNaN, time)
		}
		return nil
	}
	observers := append([]beamsearch.StepObserver[T]{nanObserver}, d.observers...)

	initialState := beamsearch.NewInitialState[T](len(startTokens), d.BeamWidth, initialModelState)
	history, final, err := beamsearch.Decode(initialState, startTokens, d.StepFn, cfg, observers...)
	if err != nil {
		return nil, errors.WithMessagef(err, "beam search %s", runID)
	}
	output, err := beamsearch.Finalize(history, final, cfg)
	if err != nil {
		return nil, errors.WithMessagef(err, "beam search %s", runID)
	}
	if unfinished := final.Finished.Size() - final.NumFinished(); unfinished > 0 {
		unfinishedHypotheses.Add(float64(unfinished))
	}
	return &Result[T]{
		RunID:       runID,
		Output:      output,
		Best:        output.Best(d.NumReturnSequences),
		History:     history,
		Fingerprint: history.Fingerprint(),
		NumNaN:      numNaN,
	}, nil
}
