// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package beamsearch implements beam search decoding over a caller-supplied sequence model.
//
// At each step the search keeps BeamWidth partial hypotheses per batch element. Every hypothesis is
// extended by every vocabulary token, candidates are scored by their cumulative log-probability
// divided by a length penalty, and the best BeamWidth candidates of each batch element (over the
// flattened `[beam, vocab]` axis) become the next hypotheses. Finished hypotheses (those that emitted
// the end token) are forced to keep emitting the end token at no cost, so their score and length
// freeze.
//
// The building blocks are:
//
//   - MaskFinished: forces finished hypotheses to re-emit the end token.
//   - Step: one beam search step, from the model logits and the current State to the next State and
//     a StepRecord.
//   - Decode: calls the model step function and Step until every hypothesis is finished or the
//     iteration limit is reached, collecting a History.
//   - GatherTree: walks the recorded parent ids backward to reconstruct the token sequence of every
//     final beam.
//   - Finalize: packs the reconstructed sequences, final lengths and scores into a FinalOutput.
//
// Scores are generic over float32 and float64; token and beam ids are int32. Tensors are laid out
// `[batch, beam]` for the state and step records, `[batch, beam, vocab]` for the logits and
// `[time, batch, beam]` (time-major) or `[batch, time, beam]` (batch-major) for the history.
//
// The model state is opaque to the search: it only needs to be able to reorder itself along the beam
// axis, see ModelState.
package beamsearch
