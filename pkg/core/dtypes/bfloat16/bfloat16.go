// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package bfloat16 is a trivial implementation for the bfloat16 type,
// based on https://github.com/x448/float16 and the pending issue in
// https://github.com/x448/float16/issues/22
//
// Only what is needed to ingest bfloat16 logits is implemented.
package bfloat16

import "math"

// BFloat16 (brain floating point) is a 16-bit truncation of the IEEE 754 float32: same exponent range,
// only 7 bits of mantissa. Many accelerators emit logits in this format.
type BFloat16 uint16

// Float32 converts the value to a float32, exactly.
func (f BFloat16) Float32() float32 {
	return math.Float32frombits(uint32(f) << 16)
}

// FromFloat32 converts a float32 to a BFloat16, truncating the mantissa.
func FromFloat32(x float32) BFloat16 {
	return BFloat16(math.Float32bits(x) >> 16)
}
