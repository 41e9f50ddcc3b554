// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dtypes includes the DType enum for the data types used by the beam search: the float types
// scores may be computed or delivered in, and the integer types used for token ids and indices.
//
// It is trimmed from the GoMLX dtypes package, and keeps its names so code reads the same. It includes
// the lowest finite value of the float types scores are computed in, used as the "never select"
// sentinel when masking log-probabilities, and constraint interfaces to be used with generics.
package dtypes

import (
	"math"
	"strings"

	"github.com/gomlx/beamsearch/pkg/core/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// DType is an enum represents the data type of a buffer or a scalar.
type DType int32

const (
	// InvalidDType is the zero value: not a valid type.
	InvalidDType DType = iota
	Bool
	Int32
	Int64
	Float16
	BFloat16
	Float32
	Float64
)

var dtypeNames = map[DType]string{
	InvalidDType: "InvalidDType",
	Bool:         "Bool",
	Int32:        "Int32",
	Int64:        "Int64",
	Float16:      "Float16",
	BFloat16:     "BFloat16",
	Float32:      "Float32",
	Float64:      "Float64",
}

// MapOfNames to their dtypes. It includes also aliases to the various dtypes, and lower-case versions.
var MapOfNames = map[string]DType{
	"InvalidDType": InvalidDType,
	"Bool":         Bool,
	"Int32":        Int32,
	"Int64":        Int64,
	"Float16":      Float16,
	"BFloat16":     BFloat16,
	"Float32":      Float32,
	"Float64":      Float64,
	"F16":          Float16,
	"BF16":         BFloat16,
	"F32":          Float32,
	"F64":          Float64,
}

func init() {
	// Add a mapping to the lower-case version of dtypes.
	for key, dtype := range MapOfNames {
		lowerKey := strings.ToLower(key)
		if _, found := MapOfNames[lowerKey]; !found {
			MapOfNames[lowerKey] = dtype
		}
	}
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	if name, found := dtypeNames[dtype]; found {
		return name
	}
	return "InvalidDType"
}

// FromName returns the DType for the given name (or alias, like "f32"), or an error if unknown.
func FromName(name string) (DType, error) {
	if dtype, found := MapOfNames[name]; found {
		return dtype, nil
	}
	if dtype, found := MapOfNames[strings.ToLower(name)]; found {
		return dtype, nil
	}
	return InvalidDType, errors.Errorf("unknown dtype %q", name)
}

// Supported lists the Go types this package knows how to map to a DType.
// Used as traits for generics.
type Supported interface {
	bool | float16.Float16 | bfloat16.BFloat16 | float32 | float64 | int32 | int64
}

// GoFloat represent a continuous Go numeric type that scores can be computed in.
type GoFloat interface {
	float32 | float64
}

// FromGenericsType returns the DType enum for the given type that this package knows about.
func FromGenericsType[T Supported]() DType {
	var t T
	switch (any(t)).(type) {
	case float64:
		return Float64
	case float32:
		return Float32
	case float16.Float16:
		return Float16
	case bfloat16.BFloat16:
		return BFloat16
	case int64:
		return Int64
	case int32:
		return Int32
	case bool:
		return Bool
	}
	return InvalidDType
}

// IsFloat returns whether dtype is a supported float -- float types not yet supported will return false.
func (dtype DType) IsFloat() bool {
	return dtype == Float32 || dtype == Float64 || dtype == Float16 || dtype == BFloat16
}

// IsFloat16 returns whether dtype is one of the 16 bits float types.
func (dtype DType) IsFloat16() bool {
	return dtype == Float16 || dtype == BFloat16
}

// Size returns the number of bytes for the given DType.
func (dtype DType) Size() int {
	switch dtype {
	case Bool:
		return 1
	case Float16, BFloat16:
		return 2
	case Int32, Float32:
		return 4
	case Int64, Float64:
		return 8
	}
	return 0
}

// LowestFinite returns the most negative finite value of the float type T.
//
// Masking uses it instead of negative infinity: it behaves as "never select" without ever producing
// NaN (-inf - -inf) or infinities in the length-penalty division.
func LowestFinite[T GoFloat]() T {
	var t T
	switch p := any(&t).(type) {
	case *float32:
		*p = -math.MaxFloat32
	case *float64:
		*p = -math.MaxFloat64
	}
	return t
}
