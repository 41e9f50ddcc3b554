// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/beamsearch/pkg/core/dtypes"
	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	s := Make(dtypes.Float32, 2, 3, 5)
	assert.Equal(t, 3, s.Rank())
	assert.Equal(t, 30, s.Size())
	assert.Equal(t, 5, s.Dim(-1))
	assert.Equal(t, "(Float32)[2 3 5]", s.String())
	assert.True(t, s.Equal(s.Clone()))
	assert.False(t, s.Equal(Make(dtypes.Float64, 2, 3, 5)))
	assert.True(t, s.EqualDimensions(Make(dtypes.Float64, 2, 3, 5)))

	empty := Make(dtypes.Int32, 0, 2, 3)
	assert.Equal(t, 0, empty.Size())

	err := exceptions.TryCatch[error](func() { Make(dtypes.Int32, -1) })
	require.Error(t, err)
	err = exceptions.TryCatch[error](func() { s.Dim(3) })
	require.Error(t, err)
}

func TestCheckDims(t *testing.T) {
	s := Make(dtypes.Int32, 2, 3)
	require.NoError(t, s.CheckDims(2, 3))
	require.NoError(t, s.CheckDims(-1, 3))
	require.NoError(t, CheckDims(s, 2, -1))
	require.Error(t, s.CheckDims(2))
	require.Error(t, s.CheckDims(3, 3))
	require.Panics(t, func() { s.AssertDims(2, 4) })
}
