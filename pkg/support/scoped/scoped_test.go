// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scoped_test

import (
	"testing"

	"github.com/gomlx/beamsearch/pkg/support/scoped"
	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

func TestScopedParams(t *testing.T) {
	p := scoped.New("/")

	//	Scope: "/": { "x":10, "y": 20, "z": 40 }
	//	Scope: "/a": { "y": 30 }
	//	Scope: "/a/b": { "x": 100 }
	p.Set("/", "x", 10)
	p.Set("/", "y", 20)
	p.Set("/", "z", 40)
	p.Set("/a", "y", 30)
	p.Set("/a/b", "x", 100)

	value, found := p.Get("/a/b", "x")
	assert.True(t, found, "/a/b:x should be set")
	assert.Equal(t, 100, value.(int), "scopedParams.Get(\"/a/b\", \"x\") -> 100")

	value, found = p.Get("/a/b", "y")
	assert.True(t, found, "/a:y should be set and found")
	assert.Equal(t, 30, value.(int), "scopedParams.Get(\"/a/b\", \"y\") -> 30")

	value, found = p.Get("/a/b", "z")
	assert.True(t, found, "/:z should be set and found")
	assert.Equal(t, 40, value.(int), "scopedParams.Get(\"/a/b\", \"z\") -> 40")

	_, found = p.Get("/a/b", "w")
	assert.False(t, found, "/a/b:w should not be set and not found")

	value, found = p.Get("/d/e/f", "z")
	assert.True(t, found, "/:z should be set and found")
	assert.Equal(t, 40, value.(int), "scopedParams.Get(\"/d/e/f\", \"z\") -> 40")

	want := []struct {
		scope string
		key   string
		value int
	}{
		{"/", "x", 10},
		{"/", "y", 20},
		{"/", "z", 40},
		{"/a", "y", 30},
		{"/a/b", "x", 100},
	}
	pos := 0
	p.Enumerate(func(scope, key string, valueAny any) {
		value := valueAny.(int)
		require.Lessf(t, pos, len(want), "Enumerate returned more elements than listed in `want`: "+
			"scope=%q, key=%q, value=%d", scope, key, value)
		require.Equalf(t, want[pos].scope, scope, "Enumerating element %d", pos)
		require.Equalf(t, want[pos].key, key, "Enumerating element %d", pos)
		require.Equalf(t, want[pos].value, value, "Enumerating element %d", pos)
		pos++
	})
	require.Equal(t, len(want), pos)

	// Clone is a deep copy.
	p2 := p.Clone()
	p2.Set("/a", "y", 31)
	value, _ = p.Get("/a", "y")
	assert.Equal(t, 30, value)
}

func TestGetParamOr(t *testing.T) {
	p := scoped.New(scoped.RootScope)
	p.SetParams(scoped.RootScope, map[string]any{
		"beam_width":          4,
		"beam_length_penalty": 1, // int, converted to float64.
		"beam_fail_on_nan":    true,
		"beam_end_token":      nil,
		"name":                "beam",
	})
	p.Set("/long", "beam_width", 8.0)

	assert.Equal(t, 4, scoped.GetParamOr(p, "/", "beam_width", 1))
	assert.Equal(t, 8, scoped.GetParamOr(p, "/long", "beam_width", 1))
	assert.Equal(t, 1.0, scoped.GetParamOr(p, "/long", "beam_length_penalty", 0.0))
	assert.Equal(t, true, scoped.GetParamOr(p, "/", "beam_fail_on_nan", false))
	assert.Equal(t, int32(7), scoped.GetParamOr(p, "/", "beam_end_token", int32(7)), "nil means default")
	assert.Equal(t, 100, scoped.GetParamOr(p, "/", "beam_max_iterations", 100))

	err := exceptions.TryCatch[error](func() { scoped.GetParamOr(p, "/", "name", 0) })
	require.Error(t, err)
	err = exceptions.TryCatch[error](func() { scoped.MustGetParam[int](p, "/", "missing") })
	require.ErrorContains(t, err, "not found")
}
