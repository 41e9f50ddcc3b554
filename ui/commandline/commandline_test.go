// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gomlx/beamsearch/pkg/core/tensors"
	"github.com/gomlx/beamsearch/pkg/ml/decode"
	"github.com/gomlx/beamsearch/pkg/ml/decode/beamsearch"
	"github.com/gomlx/beamsearch/pkg/support/scoped"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestParams() *scoped.Params {
	params := scoped.New("/")
	params.SetParams(scoped.RootScope, map[string]any{
		"x":          11.0,
		"y":          7,
		"z":          false,
		"s":          "foo",
		"list_int":   []int{},
		"list_float": []float64{},
		"list_str":   []string{},
	})
	return params
}

func TestParseSettings(t *testing.T) {
	params := createTestParams()

	paramsSet, err := ParseSettings(params, "x=13;/a/z=true;/a/b/y=3;s=bar;list_int=1,3,7;list_float=0.1,1.2,3e3;list_str=a,b;")
	require.NoError(t, err)
	require.Equal(t, []string{"x", "/a/z", "/a/b/y", "s", "list_int", "list_float", "list_str"}, paramsSet)
	x, found := params.Get(scoped.RootScope, "x")
	assert.True(t, found)
	assert.Equal(t, 13.0, x.(float64))

	assert.Equal(t, 7, scoped.MustGetParam[int](params, scoped.RootScope, "y"))
	assert.Equal(t, 7, scoped.MustGetParam[int](params, "/a", "y"))
	assert.Equal(t, 3, scoped.MustGetParam[int](params, "/a/b", "y"))

	assert.False(t, scoped.MustGetParam[bool](params, scoped.RootScope, "z"))
	assert.True(t, scoped.MustGetParam[bool](params, "/a/b", "z"))

	assert.Equal(t, "bar", scoped.MustGetParam[string](params, scoped.RootScope, "s"))
	assert.Equal(t, []int{1, 3, 7}, scoped.GetParamOr(params, scoped.RootScope, "list_int", []int{}))
	assert.Equal(t, []float64{0.1, 1.2, 3e3}, scoped.GetParamOr(params, scoped.RootScope, "list_float", []float64{}))
	assert.Equal(t, []string{"a", "b"}, scoped.GetParamOr(params, scoped.RootScope, "list_str", []string{}))

	// Large integers with "_".
	_, err = ParseSettings(params, "y=1_000_000")
	require.NoError(t, err)
	assert.Equal(t, 1000000, scoped.MustGetParam[int](params, scoped.RootScope, "y"))

	// Parameter "q" is unknown.
	_, err = ParseSettings(params, "q=3")
	require.Error(t, err)

	// Parameter "q" is still unknown in root.
	params.Set("/c", "q", 13)
	_, err = ParseSettings(params, "q=3")
	require.Error(t, err)

	// Cannot set the wrong type of value.
	_, err = ParseSettings(params, "y=3.14")
	require.Error(t, err)

	// Cannot parse setting with scope not absolute.
	_, err = ParseSettings(params, "a/abc=3.14")
	require.Error(t, err)

	// Missing value.
	_, err = ParseSettings(params, "x")
	require.Error(t, err)
}

func TestParseSettingsFile(t *testing.T) {
	params := createTestParams()
	settingsPath := filepath.Join(t.TempDir(), "settings.txt")
	require.NoError(t, os.WriteFile(settingsPath, []byte("# Comment\nx=0.5\n\n/long/y=42;s=baz\n"), 0o644))

	paramsSet, err := ParseSettings(params, "file:"+settingsPath+";z=true")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "/long/y", "s", "z"}, paramsSet)
	assert.Equal(t, 0.5, scoped.MustGetParam[float64](params, scoped.RootScope, "x"))
	assert.Equal(t, 42, scoped.MustGetParam[int](params, "/long", "y"))
	assert.Equal(t, 7, scoped.MustGetParam[int](params, scoped.RootScope, "y"))

	modified := SprintModifiedSettings(params, paramsSet)
	assert.Contains(t, modified, `"/long/y": (int) 42`)
	assert.Contains(t, modified, `"s": (string) baz`)
	assert.Contains(t, SprintSettings(params), `"/long/y": (int) 42`)

	_, err = ParseSettings(params, "file:"+filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestSplitScope(t *testing.T) {
	params := scoped.New("/")
	for _, tc := range []struct{ path, scope, name string }{
		{"beam_width", "", "beam_width"},
		{"/beam_width", scoped.RootScope, "beam_width"},
		{"/translate/long/beam_width", "/translate/long", "beam_width"},
	} {
		scope, name := SplitScope(params, tc.path)
		assert.Equal(t, tc.scope, scope, tc.path)
		assert.Equal(t, tc.name, name, tc.path)
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.23s", FormatDuration(1234567890*time.Nanosecond))
	assert.Equal(t, "12.35ms", FormatDuration(12345678*time.Nanosecond))
	assert.Equal(t, "0.00s", FormatDuration(0))
	assert.Equal(t, "1m30s", FormatDuration(90*time.Second))
}

// countingModel prefers the token following the previous one (1 -> 2 -> 3) and then the end token (0).
func countingModel(time int, previousTokens *tensors.Tensor[int32], _ beamsearch.ModelState) (*tensors.Tensor[float32], beamsearch.ModelState, error) {
	batchSize, beamWidth := previousTokens.Dim(0), previousTokens.Dim(1)
	logits := tensors.FromShape[float32](batchSize, beamWidth, 5)
	for batchIdx := range batchSize {
		for beamIdx := range beamWidth {
			row := logits.Row(batchIdx, beamIdx)
			previous := previousTokens.At(batchIdx, beamIdx)
			if previous > 0 && previous < 3 {
				row[previous+1] = 5
			} else {
				row[0] = 5
			}
		}
	}
	return logits, nil, nil
}

func TestSprintResults(t *testing.T) {
	dec := decode.New[float32](countingModel).
		WithEndToken(0).
		WithBeamWidth(2).
		WithMaxIterations(5).
		WithNumReturnSequences(2)
	result, err := dec.Decode([]int32{1, 2}, nil)
	require.NoError(t, err)

	output := SprintResults(result, nil)
	assert.Contains(t, output, "Sequence")
	assert.Contains(t, output, "2 3 0")
	assert.Contains(t, output, "#2")
	assert.Contains(t, output, "Run "+result.RunID)

	output = SprintResults(result, func(tokens []int32) string {
		words := []string{"<eos>", "one", "two", "three", "four"}
		parts := make([]string, len(tokens))
		for ii, token := range tokens {
			parts[ii] = words[token]
		}
		return strings.Join(parts, " ")
	})
	assert.Contains(t, output, "two three <eos>")
}

func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	var extraCalls int
	dec := decode.New[float32](countingModel).
		WithEndToken(0).
		WithBeamWidth(2).
		WithMaxIterations(5)
	pBar := AttachProgressBarTo(&buf, dec, func() (name, value string) {
		extraCalls++
		return "Model", "counting"
	})
	pBar.Done() // Nothing displayed yet: no-op.
	assert.Empty(t, buf.String())

	result, err := dec.Decode([]int32{1}, nil)
	require.NoError(t, err)
	pBar.Done()
	pBar.Done() // Second call is a no-op.

	assert.Equal(t, result.Output.NumSteps, extraCalls)
	output := buf.String()
	assert.Contains(t, output, "Finished hypotheses")
	assert.Contains(t, output, "Median step duration")
	assert.Contains(t, output, "counting")
	assert.Contains(t, output, "of 5")

	// The decoder can be used again after Done: the display restarts.
	buf.Reset()
	again, err := dec.Decode([]int32{2}, nil)
	require.NoError(t, err)
	pBar.Done()
	assert.Equal(t, result.Output.NumSteps+again.Output.NumSteps, extraCalls)
	assert.Contains(t, buf.String(), "Finished hypotheses")
}
