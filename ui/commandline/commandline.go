// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI tools for running beam search decoding from the command line:
// parsing of hyperparameter settings, a progress bar and the rendering of the results.
package commandline

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/beamsearch/pkg/core/dtypes"
	"github.com/gomlx/beamsearch/pkg/ml/decode"
	"github.com/gomlx/beamsearch/pkg/support/xslices"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	redRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"}).
			Bold(true).
			PaddingLeft(1).PaddingRight(1)
)

// resultsTable is a lipgloss table where some rows (unfinished hypotheses) are highlighted in red.
type resultsTable struct {
	table *lgtable.Table
	count int
	reds  map[int]bool
}

func (t *resultsTable) row(isRed bool, row ...string) {
	if isRed {
		t.reds[t.count] = true
	}
	t.table.Row(row...)
	t.count++
}

func newResultsTable(alignments ...lipgloss.Position) *resultsTable {
	t := &resultsTable{reds: make(map[int]bool)}
	t.table = lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				return headerRowStyle
			}
			switch {
			case t.reds[row]:
				s = redRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			}
			return s.Align(alignment)
		})
	return t
}

// DetokenizeFn converts a sequence of token ids to a human-readable string.
type DetokenizeFn func(tokens []int32) string

// SprintResults renders the best hypotheses of each batch element of a decoding result as a table,
// followed by a one-line summary. Hypotheses that never emitted the end token are highlighted.
//
// If detokenize is nil, tokens are printed as a list of ids.
func SprintResults[T dtypes.GoFloat](result *decode.Result[T], detokenize DetokenizeFn) string {
	if detokenize == nil {
		detokenize = func(tokens []int32) string {
			return strings.Join(xslices.Map(tokens, func(token int32) string { return fmt.Sprint(token) }), " ")
		}
	}
	t := newResultsTable(lipgloss.Right, lipgloss.Right, lipgloss.Right, lipgloss.Right, lipgloss.Right, lipgloss.Center, lipgloss.Left)
	t.table.Headers("Batch", "Rank", "Score", "LogProb", "Length", "Finished", "Sequence")
	for batchIdx, hypotheses := range result.Best {
		for rank, h := range hypotheses {
			finished := "yes"
			if !h.Finished {
				finished = "no"
			}
			t.row(!h.Finished,
				humanize.Comma(int64(batchIdx)),
				fmt.Sprintf("#%d", rank+1),
				fmt.Sprintf("%.4f", float64(h.Score)),
				fmt.Sprintf("%.4f", float64(h.LogProb)),
				humanize.Comma(int64(h.Length)),
				finished,
				detokenize(h.Tokens))
		}
	}
	output := result.Output
	numFinished := xslices.Count(output.Finished.Flat(), func(f bool) bool { return f })
	summary := fmt.Sprintf("Run %s: %s steps, %s of %s hypotheses finished, %s NaN scores, decoded in %s (fingerprint %016x)",
		result.RunID, humanize.Comma(int64(output.NumSteps)),
		humanize.Comma(int64(numFinished)), humanize.Comma(int64(output.Finished.Size())),
		humanize.Comma(int64(result.NumNaN)), FormatDuration(result.Elapsed), result.Fingerprint)
	return t.table.String() + "\n" + summary
}
