// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/beamsearch/pkg/core/dtypes"
	"github.com/gomlx/beamsearch/pkg/ml/decode"
	"github.com/gomlx/beamsearch/pkg/ml/decode/beamsearch"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ExtraMetricFn is any function that will give extra values to display along the progress bar.
// It is called at each time the progress bar is updated, and it should return a name and the current value when it is called.
type ExtraMetricFn func() (name, value string)

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version.
// But it requires some of the graphical symbols to be supported.
var ProgressbarStyle = progressbar.ThemeASCII

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// maxUpdateFrequency is the time between updates to the commandline display of stats.
const maxUpdateFrequency = time.Millisecond * 200

// ProgressBar displays the progress of the decoding steps of a decode.Decoder, along with a table of stats.
// Create it with AttachProgressBar, and call Done after decoding.
type ProgressBar struct {
	writer  io.Writer
	termenv *termenv.Output

	statsStyle       lipgloss.Style
	statsTable       *lgtable.Table
	isFirstOutput    bool
	asyncUpdatesDone sync.WaitGroup

	// mu protects updates, which is nil when no drawing goroutine is running.
	mu      sync.Mutex
	updates chan progressBarUpdate

	// Owned by the decoding goroutine.
	bar           *progressbar.ProgressBar
	lastStepTime  time.Time
	stepDurations []time.Duration

	extraMetricFns []ExtraMetricFn
}

type progressBarUpdate struct {
	bar    *progressbar.ProgressBar
	amount int
	rows   [][2]string
}

// AttachProgressBar creates a commandline progress bar, printed to os.Stdout, and attaches it to the decoder
// as a step observer. Each call to Decoder.Decode starts a new bar, also after ProgressBar.Done.
//
// Optionally, one can provide extraMetrics: functions that are called at every update of
// the progress bar and should return a name (title) and a value to be included in the
// updated print-out.
//
// Call ProgressBar.Done after each decoding, to flush the pending updates.
func AttachProgressBar[T dtypes.GoFloat](dec *decode.Decoder[T], extraMetrics ...ExtraMetricFn) *ProgressBar {
	return AttachProgressBarTo(os.Stdout, dec, extraMetrics...)
}

// AttachProgressBarTo is like AttachProgressBar, but prints to the given writer.
func AttachProgressBarTo[T dtypes.GoFloat](w io.Writer, dec *decode.Decoder[T], extraMetrics ...ExtraMetricFn) *ProgressBar {
	pBar := &ProgressBar{
		writer:         w,
		termenv:        termenv.NewOutput(w),
		statsStyle:     lipgloss.NewStyle().PaddingLeft(8),
		extraMetricFns: extraMetrics,
	}
	pBar.statsTable = lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	dec.WithObserver(func(time int, record *beamsearch.StepRecord[T], state *beamsearch.State[T]) error {
		if time == 0 {
			pBar.start(dec.MaxIterations)
		}
		bestScore := math.Inf(-1)
		for _, score := range record.Scores.Flat() {
			s := float64(score)
			if !math.IsNaN(s) && s > bestScore {
				bestScore = s
			}
		}
		pBar.onStep(time, state.NumFinished(), state.Finished.Size(), bestScore)
		return nil
	})
	return pBar
}

// start a new bar for a decoding of at most maxSteps.
func (pBar *ProgressBar) start(maxSteps int) {
	pBar.bar = progressbar.NewOptions(maxSteps,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(pBar.writer),
	)
	pBar.lastStepTime = time.Now()
	pBar.stepDurations = pBar.stepDurations[:0]
}

func (pBar *ProgressBar) onStep(step, numFinished, numHypotheses int, bestScore float64) {
	now := time.Now()
	pBar.stepDurations = append(pBar.stepDurations, now.Sub(pBar.lastStepTime))
	pBar.lastStepTime = now

	update := progressBarUpdate{
		bar:    pBar.bar,
		amount: 1,
		rows: [][2]string{
			{"Step", fmt.Sprintf("%s of %s", humanize.Comma(int64(step+1)), humanize.Comma(int64(pBar.bar.GetMax())))},
			{"Finished hypotheses", fmt.Sprintf("%s of %s", humanize.Comma(int64(numFinished)), humanize.Comma(int64(numHypotheses)))},
			{"Best step score", fmt.Sprintf("%.4f", bestScore)},
			{"Median step duration", FormatDuration(medianDuration(pBar.stepDurations))},
		},
	}
	for _, extraMetric := range pBar.extraMetricFns {
		name, value := extraMetric()
		update.rows = append(update.rows, [2]string{name, value})
	}
	pBar.mu.Lock()
	defer pBar.mu.Unlock()
	if pBar.updates == nil {
		pBar.updates = make(chan progressBarUpdate, 100) // Large buffer so decoding is not blocked.
		pBar.isFirstOutput = true
		pBar.asyncUpdatesDone.Add(1)
		go pBar.drawUpdates(pBar.updates)
	}
	pBar.updates <- update
}

// drawUpdates asynchronously draws the updates, so a slow terminal doesn't slow down decoding.
func (pBar *ProgressBar) drawUpdates(updates <-chan progressBarUpdate) {
	defer pBar.asyncUpdatesDone.Done()
	for update := range updates {
		// Exhaust the updates in the buffer that belong to the same bar.
		amount := update.amount
	exhaust:
		for {
			select {
			case newUpdate, ok := <-updates:
				if !ok {
					break exhaust
				}
				if newUpdate.bar == update.bar {
					amount += newUpdate.amount
				} else {
					amount = newUpdate.amount
				}
				update = newUpdate
			default:
				break exhaust
			}
		}

		pBar.statsTable.Data(lgtable.NewStringData())
		for _, row := range update.rows {
			pBar.statsTable.Row(row[0], row[1])
		}

		// Clear the previous lines that will be overwritten: the table rows, its borders and the bar line.
		pBar.termenv.HideCursor()
		if !pBar.isFirstOutput {
			pBar.termenv.CursorPrevLine(len(update.rows) + 3)
		}
		pBar.isFirstOutput = false

		_, _ = fmt.Fprintln(pBar.writer, pBar.statsStyle.Render(pBar.statsTable.String()))
		_ = update.bar.Add(amount)
		_, _ = fmt.Fprintln(pBar.writer)
		pBar.termenv.ShowCursor()
		time.Sleep(maxUpdateFrequency)
	}
}

// Done flushes the pending updates and stops the drawing. It is a no-op if nothing is being displayed.
// The next decoding restarts the display.
func (pBar *ProgressBar) Done() {
	pBar.mu.Lock()
	defer pBar.mu.Unlock()
	if pBar.updates == nil {
		return
	}
	close(pBar.updates)
	pBar.updates = nil
	pBar.asyncUpdatesDone.Wait()
	pBar.termenv.ShowCursor()
	_, _ = fmt.Fprintln(pBar.writer)
}

func medianDuration(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	sorted := slices.Clone(durations)
	slices.Sort(sorted)
	return sorted[len(sorted)/2]
}
