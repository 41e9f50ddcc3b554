// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package decode

import "github.com/prometheus/client_golang/prometheus"

var (
	decodeOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gomlx",
			Subsystem: "beamsearch",
			Name:      "decode_ops_total",
			Help:      "The total number of beam search decodings, by status.",
		},
		[]string{"status"},
	)
	stepOps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gomlx",
			Subsystem: "beamsearch",
			Name:      "step_ops_total",
			Help:      "The total number of beam search steps.",
		},
	)
	nanScores = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gomlx",
			Subsystem: "beamsearch",
			Name:      "nan_scores_total",
			Help:      "The total number of NaN candidate scores produced by the models.",
		},
	)
	unfinishedHypotheses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gomlx",
			Subsystem: "beamsearch",
			Name:      "unfinished_hypotheses_total",
			Help:      "The total number of hypotheses still unfinished when the iterations limit was reached.",
		},
	)
	decodeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "gomlx",
			Subsystem: "beamsearch",
			Name:      "decode_duration_seconds",
			Help:      "Time spent in a beam search decoding, including the model.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
)

const (
	statusOK    = "ok"
	statusError = "error"
)

func init() {
	prometheus.MustRegister(decodeOps)
	prometheus.MustRegister(stepOps)
	prometheus.MustRegister(nanScores)
	prometheus.MustRegister(unfinishedHypotheses)
	prometheus.MustRegister(decodeDuration)
}
