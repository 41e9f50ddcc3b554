// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// beamsearch runs beam search decoding over a toy random bigram model, and prints the best hypotheses.
//
// It is a demo of the decode package: the hyperparameters can be set with -set (see -help for the list)
// or with a YAML, JSON or TOML file given with -config. E.g.:
//
//	beamsearch -batch=3 -set="beam_width=8;beam_length_penalty=0.6" -progress
//
// With -metrics_addr the Prometheus metrics of the decoding are served at http://<addr>/metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/beamsearch/pkg/core/dtypes"
	"github.com/gomlx/beamsearch/pkg/ml/decode"
	"github.com/gomlx/beamsearch/pkg/ml/decode/beamsearch"
	"github.com/gomlx/beamsearch/pkg/support/scoped"
	"github.com/gomlx/beamsearch/pkg/support/sets"
	"github.com/gomlx/beamsearch/pkg/support/xslices"
	"github.com/gomlx/beamsearch/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"
)

var (
	flagConfig = flag.String("config", "", "YAML (.yaml/.yml), JSON or TOML file with the configuration. "+
		"Values given by flags take precedence.")
	flagScope       = flag.String("scope", scoped.RootScope, "Scope of the hyperparameters used by the decoder.")
	flagBatch       = flag.Int("batch", 2, "Number of sequences to decode, each starting from a different token.")
	flagVocab       = flag.Int("vocab", 16, "Vocabulary size of the toy model. Token 0 is the end token.")
	flagSeed        = flag.Int64("seed", 42, "Seed for the random bigram table of the toy model.")
	flagFloat64     = flag.Bool("float64", false, "Decode in double precision.")
	flagLogitsDType = flag.String("logits_dtype", "float32", "DType of the logits emitted by the toy model: "+
		"float32, float16 (f16) or bfloat16 (bf16). Lower precisions are emulated by rounding.")
	flagProgress    = flag.Bool("progress", false, "Display a progress bar while decoding.")
	flagMetricsAddr = flag.String("metrics_addr", "", "If set, serve Prometheus metrics on the given address "+
		"(e.g. \":9090\") and keep serving after decoding until interrupted.")
)

var titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)

func defaultParams() *scoped.Params {
	params := scoped.New("/")
	params.SetParams(scoped.RootScope, map[string]any{
		decode.ParamBeamWidth:          4,
		decode.ParamEndToken:           0,
		decode.ParamLengthPenalty:      0.0,
		decode.ParamMaxIterations:      20,
		decode.ParamParallelism:        runtime.NumCPU(),
		decode.ParamFailOnNaN:          false,
		decode.ParamNumReturnSequences: 2,
	})
	return params
}

func main() {
	klog.InitFlags(nil)
	params := defaultParams()
	settings := commandline.CreateSettingsFlag(params, "")
	flag.Parse()

	var paramsSet []string
	if *flagConfig != "" {
		cfg := must.M1(LoadConfig(*flagConfig))
		setFromConfig(cfg)
		paramsSet = must.M1(cfg.ApplyParams(params))
	}
	paramsSet = append(paramsSet, must.M1(commandline.ParseSettings(params, *settings))...)
	if len(paramsSet) > 0 {
		fmt.Printf("Modified hyperparameters:\n%s\n", commandline.SprintModifiedSettings(params, paramsSet))
	}

	if *flagMetricsAddr != "" {
		go serveMetrics(*flagMetricsAddr)
	}

	model := newBigramModel(*flagVocab, 0, *flagSeed)
	model.logitsDType = must.M1(parseLogitsDType(*flagLogitsDType))
	var err error
	if *flagFloat64 {
		err = run(decode.New[float64](model.Step64), model, params)
	} else {
		err = run(decode.New[float32](model.Step), model, params)
	}
	if err != nil {
		klog.Fatalf("Failed to decode: %+v", err)
	}

	if *flagMetricsAddr != "" {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()
		klog.Infof("Serving metrics on %s/metrics, Ctrl+C to exit.", *flagMetricsAddr)
		<-ctx.Done()
	}
}

// setFromConfig sets the flags not given in the command line from the config.
func setFromConfig(cfg Config) {
	setFlags := sets.Make[string]()
	flag.Visit(func(f *flag.Flag) { setFlags.Insert(f.Name) })
	if cfg.VocabSize > 0 && !setFlags.Has("vocab") {
		*flagVocab = cfg.VocabSize
	}
	if cfg.BatchSize > 0 && !setFlags.Has("batch") {
		*flagBatch = cfg.BatchSize
	}
	if cfg.Seed != 0 && !setFlags.Has("seed") {
		*flagSeed = cfg.Seed
	}
}

func run[T dtypes.GoFloat](decoder *decode.Decoder[T], model *bigramModel, params *scoped.Params) error {
	decoder.FromParams(params, *flagScope)
	if err := decoder.Err(); err != nil {
		return err
	}
	if decoder.EndToken != model.endToken {
		return errors.Errorf("the toy model uses %d as the end token, got %s=%d", model.endToken, decode.ParamEndToken, decoder.EndToken)
	}
	if *flagBatch < 1 || *flagVocab < 2 {
		return errors.Errorf("-batch must be >= 1 and -vocab >= 2, got %d and %d", *flagBatch, *flagVocab)
	}
	var pBar *commandline.ProgressBar
	if *flagProgress {
		pBar = commandline.AttachProgressBar(decoder)
	}

	// Start tokens cycle over the vocabulary, skipping the end token 0.
	startTokens := xslices.Map(xslices.Iota(int32(0), *flagBatch), func(ii int32) int32 {
		return 1 + ii%int32(*flagVocab-1)
	})
	var initialState beamsearch.ModelState = model.initialState(*flagBatch, decoder.BeamWidth)
	result, err := decoder.Decode(startTokens, initialState)
	if pBar != nil {
		pBar.Done()
	}
	if err != nil {
		return err
	}
	fmt.Println(titleStyle.Render(fmt.Sprintf("Beam search (%s, beam width %d)", dtypes.FromGenericsType[T](), decoder.BeamWidth)))
	fmt.Println(commandline.SprintResults(result, model.detokenize))
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		klog.Errorf("Metrics server on %s failed: %v", addr, err)
	}
}
