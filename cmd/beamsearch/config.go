// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/gomlx/beamsearch/pkg/support/fsutil"
	"github.com/gomlx/beamsearch/pkg/support/scoped"
	"github.com/gomlx/beamsearch/pkg/support/xslices"
	"github.com/gomlx/beamsearch/ui/commandline"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config of a demo run, read from a YAML, JSON or TOML file.
// Zero values mean "unspecified", and the command-line flags (or their defaults) are used instead.
type Config struct {
	VocabSize int   `json:"vocab_size" yaml:"vocab_size" toml:"vocab_size"`
	BatchSize int   `json:"batch_size" yaml:"batch_size" toml:"batch_size"`
	Seed      int64 `json:"seed" yaml:"seed" toml:"seed"`

	// Params maps hyperparameter paths to values, e.g. "beam_width: 8" or "/long/beam_max_iterations: 50".
	Params map[string]any `json:"params" yaml:"params" toml:"params"`
}

// LoadConfig reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	path, err := fsutil.ReplaceTildeInPath(path)
	if err != nil {
		return cfg, err
	}
	if exists, err := fsutil.FileExists(path); err != nil {
		return cfg, err
	} else if !exists {
		return cfg, errors.Errorf("config file %q not found", path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "failed to read config %q", path)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, errors.Errorf("unsupported config extension %q for %q", ext, path)
	}
	if err != nil {
		return cfg, errors.Wrapf(err, "failed to parse config %q", path)
	}
	return cfg, nil
}

// ApplyParams sets the hyperparameters in cfg.Params into params. Like with commandline.ParseSettings,
// every parameter must have a default value in the root scope, and values are converted to the type
// of the default (so an integer in the file can set a float parameter).
//
// It returns the list of parameters set, sorted.
func (cfg Config) ApplyParams(params *scoped.Params) (paramsSet []string, err error) {
	for _, paramPath := range xslices.SortedKeys(cfg.Params) {
		scope, name := commandline.SplitScope(params, paramPath)
		if scope == "" {
			scope = scoped.RootScope
		}
		defaultValue, found := params.Get(scoped.RootScope, name)
		if !found {
			return paramsSet, errors.Errorf("unknown parameter %q in config: %q is not known in the root scope", paramPath, name)
		}
		value, err := convertToTypeOf(cfg.Params[paramPath], defaultValue)
		if err != nil {
			return paramsSet, errors.WithMessagef(err, "parameter %q in config", paramPath)
		}
		params.Set(scope, name, value)
		paramsSet = append(paramsSet, paramPath)
	}
	return paramsSet, nil
}

func isNumeric(kind reflect.Kind) bool {
	return (kind >= reflect.Int && kind <= reflect.Uint64) || kind == reflect.Float32 || kind == reflect.Float64
}

// convertToTypeOf converts value to the type of reference. Only conversions between numeric types are done.
func convertToTypeOf(value, reference any) (any, error) {
	v, refType := reflect.ValueOf(value), reflect.TypeOf(reference)
	if !v.IsValid() {
		return nil, errors.Errorf("value is null, expected %s", refType)
	}
	if v.Type() == refType {
		return value, nil
	}
	if isNumeric(v.Kind()) && isNumeric(refType.Kind()) {
		converted := v.Convert(refType)
		if refType.Kind() != reflect.Float32 && refType.Kind() != reflect.Float64 &&
			(v.Kind() == reflect.Float32 || v.Kind() == reflect.Float64) && v.Float() != converted.Convert(v.Type()).Float() {
			return nil, errors.Errorf("value %v is not an integer, expected %s", value, refType)
		}
		return converted.Interface(), nil
	}
	return nil, errors.Errorf("value (%T) %v can't be used as %s", value, value, refType)
}
