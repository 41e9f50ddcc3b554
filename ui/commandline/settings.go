// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/gomlx/beamsearch/pkg/support/fsutil"
	"github.com/gomlx/beamsearch/pkg/support/scoped"
	"github.com/gomlx/beamsearch/pkg/support/sets"
	"github.com/gomlx/beamsearch/pkg/support/xslices"
	"github.com/pkg/errors"
)

// ParseSettings from settings -- typically the contents of a flag set by the user.
// The settings are a list separated by ";": e.g.: "beam_width=8;beam_length_penalty=0.6;...".
//
// All the parameters must be already set with default values in the root scope of params. The default
// values are also used to set the type to which the string values will be parsed to.
//
// It updates params accordingly, and returns the list of parameters set, or an error in case a parameter
// is unknown or the parsing failed.
//
// Note, one can also provide a scope for the parameters: "/translate/beam_width=8" will work, as long as a
// default "beam_width" is defined in the root scope.
//
// For integer types, "_" is removed: it allows one to enter large numbers using it as a separator, like
// in Go. E.g.: 1_000_000 = 1000000.
//
// A setting "file:<path>" reads the settings from the file, one or more per line, where lines starting with
// "#" are comments.
//
// Example usage:
//
//	func main() {
//		params := createDefaultParams()
//		settings := commandline.CreateSettingsFlag(params, "")
//		flag.Parse()
//		paramsSet, err := commandline.ParseSettings(params, *settings)
//		if err != nil { klog.Fatalf("%+v", err) }
//		fmt.Println(commandline.SprintModifiedSettings(params, paramsSet))
//		...
//	}
func ParseSettings(params *scoped.Params, settings string) (paramsSet []string, err error) {
	for _, setting := range strings.Split(settings, ";") {
		paramsSet, err = parseSetting(params, strings.TrimSpace(setting), paramsSet)
		if err != nil {
			return
		}
	}
	return
}

func parseSetting(params *scoped.Params, setting string, paramsSet []string) (newParamsSet []string, err error) {
	newParamsSet = paramsSet
	if setting == "" {
		return
	}
	if strings.HasPrefix(setting, "file:") {
		return parseSettingsFile(params, strings.TrimPrefix(setting, "file:"), newParamsSet)
	}

	paramPath, valueStr, found := strings.Cut(setting, "=")
	if !found || strings.Contains(valueStr, "=") {
		err = errors.Errorf("can't parse settings %q: each setting requires the format \"<param>=<value>\"", setting)
		return
	}
	paramScope, paramName := SplitScope(params, paramPath)
	if strings.Contains(paramName, params.Separator) {
		err = errors.Errorf("can't set parameter %q because some scope is set, but it is not absolute (it does not start with %q)",
			paramPath, params.Separator)
		return
	}
	value, found := params.Get(scoped.RootScope, paramName)
	if !found {
		err = errors.Errorf("can't set parameter %q (scope=%q) because the param %q is not known in the root scope",
			paramPath, paramScope, paramName)
		return
	}
	if paramScope == "" {
		paramScope = scoped.RootScope
	}

	// Parse value accordingly.
	switch v := value.(type) {
	case int:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), &v)
		value = v
	case int32:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), &v)
		value = v
	case int64:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), &v)
		value = v
	case float64:
		err = json.Unmarshal([]byte(valueStr), &v)
		value = v
	case float32:
		err = json.Unmarshal([]byte(valueStr), &v)
		value = v
	case bool:
		err = json.Unmarshal([]byte(valueStr), &v)
		value = v
	case string:
		value = valueStr
	case []string:
		value = strings.Split(valueStr, ",")
	case []int:
		value = xslices.Map(strings.Split(valueStr, ","), func(str string) int {
			var asInt int
			if newErr := json.Unmarshal([]byte(strings.ReplaceAll(str, "_", "")), &asInt); newErr != nil {
				err = newErr
			}
			return asInt
		})
	case []float64:
		value = xslices.Map(strings.Split(valueStr, ","), func(str string) float64 {
			var asFloat float64
			if newErr := json.Unmarshal([]byte(str), &asFloat); newErr != nil {
				err = newErr
			}
			return asFloat
		})
	default:
		err = errors.Errorf("don't know how to parse type %T for setting parameter %q", value, setting)
	}
	if err != nil {
		err = errors.Wrapf(err, "failed to parse value %q for parameter %q (default value is %#v)", valueStr, paramPath, value)
		return
	}
	params.Set(paramScope, paramName, value)
	newParamsSet = append(newParamsSet, paramPath)
	return
}

// parseSettingsFile reads the settings in filePath, with new-lines working as ";".
func parseSettingsFile(params *scoped.Params, filePath string, paramsSet []string) ([]string, error) {
	filePath, err := fsutil.ReplaceTildeInPath(filePath)
	if err != nil {
		return paramsSet, err
	}
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return paramsSet, errors.Wrapf(err, "failed to read settings from file %q", filePath)
	}
	for _, line := range strings.Split(string(contents), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, setting := range strings.Split(line, ";") {
			paramsSet, err = parseSetting(params, strings.TrimSpace(setting), paramsSet)
			if err != nil {
				return paramsSet, errors.WithMessagef(err, "in settings file %q", filePath)
			}
		}
	}
	return paramsSet, nil
}

// SplitScope splits a parameter path like "/translate/beam_width" into its scope ("/translate") and
// name ("beam_width"). If the path doesn't start with the separator, the scope is empty.
func SplitScope(params *scoped.Params, scopeAndName string) (scope, name string) {
	if !strings.HasPrefix(scopeAndName, params.Separator) {
		return "", scopeAndName
	}
	separationIdx := strings.LastIndex(scopeAndName, params.Separator)
	name = scopeAndName[separationIdx+len(params.Separator):]
	if separationIdx == 0 {
		scope = scoped.RootScope
	} else {
		scope = scopeAndName[:separationIdx]
	}
	return
}

// CreateSettingsFlag creates a string flag with the given flagName (if empty it will be named
// "set") and with a description of the current defined parameters in params.
//
// The flag should be created before the call to `flags.Parse()`.
func CreateSettingsFlag(params *scoped.Params, flagName string) *string {
	if flagName == "" {
		flagName = "set"
	}
	parts := []string{fmt.Sprintf(
		`Set beam search parameters. `+
			`It should be a list of elements "param=value" separated by ";". `+
			`Scoped settings are allowed, by using %q to separated scopes. `+
			`It can also be given an entry like: "file:settings_file.txt", in `+
			`which case the file will be read and the settings will be parsed, `+
			`with new-lines working as ";" to separate settings and lines starting with "#" are considered comments. `+
			`Current available parameters that can be set:`,
		params.Separator)}
	params.Enumerate(func(scope, key string, value any) {
		if scope != scoped.RootScope {
			return
		}
		parts = append(parts, fmt.Sprintf("%q: default value is %v", key, value))
	})
	var settings string
	flag.StringVar(&settings, flagName, "", strings.Join(parts, "\n"))
	return &settings
}

// SprintSettings pretty-prints the values of all parameters into a string.
func SprintSettings(params *scoped.Params) string {
	var parts []string
	params.Enumerate(func(scope, key string, value any) {
		if scope == scoped.RootScope {
			scope = ""
		}
		parts = append(parts, fmt.Sprintf("\t\"%s/%s\": (%T) %v", scope, key, value, value))
	})
	return strings.Join(parts, "\n")
}

// SprintModifiedSettings pretty-prints the values of the parameters listed in paramsSet (as returned by
// ParseSettings) into a string.
func SprintModifiedSettings(params *scoped.Params, paramsSet []string) string {
	var parts []string
	for _, paramPath := range sets.Sorted(sets.MakeWith(paramsSet...)) {
		paramScope, paramName := SplitScope(params, paramPath)
		if paramScope == "" {
			paramScope = scoped.RootScope
		}
		value, found := params.Get(paramScope, paramName)
		if !found {
			continue
		}
		parts = append(parts, fmt.Sprintf("\t%q: (%T) %v", paramPath, value, value))
	}
	return strings.Join(parts, "\n")
}
