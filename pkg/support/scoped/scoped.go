// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package scoped provides a mapping from a string to any data type that is "scoped". It is used to
// hold hyperparameters, e.g. the beam search configuration read by decode.Decoder.FromParams.
package scoped

import (
	"encoding"
	"reflect"
	"strings"

	"github.com/gomlx/beamsearch/pkg/support/xslices"
	"github.com/gomlx/exceptions"
)

// RootScope is the scope of parameters visible from everywhere.
const RootScope = "/"

// Params provides a mapping from string to any data type that is "scoped":
//
//   - For every scope there is a map of string to data.
//   - Accessing a key triggers a search from the current scope up to the root scope, the
//     first result found is returned.
//
// Example: let's say the current Params hold:
//
//	Scope: "/": { "beam_width":4, "beam_end_token": 2, "beam_length_penalty": 0.6 }
//	Scope: "/translate": { "beam_end_token": 1 }
//	Scope: "/translate/long": { "beam_width": 8 }
//
//	Params.Get("/translate/long", "beam_width") -> 8
//	Params.Get("/translate/long", "beam_end_token") -> 1
//	Params.Get("/translate/long", "beam_length_penalty") -> 0.6
//	Params.Get("/translate/long", "beam_max_iterations") -> Not found.
//
// Notice that "/" (== Separator) separates parts of the scope path, and the root
// scope is referred to as "/". There is no "empty" scope, and every scope name must start with
// a Separator.
type Params struct {
	Separator  string
	scopeToMap map[string]map[string]any
}

// New create an empty Params.
func New(scopeSeparator string) *Params {
	return &Params{
		Separator:  scopeSeparator,
		scopeToMap: make(map[string]map[string]any),
	}
}

// Clone returns a deep copy of the Params.
func (p *Params) Clone() *Params {
	newScopedParams := New(p.Separator)
	for scope, dataMap := range p.scopeToMap {
		newScopedParams.scopeToMap[scope] = make(map[string]any, len(dataMap))
		for key, value := range dataMap {
			newScopedParams.scopeToMap[scope][key] = value
		}
	}
	return newScopedParams
}

// Set sets the value for the given key, in the given scope.
func (p *Params) Set(scope, key string, value any) {
	dataMap, found := p.scopeToMap[scope]
	if !found || dataMap == nil {
		dataMap = make(map[string]any)
		p.scopeToMap[scope] = dataMap
	}
	dataMap[key] = value
}

// SetParams sets a collection of parameters in the given scope.
func (p *Params) SetParams(scope string, keyValues map[string]any) {
	for key, value := range keyValues {
		p.Set(scope, key, value)
	}
}

// Get retrieves the value for the given key in the given scope or any parent scope.
// E.g: Get("/a/b", "myKey") will search for "myKey" in scopes "/a/b", "/a" and "/"
// consecutively until "myKey" is found.
//
// It returns the first value found if any, and whether some value was found.
func (p *Params) Get(scope, key string) (value any, found bool) {
	scopeParts := strings.Split(scope, p.Separator)
	for ii := len(scopeParts) - 1; ii >= 0; ii-- {
		var dataMap map[string]any
		dataMap, found = p.scopeToMap[scope]
		if found && dataMap != nil {
			value, found = dataMap[key]
			if found {
				return
			}
		}
		scope = scope[:len(scope)-len(scopeParts[ii])]
		if ii > 1 {
			// Remove tailing separator, except for the root scope ("/").
			scope = scope[:len(scope)-len(p.Separator)]
		}
	}
	return nil, false
}

// Enumerate enumerates all parameters stored in the Params structure and calls the given closure with
// them, sorted by scope and key.
func (p *Params) Enumerate(fn func(scope, key string, value any)) {
	scopes := xslices.SortedKeys(p.scopeToMap)
	for _, scope := range scopes {
		keyValues := p.scopeToMap[scope]
		keys := xslices.SortedKeys(keyValues)
		for _, key := range keys {
			value := keyValues[key]
			fn(scope, key, value)
		}
	}
}

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// MustGetParam returns the value for the given param key, searching successively from the given scope back
// to the root scope ("/").
//
// It tries to cast the value to the given type. If it fails, it tries to convert the
// value to the given type (so an `int` will be converted to a `float64` transparently), or to
// parse it if it is a string and T implements encoding.TextUnmarshaler.
// If that also fails, or if the key is not found, it panics with an explaining error.
func MustGetParam[T any](p *Params, scope, key string) T {
	var t T
	valueAny, found := p.Get(scope, key)
	if !found {
		exceptions.Panicf("parameter %q (of type %T) not found in scope %q (and its parents)", key, t, scope)
	}
	if value, ok := valueAny.(T); ok {
		return value
	}

	v := reflect.ValueOf(valueAny)
	typeOfT := reflect.TypeOf(t)
	valueT := reflect.New(typeOfT)
	if valueT.Type().Implements(textUnmarshalerType) && v.Kind() == reflect.String {
		if err := valueT.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(v.String())); err != nil {
			exceptions.Panicf("can't UnmarshalText %q to %s for parameter %q: %v", v.String(), typeOfT, key, err)
		}
		return valueT.Elem().Interface().(T)
	} else if !v.IsValid() || !v.CanConvert(typeOfT) {
		exceptions.Panicf("MustGetParam/GetParamOr[%T](p, %q, %q): value (%T) %#v cannot be converted to %T",
			t, scope, key, valueAny, valueAny, t)
	}
	return v.Convert(typeOfT).Interface().(T)
}

// GetParamOr either returns the value for the given param key, searching successively from the given scope
// back to the root scope ("/"), or if the key is not found or the key is set to nil, it returns the given
// default value.
//
// Conversion follows MustGetParam, and it panics if the value can't be converted.
func GetParamOr[T any](p *Params, scope, key string, defaultValue T) T {
	valueAny, found := p.Get(scope, key)
	if !found || valueAny == nil {
		return defaultValue
	}
	return MustGetParam[T](p, scope, key)
}
