// Copyright 2026 Atelier
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package prompts manages the platform's prompt templates.
//
// Templates come from two places: markdown and text files shipped in a
// directory (platform defaults, hot-reloaded on change) and rows the
// tenant owns in storage. Both use {variable} placeholders. A stored
// template bound to a tool id is a business action: a one-click
// operation whose generated text feeds straight into the tool.
package prompts

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Update is a change notification delivered by FileRegistry.Watch.
type Update struct {
	Key       string
	Action    string // created, modified, deleted, error
	Timestamp time.Time
	Err       error
}

// Placeholder names may use any letter so French variable names like
// {prénom} work.
var placeholderRE = regexp.MustCompile(`\{([\p{L}_][\p{L}\p{N}_]*)\}`)

// Interpolate substitutes {name} placeholders with the stringified
// variable values. Placeholders with no matching variable stay as
// written, so a partially filled template remains inspectable.
func Interpolate(template string, vars map[string]interface{}) string {
	if len(vars) == 0 {
		return template
	}
	return placeholderRE.ReplaceAllStringFunc(template, func(match string) string {
		value, ok := vars[match[1:len(match)-1]]
		if !ok {
			return match
		}
		return stringify(value)
	})
}

// stringify renders a variable for inclusion in prompt text.
func stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return clean(v)
	case float64:
		// JSON numbers arrive as float64; render whole numbers
		// without the trailing decimals.
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []string:
		cleaned := make([]string, len(v))
		for i, s := range v {
			cleaned[i] = clean(s)
		}
		return strings.Join(cleaned, ", ")
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, stringify(item))
		}
		return strings.Join(parts, ", ")
	default:
		return clean(fmt.Sprintf("%v", v))
	}
}

// clean strips NUL bytes and invalid UTF-8 from untrusted values.
// Newlines pass through untouched; email templates depend on them.
func clean(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return s
}
