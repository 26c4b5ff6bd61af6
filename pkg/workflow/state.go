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
package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// state is the scope bag one execution interpolates against. The vars
// map is the execution's live variable store and is mutated in place
// so every persisted step sees the current values.
type state struct {
	input map[string]interface{}
	vars  map[string]interface{}

	// prev is the previous task's output; prevSet distinguishes a nil
	// output from no task having run yet.
	prev    interface{}
	prevSet bool

	// steps maps a completed task's order to its output.
	steps map[string]interface{}
}

func newState(input, vars map[string]interface{}) *state {
	if input == nil {
		input = map[string]interface{}{}
	}
	if vars == nil {
		vars = map[string]interface{}{}
	}
	return &state{
		input: input,
		vars:  vars,
		steps: map[string]interface{}{},
	}
}

// record stores a task output under its order and advances prev.
func (st *state) record(order string, output interface{}) {
	st.steps[order] = output
	st.prev = output
	st.prevSet = true
}

// clone returns an independent copy for a parallel branch. Branches
// must not race on the shared maps, so each gets its own.
func (st *state) clone() *state {
	c := &state{
		input:   make(map[string]interface{}, len(st.input)),
		vars:    make(map[string]interface{}, len(st.vars)),
		steps:   make(map[string]interface{}, len(st.steps)),
		prev:    st.prev,
		prevSet: st.prevSet,
	}
	for k, v := range st.input {
		c.input[k] = v
	}
	for k, v := range st.vars {
		c.vars[k] = v
	}
	for k, v := range st.steps {
		c.steps[k] = v
	}
	return c
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([^{}\s][^{}]*?)\s*\}\}`)

// interpolate substitutes {{scope.key}} placeholders in s. Recognized
// scopes are input.<key>, vars.<key>, prev, and step.<order>.
// Unresolvable references become empty strings and are returned so the
// caller can surface a warning; interpolation itself never fails.
func (st *state) interpolate(s string) (string, []string) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		ref := strings.TrimSpace(m[2 : len(m)-2])
		v, ok := st.resolve(ref)
		if !ok {
			missing = append(missing, ref)
			return ""
		}
		return formatValue(v)
	})
	return out, missing
}

// resolveTyped resolves s preserving the underlying type when the
// whole string is a single placeholder. "{{vars.leads}}" yields the
// stored list, not its JSON text, which is what loops and conditions
// need. Anything else interpolates to a string.
func (st *state) resolveTyped(s string) (interface{}, []string) {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") {
		inner := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
		if inner != "" && !strings.Contains(inner, "{") && !strings.Contains(inner, "}") {
			v, ok := st.resolve(inner)
			if !ok {
				return nil, []string{inner}
			}
			return v, nil
		}
	}
	return st.interpolateToString(s)
}

func (st *state) interpolateToString(s string) (string, []string) {
	return st.interpolate(s)
}

// resolve looks a reference up in its scope.
func (st *state) resolve(ref string) (interface{}, bool) {
	switch {
	case ref == "prev":
		return st.prev, st.prevSet
	case strings.HasPrefix(ref, "input."):
		v, ok := st.input[ref[len("input."):]]
		return v, ok
	case strings.HasPrefix(ref, "vars."):
		v, ok := st.vars[ref[len("vars."):]]
		return v, ok
	case strings.HasPrefix(ref, "step."):
		// The order itself may contain dots, so everything after the
		// scope prefix is the key.
		v, ok := st.steps[ref[len("step."):]]
		return v, ok
	}
	return nil, false
}

// interpolateAny walks maps, slices, and strings, interpolating every
// string leaf. Used for tool params, HTTP headers, and request bodies.
func (st *state) interpolateAny(v interface{}) (interface{}, []string) {
	switch t := v.(type) {
	case string:
		return st.resolveTyped(t)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		var missing []string
		for k, item := range t {
			r, m := st.interpolateAny(item)
			out[k] = r
			missing = append(missing, m...)
		}
		return out, missing
	case []interface{}:
		out := make([]interface{}, len(t))
		var missing []string
		for i, item := range t {
			r, m := st.interpolateAny(item)
			out[i] = r
			missing = append(missing, m...)
		}
		return out, missing
	default:
		return v, nil
	}
}

// formatValue renders an interpolated value as text. Numbers drop
// their float artifacts (3 renders as "3") and composites render as
// compact JSON.
func formatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
