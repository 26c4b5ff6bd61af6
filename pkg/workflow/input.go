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
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/atelierhq/atelier/pkg/types"
)

// validateInput fills declared defaults and enforces required fields
// and types. A missing required field returns *types.MissingInputError
// before any execution record exists. The caller's map is not
// modified.
func validateInput(decls []types.WorkflowInput, input map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(decls)+len(input))
	for k, v := range input {
		out[k] = v
	}
	for _, d := range decls {
		if _, ok := out[d.Name]; ok {
			continue
		}
		if d.Default != nil {
			out[d.Name] = d.Default
			continue
		}
		if d.Required {
			return nil, &types.MissingInputError{Field: d.Name}
		}
	}
	if len(decls) == 0 {
		return out, nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(inputSchema(decls)),
		gojsonschema.NewGoLoader(out),
	)
	if err != nil {
		return nil, fmt.Errorf("validate input: %w", err)
	}
	if !result.Valid() {
		return nil, configErr("invalid input: %s", result.Errors()[0].String())
	}
	return out, nil
}

// inputSchema builds the JSON schema for the declared inputs. Keys
// outside the declarations pass through unchecked.
func inputSchema(decls []types.WorkflowInput) map[string]interface{} {
	props := make(map[string]interface{}, len(decls))
	for _, d := range decls {
		typ := d.Type
		switch typ {
		case "", "string":
			typ = "string"
		case "bool":
			typ = "boolean"
		}
		props[d.Name] = map[string]interface{}{"type": typ}
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
}
