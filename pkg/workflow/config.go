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

	"github.com/go-viper/mapstructure/v2"
)

// Typed views of the per-kind task config maps. Configs arrive as
// loosely typed JSON, so decoding is weakly typed: a duration sent as
// 30.0 still lands in an int field.

type promptConfig struct {
	// PromptID names a stored template; PromptTemplate inlines one.
	// Exactly one of the two must be set.
	PromptID       string `mapstructure:"prompt_id"`
	PromptTemplate string `mapstructure:"prompt_template"`

	// TaskType steers model selection. Empty means chat.
	TaskType string `mapstructure:"task_type"`

	// VariablesMapping fills {name} slots in the template body. Values
	// are interpolated before substitution.
	VariablesMapping map[string]string `mapstructure:"variables_mapping"`
}

type mcpActionConfig struct {
	ToolID string                 `mapstructure:"tool_id"`
	Action string                 `mapstructure:"action"`
	Params map[string]interface{} `mapstructure:"params"`
}

type conditionConfig struct {
	Expression string `mapstructure:"expression"`

	// Branches name the order key to jump to, "end" to finish the
	// workflow, or empty to fall through to the next task.
	TrueBranch  string `mapstructure:"true_branch"`
	FalseBranch string `mapstructure:"false_branch"`
}

type loopConfig struct {
	// IterateOver references the list to walk, for example
	// "{{vars.leads}}".
	IterateOver string `mapstructure:"iterate_over"`

	// ItemVar is the variable each element is bound to. Empty means
	// "item".
	ItemVar string `mapstructure:"item_var"`

	// Tasks are the body executed once per element. An empty body just
	// records the items.
	Tasks []subTaskConfig `mapstructure:"tasks"`
}

// subTaskConfig is an inline task nested in a loop body.
type subTaskConfig struct {
	Name   string                 `mapstructure:"name"`
	Kind   string                 `mapstructure:"kind"`
	Config map[string]interface{} `mapstructure:"config"`
}

const (
	waitDelay = "delay"
	waitEvent = "event"
)

type waitConfig struct {
	WaitType string `mapstructure:"wait_type"`

	// Duration in seconds, delay waits only. Capped at one day.
	Duration int `mapstructure:"duration"`

	// Event names the bus event an event wait parks for. Timeout in
	// seconds bounds the park; zero means one day.
	Event   string `mapstructure:"event"`
	Timeout int    `mapstructure:"timeout"`
}

type parallelConfig struct {
	// Tasks lists sibling order keys run concurrently. Listed tasks
	// are claimed out of the sequential walk.
	Tasks []string `mapstructure:"tasks"`
}

type approvalConfig struct {
	ApprovalMessage string `mapstructure:"approval_message"`

	// Timeout in seconds before the pending approval fails. Zero means
	// one day.
	Timeout int `mapstructure:"timeout"`
}

type setVariableConfig struct {
	VarName  string      `mapstructure:"var_name"`
	VarValue interface{} `mapstructure:"var_value"`
}

type httpRequestConfig struct {
	URL     string                 `mapstructure:"url"`
	Method  string                 `mapstructure:"method"`
	Headers map[string]string      `mapstructure:"headers"`
	Body    map[string]interface{} `mapstructure:"body"`
}

// decodeConfig decodes a raw config map into its typed form.
func decodeConfig(raw map[string]interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("invalid task config: %w", err)
	}
	return nil
}
