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

	"github.com/atelierhq/atelier/pkg/types"
)

// branchEnd is the terminal branch marker: jumping to it completes the
// workflow.
const branchEnd = "end"

// maxWaitSeconds caps delay waits and is the default park timeout for
// event waits and approvals. One day.
const maxWaitSeconds = 86400

var inputTypes = map[string]bool{
	"":       true,
	"string": true,
	"number": true,
	"bool":   true,
	"object": true,
	"array":  true,
}

// kinds a loop body may nest. Control-flow kinds do not nest.
var loopBodyKinds = map[types.TaskKind]bool{
	types.TaskPrompt:      true,
	types.TaskMCPAction:   true,
	types.TaskSetVariable: true,
	types.TaskHTTPRequest: true,
	types.TaskWait:        true,
}

// kinds a parallel task may claim as branches. Branches run
// concurrently, so anything that parks, jumps, or writes variables is
// excluded.
var parallelBranchKinds = map[types.TaskKind]bool{
	types.TaskPrompt:      true,
	types.TaskMCPAction:   true,
	types.TaskHTTPRequest: true,
	types.TaskWait:        true,
}

// configErr builds a validation failure callers can match with
// errors.Is(err, types.ErrConfig).
func configErr(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), types.ErrConfig)
}

// Validate checks a workflow definition before it is stored: trigger
// shape, input declarations, task orders, per-kind config, condition
// grammar, and branch targets. A workflow that passes here can always
// be planned at execution time.
func Validate(wf *types.Workflow) error {
	if wf.Name == "" {
		return configErr("workflow name is required")
	}
	if err := validateTrigger(wf); err != nil {
		return err
	}
	if err := validateInputDecls(wf.Inputs); err != nil {
		return err
	}
	if len(wf.Tasks) == 0 {
		return configErr("workflow %q has no tasks", wf.Name)
	}

	sorted, err := sortTasks(wf.Tasks)
	if err != nil {
		return configErr("workflow %q: %s", wf.Name, err)
	}
	orders := make(map[string]types.WorkflowTask, len(sorted))
	for _, t := range sorted {
		orders[t.Order] = t
	}

	claimed := map[string]string{}
	for _, t := range sorted {
		if err := validateTask(t, orders, claimed); err != nil {
			return err
		}
	}
	return nil
}

func validateTrigger(wf *types.Workflow) error {
	switch wf.Trigger {
	case types.TriggerManual:
		return nil
	case types.TriggerCron:
		if s, _ := wf.TriggerConfig["cron"].(string); s == "" {
			return configErr("cron trigger requires trigger_config.cron")
		}
		return nil
	case types.TriggerEvent:
		if s, _ := wf.TriggerConfig["event"].(string); s == "" {
			return configErr("event trigger requires trigger_config.event")
		}
		return nil
	}
	return configErr("unknown trigger %q", wf.Trigger)
}

func validateInputDecls(decls []types.WorkflowInput) error {
	seen := make(map[string]bool, len(decls))
	for _, d := range decls {
		if d.Name == "" {
			return configErr("input declaration without a name")
		}
		if seen[d.Name] {
			return configErr("duplicate input %q", d.Name)
		}
		seen[d.Name] = true
		if !inputTypes[d.Type] {
			return configErr("input %q has unknown type %q", d.Name, d.Type)
		}
	}
	return nil
}

func validateTask(t types.WorkflowTask, orders map[string]types.WorkflowTask, claimed map[string]string) error {
	switch t.OnError {
	case "", types.OnErrorStop, types.OnErrorContinue:
	case types.OnErrorRetry:
		if t.RetryCount < 0 {
			return configErr("task %s: negative retry_count", t.Order)
		}
	case types.OnErrorGoto:
		if _, ok := orders[t.ErrorGoto]; !ok {
			return configErr("task %s: error_goto targets unknown task %q", t.Order, t.ErrorGoto)
		}
	default:
		return configErr("task %s: unknown on_error policy %q", t.Order, t.OnError)
	}

	switch t.Kind {
	case types.TaskPrompt:
		var cfg promptConfig
		if err := decodeConfig(t.Config, &cfg); err != nil {
			return configErr("task %s: %s", t.Order, err)
		}
		if cfg.PromptID == "" && cfg.PromptTemplate == "" {
			return configErr("task %s: prompt requires prompt_id or prompt_template", t.Order)
		}
		if cfg.PromptID != "" && cfg.PromptTemplate != "" {
			return configErr("task %s: prompt_id and prompt_template are mutually exclusive", t.Order)
		}

	case types.TaskMCPAction:
		var cfg mcpActionConfig
		if err := decodeConfig(t.Config, &cfg); err != nil {
			return configErr("task %s: %s", t.Order, err)
		}
		if cfg.ToolID == "" {
			return configErr("task %s: mcp_action requires tool_id", t.Order)
		}

	case types.TaskCondition:
		var cfg conditionConfig
		if err := decodeConfig(t.Config, &cfg); err != nil {
			return configErr("task %s: %s", t.Order, err)
		}
		if _, err := parseCondition(cfg.Expression); err != nil {
			return configErr("task %s: condition: %s", t.Order, err)
		}
		for _, branch := range []string{cfg.TrueBranch, cfg.FalseBranch} {
			if branch == "" || branch == branchEnd {
				continue
			}
			if _, ok := orders[branch]; !ok {
				return configErr("task %s: branch targets unknown task %q", t.Order, branch)
			}
		}

	case types.TaskLoop:
		var cfg loopConfig
		if err := decodeConfig(t.Config, &cfg); err != nil {
			return configErr("task %s: %s", t.Order, err)
		}
		if cfg.IterateOver == "" {
			return configErr("task %s: loop requires iterate_over", t.Order)
		}
		for i, sub := range cfg.Tasks {
			kind := types.TaskKind(sub.Kind)
			if !loopBodyKinds[kind] {
				return configErr("task %s: loop body task %d has unsupported kind %q", t.Order, i+1, sub.Kind)
			}
			if err := validateLeafConfig(kind, sub.Config); err != nil {
				return configErr("task %s: loop body task %d: %s", t.Order, i+1, err)
			}
		}

	case types.TaskWait:
		var cfg waitConfig
		if err := decodeConfig(t.Config, &cfg); err != nil {
			return configErr("task %s: %s", t.Order, err)
		}
		switch cfg.WaitType {
		case "", waitDelay:
			if cfg.Duration < 0 || cfg.Duration > maxWaitSeconds {
				return configErr("task %s: wait duration must be between 0 and %d seconds", t.Order, maxWaitSeconds)
			}
		case waitEvent:
			if cfg.Event == "" {
				return configErr("task %s: event wait requires event", t.Order)
			}
			if cfg.Timeout < 0 {
				return configErr("task %s: negative wait timeout", t.Order)
			}
		default:
			return configErr("task %s: unknown wait_type %q", t.Order, cfg.WaitType)
		}

	case types.TaskParallel:
		var cfg parallelConfig
		if err := decodeConfig(t.Config, &cfg); err != nil {
			return configErr("task %s: %s", t.Order, err)
		}
		if len(cfg.Tasks) == 0 {
			return configErr("task %s: parallel requires at least one branch", t.Order)
		}
		for _, branch := range cfg.Tasks {
			target, ok := orders[branch]
			if !ok {
				return configErr("task %s: parallel branch targets unknown task %q", t.Order, branch)
			}
			if branch == t.Order {
				return configErr("task %s: parallel branch targets itself", t.Order)
			}
			if owner, taken := claimed[branch]; taken {
				return configErr("task %s: branch %q already claimed by task %s", t.Order, branch, owner)
			}
			claimed[branch] = t.Order
			if !parallelBranchKinds[target.Kind] {
				return configErr("task %s: parallel branch %q has unsupported kind %q", t.Order, branch, target.Kind)
			}
			if target.Kind == types.TaskWait {
				var wc waitConfig
				if err := decodeConfig(target.Config, &wc); err == nil && wc.WaitType == waitEvent {
					return configErr("task %s: parallel branch %q may not wait on an event", t.Order, branch)
				}
			}
		}

	case types.TaskHumanApproval:
		var cfg approvalConfig
		if err := decodeConfig(t.Config, &cfg); err != nil {
			return configErr("task %s: %s", t.Order, err)
		}
		if cfg.Timeout < 0 {
			return configErr("task %s: negative approval timeout", t.Order)
		}

	case types.TaskSetVariable:
		var cfg setVariableConfig
		if err := decodeConfig(t.Config, &cfg); err != nil {
			return configErr("task %s: %s", t.Order, err)
		}
		if cfg.VarName == "" {
			return configErr("task %s: set_variable requires var_name", t.Order)
		}

	case types.TaskHTTPRequest:
		var cfg httpRequestConfig
		if err := decodeConfig(t.Config, &cfg); err != nil {
			return configErr("task %s: %s", t.Order, err)
		}
		if cfg.URL == "" {
			return configErr("task %s: http_request requires url", t.Order)
		}
		switch cfg.Method {
		case "", "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD":
		default:
			return configErr("task %s: unsupported method %q", t.Order, cfg.Method)
		}

	default:
		return configErr("task %s: unknown kind %q", t.Order, t.Kind)
	}
	return nil
}

// validateLeafConfig checks a loop body task's config. Body tasks have
// no order key, so the messages name their position instead.
func validateLeafConfig(kind types.TaskKind, raw map[string]interface{}) error {
	switch kind {
	case types.TaskPrompt:
		var cfg promptConfig
		if err := decodeConfig(raw, &cfg); err != nil {
			return err
		}
		if cfg.PromptID == "" && cfg.PromptTemplate == "" {
			return fmt.Errorf("prompt requires prompt_id or prompt_template")
		}
	case types.TaskMCPAction:
		var cfg mcpActionConfig
		if err := decodeConfig(raw, &cfg); err != nil {
			return err
		}
		if cfg.ToolID == "" {
			return fmt.Errorf("mcp_action requires tool_id")
		}
	case types.TaskSetVariable:
		var cfg setVariableConfig
		if err := decodeConfig(raw, &cfg); err != nil {
			return err
		}
		if cfg.VarName == "" {
			return fmt.Errorf("set_variable requires var_name")
		}
	case types.TaskHTTPRequest:
		var cfg httpRequestConfig
		if err := decodeConfig(raw, &cfg); err != nil {
			return err
		}
		if cfg.URL == "" {
			return fmt.Errorf("http_request requires url")
		}
	case types.TaskWait:
		var cfg waitConfig
		if err := decodeConfig(raw, &cfg); err != nil {
			return err
		}
		if cfg.WaitType == waitEvent {
			return fmt.Errorf("loop body may not wait on an event")
		}
		if cfg.Duration < 0 || cfg.Duration > maxWaitSeconds {
			return fmt.Errorf("wait duration must be between 0 and %d seconds", maxWaitSeconds)
		}
	}
	return nil
}
