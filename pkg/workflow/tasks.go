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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/atelierhq/atelier/pkg/events"
	"github.com/atelierhq/atelier/pkg/router"
	"github.com/atelierhq/atelier/pkg/types"
)

// stepOutcome is what one task run produces: an output, an optional
// jump target, or a park.
type stepOutcome struct {
	output interface{}

	// next overrides the sequential cursor: an order key, or branchEnd
	// to complete the workflow. Empty advances normally.
	next string

	// parked means the execution must stop and wait for an external
	// signal.
	parked bool
}

// Internal variable keys carry park state across restarts. They live
// in the execution's variable map so a resumed process sees them.
func approvalKey(order string) string   { return "__approved_" + order }
func deadlineKey(order string) string   { return "__deadline_" + order }
func eventFiredKey(order string) string { return "__event_" + order }

func (e *Engine) runTask(ctx context.Context, p *plan, exec *types.Execution, st *state, task types.WorkflowTask) (*stepOutcome, error) {
	switch task.Kind {
	case types.TaskPrompt:
		return e.runPrompt(ctx, exec, st, task.Config, task.Order)
	case types.TaskMCPAction:
		return e.runMCPAction(ctx, exec, st, task.Config, task.Order)
	case types.TaskCondition:
		return e.runCondition(p, st, task.Config, task.Order)
	case types.TaskLoop:
		return e.runLoop(ctx, exec, st, task.Config, task.Order)
	case types.TaskWait:
		return e.runWait(ctx, exec, st, task.Config, task.Order)
	case types.TaskParallel:
		return e.runParallel(ctx, p, exec, st, task.Config)
	case types.TaskHumanApproval:
		return e.runApproval(ctx, exec, st, task.Config, task.Order)
	case types.TaskSetVariable:
		return e.runSetVariable(ctx, exec, st, task.Config, task.Order)
	case types.TaskHTTPRequest:
		return e.runHTTPRequest(ctx, exec, st, task.Config, task.Order)
	}
	return nil, fmt.Errorf("unknown task kind %q", task.Kind)
}

// runPrompt renders the template and sends it through the model
// router. The output is the completion text.
func (e *Engine) runPrompt(ctx context.Context, exec *types.Execution, st *state, raw map[string]interface{}, order string) (*stepOutcome, error) {
	var cfg promptConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}

	body := cfg.PromptTemplate
	if body == "" {
		if e.prompts == nil {
			return nil, fmt.Errorf("no prompt source configured")
		}
		loaded, err := e.prompts.Template(ctx, exec.TenantID, cfg.PromptID)
		if err != nil {
			return nil, fmt.Errorf("load prompt %s: %w", cfg.PromptID, err)
		}
		body = loaded
	}

	// Mapped variables fill {name} slots in the template body, then
	// the body itself is interpolated for {{scope.key}} references.
	for name, mapped := range cfg.VariablesMapping {
		val, missing := st.interpolate(mapped)
		e.warnMissing(ctx, exec, order, missing)
		body = strings.ReplaceAll(body, "{"+name+"}", val)
	}
	body, missing := st.interpolate(body)
	e.warnMissing(ctx, exec, order, missing)

	if e.router == nil {
		return nil, fmt.Errorf("no model router configured")
	}
	taskType := types.TaskType(cfg.TaskType)
	if taskType == "" {
		taskType = types.TaskChat
	}
	comp, err := e.router.Complete(ctx, router.RouteRequest{
		TenantID: exec.TenantID,
		UserID:   exec.UserID,
		Task:     taskType,
		Messages: []types.Message{{Role: "user", Content: body}},
	})
	if err != nil {
		return nil, err
	}
	return &stepOutcome{output: comp.Content}, nil
}

func (e *Engine) runMCPAction(ctx context.Context, exec *types.Execution, st *state, raw map[string]interface{}, order string) (*stepOutcome, error) {
	var cfg mcpActionConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if e.tools == nil {
		return nil, fmt.Errorf("no tool runner configured")
	}

	params := map[string]interface{}{}
	if len(cfg.Params) > 0 {
		interpolated, missing := st.interpolateAny(cfg.Params)
		e.warnMissing(ctx, exec, order, missing)
		params = interpolated.(map[string]interface{})
	}
	if cfg.Action != "" {
		params["action"] = cfg.Action
	}

	out, err := e.tools.Run(ctx, exec.TenantID, cfg.ToolID, params)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", cfg.ToolID, err)
	}
	e.publish(ctx, events.Event{
		Type:     events.TypeAgentToolCalled,
		TenantID: exec.TenantID,
		UserID:   exec.UserID,
		Data: map[string]interface{}{
			"execution_id": exec.ID,
			"tool_id":      cfg.ToolID,
			"task_order":   order,
		},
	})
	return &stepOutcome{output: out}, nil
}

// runCondition evaluates the expression and jumps to the matching
// branch. An empty branch falls through to the next task.
func (e *Engine) runCondition(p *plan, st *state, raw map[string]interface{}, order string) (*stepOutcome, error) {
	var cfg conditionConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	expr, ok := p.conditions[order]
	if !ok {
		parsed, err := parseCondition(cfg.Expression)
		if err != nil {
			return nil, err
		}
		expr = parsed
	}
	result := evalCondition(expr, st)
	branch := cfg.FalseBranch
	if result {
		branch = cfg.TrueBranch
	}
	return &stepOutcome{output: result, next: branch}, nil
}

// runLoop walks the referenced list, running the inline body once per
// element with the item bound to item_var. An empty body records the
// items. Loops abort past 100 iterations.
func (e *Engine) runLoop(ctx context.Context, exec *types.Execution, st *state, raw map[string]interface{}, order string) (*stepOutcome, error) {
	var cfg loopConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	items, err := loopItems(st, cfg.IterateOver)
	if err != nil {
		return nil, err
	}
	if len(items) > maxLoopIterations {
		return nil, fmt.Errorf("%w: %d items exceeds %d iterations", types.ErrLoopBound, len(items), maxLoopIterations)
	}

	itemVar := cfg.ItemVar
	if itemVar == "" {
		itemVar = "item"
	}
	if len(cfg.Tasks) == 0 {
		return &stepOutcome{output: map[string]interface{}{
			"iterations": len(items),
			"items":      items,
		}}, nil
	}

	results := make([]interface{}, 0, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st.vars[itemVar] = item
		st.vars[itemVar+"_index"] = i

		var last interface{}
		for j, sub := range cfg.Tasks {
			out, err := e.runLeaf(ctx, exec, st, types.TaskKind(sub.Kind), sub.Config, order)
			if err != nil {
				return nil, fmt.Errorf("iteration %d task %d: %w", i+1, j+1, err)
			}
			st.prev = out
			st.prevSet = true
			last = out
		}
		results = append(results, last)
	}
	return &stepOutcome{output: map[string]interface{}{
		"iterations": len(items),
		"results":    results,
	}}, nil
}

// runLeaf dispatches a loop body task. Body kinds are restricted at
// validation time to ones that neither park nor jump.
func (e *Engine) runLeaf(ctx context.Context, exec *types.Execution, st *state, kind types.TaskKind, raw map[string]interface{}, order string) (interface{}, error) {
	var (
		outcome *stepOutcome
		err     error
	)
	switch kind {
	case types.TaskPrompt:
		outcome, err = e.runPrompt(ctx, exec, st, raw, order)
	case types.TaskMCPAction:
		outcome, err = e.runMCPAction(ctx, exec, st, raw, order)
	case types.TaskSetVariable:
		outcome, err = e.runSetVariable(ctx, exec, st, raw, order)
	case types.TaskHTTPRequest:
		outcome, err = e.runHTTPRequest(ctx, exec, st, raw, order)
	case types.TaskWait:
		outcome, err = e.runWait(ctx, exec, st, raw, order)
	default:
		return nil, fmt.Errorf("unsupported loop body kind %q", kind)
	}
	if err != nil {
		return nil, err
	}
	return outcome.output, nil
}

// loopItems resolves the iterate_over reference to a list. A typed
// list passes through; a string is parsed as a JSON array.
func loopItems(st *state, ref string) ([]interface{}, error) {
	v, missing := st.resolveTyped(ref)
	if len(missing) > 0 {
		return nil, fmt.Errorf("iterate_over reference %q is unresolved", missing[0])
	}
	switch t := v.(type) {
	case []interface{}:
		return t, nil
	case []string:
		out := make([]interface{}, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	case string:
		var parsed []interface{}
		if err := json.Unmarshal([]byte(t), &parsed); err != nil {
			return nil, fmt.Errorf("iterate_over %q is not a list", ref)
		}
		return parsed, nil
	}
	return nil, fmt.Errorf("iterate_over %q is not a list", ref)
}

// runWait sleeps for a delay wait, or parks for an event wait until
// SignalEvent releases it. A parked wait that passes its deadline
// fails on the next touch.
func (e *Engine) runWait(ctx context.Context, exec *types.Execution, st *state, raw map[string]interface{}, order string) (*stepOutcome, error) {
	var cfg waitConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	waitType := cfg.WaitType
	if waitType == "" {
		waitType = waitDelay
		if cfg.Event != "" {
			waitType = waitEvent
		}
	}

	if waitType == waitDelay {
		if err := e.sleep(ctx, time.Duration(cfg.Duration)*time.Second); err != nil {
			return nil, err
		}
		return &stepOutcome{output: map[string]interface{}{"waited_seconds": cfg.Duration}}, nil
	}

	if fired, ok := st.vars[eventFiredKey(order)]; ok {
		delete(st.vars, eventFiredKey(order))
		delete(st.vars, deadlineKey(order))
		return &stepOutcome{output: map[string]interface{}{"event": fired}}, nil
	}
	now := e.clock()
	if rawDeadline, ok := st.vars[deadlineKey(order)]; ok {
		if now.Unix() > asInt64(rawDeadline) {
			delete(st.vars, deadlineKey(order))
			return nil, fmt.Errorf("%w: event %q did not arrive", types.ErrTimeout, cfg.Event)
		}
		return &stepOutcome{parked: true}, nil
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = maxWaitSeconds
	}
	st.vars[deadlineKey(order)] = now.Unix() + int64(timeout)
	e.registerWaiter(exec.TenantID, cfg.Event, exec.ID)
	e.publish(ctx, events.Event{
		Type:     events.TypeNotificationInfo,
		TenantID: exec.TenantID,
		UserID:   exec.UserID,
		Data: map[string]interface{}{
			"execution_id": exec.ID,
			"task_order":   order,
			"message":      fmt.Sprintf("waiting for event %q", cfg.Event),
		},
	})
	return &stepOutcome{parked: true}, nil
}

// runParallel runs the claimed branch tasks concurrently and joins
// their outputs into a map keyed by order. Every branch runs to the
// end; if any failed, the first failure in branch order becomes the
// parallel task's error.
func (e *Engine) runParallel(ctx context.Context, p *plan, exec *types.Execution, st *state, raw map[string]interface{}) (*stepOutcome, error) {
	var cfg parallelConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}

	type branchResult struct {
		task       types.WorkflowTask
		output     interface{}
		err        error
		durationMS int64
	}
	results := make([]branchResult, len(cfg.Tasks))

	var wg sync.WaitGroup
	for i, branchOrder := range cfg.Tasks {
		task, ok := p.byOrder[branchOrder]
		if !ok {
			return nil, fmt.Errorf("parallel branch %q not found", branchOrder)
		}
		wg.Add(1)
		go func(i int, task types.WorkflowTask) {
			defer wg.Done()
			branchState := st.clone()
			started := time.Now()
			outcome, err := e.runTask(ctx, p, exec, branchState, task)
			results[i] = branchResult{
				task:       task,
				err:        err,
				durationMS: time.Since(started).Milliseconds(),
			}
			if err == nil {
				results[i].output = outcome.output
			}
		}(i, task)
	}
	wg.Wait()

	outputs := make(map[string]interface{}, len(results))
	var firstErr error
	for _, r := range results {
		result := types.TaskResult{
			TaskID:     r.task.ID,
			Order:      r.task.Order,
			Status:     "completed",
			Output:     r.output,
			Attempts:   1,
			DurationMS: r.durationMS,
		}
		if r.err != nil {
			result.Status = "failed"
			result.Error = r.err.Error()
			exec.TaskResults[r.task.Order] = result
			if firstErr == nil {
				firstErr = fmt.Errorf("branch %s: %w", r.task.Order, r.err)
			}
			continue
		}
		exec.TaskResults[r.task.Order] = result
		st.steps[r.task.Order] = r.output
		exec.TasksCompleted = append(exec.TasksCompleted, r.task.ID)
		outputs[r.task.Order] = r.output
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return &stepOutcome{output: outputs}, nil
}

// runApproval parks the execution until Approve resolves it. The
// approval message goes out as an agent.thinking event so the UI can
// surface the pending gate.
func (e *Engine) runApproval(ctx context.Context, exec *types.Execution, st *state, raw map[string]interface{}, order string) (*stepOutcome, error) {
	var cfg approvalConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}

	if v, ok := st.vars[approvalKey(order)]; ok && truthy(v) {
		delete(st.vars, approvalKey(order))
		delete(st.vars, deadlineKey(order))
		return &stepOutcome{output: map[string]interface{}{"approved": true}}, nil
	}
	now := e.clock()
	if rawDeadline, ok := st.vars[deadlineKey(order)]; ok {
		if now.Unix() > asInt64(rawDeadline) {
			delete(st.vars, deadlineKey(order))
			return nil, fmt.Errorf("%w: approval not received", types.ErrTimeout)
		}
		return &stepOutcome{parked: true}, nil
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = maxWaitSeconds
	}
	st.vars[deadlineKey(order)] = now.Unix() + int64(timeout)

	message, missing := st.interpolate(cfg.ApprovalMessage)
	e.warnMissing(ctx, exec, order, missing)
	e.publish(ctx, events.Event{
		Type:     events.TypeAgentThinking,
		TenantID: exec.TenantID,
		UserID:   exec.UserID,
		Data: map[string]interface{}{
			"execution_id": exec.ID,
			"task_order":   order,
			"message":      message,
		},
	})
	return &stepOutcome{parked: true}, nil
}

// runSetVariable writes one variable. A value that is a single
// placeholder keeps its underlying type so lists survive for later
// loops.
func (e *Engine) runSetVariable(ctx context.Context, exec *types.Execution, st *state, raw map[string]interface{}, order string) (*stepOutcome, error) {
	var cfg setVariableConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	value, missing := st.interpolateAny(cfg.VarValue)
	e.warnMissing(ctx, exec, order, missing)
	st.vars[cfg.VarName] = value
	return &stepOutcome{output: value}, nil
}

// runHTTPRequest performs one outbound call with a 30 second timeout
// and a 10 MiB response cap. A JSON body decodes into the output;
// anything else passes through as text.
func (e *Engine) runHTTPRequest(ctx context.Context, exec *types.Execution, st *state, raw map[string]interface{}, order string) (*stepOutcome, error) {
	var cfg httpRequestConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	url, missing := st.interpolate(cfg.URL)
	e.warnMissing(ctx, exec, order, missing)
	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(cfg.Body) > 0 {
		interpolated, missing := st.interpolateAny(cfg.Body)
		e.warnMissing(ctx, exec, order, missing)
		encoded, err := json.Marshal(interpolated)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	reqCtx, cancel := context.WithTimeout(ctx, httpTaskTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for name, value := range cfg.Headers {
		v, missing := st.interpolate(value)
		e.warnMissing(ctx, exec, order, missing)
		req.Header.Set(name, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(data) > maxHTTPResponseBytes {
		return nil, fmt.Errorf("response body exceeds %d bytes", maxHTTPResponseBytes)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s %s returned %d", types.ErrUpstream, method, url, resp.StatusCode)
	}

	var bodyOut interface{} = string(data)
	var parsed interface{}
	if len(data) > 0 && json.Unmarshal(data, &parsed) == nil {
		bodyOut = parsed
	}
	return &stepOutcome{output: map[string]interface{}{
		"status": resp.StatusCode,
		"body":   bodyOut,
	}}, nil
}

// asInt64 reads a numeric variable that may have round-tripped
// through JSON as a float.
func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int64:
		return t
	case float64:
		return int64(t)
	}
	return 0
}
