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

// plan is a workflow's task graph indexed for traversal: tasks sorted
// by order key, conditions parsed, and parallel branches claimed out
// of the sequential walk.
type plan struct {
	wf      *types.Workflow
	tasks   []types.WorkflowTask
	byOrder map[string]types.WorkflowTask
	index   map[string]int

	// claimed holds orders run as parallel branches. The sequential
	// cursor skips them.
	claimed map[string]bool

	// conditions holds pre-parsed condition expressions by order.
	conditions map[string]condExpr
}

func buildPlan(wf *types.Workflow) (*plan, error) {
	sorted, err := sortTasks(wf.Tasks)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", wf.ID, err)
	}
	p := &plan{
		wf:         wf,
		tasks:      sorted,
		byOrder:    make(map[string]types.WorkflowTask, len(sorted)),
		index:      make(map[string]int, len(sorted)),
		claimed:    map[string]bool{},
		conditions: map[string]condExpr{},
	}
	for i, t := range sorted {
		p.byOrder[t.Order] = t
		p.index[t.Order] = i
	}
	for _, t := range sorted {
		switch t.Kind {
		case types.TaskParallel:
			var cfg parallelConfig
			if err := decodeConfig(t.Config, &cfg); err != nil {
				return nil, fmt.Errorf("task %s: %w", t.Order, err)
			}
			for _, branch := range cfg.Tasks {
				p.claimed[branch] = true
			}
		case types.TaskCondition:
			var cfg conditionConfig
			if err := decodeConfig(t.Config, &cfg); err != nil {
				return nil, fmt.Errorf("task %s: %w", t.Order, err)
			}
			expr, err := parseCondition(cfg.Expression)
			if err != nil {
				return nil, fmt.Errorf("task %s: condition: %w", t.Order, err)
			}
			p.conditions[t.Order] = expr
		}
	}
	return p, nil
}

// first returns the order of the first sequential task, or empty for
// a workflow whose every task is a parallel branch.
func (p *plan) first() string {
	for _, t := range p.tasks {
		if !p.claimed[t.Order] {
			return t.Order
		}
	}
	return ""
}

// next returns the order following after, skipping claimed branches.
// Empty means the walk is done.
func (p *plan) next(after string) string {
	i, ok := p.index[after]
	if !ok {
		return ""
	}
	for i++; i < len(p.tasks); i++ {
		if !p.claimed[p.tasks[i].Order] {
			return p.tasks[i].Order
		}
	}
	return ""
}

// restoreState rebuilds the interpolation scopes after a resume. prev
// becomes the output of the highest-order completed task; the original
// completion sequence is not replayed.
func restoreState(exec *types.Execution) *state {
	st := newState(exec.Input, exec.Variables)
	exec.Input = st.input
	exec.Variables = st.vars

	var best string
	var bestKey orderKey
	for order, res := range exec.TaskResults {
		if res.Status != "completed" {
			continue
		}
		st.steps[order] = res.Output
		key, err := parseOrder(order)
		if err != nil {
			continue
		}
		if best == "" || key.Compare(bestKey) > 0 {
			best, bestKey = order, key
		}
	}
	if best != "" {
		st.prev = st.steps[best]
		st.prevSet = true
	}
	return st
}
