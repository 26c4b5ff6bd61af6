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
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/atelierhq/atelier/pkg/types"
)

// workflowDef is the YAML shape of a workflow definition file.
type workflowDef struct {
	Name          string                 `yaml:"name"`
	Description   string                 `yaml:"description"`
	AgentID       string                 `yaml:"agent_id"`
	Trigger       string                 `yaml:"trigger"`
	TriggerConfig map[string]interface{} `yaml:"trigger_config"`
	Inputs        []inputDef             `yaml:"inputs"`
	Tasks         []taskDef              `yaml:"tasks"`
	Active        *bool                  `yaml:"active"`
}

type inputDef struct {
	Name     string      `yaml:"name"`
	Type     string      `yaml:"type"`
	Required bool        `yaml:"required"`
	Default  interface{} `yaml:"default"`
}

type taskDef struct {
	Order      string                 `yaml:"order"`
	Name       string                 `yaml:"name"`
	Kind       string                 `yaml:"kind"`
	Config     map[string]interface{} `yaml:"config"`
	OnError    string                 `yaml:"on_error"`
	RetryCount int                    `yaml:"retry_count"`
	ErrorGoto  string                 `yaml:"error_goto"`
}

// Load decodes and validates one YAML workflow definition. Decoding
// is strict: an unknown field fails rather than silently dropping.
// The returned workflow has no id or tenant; the caller assigns both
// before storing it.
func Load(r io.Reader) (*types.Workflow, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var def workflowDef
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("decode workflow: %w", err)
	}
	wf := def.toWorkflow()
	if err := Validate(wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// LoadFile reads one workflow definition from path.
func LoadFile(path string) (*types.Workflow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open workflow file: %w", err)
	}
	defer func() { _ = f.Close() }()
	wf, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return wf, nil
}

// LoadDir loads every .yaml and .yml definition under dir, sorted by
// file name so seeding is deterministic.
func LoadDir(dir string) ([]*types.Workflow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read workflow dir: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml":
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	workflows := make([]*types.Workflow, 0, len(names))
	for _, name := range names {
		wf, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, nil
}

func (d *workflowDef) toWorkflow() *types.Workflow {
	trigger := d.Trigger
	if trigger == "" {
		trigger = types.TriggerManual
	}
	active := true
	if d.Active != nil {
		active = *d.Active
	}
	wf := &types.Workflow{
		Name:          d.Name,
		Description:   d.Description,
		AgentID:       d.AgentID,
		Trigger:       trigger,
		TriggerConfig: d.TriggerConfig,
		Active:        active,
	}
	for _, in := range d.Inputs {
		wf.Inputs = append(wf.Inputs, types.WorkflowInput{
			Name:     in.Name,
			Type:     in.Type,
			Required: in.Required,
			Default:  in.Default,
		})
	}
	for _, t := range d.Tasks {
		wf.Tasks = append(wf.Tasks, types.WorkflowTask{
			Order:      t.Order,
			Name:       t.Name,
			Kind:       types.TaskKind(t.Kind),
			Config:     t.Config,
			OnError:    t.OnError,
			RetryCount: t.RetryCount,
			ErrorGoto:  t.ErrorGoto,
		})
	}
	return wf
}
