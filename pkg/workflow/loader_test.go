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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierhq/atelier/pkg/types"
)

const relanceYAML = `
name: Relance facture impayée
description: Relance un client dont la facture est en retard
trigger: cron
trigger_config:
  cron: "0 9 * * 1-5"
inputs:
  - name: client_name
    type: string
    required: true
  - name: days_overdue
    type: number
    default: 7
tasks:
  - order: "1"
    name: Rédiger la relance
    kind: prompt
    config:
      prompt_template: "Relance {{input.client_name}}, impayé depuis {{input.days_overdue}} jours"
  - order: "2"
    kind: condition
    config:
      expression: "{{input.days_overdue}} >= 30"
      true_branch: "3"
      false_branch: "4"
  - order: "3"
    kind: mcp_action
    config:
      tool_id: email
      action: send
    on_error: retry
    retry_count: 2
  - order: "4"
    kind: mcp_action
    config:
      tool_id: email
      action: draft
    on_error: goto
    error_goto: "3"
`

func TestLoadDecodesDefinition(t *testing.T) {
	wf, err := Load(strings.NewReader(relanceYAML))
	require.NoError(t, err)

	assert.Equal(t, "Relance facture impayée", wf.Name)
	assert.Equal(t, types.TriggerCron, wf.Trigger)
	assert.Equal(t, "0 9 * * 1-5", wf.TriggerConfig["cron"])
	assert.True(t, wf.Active)
	assert.Empty(t, wf.ID)
	assert.Empty(t, wf.TenantID)

	require.Len(t, wf.Inputs, 2)
	assert.True(t, wf.Inputs[0].Required)
	assert.Equal(t, 7, wf.Inputs[1].Default)

	require.Len(t, wf.Tasks, 4)
	assert.Equal(t, types.TaskPrompt, wf.Tasks[0].Kind)
	assert.Equal(t, "Rédiger la relance", wf.Tasks[0].Name)
	assert.Equal(t, types.OnErrorRetry, wf.Tasks[2].OnError)
	assert.Equal(t, 2, wf.Tasks[2].RetryCount)
	assert.Equal(t, "3", wf.Tasks[3].ErrorGoto)
}

func TestLoadDefaults(t *testing.T) {
	wf, err := Load(strings.NewReader(`
name: Minimal
tasks:
  - order: "1"
    kind: set_variable
    config:
      var_name: note
      var_value: bonjour
`))
	require.NoError(t, err)
	assert.Equal(t, types.TriggerManual, wf.Trigger)
	assert.True(t, wf.Active)

	wf, err = Load(strings.NewReader(`
name: Dormant
active: false
tasks:
  - order: "1"
    kind: set_variable
    config:
      var_name: note
      var_value: bonjour
`))
	require.NoError(t, err)
	assert.False(t, wf.Active)
}

func TestLoadRejectsUnknownField(t *testing.T) {
	_, err := Load(strings.NewReader(`
name: Typo
triger: manual
tasks:
  - order: "1"
    kind: set_variable
    config:
      var_name: x
      var_value: 1
`))
	require.Error(t, err)
	assert.ErrorContains(t, err, "decode workflow")
}

func TestLoadRejectsInvalidDefinition(t *testing.T) {
	_, err := Load(strings.NewReader(`
name: Broken
tasks:
  - order: "1"
    kind: mcp_action
    config:
      action: send
`))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConfig)
	assert.ErrorContains(t, err, "tool_id")
}

func TestLoadFileNamesTheFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: Broken\n"), 0o644))

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.ErrorContains(t, err, "broken.yaml")
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, wfName string) {
		body := strings.Replace(`
name: PLACEHOLDER
tasks:
  - order: "1"
    kind: set_variable
    config:
      var_name: x
      var_value: 1
`, "PLACEHOLDER", wfName, 1)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("b-devis.yaml", "Devis")
	write("a-relance.yml", "Relance")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("pas un workflow"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive"), 0o755))

	workflows, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, workflows, 2)
	assert.Equal(t, "Relance", workflows[0].Name)
	assert.Equal(t, "Devis", workflows[1].Name)
}
