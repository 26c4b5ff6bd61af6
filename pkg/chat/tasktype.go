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
package chat

import (
	"strings"
	"unicode/utf8"

	"github.com/atelierhq/atelier/pkg/types"
)

// quickThreshold is the message length, in runes, under which an
// unclassified message counts as a quick question.
const quickThreshold = 50

// taskSignals map message vocabulary to a task class. Checked in
// order; the first hit wins.
var taskSignals = []struct {
	task     types.TaskType
	keywords []string
}{
	{types.TaskCode, []string{"code", "fonction", "bug", "erreur", "python", "javascript", "api"}},
	{types.TaskAnalyze, []string{"analyse", "explique", "pourquoi", "compare"}},
	{types.TaskSummarize, []string{"résume", "résumé", "synthèse", "points clés"}},
	{types.TaskEmail, []string{"email", "mail", "message", "répondre"}},
	{types.TaskWriting, []string{"écris", "rédige", "article", "texte", "contenu"}},
	{types.TaskPlanning, []string{"plan", "stratégie", "organise", "étapes"}},
}

// DetectTaskType classifies a user message for model selection. Short
// unclassified messages route as quick questions, everything else as
// chat.
func DetectTaskType(message string) types.TaskType {
	lower := strings.ToLower(message)
	for _, signal := range taskSignals {
		for _, kw := range signal.keywords {
			if strings.Contains(lower, kw) {
				return signal.task
			}
		}
	}
	if utf8.RuneCountInString(message) < quickThreshold {
		return types.TaskQuick
	}
	return types.TaskChat
}
