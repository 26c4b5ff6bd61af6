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
	"sort"
	"strconv"
	"strings"

	"github.com/atelierhq/atelier/pkg/types"
)

// orderKey is a dotted-decimal task order parsed into integer
// segments, so "2" < "2.1" < "2.2" < "10" holds where a plain string
// sort would not.
type orderKey []int

// parseOrder parses a task order string. Every segment must be a
// non-negative integer.
func parseOrder(s string) (orderKey, error) {
	if s == "" {
		return nil, fmt.Errorf("empty task order")
	}
	parts := strings.Split(s, ".")
	key := make(orderKey, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || strings.HasPrefix(p, "+") {
			return nil, fmt.Errorf("invalid task order %q", s)
		}
		key = append(key, n)
	}
	return key, nil
}

// Compare orders keys segment by segment. A shorter key that is a
// prefix of a longer one sorts first, so a task's sub-tasks follow it.
func (k orderKey) Compare(other orderKey) int {
	for i := 0; i < len(k) && i < len(other); i++ {
		switch {
		case k[i] < other[i]:
			return -1
		case k[i] > other[i]:
			return 1
		}
	}
	switch {
	case len(k) < len(other):
		return -1
	case len(k) > len(other):
		return 1
	}
	return 0
}

// sortTasks returns the tasks sorted by order key. Fails on a missing,
// unparsable, or duplicate order.
func sortTasks(tasks []types.WorkflowTask) ([]types.WorkflowTask, error) {
	keys := make(map[string]orderKey, len(tasks))
	for _, t := range tasks {
		if _, dup := keys[t.Order]; dup {
			return nil, fmt.Errorf("duplicate task order %q", t.Order)
		}
		key, err := parseOrder(t.Order)
		if err != nil {
			return nil, err
		}
		keys[t.Order] = key
	}

	sorted := make([]types.WorkflowTask, len(tasks))
	copy(sorted, tasks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return keys[sorted[i].Order].Compare(keys[sorted[j].Order]) < 0
	})
	return sorted, nil
}
