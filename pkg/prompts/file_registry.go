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
package prompts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileRegistry serves the platform's default templates from .md and
// .txt files under a root directory.
//
// Keys derive from the relative path:
//
//	prompts/
//	  email/
//	    relance.md      # key "email.relance"
//	  devis.txt         # key "devis"
//
// Reload swaps the whole template map atomically. Watch reloads on
// every file change so edits land without a restart.
type FileRegistry struct {
	rootDir string

	mu        sync.RWMutex
	templates map[string]string
}

// NewFileRegistry creates a registry rooted at dir. Call Reload to
// load the templates.
func NewFileRegistry(dir string) *FileRegistry {
	return &FileRegistry{
		rootDir:   dir,
		templates: make(map[string]string),
	}
}

// Get returns the raw template body for a key.
func (r *FileRegistry) Get(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	body, ok := r.templates[key]
	return body, ok
}

// Keys lists the loaded template keys, sorted.
func (r *FileRegistry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.templates))
	for key := range r.templates {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Reload re-reads every template file under the root directory.
func (r *FileRegistry) Reload(ctx context.Context) error {
	loaded := make(map[string]string)

	err := filepath.Walk(r.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !templateFile(path) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read template %s: %w", path, err)
		}
		loaded[r.key(path)] = strings.TrimSpace(string(data))
		return nil
	})
	if err != nil {
		return fmt.Errorf("reload templates: %w", err)
	}

	r.mu.Lock()
	r.templates = loaded
	r.mu.Unlock()
	return nil
}

// Watch reloads the registry whenever a template file changes and
// reports each change on the returned channel. The channel closes when
// ctx is cancelled.
func (r *FileRegistry) Watch(ctx context.Context) (<-chan Update, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := r.watchDirectory(watcher, r.rootDir); err != nil {
		watcher.Close()
		return nil, err
	}

	ch := make(chan Update, 10)
	go func() {
		defer watcher.Close()
		defer close(ch)

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !templateFile(event.Name) {
					continue
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					r.handleChange(ctx, ch, event.Name, "modified")
				} else if event.Op&fsnotify.Create == fsnotify.Create {
					r.handleChange(ctx, ch, event.Name, "created")
				} else if event.Op&fsnotify.Remove == fsnotify.Remove {
					r.handleChange(ctx, ch, event.Name, "deleted")
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				ch <- Update{Action: "error", Err: err, Timestamp: time.Now()}
			}
		}
	}()

	return ch, nil
}

// watchDirectory registers the directory and its subdirectories.
func (r *FileRegistry) watchDirectory(watcher *fsnotify.Watcher, dir string) error {
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch directory %s: %w", dir, err)
	}
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() && path != dir {
			if err := watcher.Add(path); err != nil {
				return fmt.Errorf("watch directory %s: %w", path, err)
			}
		}
		return nil
	})
}

// handleChange reloads from disk and publishes the update.
func (r *FileRegistry) handleChange(ctx context.Context, ch chan<- Update, path, action string) {
	key := r.key(path)
	if err := r.Reload(ctx); err != nil {
		ch <- Update{Key: key, Action: "error", Err: err, Timestamp: time.Now()}
		return
	}
	ch <- Update{Key: key, Action: action, Timestamp: time.Now()}
}

// key converts a file path to a template key.
// "prompts/email/relance.md" becomes "email.relance".
func (r *FileRegistry) key(path string) string {
	rel, err := filepath.Rel(r.rootDir, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	return strings.ReplaceAll(rel, string(filepath.Separator), ".")
}

func templateFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".md" || ext == ".txt"
}
