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

// Command atelierd runs the whole platform in one process: the HTTP
// API, the cron scheduler, and the background worker pool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/atelierhq/atelier/internal/cli"
	"github.com/atelierhq/atelier/internal/version"
)

// rootCmd represents the base command. Running it with no subcommand
// serves, so `atelierd` alone brings the platform up.
var rootCmd = &cobra.Command{
	Use:   "atelierd",
	Short: "Atelier server - multi-tenant agent platform",
	Long: `Atelier server (atelierd) runs the HTTP API, the cron scheduler, and
the job worker pool in a single process, backed by SQLite, Postgres, or
MySQL and an optional Redis queue and event bus.

Configuration stacks flags over an optional atelier.yaml, ATELIER_-prefixed
variables, the bare environment, and built-in defaults. Secrets missing
from all of those are read from the system keyring.`,
	Version:       version.Get(),
	Args:          cobra.NoArgs,
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cli.Flags(rootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
