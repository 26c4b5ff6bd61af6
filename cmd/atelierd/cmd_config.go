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
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"
	"golang.org/x/term"

	"github.com/atelierhq/atelier/internal/cli"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage secrets in the system keyring",
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key [key-name]",
	Short: "Save a secret to the system keyring",
	Long: `Save a secret to the system keyring securely.

The value is stored in your system's credential storage (Keychain on
macOS, Credential Manager on Windows, Secret Service on Linux) and is
picked up at startup when the matching setting is absent from flags,
config file, and environment.

Run 'atelierd config list-keys' to see available key names.`,
	Args: cobra.ExactArgs(1),
	Run:  runConfigSetKey,
}

var configGetKeyCmd = &cobra.Command{
	Use:   "get-key [key-name]",
	Short: "Retrieve a secret from the system keyring",
	Long:  `Retrieve a secret from the system keyring, partially masked, for verification.`,
	Args:  cobra.ExactArgs(1),
	Run:   runConfigGetKey,
}

var configDeleteKeyCmd = &cobra.Command{
	Use:   "delete-key [key-name]",
	Short: "Delete a secret from the system keyring",
	Args:  cobra.ExactArgs(1),
	Run:   runConfigDeleteKey,
}

var configListKeysCmd = &cobra.Command{
	Use:   "list-keys",
	Short: "List secret names the keyring can hold",
	Run:   runConfigListKeys,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSetKeyCmd)
	configCmd.AddCommand(configGetKeyCmd)
	configCmd.AddCommand(configDeleteKeyCmd)
	configCmd.AddCommand(configListKeysCmd)
}

func runConfigSetKey(cmd *cobra.Command, args []string) {
	keyName := args[0]

	known := false
	for _, k := range cli.SecretKeys() {
		if k == keyName {
			known = true
			break
		}
	}
	if !known {
		fmt.Fprintf(os.Stderr, "Invalid key name: %s\n", keyName)
		fmt.Fprintf(os.Stderr, "Available keys:\n")
		for _, k := range cli.SecretKeys() {
			fmt.Fprintf(os.Stderr, "  - %s\n", k)
		}
		os.Exit(1)
	}

	// Read the secret from stdin without echo.
	fmt.Printf("Enter %s (input hidden): ", keyName)
	secretBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}

	secret := string(secretBytes)
	if secret == "" {
		fmt.Fprintln(os.Stderr, "Secret cannot be empty")
		os.Exit(1)
	}

	if err := cli.SaveSecret(keyName, secret); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving to keyring: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Saved %s to system keyring\n", keyName)
}

func runConfigGetKey(cmd *cobra.Command, args []string) {
	keyName := args[0]

	secret, err := keyring.Get(cli.KeyringService, keyName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error retrieving key: %v\n", err)
		fmt.Fprintf(os.Stderr, "Key not found in keyring. Set it with: atelierd config set-key %s\n", keyName)
		os.Exit(1)
	}

	fmt.Printf("%s: %s\n", keyName, maskSecret(secret))
}

func runConfigDeleteKey(cmd *cobra.Command, args []string) {
	keyName := args[0]

	if err := cli.DeleteSecret(keyName); err != nil {
		fmt.Fprintf(os.Stderr, "Error deleting key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Deleted %s from system keyring\n", keyName)
}

func runConfigListKeys(cmd *cobra.Command, args []string) {
	fmt.Println("Available secret keys:")
	fmt.Println("======================")
	for _, key := range cli.SecretKeys() {
		fmt.Printf("  - %s\n", key)
	}
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  atelierd config set-key <key-name>")
	fmt.Println("  atelierd config get-key <key-name>")
	fmt.Println("  atelierd config delete-key <key-name>")
}

// maskSecret masks a secret for display.
func maskSecret(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
