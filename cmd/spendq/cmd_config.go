// Copyright 2026 Teradata
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
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	spendqconfig "github.com/teradata-labs/spendq/pkg/config"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage spendq configuration",
	Long:  `Manage the configuration file and secrets for spendq.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate an example configuration file",
	Long:  `Write an example spendq.yaml with every default to $SPENDQ_DATA_DIR.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration (merged from all sources) with secrets masked.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key [key-name]",
	Short: "Save a secret to the system keyring",
	Long: `Save a secret to the system keyring.

The secret is stored in your system's credential storage (Keychain on
macOS, Credential Manager on Windows, Secret Service on Linux) and is
read whenever the matching setting is not given by flag, environment or
config file.

Run 'spendq config list-keys' to see available key names.`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigSetKey,
}

var configDeleteKeyCmd = &cobra.Command{
	Use:   "delete-key [key-name]",
	Short: "Delete a secret from the system keyring",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigDeleteKey,
}

var configListKeysCmd = &cobra.Command{
	Use:   "list-keys",
	Short: "List available secret keys",
	Args:  cobra.NoArgs,
	Run:   runConfigListKeys,
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")

	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetKeyCmd)
	configCmd.AddCommand(configDeleteKeyCmd)
	configCmd.AddCommand(configListKeysCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := spendqconfig.DataDir()
	configPath := filepath.Join(configDir, DefaultConfigFileName+".yaml")

	if err := os.MkdirAll(configDir, 0750); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	if _, err := os.Stat(configPath); err == nil && !configInitForce {
		return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
	}

	content, err := GenerateExampleConfig()
	if err != nil {
		return err
	}
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config file created: %s\n", configPath)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "1. Save your secrets:")
	fmt.Fprintln(out, "   spendq config set-key database_url")
	fmt.Fprintln(out, "   spendq config set-key llm_api_key")
	fmt.Fprintln(out, "2. Ask a question:")
	fmt.Fprintln(out, "   spendq ask \"What was total spend last month?\"")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	redacted := config.Redacted()
	body, err := yaml.Marshal(redacted)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "# data dir: %s\n", config.DataDir)
	_, err = out.Write(body)
	return err
}

func runConfigSetKey(cmd *cobra.Command, args []string) error {
	keyName := args[0]
	if !isSecretKey(keyName) {
		return fmt.Errorf("invalid key name: %s (available: %s)", keyName, strings.Join(ListAvailableSecretKeys(), ", "))
	}

	// Read secret from stdin (without echo)
	fmt.Fprintf(cmd.OutOrStdout(), "Enter %s (input hidden): ", keyName)
	secretBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return fmt.Errorf("error reading input: %w", err)
	}
	secret := strings.TrimSpace(string(secretBytes))
	if secret == "" {
		return fmt.Errorf("secret cannot be empty")
	}

	if err := SaveSecretToKeyring(keyName, secret); err != nil {
		return fmt.Errorf("error saving to keyring: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s to system keyring\n", keyName)
	return nil
}

func runConfigDeleteKey(cmd *cobra.Command, args []string) error {
	keyName := args[0]
	if !isSecretKey(keyName) {
		return fmt.Errorf("invalid key name: %s (available: %s)", keyName, strings.Join(ListAvailableSecretKeys(), ", "))
	}
	if err := DeleteSecretFromKeyring(keyName); err != nil {
		return fmt.Errorf("error deleting from keyring: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s from system keyring\n", keyName)
	return nil
}

func runConfigListKeys(cmd *cobra.Command, args []string) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Available secret keys:")
	for _, key := range ListAvailableSecretKeys() {
		status := "not set"
		if v, err := GetSecretFromKeyring(key); err == nil && v != "" {
			status = "set"
		}
		fmt.Fprintf(out, "  - %-26s %s\n", key, status)
	}
}
