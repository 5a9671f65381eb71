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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/spendq/pkg/schema"
	"github.com/teradata-labs/spendq/pkg/sqlguard"
)

var validateMaxRows int

var validateCmd = &cobra.Command{
	Use:   "validate <sql>",
	Short: "Validate and clamp a statement without running it",
	Long: `Check a statement against the configured SQL policy and print the
statement that would be executed. No database connection is made.

Exits non-zero when the statement is rejected.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().IntVar(&validateMaxRows, "max-rows", 0, "row cap (default: limits.default_max_rows)")
	rootCmd.AddCommand(validateCmd)
}

// validateOutput is the report printed by validate.
type validateOutput struct {
	SQL       string   `json:"sql"`
	Shape     string   `json:"shape"`
	Tables    []string `json:"tables"`
	Functions []string `json:"functions,omitempty"`
	Limit     int      `json:"limit"`
	Truncated bool     `json:"truncated"`
	Wrapped   bool     `json:"wrapped"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	desc, err := schema.Load(config.Schema.File)
	if err != nil {
		return fmt.Errorf("failed to load schema description: %w", err)
	}
	a := &app{config: config, desc: desc}

	maxRows := validateMaxRows
	if maxRows <= 0 {
		maxRows = config.Limits.DefaultMaxRows
	}
	maxRows = min(maxRows, config.Limits.HardMaxRows)

	stmt, err := sqlguard.Validate(strings.Join(args, " "), a.policy())
	if err != nil {
		return err
	}
	clamped, err := sqlguard.Clamp(stmt, maxRows)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(validateOutput{
		SQL:       clamped.SQL,
		Shape:     string(stmt.Shape),
		Tables:    stmt.Tables,
		Functions: stmt.Functions,
		Limit:     clamped.Limit,
		Truncated: clamped.Truncated,
		Wrapped:   clamped.Wrapped,
	})
}
