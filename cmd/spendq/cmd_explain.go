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
	"strings"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/spendq/pkg/fabric"
	"github.com/teradata-labs/spendq/pkg/sqlguard"
)

var explainCmd = &cobra.Command{
	Use:   "explain <sql>",
	Short: "Run a statement through the cost gate without executing it",
	Long: `Validate and clamp a statement, EXPLAIN it inside the read-only sandbox
and print the plan summary and the gate's verdict.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExplain,
}

func init() {
	rootCmd.AddCommand(explainCmd)
}

// explainOutput is the report printed by explain.
type explainOutput struct {
	SQL       string                 `json:"sql"`
	Summary   *fabric.ExplainSummary `json:"summary,omitempty"`
	ExplainMs int64                  `json:"explainMs"`
	Allowed   bool                   `json:"allowed"`
	Rejection string                 `json:"rejection,omitempty"`
	Hint      string                 `json:"hint,omitempty"`
}

func runExplain(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(config)
	if err != nil {
		return err
	}
	defer closeApp(a)

	if err := a.openDatabase(ctx); err != nil {
		return err
	}
	if err := a.openSchema(ctx); err != nil {
		return err
	}

	stmt, err := sqlguard.Validate(strings.Join(args, " "), a.policy())
	if err != nil {
		return err
	}
	clamped, err := sqlguard.Clamp(stmt, config.Limits.DefaultMaxRows)
	if err != nil {
		return err
	}

	out := explainOutput{SQL: clamped.SQL, Allowed: true}
	summary, dur, err := a.costGate().Check(ctx, clamped.SQL)
	out.Summary = summary
	out.ExplainMs = dur.Milliseconds()
	if err != nil {
		if !fabric.IsCostGateError(err) {
			return err
		}
		out.Allowed = false
		out.Rejection = err.Error()
		out.Hint = fabric.Suggest(err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
