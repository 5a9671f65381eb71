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
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/spendq/pkg/agent"
	"github.com/teradata-labs/spendq/pkg/types"
)

var (
	askConversation string
	askModel        string
	askJSON         bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one question against the spend database",
	Long: `Run a single agent turn and print the answer.

Pass --conversation to continue an earlier conversation; its checkpoint is
loaded from the configured store and the question is appended to it.

Examples:
  spendq ask "What was total spend last month?"
  spendq ask --conversation c-42 "And the month before?"
  spendq ask --json "Top five vendors by spend this year"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askConversation, "conversation", "", "conversation ID to continue")
	askCmd.Flags().StringVar(&askModel, "turn-model", "", "model for this turn only")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the full turn response as JSON")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	if err := config.Validate(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(config)
	if err != nil {
		return err
	}
	defer closeApp(a)

	ag, err := a.buildAgent(ctx)
	if err != nil {
		return err
	}

	resp, err := ag.Turn(ctx, agent.TurnRequest{
		Messages:       []agent.InputMessage{{Role: types.RoleUser, Content: strings.Join(args, " ")}},
		Model:          askModel,
		ConversationID: askConversation,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if askJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	fmt.Fprintln(out, resp.Text)
	fmt.Fprintln(cmd.ErrOrStderr(), formatMetadata(resp))
	return nil
}

func formatMetadata(resp *agent.TurnResponse) string {
	m := resp.Metadata
	cost := "unknown"
	if m.CostUSD != nil {
		cost = fmt.Sprintf("$%.4f", *m.CostUSD)
	}
	return fmt.Sprintf("conversation=%s total=%dms llm=%dms db=%dms tokens=%d cost=%s",
		resp.ConversationID, m.TotalTimeMs, m.LLMTimeMs, m.DBTimeMs, m.Tokens.TotalTokens, cost)
}

// closeApp gives the tool-call writer a bounded time to drain.
func closeApp(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.close(ctx)
}
