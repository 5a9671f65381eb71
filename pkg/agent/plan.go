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
package agent

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/teradata-labs/spendq/pkg/sqlguard"
)

//go:embed queryplan.schema.json
var queryPlanSchema string

var queryPlanLoader = gojsonschema.NewStringLoader(queryPlanSchema)

// QueryPlan is the planner's description of the SQL the executor should
// write.
type QueryPlan struct {
	CanAnswer           bool     `json:"canAnswer"`
	ClarificationNeeded *string  `json:"clarificationNeeded,omitempty"`
	Tables              []string `json:"tables"`
	Columns             []string `json:"columns"`
	Metrics             []string `json:"metrics"`
	Filters             []string `json:"filters"`
	Joins               []string `json:"joins,omitempty"`
	GroupBy             []string `json:"groupBy,omitempty"`
	OrderBy             *string  `json:"orderBy,omitempty"`
	Limit               *int     `json:"limit,omitempty"`
	Reasoning           string   `json:"reasoning"`

	// Fallback marks a plan built without the model's output.
	Fallback bool `json:"fallback,omitempty"`
}

// ParsePlan extracts the first JSON object from text and validates it
// against the QueryPlan schema.
func ParsePlan(text string) (*QueryPlan, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	result, err := gojsonschema.Validate(queryPlanLoader, gojsonschema.NewStringLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("plan is not valid JSON: %w", err)
	}
	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return nil, fmt.Errorf("plan does not match schema: %s", strings.Join(problems, "; "))
	}
	var plan QueryPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}
	return &plan, nil
}

// extractJSON returns the first balanced {...} in text, skipping code fences
// and prose around it. Braces inside JSON strings are ignored.
func extractJSON(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object in model output")
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unterminated JSON object in model output")
}

// FactRules names the fact table and how it must be filtered.
type FactRules struct {
	FactTable       string
	DateColumn      string
	DimensionTables []string
	// RecencyDays is the window of the default date filter.
	RecencyDays int
}

// RecencyFilter is the default predicate on the fact table's date column.
func (r FactRules) RecencyFilter() string {
	return fmt.Sprintf("%s.%s >= CURRENT_DATE - INTERVAL '%d days'", shortName(r.FactTable), r.DateColumn, r.RecencyDays)
}

// FallbackPlan is used when the model's plan cannot be parsed: every table,
// answerable, restricted to the default recency window.
func FallbackPlan(rules FactRules, cause error) *QueryPlan {
	tables := append([]string{sqlguard.QualifyTable(rules.FactTable)}, rules.DimensionTables...)
	reason := "Planner output was unusable; using the default plan over all tables with the default date window."
	if cause != nil {
		reason = fmt.Sprintf("%s (%v)", reason, cause)
	}
	return &QueryPlan{
		CanAnswer: true,
		Tables:    tables,
		Columns:   []string{},
		Metrics:   []string{},
		Filters:   []string{rules.RecencyFilter()},
		Reasoning: reason,
		Fallback:  true,
	}
}

// EnforceFactFilter appends the recency filter when the plan reads the fact
// table but no filter mentions its date column. It reports whether it did.
func EnforceFactFilter(plan *QueryPlan, rules FactRules) bool {
	if !plan.CanAnswer || rules.FactTable == "" || rules.DateColumn == "" {
		return false
	}
	fact := sqlguard.QualifyTable(rules.FactTable)
	usesFact := false
	for _, t := range plan.Tables {
		if sqlguard.QualifyTable(t) == fact {
			usesFact = true
			break
		}
	}
	if !usesFact {
		return false
	}
	col := strings.ToLower(rules.DateColumn)
	for _, f := range plan.Filters {
		if strings.Contains(strings.ToLower(f), col) {
			return false
		}
	}
	plan.Filters = append(plan.Filters, rules.RecencyFilter())
	return true
}

// Summary renders the plan for the executor's system message.
func (p *QueryPlan) Summary() string {
	var b strings.Builder
	line := func(label string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&b, "- %s: %s\n", label, strings.Join(items, "; "))
	}
	line("Tables", p.Tables)
	line("Columns", p.Columns)
	line("Metrics", p.Metrics)
	line("Filters (all required)", p.Filters)
	line("Joins", p.Joins)
	line("Group by", p.GroupBy)
	if p.OrderBy != nil && *p.OrderBy != "" {
		fmt.Fprintf(&b, "- Order by: %s\n", *p.OrderBy)
	}
	if p.Limit != nil {
		fmt.Fprintf(&b, "- Limit: %d\n", *p.Limit)
	}
	if p.Reasoning != "" {
		fmt.Fprintf(&b, "- Strategy: %s\n", p.Reasoning)
	}
	return b.String()
}

func shortName(table string) string {
	q := sqlguard.QualifyTable(table)
	if i := strings.LastIndexByte(q, '.'); i >= 0 {
		return q[i+1:]
	}
	return q
}
