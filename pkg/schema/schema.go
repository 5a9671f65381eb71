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

// Package schema produces the schema context given to the model: a DDL-like
// description of every allowed table that flags the fact table and its
// mandatory filter.
package schema

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/spendq/pkg/sqlguard"
)

// Provider returns the current schema context.
type Provider interface {
	Context(ctx context.Context) (string, error)
}

// Description is the authoritative description of the queryable schema.
type Description struct {
	FactTable      string  `yaml:"fact_table"`
	FactDateColumn string  `yaml:"fact_date_column"`
	Tables         []Table `yaml:"tables"`
}

// Table describes one table.
type Table struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Columns     []Column `yaml:"columns"`
}

// Column describes one column.
type Column struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Nullable    bool   `yaml:"nullable,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// LoadFile reads a YAML schema description.
func LoadFile(path string) (*Description, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML schema description and validates it.
func Parse(data []byte) (*Description, error) {
	var d Description
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse schema description: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks that the fact table is described and has its date column.
func (d *Description) Validate() error {
	if len(d.Tables) == 0 {
		return fmt.Errorf("schema description has no tables")
	}
	if d.FactTable == "" {
		return nil
	}
	fact := d.Table(d.FactTable)
	if fact == nil {
		return fmt.Errorf("fact table %s is not described", d.FactTable)
	}
	if d.FactDateColumn != "" && !fact.HasColumn(d.FactDateColumn) {
		return fmt.Errorf("fact table %s has no column %s", d.FactTable, d.FactDateColumn)
	}
	return nil
}

// Table returns the table with the given name, comparing schema-qualified.
func (d *Description) Table(name string) *Table {
	want := sqlguard.QualifyTable(name)
	for i := range d.Tables {
		if sqlguard.QualifyTable(d.Tables[i].Name) == want {
			return &d.Tables[i]
		}
	}
	return nil
}

// TableNames returns the qualified names of every described table.
func (d *Description) TableNames() []string {
	names := make([]string, len(d.Tables))
	for i, t := range d.Tables {
		names[i] = sqlguard.QualifyTable(t.Name)
	}
	return names
}

// DimensionTables returns every table except the fact table.
func (d *Description) DimensionTables() []string {
	fact := sqlguard.QualifyTable(d.FactTable)
	var out []string
	for _, name := range d.TableNames() {
		if name != fact {
			out = append(out, name)
		}
	}
	return out
}

// HasColumn reports whether t has the named column.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

// Render produces the schema context text.
func Render(d *Description) string {
	var b strings.Builder
	fact := sqlguard.QualifyTable(d.FactTable)

	b.WriteString("-- PostgreSQL schema. Only the tables below may be queried.\n")
	if d.FactTable != "" {
		fmt.Fprintf(&b, "-- %s is the large FACT TABLE. Every query that reads it MUST filter it", fact)
		if d.FactDateColumn != "" {
			fmt.Fprintf(&b, " on %s (for example a date range)", d.FactDateColumn)
		}
		b.WriteString(".\n")
	}

	for _, t := range d.Tables {
		name := sqlguard.QualifyTable(t.Name)
		b.WriteString("\n")
		if name == fact {
			fmt.Fprintf(&b, "-- FACT TABLE: filter required on %s.\n", d.FactDateColumn)
		}
		if t.Description != "" {
			fmt.Fprintf(&b, "-- %s\n", oneLine(t.Description))
		}
		fmt.Fprintf(&b, "CREATE TABLE %s (\n", name)
		for i, c := range t.Columns {
			fmt.Fprintf(&b, "  %s %s", c.Name, c.Type)
			if !c.Nullable {
				b.WriteString(" NOT NULL")
			}
			if i < len(t.Columns)-1 {
				b.WriteString(",")
			}
			if c.Description != "" {
				fmt.Fprintf(&b, " -- %s", oneLine(c.Description))
			}
			b.WriteString("\n")
		}
		b.WriteString(");\n")
	}
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Static serves a fixed description.
type Static struct {
	text string
}

// NewStatic renders d once.
func NewStatic(d *Description) *Static {
	return &Static{text: Render(d)}
}

// Context implements Provider.
func (s *Static) Context(ctx context.Context) (string, error) {
	return s.text, nil
}
