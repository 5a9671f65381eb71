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
package schema

import (
	"context"
	"fmt"

	"github.com/teradata-labs/spendq/pkg/fabric"
)

// Introspector builds a Description from the live database, keeping the
// tables, fact table and descriptions of a base description.
type Introspector struct {
	source fabric.SchemaSource
	base   *Description
}

// NewIntrospector creates an introspector over source. Only tables named in
// base are read.
func NewIntrospector(source fabric.SchemaSource, base *Description) *Introspector {
	return &Introspector{source: source, base: base}
}

// Describe reads column metadata for every base table. Tables missing from
// the database are dropped; the fact table must exist.
func (i *Introspector) Describe(ctx context.Context) (*Description, error) {
	live, err := i.source.TableSchemas(ctx, i.base.TableNames())
	if err != nil {
		return nil, fmt.Errorf("failed to introspect schema: %w", err)
	}

	out := &Description{
		FactTable:      i.base.FactTable,
		FactDateColumn: i.base.FactDateColumn,
	}
	for _, ts := range live {
		t := Table{Name: ts.QualifiedName(), Description: ts.Comment}
		baseTable := i.base.Table(t.Name)
		if baseTable != nil && baseTable.Description != "" {
			t.Description = baseTable.Description
		}
		for _, f := range ts.Columns {
			c := Column{Name: f.Name, Type: f.Type, Nullable: f.Nullable, Description: f.Comment}
			if baseTable != nil {
				if bc := baseTable.column(f.Name); bc != nil && bc.Description != "" {
					c.Description = bc.Description
				}
			}
			t.Columns = append(t.Columns, c)
		}
		out.Tables = append(out.Tables, t)
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("introspected schema is unusable: %w", err)
	}
	return out, nil
}

func (t *Table) column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}
