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

// Package sqlguard parses model-written SQL with the PostgreSQL parser and
// decides whether it may run.
//
// Validate accepts exactly one SELECT-family statement (SELECT, set
// operations, WITH, VALUES) and rejects locking clauses, data-modifying
// CTEs, functions used as row sources, denylisted functions and relations
// outside the allowlist. The accepted statement is re-printed from its parse
// tree, so comments, odd whitespace and alternate literal spellings never
// reach the database. Clamp then bounds the number of rows it can return.
package sqlguard

import (
	"fmt"
	"sort"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/proto"
)

// Shape is the top-level form of an accepted statement.
type Shape string

const (
	ShapeSelect Shape = "select"
	ShapeSetOp  Shape = "set_operation"
	ShapeWith   Shape = "with"
	ShapeValues Shape = "values"
)

// Statement is a validated, canonicalized statement.
type Statement struct {
	// Canonical is the statement re-printed from its parse tree.
	Canonical string

	// Shape is the top-level form.
	Shape Shape

	// Tables lists every referenced relation, schema-qualified and sorted.
	// CTE names are not included.
	Tables []string

	// Functions lists every called function name, sorted.
	Functions []string

	selectStmt *pg_query.SelectStmt
}

// Select returns the top-level SELECT node.
func (s *Statement) Select() *pg_query.SelectStmt {
	return s.selectStmt
}

// References reports whether the statement reads the given table.
func (s *Statement) References(table string) bool {
	q := QualifyTable(table)
	for _, t := range s.Tables {
		if t == q {
			return true
		}
	}
	return false
}

// Validate parses sql and checks it against policy. It performs no I/O.
func Validate(sql string, policy Policy) (*Statement, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, reject(RuleEmpty, "empty SQL statement")
	}

	tree, err := pg_query.Parse(sql)
	if err != nil {
		return nil, reject(RuleParse, "could not parse SQL: %v", err)
	}

	stmts := tree.GetStmts()
	switch {
	case len(stmts) == 0:
		return nil, reject(RuleEmpty, "empty SQL statement")
	case len(stmts) > 1:
		return nil, reject(RuleMultiStatement, "only one statement is allowed, got %d", len(stmts))
	}

	root := stmts[0].GetStmt()
	sel := root.GetSelectStmt()
	if sel == nil {
		return nil, reject(RuleStatementKind,
			"only SELECT, WITH, UNION and VALUES statements are allowed, got %s", nodeKind(root))
	}

	c := compile(policy)
	tables := make(map[string]struct{})
	funcs := make(map[string]struct{})

	err = walk(tree.ProtoReflect(), nil, func(msg proto.Message, scope cteScope) error {
		switch n := msg.(type) {
		case *pg_query.SelectStmt:
			if n.GetIntoClause() != nil {
				return reject(RuleSelectInto, "SELECT ... INTO is not allowed")
			}
			if len(n.GetLockingClause()) > 0 {
				return reject(RuleLocking, "SELECT ... FOR UPDATE/SHARE locking clauses are not allowed")
			}
		case *pg_query.InsertStmt, *pg_query.UpdateStmt, *pg_query.DeleteStmt, *pg_query.MergeStmt:
			return reject(RuleDataModifying, "data-modifying statements are not allowed")
		case *pg_query.RangeFunction:
			return reject(RuleFromFunction, "functions are not allowed as FROM-clause row sources")
		case *pg_query.RangeTableFunc:
			return reject(RuleFromFunction, "table functions are not allowed as FROM-clause row sources")
		case *pg_query.FuncCall:
			_, name := funcName(n)
			if name == "" {
				return nil
			}
			funcs[strings.ToLower(name)] = struct{}{}
			if c.functionDenied(name) {
				ve := reject(RuleDeniedFunction, "function %s is not allowed", name)
				ve.Function = name
				return ve
			}
		case *pg_query.RangeVar:
			return checkRelation(c, n, scope, tables)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	canonical, err := pg_query.Deparse(tree)
	if err != nil {
		return nil, reject(RuleParse, "could not re-print SQL: %v", err)
	}

	return &Statement{
		Canonical:  canonical,
		Shape:      shapeOf(sel),
		Tables:     sortedKeys(tables),
		Functions:  sortedKeys(funcs),
		selectStmt: sel,
	}, nil
}

func checkRelation(c *compiledPolicy, rv *pg_query.RangeVar, scope cteScope, tables map[string]struct{}) error {
	schema := rv.GetSchemaname()
	name := rv.GetRelname()

	if schema == "" && scope.has(name) {
		return nil
	}
	if rv.GetCatalogname() != "" {
		ve := reject(RuleSchema, "cross-database reference %s.%s.%s is not allowed", rv.GetCatalogname(), schema, name)
		ve.Table = name
		return ve
	}
	if c.policy.RequirePublicSchema && schema != "" && schema != DefaultSchema {
		ve := reject(RuleSchema, "schema %s is not allowed; only the %s schema may be queried", schema, DefaultSchema)
		ve.Table = schema + "." + name
		return ve
	}

	if schema == "" {
		schema = DefaultSchema
	}
	qualified := schema + "." + name
	if !c.tableAllowed(qualified) {
		ve := reject(RuleTableNotAllowed, "table %s is not allowed", qualified)
		ve.Table = qualified
		return ve
	}
	tables[qualified] = struct{}{}
	return nil
}

func shapeOf(sel *pg_query.SelectStmt) Shape {
	switch {
	case sel.GetWithClause() != nil:
		return ShapeWith
	case isSetOp(sel):
		return ShapeSetOp
	case len(sel.GetValuesLists()) > 0:
		return ShapeValues
	default:
		return ShapeSelect
	}
}

func isSetOp(sel *pg_query.SelectStmt) bool {
	op := sel.GetOp()
	return op != pg_query.SetOperation_SETOP_NONE && op != pg_query.SetOperation_SET_OPERATION_UNDEFINED
}

func nodeKind(n *pg_query.Node) string {
	if n == nil || n.GetNode() == nil {
		return "unknown statement"
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", n.GetNode()), "*pg_query.Node_")
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
