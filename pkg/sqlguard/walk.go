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
package sqlguard

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// cteScope is the set of common table expression names visible at a node.
type cteScope map[string]struct{}

// with returns s extended by the first n CTE names of w.
func (s cteScope) with(w *pg_query.WithClause, n int) cteScope {
	ctes := w.GetCtes()
	if n > len(ctes) {
		n = len(ctes)
	}
	if n <= 0 {
		return s
	}
	next := make(cteScope, len(s)+n)
	for k := range s {
		next[k] = struct{}{}
	}
	for _, node := range ctes[:n] {
		if cte := node.GetCommonTableExpr(); cte != nil {
			next[cte.GetCtename()] = struct{}{}
		}
	}
	return next
}

func (s cteScope) has(name string) bool {
	_, ok := s[name]
	return ok
}

type visitFunc func(msg proto.Message, scope cteScope) error

// walk visits every protobuf message reachable from m, depth first. A
// SelectStmt's WITH names are in scope for the rest of that SelectStmt. In a
// plain WITH each CTE body sees only the CTEs declared before it; WITH
// RECURSIVE bodies see every name in the list.
func walk(m protoreflect.Message, scope cteScope, visit visitFunc) error {
	if !m.IsValid() {
		return nil
	}
	msg := m.Interface()
	if err := visit(msg, scope); err != nil {
		return err
	}

	sel, ok := msg.(*pg_query.SelectStmt)
	if !ok || len(sel.GetWithClause().GetCtes()) == 0 {
		return walkFields(m, scope, "", visit)
	}

	w := sel.GetWithClause()
	if err := visit(w, scope); err != nil {
		return err
	}
	for i, node := range w.GetCtes() {
		visible := i
		if w.GetRecursive() {
			visible = len(w.GetCtes())
		}
		if err := walk(node.ProtoReflect(), scope.with(w, visible), visit); err != nil {
			return err
		}
	}
	return walkFields(m, scope.with(w, len(w.GetCtes())), "with_clause", visit)
}

// walkFields walks every message-typed field of m except skip.
func walkFields(m protoreflect.Message, scope cteScope, skip protoreflect.Name, visit visitFunc) error {
	var err error
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		if fd.Kind() != protoreflect.MessageKind && fd.Kind() != protoreflect.GroupKind {
			return true
		}
		if skip != "" && fd.Name() == skip {
			return true
		}
		switch {
		case fd.IsMap():
		case fd.IsList():
			list := v.List()
			for i := 0; i < list.Len(); i++ {
				if err = walk(list.Get(i).Message(), scope, visit); err != nil {
					return false
				}
			}
		default:
			err = walk(v.Message(), scope, visit)
		}
		return err == nil
	})
	return err
}

// funcName returns the unqualified name of a function call.
func funcName(fc *pg_query.FuncCall) (schema, name string) {
	parts := make([]string, 0, len(fc.GetFuncname()))
	for _, n := range fc.GetFuncname() {
		if s := n.GetString_(); s != nil {
			parts = append(parts, s.GetSval())
		}
	}
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return "", parts[0]
	default:
		return parts[len(parts)-2], parts[len(parts)-1]
	}
}
