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
	"sort"
	"strings"
)

// DefaultSchema is the only schema accepted when RequirePublicSchema is set.
const DefaultSchema = "public"

// DefaultDeniedFunctions blocks sleeps, file and large-object access,
// cross-database links, session configuration, backend signalling and
// sequence mutation. A trailing "*" matches by prefix.
var DefaultDeniedFunctions = []string{
	"pg_sleep*",
	"pg_read_file",
	"pg_read_binary_file",
	"pg_ls_dir",
	"pg_ls_*",
	"pg_stat_file",
	"pg_file_write",
	"lo_*",
	"dblink*",
	"postgres_fdw*",
	"set_config",
	"current_setting",
	"pg_reload_conf",
	"pg_rotate_logfile",
	"pg_terminate_backend",
	"pg_cancel_backend",
	"pg_advisory*",
	"pg_try_advisory*",
	"nextval",
	"setval",
	"query_to_xml*",
	"table_to_xml*",
	"database_to_xml*",
	"pg_notify",
}

// Policy controls what Validate accepts.
type Policy struct {
	// AllowedTables lists schema-qualified table names. Unqualified entries
	// are taken to be in the public schema. Empty means no allowlist check.
	AllowedTables []string

	// RequirePublicSchema rejects any relation outside the public schema.
	RequirePublicSchema bool

	// DeniedFunctions lists function names that may not be called anywhere
	// in the statement. Matching is case-insensitive and ignores schema.
	DeniedFunctions []string
}

// DefaultPolicy returns a policy with the default denylist, public schema
// enforcement and the given allowlist.
func DefaultPolicy(allowed ...string) Policy {
	denied := make([]string, len(DefaultDeniedFunctions))
	copy(denied, DefaultDeniedFunctions)
	return Policy{
		AllowedTables:       allowed,
		RequirePublicSchema: true,
		DeniedFunctions:     denied,
	}
}

// QualifiedAllowlist returns the normalized, sorted allowlist.
func (p Policy) QualifiedAllowlist() []string {
	out := make([]string, 0, len(p.AllowedTables))
	seen := make(map[string]struct{}, len(p.AllowedTables))
	for _, t := range p.AllowedTables {
		q := QualifyTable(t)
		if q == "" {
			continue
		}
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	sort.Strings(out)
	return out
}

// QualifyTable lowercases a table name and adds the public schema when it
// has none.
func QualifyTable(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ""
	}
	if !strings.Contains(name, ".") {
		return DefaultSchema + "." + name
	}
	return name
}

type compiledPolicy struct {
	policy  Policy
	allowed map[string]struct{}
	exact   map[string]struct{}
	prefix  []string
}

func compile(p Policy) *compiledPolicy {
	c := &compiledPolicy{
		policy: p,
		exact:  make(map[string]struct{}),
	}
	if len(p.AllowedTables) > 0 {
		c.allowed = make(map[string]struct{}, len(p.AllowedTables))
		for _, t := range p.QualifiedAllowlist() {
			c.allowed[t] = struct{}{}
		}
	}
	for _, f := range p.DeniedFunctions {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		if strings.HasSuffix(f, "*") {
			c.prefix = append(c.prefix, strings.TrimSuffix(f, "*"))
			continue
		}
		c.exact[f] = struct{}{}
	}
	return c
}

func (c *compiledPolicy) functionDenied(name string) bool {
	name = strings.ToLower(name)
	if _, ok := c.exact[name]; ok {
		return true
	}
	for _, p := range c.prefix {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func (c *compiledPolicy) tableAllowed(qualified string) bool {
	if c.allowed == nil {
		return true
	}
	_, ok := c.allowed[qualified]
	return ok
}
