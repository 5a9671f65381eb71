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

// Package pgxdriver provides a PostgreSQL connection pool backed by pgx/v5
// and the read-only transaction helper the query sandbox runs inside.
//
// Pools created here send an out-of-band cancel request when a context is
// cancelled mid-query, before pgx tears down the socket, so the backend
// stops working instead of running to completion.
//
// Usage:
//
//	pool, err := pgxdriver.NewPool(ctx, cfg, tracer)
//	defer pool.Close()
//
//	err = pgxdriver.RunReadOnly(ctx, pool, settings, func(ctx context.Context, tx pgx.Tx) error {
//		rows, err := tx.Query(ctx, sql)
//		...
//	})
package pgxdriver
