/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package query

import (
	"context"
	"database/sql"
	"errors"
	"math"

	"github.com/tomoncle/unitofwork/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/schema"
)

// ErrNegativeWindow is returned when a spec carries a negative skip or take.
var ErrNegativeWindow = errors.New("query: skip and take must not be negative")

// Spec is an immutable description of one read: filters, pagination window,
// eager-load paths and ordering. Building a Spec never touches the store.
//
// A skip of 0 means no offset and a take of 0 means no limit.
type Spec struct {
	filters  []*types.QueryFilter
	skip     int
	take     int
	includes []string
	orders   []string
}

// New returns a spec filtered by filter. A nil filter selects every row.
func New(filter *types.QueryFilter) Spec {
	return Spec{}.Where(filter)
}

// Where returns a copy of s additionally restricted by filter.
func (s Spec) Where(filter *types.QueryFilter) Spec {
	if filter.IsEmpty() {
		return s
	}
	s.filters = append(clone(s.filters), filter)
	return s
}

// Skip returns a copy of s that drops the first n matches.
func (s Spec) Skip(n int) Spec {
	s.skip = n
	return s
}

// Take returns a copy of s that yields at most n matches.
func (s Spec) Take(n int) Spec {
	s.take = n
	return s
}

// Include returns a copy of s that eager-loads the given relation paths,
// e.g. "Orders" or "Orders.Items".
func (s Spec) Include(paths ...string) Spec {
	s.includes = append(clone(s.includes), paths...)
	return s
}

// OrderBy returns a copy of s ordered by the given expressions ("id DESC").
func (s Spec) OrderBy(orders ...string) Spec {
	s.orders = append(clone(s.orders), orders...)
	return s
}

func (s Spec) SkipCount() int { return s.skip }

func (s Spec) TakeCount() int { return s.take }

func (s Spec) Includes() []string { return clone(s.includes) }

// Filter returns the conjunction of every filter, nil when unfiltered.
func (s Spec) Filter() *types.QueryFilter {
	var f *types.QueryFilter
	for _, next := range s.filters {
		f = f.And(next)
	}
	return f
}

// Validate reports precondition violations of the spec.
func (s Spec) Validate() error {
	if s.skip < 0 || s.take < 0 {
		return ErrNegativeWindow
	}
	return nil
}

// Apply composes s onto q in the order filter, skip, take, includes. The
// window applies to the filtered rows.
func (s Spec) Apply(q *bun.SelectQuery, d schema.Dialect) *bun.SelectQuery {
	q = s.applyFilter(q)
	for _, order := range s.orders {
		q = q.Order(order)
	}
	if s.skip > 0 {
		q = q.Offset(s.skip)
		if s.take == 0 {
			q = unbounded(q, d)
		}
	}
	if s.take > 0 {
		q = q.Limit(s.take)
	}
	for _, path := range s.includes {
		q = q.Relation(path)
	}
	return q
}

func (s Spec) applyFilter(q *bun.SelectQuery) *bun.SelectQuery {
	for _, f := range s.filters {
		q = q.Where(f.Schema, f.Args...)
	}
	return q
}

// unbounded adds the limit some dialects need before an OFFSET.
func unbounded(q *bun.SelectQuery, d schema.Dialect) *bun.SelectQuery {
	if d == nil {
		return q
	}
	switch d.Name() {
	case dialect.SQLite, dialect.MySQL:
		return q.Limit(math.MaxInt)
	default:
		return q
	}
}

// Run materializes every entity matching s.
func Run[T any](ctx context.Context, db bun.IDB, s Spec) ([]*T, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	entities := make([]*T, 0)
	if err := s.Apply(db.NewSelect().Model(&entities), db.Dialect()).Scan(ctx); err != nil {
		return nil, err
	}
	return entities, nil
}

// First returns the first entity matching s, or nil when there is none.
// The window of s is ignored except for its offset.
func First[T any](ctx context.Context, db bun.IDB, s Spec) (*T, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	entity := new(T)
	err := s.Take(1).Apply(db.NewSelect().Model(entity), db.Dialect()).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// Exists reports whether any entity matches the filters of s.
func Exists[T any](ctx context.Context, db bun.IDB, s Spec) (bool, error) {
	return s.applyFilter(db.NewSelect().Model((*T)(nil))).Exists(ctx)
}

// Count returns the number of entities matching the filters of s.
func Count[T any](ctx context.Context, db bun.IDB, s Spec) (int, error) {
	return s.applyFilter(db.NewSelect().Model((*T)(nil))).Count(ctx)
}

func clone[E any](in []E) []E {
	if in == nil {
		return nil
	}
	out := make([]E, len(in))
	copy(out, in)
	return out
}
