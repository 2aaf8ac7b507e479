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

package session

import (
	"context"

	"github.com/tomoncle/unitofwork/query"
)

// Set is the collection of entities of type T scoped to a session. It holds
// no state of its own.
type Set[T any] struct {
	ctx Context
}

// SetOf returns the entity set of T in c.
func SetOf[T any](c Context) *Set[T] {
	return &Set[T]{ctx: c}
}

func (s *Set[T]) Add(entity *T) error { return s.track(entity, Added) }

func (s *Set[T]) Update(entity *T) error { return s.track(entity, Modified) }

func (s *Set[T]) Remove(entity *T) error { return s.track(entity, Deleted) }

func (s *Set[T]) Detach(entity *T) error { return s.track(entity, Detached) }

func (s *Set[T]) State(entity *T) State {
	if entity == nil {
		return Unmanaged
	}
	return s.ctx.Tracker().State(entity)
}

func (s *Set[T]) track(entity *T, state State) error {
	if s.ctx.Closed() {
		return ErrSessionClosed
	}
	if entity == nil {
		return ErrNilEntity
	}
	return s.ctx.Tracker().Track(entity, state)
}

// Find materializes every entity matching spec.
func (s *Set[T]) Find(ctx context.Context, spec query.Spec) ([]*T, error) {
	if s.ctx.Closed() {
		return nil, ErrSessionClosed
	}
	return query.Run[T](ctx, s.ctx.DB(), spec)
}

func (s *Set[T]) First(ctx context.Context, spec query.Spec) (*T, error) {
	if s.ctx.Closed() {
		return nil, ErrSessionClosed
	}
	return query.First[T](ctx, s.ctx.DB(), spec)
}

func (s *Set[T]) Exists(ctx context.Context, spec query.Spec) (bool, error) {
	if s.ctx.Closed() {
		return false, ErrSessionClosed
	}
	return query.Exists[T](ctx, s.ctx.DB(), spec)
}

func (s *Set[T]) Count(ctx context.Context, spec query.Spec) (int, error) {
	if s.ctx.Closed() {
		return 0, ErrSessionClosed
	}
	return query.Count[T](ctx, s.ctx.DB(), spec)
}
