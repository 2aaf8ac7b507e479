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

package repository

import (
	"context"

	"github.com/tomoncle/unitofwork/query"
	"github.com/tomoncle/unitofwork/session"
	"github.com/tomoncle/unitofwork/types"
)

// TrackingRepository marks entities for the next save. No I/O happens.
type TrackingRepository[T any] interface {
	Insert(entity *T) error
	InsertMany(entities []*T) error
	Update(entity *T) error
	UpdateMany(entities []*T) error
	Remove(entity *T) error
	RemoveMany(entities []*T) error
	Detach(entity *T) error
	DetachMany(entities []*T) error
	State(entity *T) session.State
}

// QueryRepository reads entities. A nil filter matches every entity and a
// skip or take of 0 means no offset or no limit.
type QueryRepository[T any] interface {
	FindFirst(ctx context.Context, filter *types.QueryFilter) (*T, error)
	Exists(ctx context.Context, filter *types.QueryFilter) (bool, error)
	FindMany(ctx context.Context, filter *types.QueryFilter) ([]*T, error)
	Query(filter *types.QueryFilter, skip, take int) query.Spec
	Materialize(ctx context.Context, spec query.Spec) ([]*T, error)
	Load(ctx context.Context, spec query.Spec) []*T
	FindWith(ctx context.Context, filter *types.QueryFilter, skip, take int, includes ...string) ([]*T, error)
	Count(ctx context.Context, filter *types.QueryFilter) (int, error)
	LoadRelated(ctx context.Context, entity *T, relation string) error
}

// PageQueryRepository defines pagination functionality for listing entities.
type PageQueryRepository[T any] interface {
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)
}

// Repository combines tracking, querying and pagination over one entity type
// and one unit of work, plus save and disposal.
type Repository[S session.Context, T any] interface {
	TrackingRepository[T]
	QueryRepository[T]
	PageQueryRepository[T]

	Ready() error
	SetLazyLoading(enabled bool)
	Save(ctx context.Context) types.SaveOutcome
	Dispose(disposeSession bool) error
	Close() error
	Session() S
}
