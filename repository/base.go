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
	"fmt"
	"reflect"

	"github.com/tomoncle/unitofwork/database"
	"github.com/tomoncle/unitofwork/query"
	"github.com/tomoncle/unitofwork/session"
	"github.com/tomoncle/unitofwork/types"
)

type baseRepositoryImpl[S session.Context, T any] struct {
	session  S
	set      *session.Set[T]
	owned    bool
	logger   database.Logger
	disposed bool
}

// New opens a session with open and returns a repository that owns it.
// The logging policy is checked before the session is opened.
func New[S session.Context, T any](open func() (S, error), opts Options) (Repository[S, T], error) {
	logger, err := opts.resolveLogger(loggerName[T]())
	if err != nil {
		return nil, err
	}
	if open == nil {
		return nil, &ConfigError{Field: "open", Err: ErrNoSession}
	}
	s, err := open()
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	if isNil(s) {
		return nil, &ConfigError{Field: "open", Err: ErrNoSession}
	}
	return newRepository[S, T](s, true, logger), nil
}

// NewWithSession returns a repository over a session the caller owns.
func NewWithSession[S session.Context, T any](s S, opts Options) (Repository[S, T], error) {
	logger, err := opts.resolveLogger(loggerName[T]())
	if err != nil {
		return nil, err
	}
	if isNil(s) {
		return nil, &ConfigError{Field: "session", Err: ErrNoSession}
	}
	return newRepository[S, T](s, false, logger), nil
}

func newRepository[S session.Context, T any](s S, owned bool, logger database.Logger) *baseRepositoryImpl[S, T] {
	return &baseRepositoryImpl[S, T]{
		session: s,
		set:     session.SetOf[T](s),
		owned:   owned,
		logger:  logger,
	}
}

func loggerName[T any]() string {
	return fmt.Sprintf("Repository[%s]", reflect.TypeOf((*T)(nil)).Elem().Name())
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Ptr && rv.IsNil()
}

func (r *baseRepositoryImpl[S, T]) Session() S { return r.session }

// Ready reports ErrDisposed or session.ErrSessionClosed when the repository
// can no longer be used.
func (r *baseRepositoryImpl[S, T]) Ready() error {
	if r.disposed {
		return ErrDisposed
	}
	if r.session.Closed() {
		return session.ErrSessionClosed
	}
	return nil
}

func (r *baseRepositoryImpl[S, T]) Insert(entity *T) error {
	return r.track(entity, r.set.Add)
}

func (r *baseRepositoryImpl[S, T]) InsertMany(entities []*T) error {
	return r.trackMany(entities, r.set.Add)
}

func (r *baseRepositoryImpl[S, T]) Update(entity *T) error {
	return r.track(entity, r.set.Update)
}

func (r *baseRepositoryImpl[S, T]) UpdateMany(entities []*T) error {
	return r.trackMany(entities, r.set.Update)
}

func (r *baseRepositoryImpl[S, T]) Remove(entity *T) error {
	return r.track(entity, r.set.Remove)
}

func (r *baseRepositoryImpl[S, T]) RemoveMany(entities []*T) error {
	return r.trackMany(entities, r.set.Remove)
}

func (r *baseRepositoryImpl[S, T]) Detach(entity *T) error {
	return r.track(entity, r.set.Detach)
}

func (r *baseRepositoryImpl[S, T]) DetachMany(entities []*T) error {
	return r.trackMany(entities, r.set.Detach)
}

func (r *baseRepositoryImpl[S, T]) State(entity *T) session.State {
	if r.disposed {
		return session.Unmanaged
	}
	return r.set.State(entity)
}

func (r *baseRepositoryImpl[S, T]) track(entity *T, mark func(*T) error) error {
	if err := r.Ready(); err != nil {
		return err
	}
	return mark(entity)
}

// trackMany validates every entity before marking any of them.
func (r *baseRepositoryImpl[S, T]) trackMany(entities []*T, mark func(*T) error) error {
	if err := r.Ready(); err != nil {
		return err
	}
	tracker := r.session.Tracker()
	for i, entity := range entities {
		if entity == nil {
			return fmt.Errorf("entity %d: %w", i, session.ErrNilEntity)
		}
		if _, err := tracker.Key(entity); err != nil {
			return fmt.Errorf("entity %d: %w", i, err)
		}
	}
	for _, entity := range entities {
		if err := mark(entity); err != nil {
			return err
		}
	}
	return nil
}

// FindFirst returns the first match, or nil when nothing matches.
func (r *baseRepositoryImpl[S, T]) FindFirst(ctx context.Context, filter *types.QueryFilter) (*T, error) {
	if err := r.Ready(); err != nil {
		return nil, err
	}
	return r.set.First(ctx, query.New(filter))
}

func (r *baseRepositoryImpl[S, T]) Exists(ctx context.Context, filter *types.QueryFilter) (bool, error) {
	if err := r.Ready(); err != nil {
		return false, err
	}
	return r.set.Exists(ctx, query.New(filter))
}

func (r *baseRepositoryImpl[S, T]) FindMany(ctx context.Context, filter *types.QueryFilter) ([]*T, error) {
	return r.Materialize(ctx, query.New(filter))
}

func (r *baseRepositoryImpl[S, T]) Count(ctx context.Context, filter *types.QueryFilter) (int, error) {
	if err := r.Ready(); err != nil {
		return 0, err
	}
	return r.set.Count(ctx, query.New(filter))
}

// Query returns an unmaterialized spec. It performs no I/O.
func (r *baseRepositoryImpl[S, T]) Query(filter *types.QueryFilter, skip, take int) query.Spec {
	return query.New(filter).Skip(skip).Take(take)
}

func (r *baseRepositoryImpl[S, T]) Materialize(ctx context.Context, spec query.Spec) ([]*T, error) {
	if err := r.Ready(); err != nil {
		return nil, err
	}
	return r.set.Find(ctx, spec)
}

// Load materializes spec and absorbs any failure: a query failure is
// reported to the diagnostics logger and an empty result is returned. A
// disposed repository or closed session yields an empty result unreported.
func (r *baseRepositoryImpl[S, T]) Load(ctx context.Context, spec query.Spec) []*T {
	if r.Ready() != nil {
		return make([]*T, 0)
	}
	items, err := r.Materialize(ctx, spec)
	if err != nil {
		r.report("failed to load entities", err)
		return make([]*T, 0)
	}
	return items
}

func (r *baseRepositoryImpl[S, T]) FindWith(ctx context.Context, filter *types.QueryFilter, skip, take int, includes ...string) ([]*T, error) {
	return r.Materialize(ctx, r.Query(filter, skip, take).Include(includes...))
}

func (r *baseRepositoryImpl[S, T]) Page(ctx context.Context, pageRequest *types.PageRequest) (*types.Pagination[T], error) {
	if pageRequest == nil {
		pageRequest = types.NewDefaultPageRequest(1, 10)
	}
	pagination := types.NewDefaultPagination[T](pageRequest.GetPage(), pageRequest.GetPageSize())
	total, err := r.Count(ctx, pageRequest.GetFilter())
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return pagination, nil
	}
	spec := query.New(pageRequest.GetFilter()).
		OrderBy(pageRequest.GetOrders()...).
		Skip(pageRequest.GetOffset()).
		Take(pageRequest.GetPageSize())
	items, err := r.Materialize(ctx, spec)
	if err != nil {
		return nil, err
	}
	pagination.Total = total
	pagination.Items = items
	return pagination, nil
}

// LoadRelated fetches one navigation of entity on demand. It fails with
// session.ErrLazyLoadingDisabled while lazy loading is off.
func (r *baseRepositoryImpl[S, T]) LoadRelated(ctx context.Context, entity *T, relation string) error {
	if err := r.Ready(); err != nil {
		return err
	}
	if entity == nil {
		return session.ErrNilEntity
	}
	return r.session.LoadRelation(ctx, entity, relation)
}

func (r *baseRepositoryImpl[S, T]) SetLazyLoading(enabled bool) {
	if r.disposed {
		return
	}
	r.session.SetLazyLoading(enabled)
}

// Save flushes the session. Save failures are reported to the diagnostics
// logger and reduced to types.SaveFailed. A disposed repository or closed
// session fails without a report.
func (r *baseRepositoryImpl[S, T]) Save(ctx context.Context) types.SaveOutcome {
	if r.Ready() != nil {
		return types.SaveFailed
	}
	if err := r.session.SaveChanges(ctx); err != nil {
		r.report("failed to save changes", err)
		return types.SaveFailed
	}
	return types.SaveOK
}

// Dispose releases the entity set and, when disposeSession is set or the
// repository opened the session itself, the session too. Only the first
// call has an effect.
func (r *baseRepositoryImpl[S, T]) Dispose(disposeSession bool) error {
	if r.disposed {
		return nil
	}
	r.disposed = true
	r.set = nil
	if disposeSession || r.owned {
		return r.session.Close()
	}
	return nil
}

func (r *baseRepositoryImpl[S, T]) Close() error { return r.Dispose(false) }

func (r *baseRepositoryImpl[S, T]) report(msg string, err error) {
	if r.logger == nil {
		return
	}
	r.logger.Error(msg,
		"error", err,
		"sql_error", database.ClassifySQLError(err).String(),
		"session", r.session.ID(),
	)
}
