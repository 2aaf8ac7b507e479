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

package unitofwork

import (
	"context"
	"errors"
	"sync"

	"github.com/tomoncle/unitofwork/database"
	"github.com/tomoncle/unitofwork/repository"
	"github.com/tomoncle/unitofwork/session"
	"github.com/tomoncle/unitofwork/types"
)

var (
	ErrNotInitialized = errors.New("database not initialized")
	ErrSaveFailed     = errors.New("save failed")
)

// UnitOfWork is the repository handed to Service.Do.
type UnitOfWork[T any] = repository.Repository[*session.Session, T]

type Service[T any] interface {
	// Get returns a single entity by its identifier, nil when absent.
	Get(ctx context.Context, id any) (*T, error)

	// All returns all entities.
	All(ctx context.Context) ([]*T, error)

	// List returns entities that match the provided filter.
	List(ctx context.Context, filter *types.QueryFilter) ([]*T, error)

	// Page returns a paginated list of entities.
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)

	// Create inserts one or more new entities.
	Create(ctx context.Context, models ...*T) error

	// Update writes the full representation of existing entities.
	Update(ctx context.Context, models ...*T) error

	// Delete removes existing entities.
	Delete(ctx context.Context, models ...*T) error

	// Do runs fn in a fresh unit of work and saves it when fn succeeds.
	Do(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork[T]) error) error
}

type baseServiceImpl[T any] struct {
	opts repository.Options
	once sync.Once
}

// NewService returns a default Service implementation. Every call opens a
// session on the global database, so a Service is safe for concurrent use.
func NewService[T any]() Service[T] {
	return &baseServiceImpl[T]{}
}

func (s *baseServiceImpl[T]) options() repository.Options {
	s.once.Do(func() {
		s.opts.Loggers = database.NewLoggerProvider()
		if cfg := database.GetConfig(); cfg != nil {
			s.opts.Logging = cfg.LoggingConfig
		}
	})
	return s.opts
}

func (s *baseServiceImpl[T]) open() (UnitOfWork[T], error) {
	db := database.GetDB()
	if db == nil {
		return nil, ErrNotInitialized
	}
	return repository.New[*session.Session, T](func() (*session.Session, error) {
		return session.New(db), nil
	}, s.options())
}

func (s *baseServiceImpl[T]) read(fn func(UnitOfWork[T]) error) error {
	repo, err := s.open()
	if err != nil {
		return err
	}
	defer repo.Close()
	return fn(repo)
}

func (s *baseServiceImpl[T]) Get(ctx context.Context, id any) (entity *T, err error) {
	err = s.read(func(repo UnitOfWork[T]) error {
		entity, err = repo.FindFirst(ctx, types.NewQueryFilter("id = ?", id))
		return err
	})
	return entity, err
}

func (s *baseServiceImpl[T]) All(ctx context.Context) ([]*T, error) {
	return s.List(ctx, nil)
}

func (s *baseServiceImpl[T]) List(ctx context.Context, filter *types.QueryFilter) (entities []*T, err error) {
	err = s.read(func(repo UnitOfWork[T]) error {
		entities, err = repo.FindMany(ctx, filter)
		return err
	})
	return entities, err
}

func (s *baseServiceImpl[T]) Page(ctx context.Context, page *types.PageRequest) (pagination *types.Pagination[T], err error) {
	err = s.read(func(repo UnitOfWork[T]) error {
		pagination, err = repo.Page(ctx, page)
		return err
	})
	return pagination, err
}

func (s *baseServiceImpl[T]) Create(ctx context.Context, models ...*T) error {
	return s.Do(ctx, func(_ context.Context, uow UnitOfWork[T]) error {
		return uow.InsertMany(models)
	})
}

func (s *baseServiceImpl[T]) Update(ctx context.Context, models ...*T) error {
	return s.Do(ctx, func(_ context.Context, uow UnitOfWork[T]) error {
		return uow.UpdateMany(models)
	})
}

func (s *baseServiceImpl[T]) Delete(ctx context.Context, models ...*T) error {
	return s.Do(ctx, func(_ context.Context, uow UnitOfWork[T]) error {
		return uow.RemoveMany(models)
	})
}

// Do disposes the unit of work on every path. Nothing is written when fn
// returns an error.
func (s *baseServiceImpl[T]) Do(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork[T]) error) (err error) {
	uow, err := s.open()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := uow.Dispose(true); err == nil {
			err = cerr
		}
	}()
	if err = fn(ctx, uow); err != nil {
		return err
	}
	if !uow.Save(ctx).OK() {
		return ErrSaveFailed
	}
	return nil
}
