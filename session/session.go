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
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tomoncle/unitofwork/database"
	"github.com/tomoncle/unitofwork/utils"
	"github.com/uptrace/bun"
)

// Context is the unit of work a repository operates on. User contexts
// usually embed *Session.
type Context interface {
	ID() string
	DB() bun.IDB
	Tracker() *Tracker
	SaveChanges(ctx context.Context) error
	SetLazyLoading(enabled bool)
	LazyLoading() bool
	LoadRelation(ctx context.Context, entity any, relation string) error
	Closed() bool
	Close() error
}

// Option configures a Session.
type Option func(*Session)

// WithLazyLoading sets whether related entities may be loaded on demand.
func WithLazyLoading(enabled bool) Option {
	return func(s *Session) { s.lazy = enabled }
}

// WithRowsAffectedCheck sets whether an update or delete that touches no
// row fails the save with ErrNoRowsAffected.
func WithRowsAffectedCheck(enabled bool) Option {
	return func(s *Session) { s.checkRows = enabled }
}

// WithLogger sets the logger receiving save timings.
func WithLogger(logger database.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithCloser registers a function run once when the session closes.
func WithCloser(closer func() error) Option {
	return func(s *Session) { s.closer = closer }
}

// Session tracks entities against one Bun database and flushes them in a
// single transaction. A Session is not safe for concurrent use.
type Session struct {
	id        string
	db        *bun.DB
	tracker   *Tracker
	lazy      bool
	checkRows bool
	logger    database.Logger
	closer    func() error
	closed    bool
}

var _ Context = (*Session)(nil)

// New returns a session over db. The caller keeps ownership of db.
func New(db *bun.DB, opts ...Option) *Session {
	s := &Session{
		id:        uuid.NewString(),
		db:        db,
		tracker:   NewTracker(db.Table),
		lazy:      true,
		checkRows: true,
		logger:    database.GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects a new database manager for cfg and returns a session that
// owns it. Closing the session disconnects the manager.
func Open(ctx context.Context, cfg *database.ConnectionConfig, opts ...Option) (*Session, error) {
	if err := database.ValidateConnectionConfig(cfg); err != nil {
		return nil, err
	}
	mgr := database.NewDatabaseManager(cfg)
	if err := mgr.Connect(ctx); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	opts = append(opts, WithCloser(mgr.Disconnect))
	return New(mgr.GetDB(), opts...), nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) DB() bun.IDB { return s.db }

func (s *Session) Tracker() *Tracker { return s.tracker }

func (s *Session) SetLazyLoading(enabled bool) { s.lazy = enabled }

func (s *Session) LazyLoading() bool { return s.lazy }

func (s *Session) Closed() bool { return s.closed }

// SaveChanges writes every pending entry in one transaction. The tracker is
// reset on success and left untouched on failure.
func (s *Session) SaveChanges(ctx context.Context) error {
	if s.closed {
		return ErrSessionClosed
	}
	pending := s.tracker.Pending()
	if len(pending) == 0 {
		return nil
	}
	start := time.Now()
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, e := range pending {
			if err := s.write(ctx, tx, e); err != nil {
				return fmt.Errorf("save %s %s: %w", e.State, e.Key, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.tracker.Reset()
	s.logger.Debug("changes saved", "session", s.id, "entries", len(pending), "elapsed", utils.Since(start))
	return nil
}

func (s *Session) write(ctx context.Context, tx bun.Tx, e *Entry) error {
	var (
		res sql.Result
		err error
	)
	switch e.State {
	case Added:
		_, err = tx.NewInsert().Model(e.Entity).Exec(ctx)
		return err
	case Modified:
		res, err = tx.NewUpdate().Model(e.Entity).WherePK().Exec(ctx)
	case Deleted:
		res, err = tx.NewDelete().Model(e.Entity).WherePK().Exec(ctx)
	default:
		return nil
	}
	if err != nil || !s.checkRows {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

// LoadRelation loads the named relation of entity, refreshing entity from
// the store by primary key.
func (s *Session) LoadRelation(ctx context.Context, entity any, relation string) error {
	if s.closed {
		return ErrSessionClosed
	}
	if !s.lazy {
		return ErrLazyLoadingDisabled
	}
	if isNil(entity) {
		return ErrNilEntity
	}
	return s.db.NewSelect().Model(entity).WherePK().Relation(relation).Scan(ctx)
}

// Close releases the session. Calling Close more than once is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.tracker.Reset()
	if s.closer != nil {
		return s.closer()
	}
	return nil
}
