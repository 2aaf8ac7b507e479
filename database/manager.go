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

package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
	"github.com/uptrace/bun/schema"
)

const healthPingTimeout = 5 * time.Second

// driver describes how one database type is opened.
type driver struct {
	name    string
	dsn     func(cfg *ConnectionConfig) string
	dialect func() schema.Dialect
}

var drivers = map[string]driver{
	"mysql":      {"mysql", mysqlDSN, func() schema.Dialect { return mysqldialect.New() }},
	"postgres":   {"postgres", postgresDSN, func() schema.Dialect { return pgdialect.New() }},
	"postgresql": {"postgres", postgresDSN, func() schema.Dialect { return pgdialect.New() }},
	"sqlite":     {sqliteshim.ShimName, sqliteConfigDSN, func() schema.Dialect { return sqlitedialect.New() }},
	"sqlite3":    {sqliteshim.ShimName, sqliteConfigDSN, func() schema.Dialect { return sqlitedialect.New() }},
}

// monitor is the health check goroutine bound to one connection.
type monitor struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (m *monitor) stop() {
	m.cancel()
	<-m.done
}

type defaultDatabaseManager struct {
	config *ConnectionConfig

	mu           sync.RWMutex
	db           *bun.DB
	sqlDB        *sql.DB
	logger       Logger
	lastError    error
	healthStatus *HealthStatus
	monitor      *monitor
}

// NewDatabaseManager returns an AbstractDatabaseManager backed by Bun.
// If config is nil, DefaultConnectionConfig is used.
func NewDatabaseManager(config *ConnectionConfig) AbstractDatabaseManager {
	if config == nil {
		config = DefaultConnectionConfig()
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 30 * time.Second
	}
	return &defaultDatabaseManager{config: config, healthStatus: &HealthStatus{}}
}

// Connect opens and pings the database, then starts the health monitor
// when HealthCheckInterval is set. Connecting twice is a no-op.
func (dm *defaultDatabaseManager) Connect(ctx context.Context) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.db != nil {
		return nil
	}
	sqlDB, db, err := dm.open(ctx)
	if err != nil {
		dm.lastError = err
		return err
	}
	dm.sqlDB, dm.db, dm.lastError = sqlDB, db, nil

	if dm.config.HealthCheckInterval > 0 {
		mctx, cancel := context.WithCancel(context.Background())
		dm.monitor = &monitor{cancel: cancel, done: make(chan struct{})}
		go dm.watch(mctx, dm.monitor)
	}
	if dm.logger != nil {
		dm.logger.Info("Database connected successfully", "type", dm.config.Type, "host", dm.config.Host, "dbname", dm.config.DBName)
	}
	return nil
}

// open creates a pooled, pinged connection without touching manager state.
func (dm *defaultDatabaseManager) open(ctx context.Context) (*sql.DB, *bun.DB, error) {
	d, ok := drivers[dm.config.Type]
	if !ok {
		return nil, nil, fmt.Errorf("failed to create database connection: unsupported database type: %s", dm.config.Type)
	}
	sqlDB, err := sql.Open(d.name, d.dsn(dm.config))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	dm.configurePool(sqlDB)

	db := bun.NewDB(sqlDB, d.dialect())
	if dm.config.EnableQueryLog {
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
			bundebug.FromEnv("BUNDEBUG"),
		))
	}
	if dm.config.SlowQueryTime > 0 {
		db.AddQueryHook(newSlowQueryHook(dm.config.SlowQueryTime, dm.logger))
	}

	pingCtx, cancel := context.WithTimeout(ctx, dm.config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("database connection test failed: %w", err)
	}
	return sqlDB, db, nil
}

func mysqlDSN(cfg *ConnectionConfig) string {
	c := mysql.NewConfig()
	c.User = cfg.Username
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	c.DBName = cfg.DBName
	c.ParseTime = true
	c.Loc = time.Local
	c.Timeout = cfg.ConnectTimeout
	c.ReadTimeout = cfg.ReadTimeout
	c.WriteTimeout = cfg.WriteTimeout
	c.Params = map[string]string{"charset": "utf8mb4"}
	return c.FormatDSN()
}

func postgresDSN(cfg *ConnectionConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("connect_timeout", strconv.Itoa(int(cfg.ConnectTimeout.Seconds())))
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.Username, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.DBName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func sqliteConfigDSN(cfg *ConnectionConfig) string {
	return sqliteDSN(cfg.DBName)
}

// sqliteDSN keeps URIs and ":memory:" as given and turns bare names into
// "<name>.db" files.
func sqliteDSN(name string) string {
	switch {
	case name == ":memory:", strings.HasPrefix(name, "file:"), strings.HasSuffix(name, ".db"):
		return name
	default:
		return name + ".db"
	}
}

// configurePool applies positive pool limits; zero keeps database/sql defaults.
func (dm *defaultDatabaseManager) configurePool(sqlDB *sql.DB) {
	if dm.config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(dm.config.MaxIdleConns)
	}
	if dm.config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(dm.config.MaxOpenConns)
	}
	sqlDB.SetConnMaxLifetime(dm.config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(dm.config.ConnMaxIdleTime)
}

// Disconnect stops the health monitor, waits for it to exit and closes the
// connection. Disconnecting twice is a no-op.
func (dm *defaultDatabaseManager) Disconnect() error {
	dm.mu.Lock()
	m := dm.monitor
	dm.monitor = nil
	dm.mu.Unlock()

	if m != nil {
		m.stop()
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.db == nil {
		return nil
	}
	err := dm.db.Close()
	dm.db, dm.sqlDB = nil, nil

	if dm.logger != nil {
		if err != nil {
			dm.logger.Error("Failed to close database connection", "error", err)
		} else {
			dm.logger.Info("Database connection closed")
		}
	}
	return err
}

func (dm *defaultDatabaseManager) Reconnect(ctx context.Context) error {
	if dm.logger != nil {
		dm.logger.Info("Attempting to reconnect to the database")
	}
	if err := dm.Disconnect(); err != nil && dm.logger != nil {
		dm.logger.Warn("Error disconnecting existing connection", "error", err)
	}
	return dm.Connect(ctx)
}

func (dm *defaultDatabaseManager) Ping(ctx context.Context) error {
	db := dm.GetDB()
	if db == nil {
		return fmt.Errorf("database not connected")
	}
	return db.PingContext(ctx)
}

func (dm *defaultDatabaseManager) GetDB() *bun.DB {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.db
}

func (dm *defaultDatabaseManager) GetSQLDB() *sql.DB {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.sqlDB
}

// HealthCheck pings the current connection without holding the manager
// lock and records the result as the latest status.
func (dm *defaultDatabaseManager) HealthCheck(ctx context.Context) *HealthStatus {
	dm.mu.RLock()
	db, sqlDB := dm.db, dm.sqlDB
	dm.mu.RUnlock()

	start := time.Now()
	status := &HealthStatus{LastCheckTime: start}
	if db == nil {
		status.LastError = "Database not initialized"
		return status
	}

	pingCtx, cancel := context.WithTimeout(ctx, healthPingTimeout)
	err := db.PingContext(pingCtx)
	cancel()
	status.ResponseTime = time.Since(start)
	if err != nil {
		status.LastError = err.Error()
	} else {
		status.Healthy = true
		status.Connected = true
	}
	stats := sqlDB.Stats()
	status.ActiveConns = stats.InUse
	status.IdleConns = stats.Idle
	status.MaxOpenConns = stats.MaxOpenConnections

	dm.mu.Lock()
	if dm.db == db {
		dm.lastError = err
		dm.healthStatus = status
	}
	dm.mu.Unlock()
	return status
}

func (dm *defaultDatabaseManager) lastHealth() *HealthStatus {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.healthStatus
}

// watch checks health every HealthCheckInterval until ctx is cancelled and,
// with EnableReconnect, swaps in a fresh connection after a failed check.
func (dm *defaultDatabaseManager) watch(ctx context.Context, m *monitor) {
	defer close(m.done)

	ticker := time.NewTicker(dm.config.HealthCheckInterval)
	defer ticker.Stop()

	tries := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status := dm.HealthCheck(ctx)
		if ctx.Err() != nil {
			return
		}
		if status.Healthy {
			tries = 0
			continue
		}
		if !dm.config.EnableReconnect || tries >= dm.config.MaxReconnectTries {
			continue
		}
		tries++
		if !sleep(ctx, dm.config.ReconnectInterval) {
			return
		}
		if err := dm.reopen(ctx, m); err != nil {
			if dm.logger != nil {
				dm.logger.Error("Reconnect failed", "error", err, "try", tries)
			}
			if tries == dm.config.MaxReconnectTries && dm.logger != nil {
				dm.logger.Error("Max reconnect attempts reached, stopping", "tries", tries)
			}
			continue
		}
		tries = 0
	}
}

// reopen replaces the connection owned by m. It does nothing once m is no
// longer the manager's monitor.
func (dm *defaultDatabaseManager) reopen(ctx context.Context, m *monitor) error {
	sqlDB, db, err := dm.open(ctx)
	if err != nil {
		return err
	}

	dm.mu.Lock()
	if dm.monitor != m {
		dm.mu.Unlock()
		_ = db.Close()
		return nil
	}
	old := dm.db
	dm.sqlDB, dm.db, dm.lastError = sqlDB, db, nil
	dm.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	if dm.logger != nil {
		dm.logger.Info("Database reconnected", "type", dm.config.Type, "dbname", dm.config.DBName)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (dm *defaultDatabaseManager) GetStats() *DBStats {
	sqlDB := dm.GetSQLDB()
	if sqlDB == nil {
		return &DBStats{}
	}

	stats := sqlDB.Stats()
	return &DBStats{
		MaxOpenConns:      stats.MaxOpenConnections,
		OpenConns:         stats.OpenConnections,
		InUse:             stats.InUse,
		Idle:              stats.Idle,
		WaitCount:         stats.WaitCount,
		WaitDuration:      stats.WaitDuration,
		MaxIdleClosed:     stats.MaxIdleClosed,
		MaxIdleTimeClosed: stats.MaxIdleTimeClosed,
		MaxLifetimeClosed: stats.MaxLifetimeClosed,
	}
}

func (dm *defaultDatabaseManager) CreateTables(ctx context.Context, models ...interface{}) error {
	db := dm.GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}
	return CreateTables(ctx, db, models...)
}

func (dm *defaultDatabaseManager) SetLogger(logger Logger) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.logger = logger
}
