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
	"errors"
	"fmt"

	"github.com/tomoncle/unitofwork/database"
)

var (
	ErrDisposed         = errors.New("repository: disposed")
	ErrNoLoggerProvider = errors.New("logging is enabled but no logger provider was given")
	ErrNoSession        = errors.New("no session")
	ErrNilProjection    = errors.New("repository: projection must not be nil")
)

// ConfigError reports an invalid repository construction.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("repository config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Options configures a repository. Logging is resolved once at construction.
type Options struct {
	Logging database.LoggingConfig
	Loggers database.LoggerProvider
}

// DefaultOptions enables logging through named logrus loggers.
func DefaultOptions() Options {
	return Options{
		Logging: database.LoggingConfig{Enabled: true, Level: "error"},
		Loggers: database.NewLoggerProvider(),
	}
}

func (o Options) resolveLogger(name string) (database.Logger, error) {
	if !o.Logging.Enabled {
		return nil, nil
	}
	if o.Loggers == nil {
		return nil, &ConfigError{Field: "Loggers", Err: ErrNoLoggerProvider}
	}
	logger := o.Loggers.NamedLogger(name)
	if logger == nil {
		return nil, &ConfigError{Field: "Loggers", Err: ErrNoLoggerProvider}
	}
	if o.Logging.Level != "" {
		logger.SetLevel(database.ParseLogLevel(o.Logging.Level))
	}
	return logger, nil
}
