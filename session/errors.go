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

import "errors"

var (
	ErrNilEntity           = errors.New("session: entity must not be nil")
	ErrNotEntity           = errors.New("session: value is not a pointer to a model struct")
	ErrSessionClosed       = errors.New("session: closed")
	ErrLazyLoadingDisabled = errors.New("session: lazy loading is disabled")
	ErrNoRowsAffected      = errors.New("session: no rows affected")
)
