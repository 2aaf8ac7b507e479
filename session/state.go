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

import "github.com/tomoncle/unitofwork/types"

// State is the tracking tag of an entity within one session.
type State int

const (
	Unmanaged State = iota
	Added
	Modified
	Deleted
	Detached
)

var _ types.BaseEnum = Unmanaged

var stateNames = map[State][2]string{
	Unmanaged: {"Unmanaged", "not known to the session"},
	Added:     {"Added", "inserted on the next save"},
	Modified:  {"Modified", "updated on the next save"},
	Deleted:   {"Deleted", "removed on the next save"},
	Detached:  {"Detached", "ignored by the next save"},
}

func (s State) IsValid() bool {
	_, ok := stateNames[s]
	return ok
}

func (s State) Number() int {
	if !s.IsValid() {
		return types.IllegalValue
	}
	return int(s)
}

func (s State) Name() string {
	if n, ok := stateNames[s]; ok {
		return n[0]
	}
	return types.IllegalName
}

func (s State) Desc() string {
	if n, ok := stateNames[s]; ok {
		return n[1]
	}
	return types.IllegalDesc
}

func (s State) String() string { return s.Name() }

// Pending reports whether the state is written by SaveChanges.
func (s State) Pending() bool {
	return s == Added || s == Modified || s == Deleted
}
