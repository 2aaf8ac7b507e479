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
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/uptrace/bun/schema"
)

// Keyed lets an entity supply its own identity key.
type Keyed interface {
	EntityKey() string
}

// TableResolver returns Bun table metadata for a model struct type.
type TableResolver func(typ reflect.Type) *schema.Table

// Entry is one tracked entity and its latest state.
type Entry struct {
	Key    string
	Entity any
	State  State

	seq uint64
}

// Tracker maps entity identity to tracking state. An identity carries at
// most one state and the instance most recently passed for it. A tracked
// instance whose key changes, e.g. when its primary key is assigned, keeps
// its entry under the new key. It is not safe for concurrent use.
type Tracker struct {
	tables    TableResolver
	entries   map[string]*Entry
	instances map[any]string
	seq       uint64
}

// NewTracker returns an empty tracker resolving primary keys with tables.
func NewTracker(tables TableResolver) *Tracker {
	return &Tracker{
		tables:    tables,
		entries:   make(map[string]*Entry),
		instances: make(map[any]string),
	}
}

// Key derives the identity of entity: EntityKey when implemented, else
// "<table>:<pk values>" from Bun metadata. An entity whose primary key is
// still zero is keyed by instance until it is stored.
func (t *Tracker) Key(entity any) (string, error) {
	if isNil(entity) {
		return "", ErrNilEntity
	}
	if k, ok := entity.(Keyed); ok {
		return k.EntityKey(), nil
	}
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return "", fmt.Errorf("%w: %T", ErrNotEntity, entity)
	}
	table := t.tables(v.Elem().Type())
	if table == nil {
		return "", fmt.Errorf("%w: %T", ErrNotEntity, entity)
	}
	strct := v.Elem()
	if len(table.PKs) == 0 {
		return fmt.Sprintf("%s:new:%p", table.Name, entity), nil
	}
	values := make([]string, 0, len(table.PKs))
	for _, pk := range table.PKs {
		if pk.HasZeroValue(strct) {
			return fmt.Sprintf("%s:new:%p", table.Name, entity), nil
		}
		values = append(values, fmt.Sprint(pk.Value(strct).Interface()))
	}
	return table.Name + ":" + strings.Join(values, ","), nil
}

// resolve returns the current key of entity and moves the entry of a
// tracked instance whose key changed since it was last tracked.
func (t *Tracker) resolve(entity any) (string, error) {
	key, err := t.Key(entity)
	if err != nil {
		return "", err
	}
	if reflect.ValueOf(entity).Kind() != reflect.Ptr {
		return key, nil
	}
	old, ok := t.instances[entity]
	if !ok || old == key {
		return key, nil
	}
	if e, ok := t.entries[old]; ok && e.Entity == entity {
		delete(t.entries, old)
		e.Key = key
		if cur, ok := t.entries[key]; !ok || cur.seq < e.seq {
			t.entries[key] = e
		}
	}
	t.instances[entity] = key
	return key, nil
}

// Track sets the state of entity, replacing any previous state and instance.
func (t *Tracker) Track(entity any, state State) error {
	key, err := t.resolve(entity)
	if err != nil {
		return err
	}
	t.seq++
	t.entries[key] = &Entry{Key: key, Entity: entity, State: state, seq: t.seq}
	if reflect.ValueOf(entity).Kind() == reflect.Ptr {
		t.instances[entity] = key
	}
	return nil
}

// State returns the current state of entity, Unmanaged when unknown.
func (t *Tracker) State(entity any) State {
	key, err := t.resolve(entity)
	if err != nil {
		return Unmanaged
	}
	if e, ok := t.entries[key]; ok {
		return e.State
	}
	return Unmanaged
}

// Pending returns entries to be written, ordered by their latest transition.
func (t *Tracker) Pending() []*Entry {
	pending := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		if e.State.Pending() {
			pending = append(pending, e)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })
	return pending
}

func (t *Tracker) Len() int { return len(t.entries) }

// Reset forgets every entry.
func (t *Tracker) Reset() {
	t.entries = make(map[string]*Entry)
	t.instances = make(map[any]string)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
