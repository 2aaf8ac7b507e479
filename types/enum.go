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

package types

// Common illegal/default values used by enums.
const (
	IllegalValue = -1
	IllegalName  = "unknown"
	IllegalDesc  = "unknown"
)

// BaseEnum represents a basic enum contract used by outcome and state types.
type BaseEnum interface {
	IsValid() bool
	Number() int
	String() string
	Desc() string
	Name() string
}

// SaveOutcome is the terminal result of flushing a unit of work.
type SaveOutcome int

const (
	SaveOK SaveOutcome = iota
	SaveFailed
)

var _ BaseEnum = SaveOK

var saveOutcomeNames = map[SaveOutcome][2]string{
	SaveOK:     {"OK", "all pending changes were committed"},
	SaveFailed: {"Failed", "store state is not guaranteed to reflect pending changes"},
}

func (o SaveOutcome) IsValid() bool {
	_, ok := saveOutcomeNames[o]
	return ok
}

func (o SaveOutcome) Number() int {
	if !o.IsValid() {
		return IllegalValue
	}
	return int(o)
}

func (o SaveOutcome) Name() string {
	if n, ok := saveOutcomeNames[o]; ok {
		return n[0]
	}
	return IllegalName
}

func (o SaveOutcome) Desc() string {
	if n, ok := saveOutcomeNames[o]; ok {
		return n[1]
	}
	return IllegalDesc
}

func (o SaveOutcome) String() string { return o.Name() }

// OK reports whether the outcome is SaveOK.
func (o SaveOutcome) OK() bool { return o == SaveOK }
