// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package primmap

import "github.com/cockroachdb/errors"

// The operations in this file resolve the slot of a key once and then either
// write into the empty slot or update the occupied one. Callbacks must not
// structurally modify the map; doing so panics with an error wrapping
// ErrConcurrentModification because the resolved slot would be stale.

// PutIfAbsent inserts value for key if key is not present. It returns the
// existing value if there was one, otherwise the default value.
func (m *Map[K, V]) PutIfAbsent(key K, value V) V {
	pos, found := m.findSlot(key)
	if found {
		return m.values[pos]
	}
	m.insertAt(pos, key, value)
	return m.defaultValue
}

// Replace overwrites the value of key if it is present, returning the
// previous value and ok=true.
func (m *Map[K, V]) Replace(key K, value V) (old V, ok bool) {
	pos, found := m.findSlot(key)
	if !found {
		return m.defaultValue, false
	}
	old = m.values[pos]
	m.values[pos] = value
	return old, true
}

// ReplaceIf overwrites the value of key with value only if it currently maps
// to old.
func (m *Map[K, V]) ReplaceIf(key K, old, value V) bool {
	pos, found := m.findSlot(key)
	if !found || m.values[pos] != old {
		return false
	}
	m.values[pos] = value
	return true
}

// ComputeIfAbsent returns the value of key if present. Otherwise it stores
// and returns fn(key), even if that equals the default value.
func (m *Map[K, V]) ComputeIfAbsent(key K, fn func(key K) V) V {
	pos, found := m.findSlot(key)
	if found {
		return m.values[pos]
	}
	version := m.version
	v := fn(key)
	m.checkVersion(version)
	m.insertAt(pos, key, v)
	return v
}

// ComputeIfAbsentNonDefault is ComputeIfAbsent except that a computed value
// equal to the default value is returned but not stored.
func (m *Map[K, V]) ComputeIfAbsentNonDefault(key K, fn func(key K) V) V {
	pos, found := m.findSlot(key)
	if found {
		return m.values[pos]
	}
	version := m.version
	v := fn(key)
	m.checkVersion(version)
	if v != m.defaultValue {
		m.insertAt(pos, key, v)
	}
	return v
}

// ComputeIfPresent replaces the value of a present key with fn(key, old).
// If fn returns keep=false the entry is removed instead. It returns the new
// value and true if key is present afterwards, or the default value and
// false.
func (m *Map[K, V]) ComputeIfPresent(key K, fn func(key K, old V) (V, bool)) (V, bool) {
	pos, found := m.findSlot(key)
	if !found {
		return m.defaultValue, false
	}
	version := m.version
	v, keep := fn(key, m.values[pos])
	m.checkVersion(version)
	if !keep {
		m.removeAndShrink(pos)
		return m.defaultValue, false
	}
	m.values[pos] = v
	return v, true
}

// Compute calls fn with the current value of key (the default value and
// present=false if key is absent) and stores the result. If fn returns
// keep=false, the entry is removed (or not created). It returns the new value
// and true if key is present afterwards, or the default value and false.
func (m *Map[K, V]) Compute(key K, fn func(key K, old V, present bool) (V, bool)) (V, bool) {
	pos, found := m.findSlot(key)
	old := m.defaultValue
	if found {
		old = m.values[pos]
	}
	version := m.version
	v, keep := fn(key, old, found)
	m.checkVersion(version)
	switch {
	case !keep:
		if found {
			m.removeAndShrink(pos)
		}
		return m.defaultValue, false
	case found:
		m.values[pos] = v
	default:
		m.insertAt(pos, key, v)
	}
	return v, true
}

// Merge stores value for key if key is absent. Otherwise it replaces the
// current value with fn(old, value), or removes the entry if fn returns
// keep=false. It returns the value stored for key and true, or the default
// value and false if the entry was removed.
func (m *Map[K, V]) Merge(key K, value V, fn func(old, value V) (V, bool)) (V, bool) {
	pos, found := m.findSlot(key)
	if !found {
		m.insertAt(pos, key, value)
		return value, true
	}
	version := m.version
	v, keep := fn(m.values[pos], value)
	m.checkVersion(version)
	if !keep {
		m.removeAndShrink(pos)
		return m.defaultValue, false
	}
	m.values[pos] = v
	return v, true
}

func (m *Map[K, V]) checkVersion(version uint64) {
	if m.version != version {
		panic(errors.WithStack(ErrConcurrentModification))
	}
}
