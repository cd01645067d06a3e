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

// KeySet is a view of the keys of a Map. It holds no state of its own;
// removing through it removes from the map.
type KeySet[K Key, V comparable] struct {
	m *Map[K, V]
}

// Keys returns a view of the keys of m.
func (m *Map[K, V]) Keys() KeySet[K, V] {
	return KeySet[K, V]{m: m}
}

// Len returns the number of keys.
func (s KeySet[K, V]) Len() int { return s.m.size }

// Contains returns true if key is present in the map.
func (s KeySet[K, V]) Contains(key K) bool { return s.m.ContainsKey(key) }

// Remove removes key from the map and reports whether it was present.
func (s KeySet[K, V]) Remove(key K) bool {
	_, ok := s.m.Remove(key)
	return ok
}

// Clear removes every entry from the map.
func (s KeySet[K, V]) Clear() { s.m.Clear() }

// Iter returns a fail-fast iterator; use its Key method.
func (s KeySet[K, V]) Iter() *Iterator[K, V] { return s.m.Iter() }

// All calls yield for each key. It has the same contract as Map.All.
func (s KeySet[K, V]) All(yield func(key K) bool) {
	s.m.All(func(k K, _ V) bool {
		return yield(k)
	})
}

// ForEach calls fn for each key.
func (s KeySet[K, V]) ForEach(fn func(key K)) {
	s.m.All(func(k K, _ V) bool {
		fn(k)
		return true
	})
}

// ValueCollection is a view of the values of a Map.
type ValueCollection[K Key, V comparable] struct {
	m *Map[K, V]
}

// Values returns a view of the values of m.
func (m *Map[K, V]) Values() ValueCollection[K, V] {
	return ValueCollection[K, V]{m: m}
}

// Len returns the number of values (one per entry).
func (c ValueCollection[K, V]) Len() int { return c.m.size }

// Contains returns true if some key maps to value.
func (c ValueCollection[K, V]) Contains(value V) bool { return c.m.ContainsValue(value) }

// Clear removes every entry from the map.
func (c ValueCollection[K, V]) Clear() { c.m.Clear() }

// Iter returns a fail-fast iterator; use its Value method.
func (c ValueCollection[K, V]) Iter() *Iterator[K, V] { return c.m.Iter() }

// All calls yield for each value. It has the same contract as Map.All.
func (c ValueCollection[K, V]) All(yield func(value V) bool) {
	c.m.All(func(_ K, v V) bool {
		return yield(v)
	})
}

// ForEach calls fn for each value.
func (c ValueCollection[K, V]) ForEach(fn func(value V)) {
	c.m.All(func(_ K, v V) bool {
		fn(v)
		return true
	})
}

// EntrySet is a view of the entries of a Map.
type EntrySet[K Key, V comparable] struct {
	m *Map[K, V]
}

// Entries returns a view of the entries of m.
func (m *Map[K, V]) Entries() EntrySet[K, V] {
	return EntrySet[K, V]{m: m}
}

// Len returns the number of entries.
func (s EntrySet[K, V]) Len() int { return s.m.size }

// Contains returns true if key is present and maps to value.
func (s EntrySet[K, V]) Contains(key K, value V) bool {
	v, ok := s.m.Lookup(key)
	return ok && v == value
}

// Remove removes key if it maps to value.
func (s EntrySet[K, V]) Remove(key K, value V) bool { return s.m.RemoveIf(key, value) }

// Clear removes every entry from the map.
func (s EntrySet[K, V]) Clear() { s.m.Clear() }

// Iter returns a fail-fast iterator returning copies of the entries.
func (s EntrySet[K, V]) Iter() *Iterator[K, V] { return s.m.Iter() }

// FastIter returns a fail-fast iterator that recycles a single MapEntry.
func (s EntrySet[K, V]) FastIter() *FastEntryIterator[K, V] {
	it := &FastEntryIterator[K, V]{}
	it.Iterator.init(s.m)
	it.entry.m = s.m
	return it
}

// All calls yield for each entry. It has the same contract as Map.All.
func (s EntrySet[K, V]) All(yield func(key K, value V) bool) { s.m.All(yield) }

// ForEach calls fn for each entry.
func (s EntrySet[K, V]) ForEach(fn func(e Entry[K, V])) {
	s.m.All(func(k K, v V) bool {
		fn(Entry[K, V]{Key: k, Value: v})
		return true
	})
}
