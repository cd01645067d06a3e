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

const (
	// noEntry is Iterator.last when there is no current entry.
	noEntry = -1
	// wrappedEntry is Iterator.last when the current entry came from the
	// wrapped list.
	wrappedEntry = -2
)

// Entry is a copy of a key/value pair.
type Entry[K Key, V comparable] struct {
	Key   K
	Value V
}

// Iterator is a fail-fast cursor over the entries of a Map. The zero key is
// returned first (if present), then the probe region is scanned from the
// highest slot down to slot 0. Entries are returned as copies:
//
//	it := m.Iter()
//	for it.Next() {
//	  if it.Value() == 0 {
//	    _ = it.Remove()
//	  }
//	}
//	if err := it.Err(); err != nil {
//	  ...
//	}
//
// Remove is the only way to structurally modify the map during iteration.
// Any other insertion of a new key, removal, resize or clear makes the next
// call to Next or Remove fail with ErrConcurrentModification. Overwriting
// the value of an existing key is not a structural modification.
//
// Removal shifts later entries of the cluster backwards (see shiftKeys).
// The slots above the cursor have been visited, those below have not; a
// shift never moves a visited entry below the cursor, but an entry near
// slot 0 can wrap around to the top of the table. Such entries are recorded
// in wrapped and returned after the scan, each one re-resolved by key since
// later removals may have moved it again. Removals through the iterator do
// not shrink the table mid-scan. Once the iterator is exhausted the table is
// halved until it is no longer sparse. An iterator abandoned before
// exhaustion leaves the table at its old capacity; call Map.Trim to release
// the memory.
type Iterator[K Key, V comparable] struct {
	m *Map[K, V]
	// pos is the slot the scan examined last. Once it goes negative,
	// wrapped[-pos-1] is the next candidate.
	pos int
	// last is the slot of the current entry, or noEntry/wrappedEntry.
	last int
	// idx is the slot of the current entry, resolved for wrapped entries.
	idx int
	// remaining is the number of entries not returned yet.
	remaining      int
	mustReturnNull bool
	// wrapped holds keys moved from below the cursor to above it.
	wrapped []K
	// version is the map version this iterator expects.
	version uint64
	// removed is set once Remove succeeded, which makes exhaustion check
	// whether the table should shrink.
	removed bool
	key     K
	value   V
	err     error
}

func (it *Iterator[K, V]) init(m *Map[K, V]) {
	*it = Iterator[K, V]{
		m:              m,
		pos:            m.n,
		last:           noEntry,
		idx:            noEntry,
		remaining:      m.size,
		mustReturnNull: m.containsNull,
		version:        m.version,
	}
}

// Next advances the iterator to the next entry. It returns false when the
// entries are exhausted or the map was modified underneath the iterator, in
// which case Err reports ErrConcurrentModification.
func (it *Iterator[K, V]) Next() bool {
	if it.err != nil {
		return false
	}
	m := it.m
	if it.version != m.version {
		it.fail()
		return false
	}
	if it.remaining == 0 {
		it.last = noEntry
		it.finish()
		return false
	}
	it.remaining--

	if it.mustReturnNull {
		var zero K
		it.mustReturnNull = false
		it.last = m.n
		it.idx = m.n
		it.key, it.value = zero, m.values[m.n]
		return true
	}

	for {
		it.pos--
		if it.pos < 0 {
			// We are enumerating the entries that shiftKeys moved behind the
			// cursor. Their position may have changed since.
			k := it.wrapped[-it.pos-1]
			p := m.slot(k, m.mask)
			for !m.eq(m.keys[p], k) {
				p = (p + 1) & m.mask
			}
			it.last = wrappedEntry
			it.idx = p
			it.key, it.value = k, m.values[p]
			return true
		}
		if k := m.keys[it.pos]; !m.isZero(k) {
			it.last = it.pos
			it.idx = it.pos
			it.key, it.value = k, m.values[it.pos]
			return true
		}
	}
}

// Key returns the key of the current entry. It is only valid after a call
// to Next that returned true.
func (it *Iterator[K, V]) Key() K {
	return it.key
}

// Value returns the value of the current entry as of the call to Next.
func (it *Iterator[K, V]) Value() V {
	return it.value
}

// Entry returns a copy of the current entry.
func (it *Iterator[K, V]) Entry() Entry[K, V] {
	return Entry[K, V]{Key: it.key, Value: it.value}
}

// Remove removes the current entry from the map. It returns
// ErrNoCurrentEntry if Next has not returned an entry since the last Remove,
// and ErrConcurrentModification if the map was modified underneath the
// iterator.
func (it *Iterator[K, V]) Remove() error {
	if it.err != nil {
		return it.err
	}
	m := it.m
	if it.version != m.version {
		it.fail()
		return it.err
	}
	switch it.last {
	case noEntry:
		return errors.WithStack(ErrNoCurrentEntry)
	case wrappedEntry:
		// The scan is over, so shifts can no longer move an entry past the
		// cursor. The remaining wrapped keys are re-resolved by Next.
		pos, _ := m.findSlot(it.key)
		m.removeAt(pos, nil)
	default:
		m.removeAt(it.last, it)
	}
	it.last = noEntry
	it.idx = noEntry
	it.removed = true
	it.version = m.version
	m.checkInvariants()
	return nil
}

// Err returns the error that stopped the iteration, if any.
func (it *Iterator[K, V]) Err() error {
	return it.err
}

func (it *Iterator[K, V]) fail() {
	it.last = noEntry
	it.idx = noEntry
	it.err = errors.WithStack(ErrConcurrentModification)
}

// finish applies the shrink checks deferred by Remove. A sweep may have
// removed enough entries to warrant more than one halving.
func (it *Iterator[K, V]) finish() {
	if !it.removed {
		return
	}
	it.removed = false
	m := it.m
	for n := 0; n != m.n; {
		n = m.n
		m.maybeShrink()
	}
	it.version = m.version
	m.checkInvariants()
}

// MapEntry is the recycled cursor of a FastEntryIterator. It refers to a
// slot of the map rather than holding a copy, and is only valid until the
// next call to FastEntryIterator.Next or Remove.
type MapEntry[K Key, V comparable] struct {
	m     *Map[K, V]
	index int
}

// Key returns the key of the entry.
func (e *MapEntry[K, V]) Key() K {
	// keys[n] is always the zero key, which is the key of the null slot.
	return e.m.keys[e.index]
}

// Value returns the current value of the entry.
func (e *MapEntry[K, V]) Value() V {
	return e.m.values[e.index]
}

// SetValue overwrites the value of the entry in the map and returns the
// previous value.
func (e *MapEntry[K, V]) SetValue(v V) V {
	old := e.m.values[e.index]
	e.m.values[e.index] = v
	return old
}

// FastEntryIterator is an Iterator that exposes the current entry through a
// single MapEntry reused for every step instead of copying it. The entry
// returned by Cursor is invalidated by the next call to Next or Remove.
type FastEntryIterator[K Key, V comparable] struct {
	Iterator[K, V]
	entry MapEntry[K, V]
}

// Next advances the iterator; see Iterator.Next.
func (it *FastEntryIterator[K, V]) Next() bool {
	if !it.Iterator.Next() {
		return false
	}
	it.entry.index = it.idx
	return true
}

// Cursor returns the recycled entry for the current position.
func (it *FastEntryIterator[K, V]) Cursor() *MapEntry[K, V] {
	return &it.entry
}
