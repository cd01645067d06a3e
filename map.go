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

// Package primmap is a Go implementation of an open-addressing hash map for
// fixed-width keys and values: integers, floats, booleans (and strings).
//
// # Layout
//
// A Map of capacity n (always a power of two) owns two parallel arrays, keys
// and values, of length n+1. Slots 0..n-1 form the probe region. The zero
// value of the key type marks an empty probe slot, so no per-slot metadata
// is needed. An entry whose key is the zero value cannot live in the probe
// region; it is kept in the reserved slot n (the "null slot") and tracked by
// the containsNull flag.
//
//	keys:   [ k0 | 0  | k2 | k3 | 0  | ... | k(n-1) | <unused> ]
//	values: [ v0 | -  | v2 | v3 | -  | ... | v(n-1) | v(zero key) ]
//	          ^                                        ^
//	          probe region, masked with n-1            null slot
//
// # Probing
//
// A key starts probing at mix(hash(key))&(n-1) and advances one slot at a
// time, wrapping at n, until it finds itself or an empty slot. The table
// grows when the number of entries reaches maxFill = n*loadFactor, which
// guarantees at least one empty slot and therefore termination.
//
// # Deletion
//
// Deletion does not use tombstones. After emptying a slot, the entries of
// the cluster following it are examined in probe order, and any entry whose
// home slot does not lie cyclically between the hole and its current
// position is moved back into the hole, which then moves to the vacated
// position. The scan stops at the first empty slot. This restores the
// invariant that every key is reachable from its home slot without crossing
// an empty slot (see shiftKeys).
//
// Moving entries backwards interacts with iteration: an entry can wrap from
// the low end of the table to the high end, behind an iterator scanning
// downwards. Iterator.Remove records such entries in a per-iterator list
// that is drained after the scan of the arrays (see Iterator).
//
// # Resizing
//
// The table doubles (or more, when pre-sized) on growth, and halves when a
// removal leaves fewer than maxFill/4 entries, never dropping below the
// capacity it was constructed with. Every resize is a full rehash into
// freshly allocated arrays.
//
// A Map is NOT goroutine-safe.
package primmap

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const debug = false

// Map is an unordered map from keys to values implemented with linear
// probing and backward-shift deletion. Missing keys read as a configurable
// default value (see WithDefaultValue) rather than as an absence marker;
// Lookup provides the comma-ok form.
//
// A Map is NOT goroutine-safe.
type Map[K Key, V comparable] struct {
	// The hash function for keys of type K. The result is xored with seed
	// and passed through mix before being masked.
	hash hashFn[K]
	seed uint64
	// eq compares keys. It is == except for floats, which compare by bit
	// pattern so that NaN finds itself.
	eq equalFn[K]
	// The allocator to use for the keys and values slices.
	allocator Allocator[K, V]
	logger    *zap.Logger

	// keys and values are n+1 in length. An all-zero-bits keys[i] for i < n
	// means slot i is empty. keys[n] is always zero; values[n] holds the
	// value of the zero key when containsNull is set.
	keys   []K
	values []V
	// The capacity of the probe region, a power of 2.
	n int
	// n-1, used to wrap probe positions.
	mask int
	// The number of entries, including the zero key.
	size int
	// The number of entries at which the table grows.
	maxFill int
	// The capacity the table was constructed with. Removals never shrink
	// the table below it.
	minN         int
	loadFactor   float64
	containsNull bool
	defaultValue V
	// version is incremented by every structural modification (an
	// insertion of a new key, a removal, a resize or a clear). Iterators
	// compare it against the value they last observed to fail fast.
	version uint64
	// expectedHint is set by WithConfig and only consulted by Init.
	expectedHint int
}

// New constructs a new Map sized to hold expected entries without growing.
// New panics with an error wrapping ErrInvalidConfig if expected is
// negative or the configured load factor is not in (0,1).
func New[K Key, V comparable](expected int, options ...option[K, V]) *Map[K, V] {
	m := &Map[K, V]{}
	m.Init(expected, options...)
	return m
}

// NewFromSlices constructs a Map holding keys[i] => values[i] for every i.
// Later duplicates of a key overwrite earlier ones. NewFromSlices panics
// with an error wrapping ErrInvalidConfig if the slices differ in length.
func NewFromSlices[K Key, V comparable](keys []K, values []V, options ...option[K, V]) *Map[K, V] {
	if len(keys) != len(values) {
		panic(errors.Wrapf(ErrInvalidConfig,
			"the key array and the value array have different lengths (%d and %d)", len(keys), len(values)))
	}
	m := New[K, V](len(keys), options...)
	for i := range keys {
		m.Put(keys[i], values[i])
	}
	return m
}

// NewFromMap constructs a Map holding the entries of a builtin map.
func NewFromMap[K Key, V comparable](src map[K]V, options ...option[K, V]) *Map[K, V] {
	m := New[K, V](len(src), options...)
	for k, v := range src {
		m.Put(k, v)
	}
	return m
}

// Init initializes a Map with the specified expected size and options. Init
// is usually called by New, but can be used to initialize a zero Map or
// reinitialize an existing one, discarding its contents.
func (m *Map[K, V]) Init(expected int, options ...option[K, V]) {
	*m = Map[K, V]{
		hash:       defaultHasher[K](),
		eq:         defaultEqual[K](),
		seed:       rand.Uint64(),
		allocator:  defaultAllocator[K, V]{},
		logger:     zap.NewNop(),
		loadFactor: DefaultLoadFactor,
	}

	for _, op := range options {
		op.apply(m)
	}

	if m.expectedHint > expected {
		expected = m.expectedHint
	}
	if err := validate(expected, m.loadFactor); err != nil {
		panic(err)
	}
	if m.expectedHint < 0 {
		panic(errors.Wrapf(ErrInvalidConfig, "expected size %d is negative", m.expectedHint))
	}

	m.alloc(arraySize(expected, m.loadFactor))
	m.minN = m.n
	m.checkInvariants()
}

// Close releases the arrays back to the configured allocator. It is
// unnecessary to close a map using the default allocator. It is invalid to
// use a Map after it has been closed, though Close itself is idempotent.
func (m *Map[K, V]) Close() {
	if m.keys != nil {
		m.allocator.FreeKeys(m.keys)
		m.allocator.FreeValues(m.values)
	}
	m.keys = nil
	m.values = nil
	m.n, m.mask, m.size, m.maxFill = 0, 0, 0, 0
	m.containsNull = false
	m.version++
}

// alloc installs freshly allocated arrays for capacity n. The caller is
// responsible for the old arrays.
func (m *Map[K, V]) alloc(n int) {
	m.keys = m.allocator.AllocKeys(n + 1)
	m.values = m.allocator.AllocValues(n + 1)
	m.n = n
	m.mask = n - 1
	m.maxFill = maxFill(n, m.loadFactor)
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	return m.size
}

// IsEmpty returns true if the map has no entries.
func (m *Map[K, V]) IsEmpty() bool {
	return m.size == 0
}

// DefaultValue returns the value reported for missing keys.
func (m *Map[K, V]) DefaultValue() V {
	return m.defaultValue
}

// capacity returns the size of the probe region.
func (m *Map[K, V]) capacity() int {
	return m.n
}

// realSize returns the number of entries stored in the probe region.
func (m *Map[K, V]) realSize() int {
	if m.containsNull {
		return m.size - 1
	}
	return m.size
}

// slot returns the home slot of key in a table with the given mask.
func (m *Map[K, V]) slot(key K, mask int) int {
	return int(mix(m.hash(key)^m.seed) & uint64(mask))
}

// isZero reports whether key is the zero key, which marks an empty slot of the
// probe region. For floats only +0.0 is the zero key.
func (m *Map[K, V]) isZero(key K) bool {
	var zero K
	return m.eq(key, zero)
}

// findSlot returns the slot holding key and found=true, or the slot where
// key would be inserted and found=false. The zero key always resolves to the
// null slot.
func (m *Map[K, V]) findSlot(key K) (pos int, found bool) {
	if m.isZero(key) {
		return m.n, m.containsNull
	}

	pos = m.slot(key, m.mask)
	if debug {
		fmt.Printf("find(%v): home=%d\n", key, pos)
	}
	for {
		cur := m.keys[pos]
		if m.isZero(cur) {
			return pos, false
		}
		if m.eq(cur, key) {
			return pos, true
		}
		pos = (pos + 1) & m.mask
	}
}

// Get returns the value for key, or the default value if key is not
// present.
func (m *Map[K, V]) Get(key K) V {
	if pos, found := m.findSlot(key); found {
		return m.values[pos]
	}
	return m.defaultValue
}

// GetOrDefault returns the value for key, or fallback if key is not present.
func (m *Map[K, V]) GetOrDefault(key K, fallback V) V {
	if pos, found := m.findSlot(key); found {
		return m.values[pos]
	}
	return fallback
}

// Lookup retrieves the value from the map for the specified key, returning
// ok=false (and the default value) if the key is not present.
func (m *Map[K, V]) Lookup(key K) (value V, ok bool) {
	if pos, found := m.findSlot(key); found {
		return m.values[pos], true
	}
	return m.defaultValue, false
}

// ContainsKey returns true if key is present.
func (m *Map[K, V]) ContainsKey(key K) bool {
	_, found := m.findSlot(key)
	return found
}

// ContainsValue returns true if some key maps to value. It scans the whole
// table.
func (m *Map[K, V]) ContainsValue(value V) bool {
	if m.containsNull && m.values[m.n] == value {
		return true
	}
	for i := m.n - 1; i >= 0; i-- {
		if !m.isZero(m.keys[i]) && m.values[i] == value {
			return true
		}
	}
	return false
}

// Put inserts an entry into the map, overwriting an existing value if an
// entry with the same key already exists. It returns the previous value, or
// the default value if key was not present.
func (m *Map[K, V]) Put(key K, value V) V {
	pos, found := m.findSlot(key)
	if found {
		old := m.values[pos]
		m.values[pos] = value
		return old
	}
	m.insertAt(pos, key, value)
	return m.defaultValue
}

// PutAll copies every entry of src into m.
func (m *Map[K, V]) PutAll(src *Map[K, V]) {
	if m.loadFactor <= .5 {
		m.EnsureCapacity(src.Len())
	} else {
		m.EnsureCapacity(m.Len() + src.Len())
	}
	src.All(func(k K, v V) bool {
		m.Put(k, v)
		return true
	})
}

// insertAt stores a key known to be absent at the empty slot pos returned by
// findSlot and grows the table if it is now full.
func (m *Map[K, V]) insertAt(pos int, key K, value V) {
	if pos == m.n {
		m.containsNull = true
	} else {
		m.keys[pos] = key
	}
	m.values[pos] = value
	m.size++
	m.version++
	if debug {
		fmt.Printf("insert(%v): index=%d size=%d max-fill=%d\n", key, pos, m.size, m.maxFill)
	}
	if m.size >= m.maxFill {
		m.rehash(arraySize(m.size+1, m.loadFactor))
	}
	m.checkInvariants()
}

// Remove deletes the entry for key, returning its value and ok=true. If key
// is not present Remove returns the default value and ok=false.
func (m *Map[K, V]) Remove(key K) (value V, ok bool) {
	pos, found := m.findSlot(key)
	if !found {
		return m.defaultValue, false
	}
	value = m.values[pos]
	m.removeAndShrink(pos)
	return value, true
}

// RemoveOrDefault deletes the entry for key and returns its value, or
// returns fallback if key is not present.
func (m *Map[K, V]) RemoveOrDefault(key K, fallback V) V {
	if v, ok := m.Remove(key); ok {
		return v
	}
	return fallback
}

// RemoveIf deletes the entry for key only if it currently maps to value.
func (m *Map[K, V]) RemoveIf(key K, value V) bool {
	pos, found := m.findSlot(key)
	if !found || m.values[pos] != value {
		return false
	}
	m.removeAndShrink(pos)
	return true
}

// removeAt removes the entry at the occupied slot pos and returns its value.
// If it is not nil, it is the iterator on whose behalf the removal happens;
// see shiftKeys. removeAt never resizes the table.
func (m *Map[K, V]) removeAt(pos int, it *Iterator[K, V]) V {
	old := m.values[pos]
	if pos == m.n {
		var zero V
		m.containsNull = false
		m.values[pos] = zero
	} else {
		m.shiftKeys(pos, it)
	}
	m.size--
	m.version++
	return old
}

// removeAndShrink removes the entry at pos on behalf of the map itself.
func (m *Map[K, V]) removeAndShrink(pos int) {
	m.removeAt(pos, nil)
	m.maybeShrink()
	m.checkInvariants()
}

// maybeShrink halves the table if it has become sparse. The band between the
// growth point (maxFill) and the shrink point (maxFill/4) keeps alternating
// insertions and removals from resizing back and forth.
func (m *Map[K, V]) maybeShrink() {
	if m.n > m.minN && m.size < m.maxFill/4 && m.n > minArraySize {
		m.rehash(m.n / 2)
	}
}

// shiftKeys empties the slot pos and closes the hole by moving later entries
// of the same cluster backwards. An entry at cur whose home slot lies
// cyclically in (last, cur] is reachable without crossing the hole at last
// and stays put; any other entry is moved into the hole, and its old slot
// becomes the new hole. The scan ends at the first empty slot, which is where
// the final hole is cleared.
//
// If it is not nil, entries that move from the low end of the table to the
// high end (the move wraps around slot 0) are appended to it.wrapped: it
// scans downwards and has already passed the slot they move to.
func (m *Map[K, V]) shiftKeys(pos int, it *Iterator[K, V]) {
	var zeroK K
	var zeroV V
	for {
		last := pos
		pos = (last + 1) & m.mask
		var cur K
		for {
			cur = m.keys[pos]
			if m.isZero(cur) {
				m.keys[last] = zeroK
				m.values[last] = zeroV
				return
			}
			slot := m.slot(cur, m.mask)
			if last <= pos {
				if last >= slot || slot > pos {
					break
				}
			} else if last >= slot && slot > pos {
				break
			}
			pos = (pos + 1) & m.mask
		}
		if debug {
			fmt.Printf("shift(%v): %d -> %d\n", cur, pos, last)
		}
		if pos < last && it != nil {
			it.wrapped = append(it.wrapped, cur)
		}
		m.keys[last] = cur
		m.values[last] = m.values[pos]
	}
}

// rehash moves every entry into freshly allocated arrays of capacity newN.
// The new table starts out empty so plain linear probing suffices.
func (m *Map[K, V]) rehash(newN int) {
	oldKeys, oldValues, oldN := m.keys, m.values, m.n
	newKeys := m.allocator.AllocKeys(newN + 1)
	newValues := m.allocator.AllocValues(newN + 1)
	mask := newN - 1

	i := oldN
	for j := m.realSize(); j > 0; j-- {
		i--
		for m.isZero(oldKeys[i]) {
			i--
		}
		k := oldKeys[i]
		pos := m.slot(k, mask)
		for !m.isZero(newKeys[pos]) {
			pos = (pos + 1) & mask
		}
		newKeys[pos] = k
		newValues[pos] = oldValues[i]
	}
	newValues[newN] = oldValues[oldN]

	m.keys, m.values = newKeys, newValues
	m.n = newN
	m.mask = mask
	m.maxFill = maxFill(newN, m.loadFactor)
	m.version++

	m.allocator.FreeKeys(oldKeys)
	m.allocator.FreeValues(oldValues)

	if ce := m.logger.Check(zapcore.DebugLevel, "primmap: rehash"); ce != nil {
		ce.Write(zap.Int("old-capacity", oldN), zap.Int("new-capacity", newN), zap.Int("size", m.size))
	}
}

// Clear removes all entries, retaining the allocated capacity.
func (m *Map[K, V]) Clear() {
	if m.size == 0 {
		return
	}
	clear(m.keys)
	clear(m.values)
	m.size = 0
	m.containsNull = false
	m.version++
	m.checkInvariants()
}

// Trim shrinks the table to the smallest capacity that holds the current
// entries. It always returns true; see TrimTo.
func (m *Map[K, V]) Trim() bool {
	return m.TrimTo(m.size)
}

// TrimTo shrinks the table to the smallest capacity that holds target
// entries, but never below the capacity the map was constructed with and
// never to a capacity that cannot hold the current entries.
//
// The result only reports whether target could be sized: TrimTo returns
// false, leaving the map untouched, if no representable capacity holds
// target entries. It returns true both when the table was shrunk and when
// there was nothing to trim; compare Len and capacity before and after if
// the difference matters.
func (m *Map[K, V]) TrimTo(target int) bool {
	l, ok := tryArraySize(target, m.loadFactor)
	if !ok {
		return false
	}
	l = max(l, m.minN)
	if l >= m.n || m.size >= maxFill(l, m.loadFactor) {
		return true
	}
	m.rehash(l)
	m.checkInvariants()
	return true
}

// ClearAndTrim removes all entries and, if the table is larger than needed
// for target entries, replaces it with an empty table of the smaller
// capacity. It avoids the rehash that Clear followed by TrimTo would
// perform.
func (m *Map[K, V]) ClearAndTrim(target int) {
	l, ok := tryArraySize(target, m.loadFactor)
	if ok {
		l = max(l, m.minN)
	}
	if !ok || l >= m.n {
		m.Clear()
		return
	}

	oldN := m.n
	m.allocator.FreeKeys(m.keys)
	m.allocator.FreeValues(m.values)
	m.alloc(l)
	m.size = 0
	m.containsNull = false
	m.version++

	if ce := m.logger.Check(zapcore.DebugLevel, "primmap: clear and trim"); ce != nil {
		ce.Write(zap.Int("old-capacity", oldN), zap.Int("new-capacity", l))
	}
	m.checkInvariants()
}

// EnsureCapacity grows the table, if necessary, so that expected entries
// fit without a further resize. Requests beyond the maximum capacity are
// clamped to it.
func (m *Map[K, V]) EnsureCapacity(expected int) {
	l, ok := tryArraySize(expected, m.loadFactor)
	if !ok {
		l = maxArraySize
	}
	if l > m.n {
		m.rehash(l)
		m.checkInvariants()
	}
}

// Copy returns a deep copy of m. The copy shares no memory with m and
// carries the same configuration.
func (m *Map[K, V]) Copy() *Map[K, V] {
	c := &Map[K, V]{
		hash:         m.hash,
		eq:           m.eq,
		seed:         m.seed,
		allocator:    m.allocator,
		logger:       m.logger,
		n:            m.n,
		mask:         m.mask,
		size:         m.size,
		maxFill:      m.maxFill,
		minN:         m.minN,
		loadFactor:   m.loadFactor,
		containsNull: m.containsNull,
		defaultValue: m.defaultValue,
	}
	c.keys = c.allocator.AllocKeys(m.n + 1)
	c.values = c.allocator.AllocValues(m.n + 1)
	copy(c.keys, m.keys)
	copy(c.values, m.values)
	return c
}

// Equal returns true if m and o hold the same set of entries.
func (m *Map[K, V]) Equal(o *Map[K, V]) bool {
	if m.size != o.size {
		return false
	}
	equal := true
	m.All(func(k K, v V) bool {
		ov, ok := o.Lookup(k)
		equal = ok && ov == v
		return equal
	})
	return equal
}

// All calls yield sequentially for each key and value present in the map. If
// yield returns false, All stops the iteration. All can be used with
// range-over-func:
//
//	for k, v := range m.All {
//	  fmt.Printf("%v: %v\n", k, v)
//	}
//
// All panics with an error wrapping ErrConcurrentModification if yield
// structurally modifies the map. Use an Iterator to remove entries while
// iterating.
func (m *Map[K, V]) All(yield func(key K, value V) bool) {
	it := m.Iter()
	for it.Next() {
		if !yield(it.Key(), it.Value()) {
			return
		}
	}
	if err := it.Err(); err != nil {
		panic(err)
	}
}

// Iter returns a fail-fast iterator over the entries of m.
func (m *Map[K, V]) Iter() *Iterator[K, V] {
	it := &Iterator[K, V]{}
	it.init(m)
	return it
}

// String formats the map as {k1=>v1, k2=>v2, ...}.
func (m *Map[K, V]) String() string {
	var buf strings.Builder
	buf.WriteByte('{')
	first := true
	m.All(func(k K, v V) bool {
		if !first {
			buf.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&buf, "%v=>%v", k, v)
		return true
	})
	buf.WriteByte('}')
	return buf.String()
}

func (m *Map[K, V]) checkInvariants() {
	if invariants {
		if len(m.keys) != m.n+1 || len(m.values) != m.n+1 {
			panic(errors.AssertionFailedf("invariant failed: capacity %d but arrays of length %d/%d",
				m.n, len(m.keys), len(m.values)))
		}
		if !m.isZero(m.keys[m.n]) {
			panic(errors.AssertionFailedf("invariant failed: null slot key is %v\n%s", m.keys[m.n], m.debugString()))
		}

		// For every occupied slot, verify the key resolves to that slot.
		var used int
		for i := 0; i < m.n; i++ {
			k := m.keys[i]
			if m.isZero(k) {
				continue
			}
			used++
			if pos, found := m.findSlot(k); !found || pos != i {
				panic(errors.AssertionFailedf("invariant failed: slot(%d): %v resolves to %d (found=%t)\n%s",
					i, k, pos, found, m.debugString()))
			}
		}
		if m.containsNull {
			used++
		}
		if used != m.size {
			panic(errors.AssertionFailedf("invariant failed: found %d used slots, but size is %d\n%s",
				used, m.size, m.debugString()))
		}
		if m.size >= m.maxFill {
			panic(errors.AssertionFailedf("invariant failed: size %d reached max-fill %d\n%s",
				m.size, m.maxFill, m.debugString()))
		}
	}
}

func (m *Map[K, V]) debugString() string {
	var buf strings.Builder
	var zero K
	fmt.Fprintf(&buf, "capacity=%d  size=%d  max-fill=%d  contains-null=%t\n",
		m.n, m.size, m.maxFill, m.containsNull)
	for i := 0; i < m.n; i++ {
		if k := m.keys[i]; m.isZero(k) {
			fmt.Fprintf(&buf, "  %4d: empty\n", i)
		} else {
			fmt.Fprintf(&buf, "  %4d: %v=>%v [home=%d]\n", i, k, m.values[i], m.slot(k, m.mask))
		}
	}
	if m.containsNull {
		fmt.Fprintf(&buf, "  %4d: %v=>%v [null]\n", m.n, zero, m.values[m.n])
	}
	return buf.String()
}
