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

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// toBuiltinMap returns the elements as a map[K]V. Useful for testing.
func (m *Map[K, V]) toBuiltinMap() map[K]V {
	r := make(map[K]V)
	m.All(func(k K, v V) bool {
		r[k] = v
		return true
	})
	return r
}

// randElement returns an arbitrary element of the map. The elements are not
// selected uniformly, but the per-map seed varies which one comes first.
func (m *Map[K, V]) randElement() (key K, value V, ok bool) {
	m.All(func(k K, v V) bool {
		key, value = k, v
		ok = true
		return false
	})
	return
}

func requireInvalidConfig(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic")
		err, ok := r.(error)
		require.True(t, ok, "expected an error, got %v", r)
		require.ErrorIs(t, err, ErrInvalidConfig)
	}()
	fn()
}

func constantHash[K Key](h uint64) func(K) uint64 {
	return func(K) uint64 { return h }
}

func TestInitialCapacity(t *testing.T) {
	testCases := []struct {
		expected         int
		loadFactor       float64
		expectedCapacity int
		expectedMaxFill  int
	}{
		{0, DefaultLoadFactor, 16, 12},
		{1, DefaultLoadFactor, 16, 12},
		{12, DefaultLoadFactor, 16, 12},
		{13, DefaultLoadFactor, 32, 24},
		{24, DefaultLoadFactor, 32, 24},
		{25, DefaultLoadFactor, 64, 48},
		{96, DefaultLoadFactor, 128, 96},
		{97, DefaultLoadFactor, 256, 192},
		{8, 0.5, 16, 8},
		{9, 0.5, 32, 16},
		{15, 0.99, 16, 15},
		{16, 0.99, 32, 31},
	}
	for _, c := range testCases {
		t.Run(fmt.Sprintf("expected=%d,f=%v", c.expected, c.loadFactor), func(t *testing.T) {
			m := New[int, int](c.expected, WithLoadFactor[int, int](c.loadFactor))
			require.EqualValues(t, c.expectedCapacity, m.capacity())
			require.EqualValues(t, c.expectedMaxFill, m.maxFill)
			require.EqualValues(t, 0, m.Len())
			require.True(t, m.IsEmpty())
		})
	}
}

func TestInvalidConfig(t *testing.T) {
	requireInvalidConfig(t, func() { New[int, int](-1) })
	requireInvalidConfig(t, func() { New[int, int](math.MaxInt) })
	for _, f := range []float64{0, 1, 1.5, -0.5, math.NaN()} {
		requireInvalidConfig(t, func() { New[int, int](0, WithLoadFactor[int, int](f)) })
	}
	requireInvalidConfig(t, func() { NewFromSlices([]int{1, 2}, []int{1}) })
	requireInvalidConfig(t, func() { New[int, int](0, WithConfig[int, int](Config{ExpectedSize: -5})) })
}

func TestWorkedExample(t *testing.T) {
	m := New[int64, int64](0)
	require.EqualValues(t, 16, m.capacity())
	require.EqualValues(t, 12, m.maxFill)

	for k := int64(1); k <= 12; k++ {
		m.Put(k, k*10)
	}
	require.EqualValues(t, 12, m.Len())

	m.Remove(5)
	require.EqualValues(t, 0, m.Get(5))
	require.False(t, m.ContainsKey(5))
	require.EqualValues(t, 60, m.Get(6))

	m.Put(13, 130)
	require.EqualValues(t, 32, m.capacity())
	for k := int64(1); k <= 13; k++ {
		if k == 5 {
			continue
		}
		require.EqualValues(t, k*10, m.Get(k))
	}
	require.EqualValues(t, 12, m.Len())
}

func TestBasic(t *testing.T) {
	test := func(t *testing.T, m *Map[int, int]) {
		const count = 100

		e := make(map[int]int)
		require.EqualValues(t, 0, m.Len())

		// Non-existent.
		for i := 0; i < count; i++ {
			_, ok := m.Lookup(i)
			require.False(t, ok)
			require.EqualValues(t, 0, m.Get(i))
			require.EqualValues(t, -1, m.GetOrDefault(i, -1))
		}

		// Insert. Key 0 lives in the null slot.
		for i := 0; i < count; i++ {
			require.EqualValues(t, 0, m.Put(i, i+count))
			e[i] = i + count
			v, ok := m.Lookup(i)
			require.True(t, ok)
			require.EqualValues(t, i+count, v)
			require.EqualValues(t, i+1, m.Len())
			require.Equal(t, e, m.toBuiltinMap())
		}

		// Update.
		for i := 0; i < count; i++ {
			require.EqualValues(t, i+count, m.Put(i, i+2*count))
			e[i] = i + 2*count
			v, ok := m.Lookup(i)
			require.True(t, ok)
			require.EqualValues(t, i+2*count, v)
			require.EqualValues(t, count, m.Len())
			require.Equal(t, e, m.toBuiltinMap())
		}

		// Delete.
		for i := 0; i < count; i++ {
			v, ok := m.Remove(i)
			require.True(t, ok)
			require.EqualValues(t, i+2*count, v)
			delete(e, i)
			require.EqualValues(t, count-i-1, m.Len())
			_, ok = m.Lookup(i)
			require.False(t, ok)
			require.Equal(t, e, m.toBuiltinMap())
		}

		// Delete non-existent.
		_, ok := m.Remove(count)
		require.False(t, ok)
		require.EqualValues(t, 7, m.RemoveOrDefault(count, 7))
	}

	t.Run("normal", func(t *testing.T) {
		test(t, New[int, int](0))
	})

	t.Run("degenerate", func(t *testing.T) {
		testDegenerate := func(t *testing.T, h uint64) {
			test(t, New[int, int](0, WithHash[int, int](constantHash[int](h))))
		}

		for _, v := range []uint64{0, ^uint64(0)} {
			t.Run(fmt.Sprintf("%016x", v), func(t *testing.T) {
				testDegenerate(t, v)
			})
		}
		for i := 0; i < 10; i++ {
			v := rand.Uint64()
			t.Run(fmt.Sprintf("%016x", v), func(t *testing.T) {
				testDegenerate(t, v)
			})
		}
	})
}

// TestDeleteKeepsCluster removes every key of a cluster in turn from a fully
// populated map and verifies the remaining keys are all still reachable.
func TestDeleteKeepsCluster(t *testing.T) {
	for _, h := range []func(int) uint64{
		func(k int) uint64 { return uint64(k % 3) },
		func(k int) uint64 { return uint64(k / 4) },
		constantHash[int](42),
	} {
		for victim := 1; victim <= 11; victim++ {
			m := New[int, int](0, WithHash[int, int](h))
			for k := 1; k <= 11; k++ {
				m.Put(k, -k)
			}
			_, ok := m.Remove(victim)
			require.True(t, ok)
			require.False(t, m.ContainsKey(victim))
			for k := 1; k <= 11; k++ {
				if k != victim {
					require.EqualValues(t, -k, m.Get(k), "key %d after removing %d\n%s", k, victim, m.debugString())
				}
			}
		}
	}
}

func TestRandom(t *testing.T) {
	test := func(t *testing.T, m *Map[int, int]) {
		e := make(map[int]int)
		for i := 0; i < 10000; i++ {
			switch r := rand.Float64(); {
			case r < 0.5: // 50% inserts
				k, v := rand.Intn(2000), rand.Int()
				m.Put(k, v)
				e[k] = v
			case r < 0.65: // 15% updates
				if k, _, ok := m.randElement(); !ok {
					require.EqualValues(t, 0, m.Len(), e)
				} else {
					v := rand.Int()
					m.Put(k, v)
					e[k] = v
				}
			case r < 0.80: // 15% deletes
				if k, _, ok := m.randElement(); !ok {
					require.EqualValues(t, 0, m.Len(), e)
				} else {
					m.Remove(k)
					delete(e, k)
				}
			case r < 0.95: // 15% lookups
				if k, v, ok := m.randElement(); !ok {
					require.EqualValues(t, 0, m.Len(), e)
				} else {
					require.EqualValues(t, e[k], v)
					require.EqualValues(t, e[k], m.Get(k))
				}
			default: // 5% rehash in place and iterate
				m.rehash(m.capacity())
				require.Equal(t, e, m.toBuiltinMap())
			}
			require.EqualValues(t, len(e), m.Len())
		}
		require.Equal(t, e, m.toBuiltinMap())
	}

	t.Run("normal", func(t *testing.T) {
		test(t, New[int, int](0))
	})

	t.Run("degenerate", func(t *testing.T) {
		test(t, New[int, int](0, WithHash[int, int](func(k int) uint64 {
			return uint64(k % 7)
		})))
	})
}

func TestZeroKey(t *testing.T) {
	t.Run("int", func(t *testing.T) {
		m := New[int32, int32](0)
		m.Put(1, 10)
		require.EqualValues(t, 0, m.Put(0, 7))
		require.True(t, m.containsNull)
		require.True(t, m.ContainsKey(0))
		require.EqualValues(t, 7, m.Get(0))
		require.EqualValues(t, 2, m.Len())
		require.True(t, m.ContainsValue(7))
		require.Equal(t, map[int32]int32{0: 7, 1: 10}, m.toBuiltinMap())

		v, ok := m.Remove(0)
		require.True(t, ok)
		require.EqualValues(t, 7, v)
		require.False(t, m.containsNull)
		require.False(t, m.ContainsKey(0))
		require.False(t, m.ContainsValue(7))
		require.EqualValues(t, 1, m.Len())

		m.Put(0, 8)
		require.EqualValues(t, 8, m.Get(0))
		require.EqualValues(t, 2, m.Len())

		// The zero key survives a rehash.
		for i := int32(2); i < 100; i++ {
			m.Put(i, i*10)
		}
		require.EqualValues(t, 8, m.Get(0))
		require.EqualValues(t, 10, m.Get(1))
	})

	t.Run("float", func(t *testing.T) {
		m := New[float64, int](0)
		negZero := math.Copysign(0, -1)
		m.Put(negZero, 3)
		require.False(t, m.containsNull)
		require.False(t, m.ContainsKey(0))
		m.Put(0, 2)
		require.True(t, m.containsNull)
		m.Put(1.5, 4)
		require.EqualValues(t, 3, m.Get(negZero))
		require.EqualValues(t, 2, m.Get(0))
		require.EqualValues(t, 4, m.Get(1.5))
		require.EqualValues(t, 3, m.Len())

		_, ok := m.Remove(negZero)
		require.True(t, ok)
		require.EqualValues(t, 2, m.Get(0))
	})

	t.Run("string", func(t *testing.T) {
		m := New[string, string](0)
		m.Put("", "empty")
		m.Put("a", "b")
		require.Equal(t, "empty", m.Get(""))
		require.Equal(t, "b", m.Get("a"))
		m.Remove("")
		require.False(t, m.ContainsKey(""))
		require.Equal(t, "b", m.Get("a"))
	})

	t.Run("bool", func(t *testing.T) {
		m := New[bool, int](0)
		m.Put(false, 1)
		m.Put(true, 2)
		require.Equal(t, map[bool]int{false: 1, true: 2}, m.toBuiltinMap())
	})
}

func TestNaNKeys(t *testing.T) {
	t.Run("float64", func(t *testing.T) {
		m := New[float64, int](0)
		require.EqualValues(t, 0, m.Put(math.NaN(), 1))
		require.EqualValues(t, 1, m.Put(math.NaN(), 2))
		require.EqualValues(t, 1, m.Len())
		require.True(t, m.ContainsKey(math.NaN()))
		require.EqualValues(t, 2, m.Get(math.NaN()))

		// Every NaN payload is the same key.
		other := math.Float64frombits(0x7ff0000000000001)
		require.True(t, math.IsNaN(other))
		require.EqualValues(t, 2, m.Get(other))

		for i := 1; i <= 100; i++ {
			m.Put(float64(i), i)
		}
		require.EqualValues(t, 2, m.Get(math.NaN()))
		require.EqualValues(t, 101, m.Len())

		v, ok := m.Remove(math.NaN())
		require.True(t, ok)
		require.EqualValues(t, 2, v)
		require.False(t, m.ContainsKey(math.NaN()))
		require.EqualValues(t, 100, m.Len())
	})

	t.Run("float32", func(t *testing.T) {
		nan := float32(math.NaN())
		m := New[float32, string](0)
		m.Put(nan, "a")
		m.Put(nan, "b")
		require.EqualValues(t, 1, m.Len())
		require.Equal(t, "b", m.Get(nan))
		require.Equal(t, map[string]int{"b": 1}, countValues(m))
	})

	t.Run("degenerate", func(t *testing.T) {
		m := New[float64, int](0, WithHash[float64, int](constantHash[float64](7)))
		for i := 1; i <= 10; i++ {
			m.Put(float64(i), i)
		}
		m.Put(math.NaN(), -1)
		for i := 1; i <= 10; i += 2 {
			m.Remove(float64(i))
		}
		require.EqualValues(t, -1, m.Get(math.NaN()))
		m.Remove(math.NaN())
		require.EqualValues(t, 5, m.Len())
		for i := 2; i <= 10; i += 2 {
			require.EqualValues(t, i, m.Get(float64(i)))
		}
	})
}

// countValues counts the entries holding each value. Unlike toBuiltinMap it
// works for NaN keys, which a builtin map cannot look up.
func countValues[K Key, V comparable](m *Map[K, V]) map[V]int {
	r := make(map[V]int)
	m.All(func(_ K, v V) bool {
		r[v]++
		return true
	})
	return r
}

func TestDefaultValue(t *testing.T) {
	m := New[int, int](0, WithDefaultValue[int, int](-1))
	require.EqualValues(t, -1, m.DefaultValue())
	require.EqualValues(t, -1, m.Get(3))
	require.EqualValues(t, -1, m.Put(3, 30))
	require.EqualValues(t, 30, m.Put(3, 31))
	v, ok := m.Remove(4)
	require.False(t, ok)
	require.EqualValues(t, -1, v)
	require.EqualValues(t, 5, m.GetOrDefault(4, 5))
}

func TestGrowShrink(t *testing.T) {
	m := New[int, int](0)
	var capacities []int
	for i := 1; i <= 100; i++ {
		m.Put(i, i)
		if c := m.capacity(); len(capacities) == 0 || capacities[len(capacities)-1] != c {
			capacities = append(capacities, c)
		}
	}
	require.Equal(t, []int{16, 32, 64, 128, 256}, capacities)

	capacities = capacities[:0]
	for i := 1; i <= 100; i++ {
		m.Remove(i)
		if c := m.capacity(); len(capacities) == 0 || capacities[len(capacities)-1] != c {
			capacities = append(capacities, c)
		}
		for j := i + 1; j <= 100; j++ {
			require.EqualValues(t, j, m.Get(j))
		}
	}
	require.Equal(t, []int{256, 128, 64, 32, 16}, capacities)
	require.EqualValues(t, 0, m.Len())

	// A map never shrinks below its initial capacity.
	m = New[int, int](1000)
	require.EqualValues(t, 2048, m.capacity())
	for i := 1; i <= 1000; i++ {
		m.Put(i, i)
	}
	for i := 1; i <= 1000; i++ {
		m.Remove(i)
	}
	require.EqualValues(t, 2048, m.capacity())
}

func TestResizeStability(t *testing.T) {
	m := New[uint64, uint64](0)
	for i := 0; i < 1000; i++ {
		m.Put(rand.Uint64(), uint64(i))
	}
	before := m.toBuiltinMap()
	m.rehash(m.capacity() * 4)
	require.Equal(t, before, m.toBuiltinMap())
	m.rehash(m.capacity() / 4)
	require.Equal(t, before, m.toBuiltinMap())
	require.EqualValues(t, len(before), m.Len())
}

func TestClear(t *testing.T) {
	m := New[int, int](0)
	for i := 0; i < 1000; i++ {
		m.Put(i, i)
	}

	capacity := m.capacity()
	m.Clear()
	require.EqualValues(t, 0, m.Len())
	require.EqualValues(t, capacity, m.capacity())
	require.False(t, m.containsNull)

	m.All(func(k, v int) bool {
		require.Fail(t, "should not iterate")
		return true
	})

	m.Put(5, 6)
	require.Equal(t, map[int]int{5: 6}, m.toBuiltinMap())
}

func TestTrim(t *testing.T) {
	m := New[int, int](0)
	for i := 1; i <= 100; i++ {
		m.Put(i, i)
	}
	for i := 51; i <= 100; i++ {
		m.Remove(i)
	}
	require.EqualValues(t, 256, m.capacity())
	e := m.toBuiltinMap()

	// Too small to hold the current entries: a successful no-op.
	require.True(t, m.TrimTo(10))
	require.EqualValues(t, 256, m.capacity())

	require.True(t, m.Trim())
	require.EqualValues(t, 128, m.capacity())
	require.Equal(t, e, m.toBuiltinMap())

	// Larger than the current capacity: a successful no-op.
	require.True(t, m.TrimTo(1000))
	require.EqualValues(t, 128, m.capacity())

	// Already minimal: true, but nothing changes.
	require.True(t, m.Trim())
	require.EqualValues(t, 128, m.capacity())

	// Not representable.
	require.False(t, m.TrimTo(math.MaxInt))
	require.EqualValues(t, 128, m.capacity())
	require.Equal(t, e, m.toBuiltinMap())

	// Never below the initial capacity.
	m = New[int, int](100)
	require.EqualValues(t, 256, m.capacity())
	m.Put(1, 1)
	require.True(t, m.Trim())
	require.EqualValues(t, 256, m.capacity())
}

func TestClearAndTrim(t *testing.T) {
	m := New[int, int](0)
	for i := 0; i < 100; i++ {
		m.Put(i, i)
	}
	require.EqualValues(t, 256, m.capacity())

	m.ClearAndTrim(1000)
	require.EqualValues(t, 256, m.capacity())
	require.EqualValues(t, 0, m.Len())

	for i := 0; i < 100; i++ {
		m.Put(i, i)
	}
	m.ClearAndTrim(20)
	require.EqualValues(t, 32, m.capacity())
	require.EqualValues(t, 0, m.Len())
	require.False(t, m.ContainsKey(0))
	require.Empty(t, m.toBuiltinMap())

	m.Put(0, 1)
	m.Put(7, 8)
	require.Equal(t, map[int]int{0: 1, 7: 8}, m.toBuiltinMap())
}

func TestEnsureCapacity(t *testing.T) {
	m := New[int, int](0)
	m.Put(1, 1)
	m.EnsureCapacity(100)
	require.EqualValues(t, 256, m.capacity())
	m.EnsureCapacity(10)
	require.EqualValues(t, 256, m.capacity())
	require.EqualValues(t, 1, m.Get(1))
}

func TestCopyAndEqual(t *testing.T) {
	m := New[int, int](0, WithDefaultValue[int, int](-1))
	for i := 0; i < 50; i++ {
		m.Put(i, i*i)
	}
	c := m.Copy()
	require.True(t, m.Equal(c))
	require.True(t, c.Equal(m))
	require.Equal(t, m.toBuiltinMap(), c.toBuiltinMap())
	require.EqualValues(t, -1, c.Get(1000))

	c.Put(0, 99)
	c.Remove(1)
	c.Put(1000, 1)
	require.EqualValues(t, 0, m.Get(0))
	require.EqualValues(t, 1, m.Get(1))
	require.False(t, m.ContainsKey(1000))
	require.False(t, m.Equal(c))

	o := New[int, int](0)
	for i := 49; i >= 0; i-- {
		o.Put(i, i*i)
	}
	require.True(t, m.Equal(o))
	o.Put(3, 0)
	require.False(t, m.Equal(o))
}

func TestString(t *testing.T) {
	m := New[int, int](0)
	require.Equal(t, "{}", m.String())
	m.Put(1, 2)
	require.Equal(t, "{1=>2}", m.String())
	m.Put(0, 5)
	require.Equal(t, "{0=>5, 1=>2}", m.String())
}

func TestBulkConstructors(t *testing.T) {
	m := NewFromSlices([]int16{1, 2, 3, 2}, []float32{1.5, 2.5, 3.5, 4.5})
	require.Equal(t, map[int16]float32{1: 1.5, 2: 4.5, 3: 3.5}, m.toBuiltinMap())

	src := map[uint8]bool{0: true, 1: false, 200: true}
	require.Equal(t, src, NewFromMap(src).toBuiltinMap())
}

func TestPutAll(t *testing.T) {
	for _, f := range []float64{0.25, DefaultLoadFactor} {
		m := New[int, int](0, WithLoadFactor[int, int](f))
		src := New[int, int](0)
		e := make(map[int]int)
		for i := 0; i < 100; i++ {
			m.Put(i, i)
			e[i] = i
		}
		for i := 50; i < 300; i++ {
			src.Put(i, -i)
			e[i] = -i
		}
		m.PutAll(src)
		require.Equal(t, e, m.toBuiltinMap())
	}
}

func TestNamedKeyTypes(t *testing.T) {
	type userID int32
	type label string
	m := New[userID, label](0)
	for i := userID(-50); i < 50; i++ {
		m.Put(i, label(fmt.Sprint(i)))
	}
	for i := userID(-50); i < 50; i++ {
		require.EqualValues(t, fmt.Sprint(i), m.Get(i))
	}
	s := New[label, userID](0)
	s.Put("x", 1)
	require.EqualValues(t, 1, s.Get("x"))
}

type countingAllocator[K Key, V comparable] struct {
	alloc int
	free  int
}

func (a *countingAllocator[K, V]) AllocKeys(n int) []K {
	a.alloc++
	return make([]K, n)
}

func (a *countingAllocator[K, V]) AllocValues(n int) []V {
	return make([]V, n)
}

func (a *countingAllocator[K, V]) FreeKeys(_ []K) {
	a.free++
}

func (a *countingAllocator[K, V]) FreeValues(_ []V) {
}

func TestAllocator(t *testing.T) {
	a := &countingAllocator[int, int]{}
	m := New[int, int](0, WithAllocator[int, int](a))

	for i := 0; i < 100; i++ {
		m.Put(i, i)
	}

	// 16 -> 32 -> 64 -> 128 -> 256
	const expected = 5
	require.EqualValues(t, expected, a.alloc)
	require.EqualValues(t, expected-1, a.free)

	m.Close()
	require.EqualValues(t, expected, a.free)
	m.Close()
	require.EqualValues(t, expected, a.free)
}

func TestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	m := New[int, int](0, WithLogger[int, int](zap.New(core)))
	for i := 1; i <= 12; i++ {
		m.Put(i, i)
	}
	rehashes := logs.FilterMessage("primmap: rehash").All()
	require.Len(t, rehashes, 1)
	fields := rehashes[0].ContextMap()
	require.EqualValues(t, 16, fields["old-capacity"])
	require.EqualValues(t, 32, fields["new-capacity"])
	require.EqualValues(t, 12, fields["size"])

	m.ClearAndTrim(0)
	require.Equal(t, 1, logs.FilterMessage("primmap: clear and trim").Len())
}
