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
	"math"
	"reflect"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/zeebo/xxh3"
	"golang.org/x/exp/constraints"
)

const (
	// DefaultLoadFactor is the load factor used when none is configured.
	DefaultLoadFactor = 0.75

	// minArraySize is the smallest table capacity. Tables never shrink below
	// it and arraySize never returns less.
	minArraySize = 16
	// maxArraySize is the largest table capacity. Requests beyond it are
	// configuration errors (or a false return from TrimTo).
	maxArraySize = 1 << 30

	// 2^64 / phi, the multiplier of the fibonacci hashing step in mix.
	phi64 = 0x9e3779b97f4a7c15

	// Every NaN key is folded into these bit patterns before hashing and
	// comparison.
	canonicalNaN32 = 0x7fc00000
	canonicalNaN64 = 0x7ff8000000000000
)

// Key is the set of key types a Map can be instantiated with: fixed-width
// integers and floats, booleans and strings. The zero value of the key type
// marks an empty slot; an entry whose key is the zero value is kept in a
// reserved slot at the end of the table.
//
// Floating point keys are compared by bit pattern rather than with ==: all
// NaNs are one key that finds itself like any other, and 0.0 and -0.0 are
// distinct keys. Only +0.0 is the zero key.
type Key interface {
	constraints.Integer | constraints.Float | ~bool | ~string
}

// Number is the set of value types supported by AddTo and SubFrom.
type Number interface {
	constraints.Integer | constraints.Float
}

type hashFn[K Key] func(key K) uint64

type equalFn[K Key] func(a, b K) bool

func float32Bits[K Key](key K) uint32 {
	f := *(*float32)(unsafe.Pointer(&key))
	if math.IsNaN(float64(f)) {
		return canonicalNaN32
	}
	return math.Float32bits(f)
}

func float64Bits[K Key](key K) uint64 {
	f := *(*float64)(unsafe.Pointer(&key))
	if math.IsNaN(f) {
		return canonicalNaN64
	}
	return math.Float64bits(f)
}

// defaultEqual returns the key equality of a Map. Floats compare by their
// canonical bits; everything else with ==. A custom hash given to WithHash
// must agree with it.
func defaultEqual[K Key]() equalFn[K] {
	switch reflect.TypeFor[K]().Kind() {
	case reflect.Float32:
		return func(a, b K) bool { return float32Bits(a) == float32Bits(b) }
	case reflect.Float64:
		return func(a, b K) bool { return float64Bits(a) == float64Bits(b) }
	default:
		return func(a, b K) bool { return a == b }
	}
}

// defaultHasher returns the hash function used for keys of type K unless
// WithHash is specified. Fixed-width keys hash to their raw bits (mix takes
// care of spreading them); strings are hashed with xxh3.
func defaultHasher[K Key]() hashFn[K] {
	switch reflect.TypeFor[K]().Kind() {
	case reflect.String:
		return func(key K) uint64 {
			return xxh3.HashString(*(*string)(unsafe.Pointer(&key)))
		}
	case reflect.Float32:
		return func(key K) uint64 { return uint64(float32Bits(key)) }
	case reflect.Float64:
		return func(key K) uint64 { return float64Bits(key) }
	}

	var k K
	switch unsafe.Sizeof(k) {
	case 1:
		return func(key K) uint64 {
			return uint64(*(*uint8)(unsafe.Pointer(&key)))
		}
	case 2:
		return func(key K) uint64 {
			return uint64(*(*uint16)(unsafe.Pointer(&key)))
		}
	case 4:
		return func(key K) uint64 {
			return uint64(*(*uint32)(unsafe.Pointer(&key)))
		}
	case 8:
		return func(key K) uint64 {
			return *(*uint64)(unsafe.Pointer(&key))
		}
	default:
		panic(errors.AssertionFailedf("unexpected key size %d", unsafe.Sizeof(k)))
	}
}

// mix spreads the bits of a hash so that the low bits used to pick a slot
// depend on all of the input bits. Hash functions that only vary in their
// high bits (or produce small sequential values) still spread across the
// table.
func mix(h uint64) uint64 {
	h *= phi64
	h ^= h >> 32
	return h ^ (h >> 16)
}

// maxFill returns the number of entries a table of capacity n may hold
// before it has to grow. At least one slot is always left empty so that
// probing terminates.
func maxFill(n int, f float64) int {
	m := int(float64(n) * f)
	if m > n-1 {
		m = n - 1
	}
	return m
}

// arraySize returns the smallest power of two n >= minArraySize such that
// expected entries fit in a table of capacity n at load factor f. It panics
// if no representable capacity is large enough.
func arraySize(expected int, f float64) int {
	n, ok := tryArraySize(expected, f)
	if !ok {
		panic(errors.Wrapf(ErrInvalidConfig,
			"%d entries at load factor %v exceed the maximum capacity %d", expected, f, maxArraySize))
	}
	return n
}

// tryArraySize is arraySize without the panic.
func tryArraySize(expected int, f float64) (int, bool) {
	n := minArraySize
	for expected > maxFill(n, f) {
		if n >= maxArraySize {
			return 0, false
		}
		n <<= 1
	}
	return n, true
}
