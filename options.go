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
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// option provide an interface to do work on Map while it is being created.
type option[K Key, V comparable] interface {
	apply(m *Map[K, V])
}

type hashOption[K Key, V comparable] struct {
	hash func(key K) uint64
}

func (op hashOption[K, V]) apply(m *Map[K, V]) {
	m.hash = op.hash
}

// WithHash is an option to specify the hash function to use for a Map[K,V].
// The result is mixed before it is reduced to a slot, so the function does
// not need to spread its output across the low bits.
func WithHash[K Key, V comparable](hash func(key K) uint64) option[K, V] {
	return hashOption[K, V]{hash}
}

type loadFactorOption[K Key, V comparable] struct {
	f float64
}

func (op loadFactorOption[K, V]) apply(m *Map[K, V]) {
	m.loadFactor = op.f
}

// WithLoadFactor is an option to specify the fraction of slots that may be
// occupied before the table grows. It must lie in (0,1).
func WithLoadFactor[K Key, V comparable](f float64) option[K, V] {
	return loadFactorOption[K, V]{f}
}

type defaultValueOption[K Key, V comparable] struct {
	v V
}

func (op defaultValueOption[K, V]) apply(m *Map[K, V]) {
	m.defaultValue = op.v
}

// WithDefaultValue is an option to specify the value returned by Get,
// Put and friends when a key is not present. It defaults to the zero value
// of V and cannot be changed after construction.
func WithDefaultValue[K Key, V comparable](v V) option[K, V] {
	return defaultValueOption[K, V]{v}
}

// Allocator specifies an interface for allocating and releasing the key and
// value arrays used by a Map. The default allocator utilizes Go's builtin
// make() and allows the GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that arrays be
// freed then Map.Close must be called in order to ensure FreeKeys and
// FreeValues are called for the live arrays.
type Allocator[K Key, V comparable] interface {
	// AllocKeys should return a slice equivalent to make([]K, n).
	AllocKeys(n int) []K

	// AllocValues should return a slice equivalent to make([]V, n).
	AllocValues(n int) []V

	// FreeKeys can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by AllocKeys.
	FreeKeys(v []K)

	// FreeValues can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocValues.
	FreeValues(v []V)
}

type defaultAllocator[K Key, V comparable] struct{}

func (defaultAllocator[K, V]) AllocKeys(n int) []K {
	return make([]K, n)
}

func (defaultAllocator[K, V]) AllocValues(n int) []V {
	return make([]V, n)
}

func (defaultAllocator[K, V]) FreeKeys(v []K) {
}

func (defaultAllocator[K, V]) FreeValues(v []V) {
}

type allocatorOption[K Key, V comparable] struct {
	allocator Allocator[K, V]
}

func (op allocatorOption[K, V]) apply(m *Map[K, V]) {
	m.allocator = op.allocator
}

// WithAllocator is an option for specify the Allocator to use for a Map[K,V].
func WithAllocator[K Key, V comparable](allocator Allocator[K, V]) option[K, V] {
	return allocatorOption[K, V]{allocator}
}

type loggerOption[K Key, V comparable] struct {
	logger *zap.Logger
}

func (op loggerOption[K, V]) apply(m *Map[K, V]) {
	if op.logger != nil {
		m.logger = op.logger
	}
}

// WithLogger is an option to specify a logger that receives debug-level
// events for every resize of the table. The default logger discards
// everything.
func WithLogger[K Key, V comparable](logger *zap.Logger) option[K, V] {
	return loggerOption[K, V]{logger}
}

// Config holds the sizing parameters of a Map in a form that can be loaded
// from a configuration file.
type Config struct {
	// ExpectedSize is the number of entries the table is sized for
	// initially. The table never shrinks below that capacity on its own.
	ExpectedSize int `toml:"expected-size"`
	// LoadFactor is the fraction of slots that may be occupied before the
	// table grows. Zero means DefaultLoadFactor.
	LoadFactor float64 `toml:"load-factor"`
}

// Validate returns an error wrapping ErrInvalidConfig if a Map could not be
// constructed from c.
func (c Config) Validate() error {
	f := c.LoadFactor
	if f == 0 {
		f = DefaultLoadFactor
	}
	return validate(c.ExpectedSize, f)
}

func validate(expected int, f float64) error {
	if expected < 0 {
		return errors.Wrapf(ErrInvalidConfig, "expected size %d is negative", expected)
	}
	if !(f > 0 && f < 1) {
		return errors.Wrapf(ErrInvalidConfig, "load factor %v is not in (0,1)", f)
	}
	if _, ok := tryArraySize(expected, f); !ok {
		return errors.Wrapf(ErrInvalidConfig,
			"%d entries at load factor %v exceed the maximum capacity %d", expected, f, maxArraySize)
	}
	return nil
}

type configOption[K Key, V comparable] struct {
	cfg Config
}

func (op configOption[K, V]) apply(m *Map[K, V]) {
	if op.cfg.LoadFactor != 0 {
		m.loadFactor = op.cfg.LoadFactor
	}
	m.expectedHint = op.cfg.ExpectedSize
}

// WithConfig is an option to apply a Config. ExpectedSize takes effect when
// it is larger than the size passed to New.
func WithConfig[K Key, V comparable](cfg Config) option[K, V] {
	return configOption[K, V]{cfg}
}
