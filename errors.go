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

var (
	// ErrInvalidConfig is wrapped by the panics raised when a Map is
	// constructed with a negative size, a load factor outside (0,1),
	// mismatched bulk slices, or a size that cannot be represented.
	ErrInvalidConfig = errors.New("primmap: invalid configuration")

	// ErrConcurrentModification is reported by an Iterator which observed a
	// structural change to its Map that it did not make itself.
	ErrConcurrentModification = errors.New("primmap: map structurally modified during iteration")

	// ErrNoCurrentEntry is returned by Iterator.Remove when there is no entry
	// to remove: Next has not been called, or the entry was already removed.
	ErrNoCurrentEntry = errors.New("primmap: iterator has no current entry")
)
