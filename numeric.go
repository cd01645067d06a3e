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

// AddTo adds incr to the value of key and returns the previous value (the
// default value if key was absent). An absent key starts from the default
// value. If the sum equals the default value the entry is removed rather
// than stored, so counters that return to their starting point disappear.
func AddTo[K Key, V Number](m *Map[K, V], key K, incr V) V {
	pos, found := m.findSlot(key)
	if !found {
		if v := m.defaultValue + incr; v != m.defaultValue {
			m.insertAt(pos, key, v)
		}
		return m.defaultValue
	}
	old := m.values[pos]
	if v := old + incr; v != m.defaultValue {
		m.values[pos] = v
	} else {
		m.removeAndShrink(pos)
	}
	return old
}

// SubFrom subtracts decr from the value of key and returns the previous
// value. It has the removal policy of AddTo.
func SubFrom[K Key, V Number](m *Map[K, V], key K, decr V) V {
	pos, found := m.findSlot(key)
	if !found {
		if v := m.defaultValue - decr; v != m.defaultValue {
			m.insertAt(pos, key, v)
		}
		return m.defaultValue
	}
	old := m.values[pos]
	if v := old - decr; v != m.defaultValue {
		m.values[pos] = v
	} else {
		m.removeAndShrink(pos)
	}
	return old
}
