// Copyright 2026 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package attribute holds backend-specific metadata for a discovered
// endpoint. A discovery backend knows things about an instance that the
// cache itself has no use for (a Nacos weight, the cluster an instance
// lives in, the version string an etcd registration advertised). Those
// values ride along on the endpoint in a Set so callers that do care can
// read them back without string-keyed maps or type assertions.
//
// Each attribute is declared once with [NewKey], which fixes its type:
//
//	var Weight = attribute.NewKey[float64]("weight")
//
//	attrs := attribute.NewSet(Weight.Value(1.5))
//	w, ok := attribute.Get(attrs, Weight)
//
// A Set is immutable; [Set.With] returns a copy.
package attribute

// Set is an immutable collection of attribute values. The zero value is an
// empty set.
type Set struct {
	data map[any]any
}

// NewSet creates a set from the given values. When a key appears more
// than once, the last value wins.
func NewSet(values ...Value) Set {
	if len(values) == 0 {
		return Set{}
	}
	data := make(map[any]any, len(values))
	for _, v := range values {
		data[v.key] = v.value
	}
	return Set{data: data}
}

// With returns a copy of s that also contains the given values.
func (s Set) With(values ...Value) Set {
	if len(values) == 0 {
		return s
	}
	data := make(map[any]any, len(s.data)+len(values))
	for k, v := range s.data {
		data[k] = v
	}
	for _, v := range values {
		data[v.key] = v.value
	}
	return Set{data: data}
}

// Len returns the number of attributes in the set.
func (s Set) Len() int {
	return len(s.data)
}

// Key identifies one attribute. Keys compare by pointer, so two keys
// created with the same name are still distinct.
type Key[T any] struct {
	name string
}

// NewKey declares a new attribute whose values have type T. The name is
// only used for display.
func NewKey[T any](name string) *Key[T] {
	return &Key[T]{name: name}
}

// Name returns the display name given to NewKey.
func (k *Key[T]) Name() string {
	return k.name
}

// Value pairs the key with a value so it can be passed to NewSet.
func (k *Key[T]) Value(value T) Value {
	return Value{key: k, value: value}
}

// Value is one key/value pair.
type Value struct {
	key, value any
}

// Get returns the value stored under key, or the zero value and false.
func Get[T any](s Set, key *Key[T]) (T, bool) {
	val, ok := s.data[key]
	if !ok {
		var zero T
		return zero, false
	}
	tval, ok := val.(T)
	return tval, ok
}
