// Package keys provides the small set type returned by index lookups.
package keys

import (
	"cmp"
	"slices"
)

// Set is an unordered set of comparable keys. The zero value is not usable;
// create one with NewSet.
type Set[K cmp.Ordered] struct {
	Data map[K]struct{}
}

func NewSet[K cmp.Ordered](capacity int) Set[K] {
	return Set[K]{Data: make(map[K]struct{}, capacity)}
}

// Of builds a set holding keys.
func Of[K cmp.Ordered](keys ...K) Set[K] {
	s := NewSet[K](len(keys))
	for _, k := range keys {
		s.Insert(k)
	}
	return s
}

func (s Set[K]) Insert(key K) {
	s.Data[key] = struct{}{}
}

func (s Set[K]) Remove(key K) {
	delete(s.Data, key)
}

func (s Set[K]) Has(key K) bool {
	_, ok := s.Data[key]
	return ok
}

func (s Set[K]) Len() int { return len(s.Data) }

// Union adds every key of other to s.
func (s Set[K]) Union(other Set[K]) {
	for k := range other.Data {
		s.Data[k] = struct{}{}
	}
}

// Sorted returns the keys in ascending order.
func (s Set[K]) Sorted() []K {
	out := make([]K, 0, len(s.Data))
	for k := range s.Data {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
