// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package circular

// Ring is a fixed capacity FIFO over external storage.
// Storage length must be a power of 2, the ring never grows, so
// whoever allocated storage gets it back unchanged from Release.
// Limit can be smaller than storage, so capacity is exactly what owner asked for.
type Ring[T any] struct {
	elements  []T  // length == 2^x
	limit     int  // <= len(elements)
	read_pos  uint // uint because we rely on integer overflow
	write_pos uint
}

// RoundUp returns the smallest power of 2 >= n, storage size for a ring of capacity n
func RoundUp(n int) int {
	capacity := 1
	for capacity < n {
		capacity *= 2
	}
	return capacity
}

func (s *Ring[T]) Init(elements []T, limit int) {
	if len(elements)&(len(elements)-1) != 0 {
		panic("circular ring storage length must be a power of 2")
	}
	if limit < 0 || limit > len(elements) {
		panic("circular ring limit does not fit storage")
	}
	*s = Ring[T]{elements: elements, limit: limit}
}

// Release clears ring and returns storage to the owner, ring becomes unusable until next Init
func (s *Ring[T]) Release() []T {
	s.Clear()
	elements := s.elements
	*s = Ring[T]{}
	return elements
}

func (s *Ring[T]) Initialized() bool { return s.elements != nil }

func (s *Ring[T]) Len() int {
	return int(s.write_pos - s.read_pos) // diff will always fit int and be >= 0
}

func (s *Ring[T]) Cap() int { return s.limit }

func (s *Ring[T]) Available() int { return s.limit - s.Len() }

func (s *Ring[T]) mask() uint { return uint(len(s.elements)) - 1 } // also correct for 0 length

// Two parts of circular buffer
func (s *Ring[T]) Slices() ([]T, []T) {
	m := s.mask()
	if s.Len() == 0 {
		return nil, nil
	}
	if s.write_pos&^m == s.read_pos&^m || s.write_pos&m == 0 {
		end := s.write_pos & m
		if end == 0 {
			end = uint(len(s.elements))
		}
		return s.elements[s.read_pos&m : end], nil
	}
	return s.elements[s.read_pos&m:], s.elements[:s.write_pos&m]
}

func (s *Ring[T]) TryPushBack(element T) bool {
	if s.Len() >= s.limit {
		return false
	}
	s.elements[s.write_pos&s.mask()] = element
	s.write_pos++
	return true
}

func (s *Ring[T]) PushBack(element T) {
	if !s.TryPushBack(element) {
		panic("full circular buffer")
	}
}

// Write appends as many elements as fit, returns number appended
func (s *Ring[T]) Write(src []T) int {
	n := min(len(src), s.Available())
	for _, e := range src[:n] {
		s.elements[s.write_pos&s.mask()] = e
		s.write_pos++
	}
	return n
}

func (s *Ring[T]) Front() T {
	if s.write_pos == s.read_pos {
		panic("empty circular buffer")
	}
	return s.elements[s.read_pos&s.mask()]
}

func (s *Ring[T]) Index(pos int) T {
	if pos < 0 {
		panic("circular buffer index < 0")
	}
	if pos >= s.Len() {
		panic("circular buffer index out of range")
	}
	return s.elements[(s.read_pos+uint(pos))&s.mask()]
}

func (s *Ring[T]) TryPopFront() (T, bool) {
	var empty T
	if s.write_pos == s.read_pos {
		return empty, false
	}
	offset := s.read_pos & s.mask()
	element := s.elements[offset]
	s.elements[offset] = empty // do not have dangling references in unused parts of buffer
	s.read_pos++
	return element, true
}

func (s *Ring[T]) PopFront() T {
	element, ok := s.TryPopFront()
	if !ok {
		panic("empty circular buffer")
	}
	return element
}

// Discard drops n elements from the front, n must be <= Len()
func (s *Ring[T]) Discard(n int) {
	if n < 0 || n > s.Len() {
		panic("circular buffer discard out of range")
	}
	var empty T
	for i := 0; i < n; i++ {
		s.elements[s.read_pos&s.mask()] = empty
		s.read_pos++
	}
}

func (s *Ring[T]) Clear() {
	var empty T
	s1, s2 := s.Slices()
	for i := range s1 {
		s1[i] = empty
	}
	for i := range s2 {
		s2[i] = empty
	}
	s.read_pos = 0
	s.write_pos = 0
}
