package vm

import (
	"math/bits"
	"strings"
)

// RegisterSet is a bit vector over the 256 selector values. Selectors with
// bank bits 11 can be stored but are never part of AllRegisters.
type RegisterSet struct {
	bits [4]uint64
}

// AllRegisters returns the set of every valid selector.
func AllRegisters() RegisterSet {
	var s RegisterSet
	for i := 0; i < 3; i++ {
		s.bits[i] = ^uint64(0)
	}
	return s
}

// Add puts sel in the set.
func (s *RegisterSet) Add(sel Selector) {
	s.bits[sel/64] |= uint64(1) << (sel % 64)
}

// Remove takes sel out of the set.
func (s *RegisterSet) Remove(sel Selector) {
	s.bits[sel/64] &^= uint64(1) << (sel % 64)
}

// Has reports whether sel is in the set.
func (s RegisterSet) Has(sel Selector) bool {
	return s.bits[sel/64]&(uint64(1)<<(sel%64)) != 0
}

// Len returns the number of selectors in the set.
func (s RegisterSet) Len() int {
	n := 0
	for _, word := range s.bits {
		n += bits.OnesCount64(word)
	}
	return n
}

// Union returns the selectors in s or other.
func (s RegisterSet) Union(other RegisterSet) RegisterSet {
	for i := range s.bits {
		s.bits[i] |= other.bits[i]
	}
	return s
}

// Intersect returns the selectors in both s and other.
func (s RegisterSet) Intersect(other RegisterSet) RegisterSet {
	for i := range s.bits {
		s.bits[i] &= other.bits[i]
	}
	return s
}

// Selectors returns the members in ascending selector order.
func (s RegisterSet) Selectors() []Selector {
	out := make([]Selector, 0, s.Len())
	for i, word := range s.bits {
		for word != 0 {
			b := bits.TrailingZeros64(word)
			out = append(out, Selector(i*64+b))
			word &= word - 1
		}
	}
	return out
}

// String renders the set as {w0, d3}.
func (s RegisterSet) String() string {
	sels := s.Selectors()
	names := make([]string, len(sels))
	for i, sel := range sels {
		names[i] = sel.String()
	}
	return "{" + strings.Join(names, ", ") + "}"
}
