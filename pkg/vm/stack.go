package vm

import "fmt"

// Stack is the scratch byte stack shared by every machine of one run.
// The stack pointer always equals the number of live bytes: a push after a
// pop overwrites at the pointer rather than appending past stale bytes.
type Stack struct {
	buf   []byte
	limit int
}

// NewStack returns an empty, unbounded stack.
func NewStack() *Stack {
	return &Stack{}
}

// SetLimit caps the stack at n bytes. Zero removes the cap.
func (s *Stack) SetLimit(n int) {
	s.limit = n
}

// SP returns the stack pointer, a byte offset from the bottom.
func (s *Stack) SP() int { return len(s.buf) }

// Bytes returns a copy of the live bytes, bottom first.
func (s *Stack) Bytes() []byte {
	return append([]byte(nil), s.buf...)
}

// Reset empties the stack, keeping its capacity.
func (s *Stack) Reset() {
	s.buf = s.buf[:0]
}

// Push writes b at the stack pointer and advances it by len(b).
func (s *Stack) Push(b []byte) error {
	if s.limit > 0 && len(s.buf)+len(b) > s.limit {
		return fmt.Errorf("%w: push of %d bytes at sp %d, limit %d",
			ErrStackLimit, len(b), len(s.buf), s.limit)
	}
	s.buf = append(s.buf, b...)
	return nil
}

// Pop retreats the stack pointer by n and returns the n bytes it covered.
// The result is only valid until the next Push.
func (s *Stack) Pop(n int) ([]byte, error) {
	sp := len(s.buf)
	if sp < n {
		return nil, fmt.Errorf("%w: pop of %d bytes with sp %d", ErrStackUnderflow, n, sp)
	}
	out := s.buf[sp-n : sp]
	s.buf = s.buf[:sp-n]
	return out, nil
}
