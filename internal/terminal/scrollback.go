package terminal

import "sync"

// defaultScrollbackSize is the default maximum scrollback buffer size (1 MB).
const defaultScrollbackSize = 1024 * 1024

// ScrollbackBuffer stores recent shell output for replay when a client
// reattaches. When the buffer exceeds maxLen, older data is trimmed from
// the front.
type ScrollbackBuffer struct {
	mu     sync.Mutex
	data   []byte
	maxLen int
}

func NewScrollbackBuffer(maxLen int) *ScrollbackBuffer {
	if maxLen <= 0 {
		maxLen = defaultScrollbackSize
	}
	return &ScrollbackBuffer{maxLen: maxLen}
}

func (s *ScrollbackBuffer) Write(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data, p...)
	if len(s.data) > s.maxLen {
		s.data = s.data[len(s.data)-s.maxLen:]
	}
}

// Snapshot returns a copy of the current buffer contents.
func (s *ScrollbackBuffer) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out
}

func (s *ScrollbackBuffer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
