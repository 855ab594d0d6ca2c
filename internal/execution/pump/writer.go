package pump

import (
	"io"
	"sync"
)

// SyncWriter serializes writes to a shared sink. Pumps write one whole
// line per call, so lines from different pumps never splice.
type SyncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewSyncWriter(w io.Writer) *SyncWriter {
	return &SyncWriter{w: w}
}

func (s *SyncWriter) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.w.Write(b)
	if err != nil {
		return n, err
	}

	if f, ok := s.w.(interface{ Flush() error }); ok {
		return n, f.Flush()
	}

	return n, nil
}
