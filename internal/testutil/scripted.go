package testutil

import (
	"context"
	"io"
	"sync"
	"time"
)

// ScriptedTransport is a transport.Transport whose output is fed by the test.
// Writes are recorded; with Echo set every write is copied to the output.
type ScriptedTransport struct {
	mu       sync.Mutex
	host     string
	pending  [][]byte
	writes   []string
	Echo     bool
	closed   bool
	opened   bool
	ReadWait time.Duration
	OpenErr  error
	// OnWrite runs after every write, outside the lock, so it may Feed.
	OnWrite func(s *ScriptedTransport, written string)
}

func NewScriptedTransport(host string) *ScriptedTransport {
	return &ScriptedTransport{host: host, ReadWait: 2 * time.Millisecond}
}

func (s *ScriptedTransport) Open(ctx context.Context) error {
	if s.OpenErr != nil {
		return s.OpenErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	s.closed = false
	return nil
}

func (s *ScriptedTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *ScriptedTransport) Host() string {
	return s.host
}

func (s *ScriptedTransport) Write(b []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return io.ErrClosedPipe
	}
	s.writes = append(s.writes, string(b))
	if s.Echo {
		s.pending = append(s.pending, append([]byte(nil), b...))
	}
	hook := s.OnWrite
	s.mu.Unlock()

	if hook != nil {
		hook(s, string(b))
	}
	return nil
}

// Read returns the next fed chunk, or an empty slice after ReadWait.
func (s *ScriptedTransport) Read() ([]byte, error) {
	deadline := time.Now().Add(s.ReadWait)
	for {
		s.mu.Lock()
		if len(s.pending) > 0 {
			chunk := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()
			return chunk, nil
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return nil, io.EOF
		}
		if !time.Now().Before(deadline) {
			return []byte{}, nil
		}
		time.Sleep(200 * time.Microsecond)
	}
}

// Feed queues chunks, each returned by a separate Read.
func (s *ScriptedTransport) Feed(chunks ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		s.pending = append(s.pending, []byte(c))
	}
}

// FeedAfter queues chunks once d has elapsed.
func (s *ScriptedTransport) FeedAfter(d time.Duration, chunks ...string) {
	time.AfterFunc(d, func() { s.Feed(chunks...) })
}

// Writes returns every write in order.
func (s *ScriptedTransport) Writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.writes))
	copy(out, s.writes)
	return out
}

func (s *ScriptedTransport) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

func (s *ScriptedTransport) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
