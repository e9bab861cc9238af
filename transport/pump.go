package transport

import (
	"io"
	"sync"
	"time"
)

const readBufferSize = 65535

// pump copies an io.Reader into a chunk queue so Read can return within a
// bounded window instead of blocking on the underlying stream.
type pump struct {
	chunks  chan []byte
	timeout time.Duration

	mu  sync.Mutex
	err error
}

func newPump(timeout time.Duration) *pump {
	return &pump{
		chunks:  make(chan []byte, 256),
		timeout: timeout,
	}
}

// run reads r until error.
func (p *pump) run(r io.Reader) {
	defer close(p.chunks)
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.chunks <- chunk
		}
		if err != nil {
			p.mu.Lock()
			p.err = err
			p.mu.Unlock()
			return
		}
	}
}

func (p *pump) read() ([]byte, error) {
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case chunk, ok := <-p.chunks:
		if !ok {
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.err != nil && p.err != io.EOF {
				return nil, p.err
			}
			return nil, io.EOF
		}
		// drain whatever else already arrived
		for {
			select {
			case more, ok := <-p.chunks:
				if !ok {
					return chunk, nil
				}
				chunk = append(chunk, more...)
			default:
				return chunk, nil
			}
		}
	case <-timer.C:
		return []byte{}, nil
	}
}
