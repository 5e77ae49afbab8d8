package keyboard

import (
	"context"
	"io"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/gwillem/keyforce/pkg/teleop"
)

// Queue is a key source fed by another component, such as a TUI that
// already owns the terminal.
type Queue struct {
	keys   chan rune
	closed chan struct{}
	once   sync.Once
	clock  clock.Clock
}

// NewQueue creates a queue buffering up to size keys.
func NewQueue(size int, opts ...Option) *Queue {
	return &Queue{
		keys:   make(chan rune, size),
		closed: make(chan struct{}),
		clock:  buildOptions(opts).clock,
	}
}

// Push enqueues key without blocking. It returns false if the queue is
// full and the key was dropped.
func (q *Queue) Push(key rune) bool {
	select {
	case q.keys <- key:
		return true
	default:
		return false
	}
}

// Close makes ReadKey return io.EOF once queued keys are drained.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.closed) })
}

// ReadKey implements teleop.KeyReader.
func (q *Queue) ReadKey(ctx context.Context, wait teleop.WaitPolicy) (rune, bool, error) {
	// queued keys win over close
	select {
	case key := <-q.keys:
		return key, true, nil
	default:
	}

	timeout, stop := wait.Timer(q.clock)
	defer stop()

	select {
	case key := <-q.keys:
		return key, true, nil
	case <-q.closed:
		return 0, false, io.EOF
	case <-timeout:
		return 0, false, nil
	case <-ctx.Done():
		return 0, false, ctx.Err()
	}
}
