// Package keyboard provides key sources for a teleoperation session.
package keyboard

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/benbjohnson/clock"
	"golang.org/x/term"

	"github.com/gwillem/keyforce/pkg/teleop"
)

// Reader delivers the runes of an io.Reader one key at a time.
type Reader struct {
	keys  chan rune
	err   error // set before keys is closed
	clock clock.Clock
}

// Option configures a key source.
type Option func(*options)

type options struct {
	clock clock.Clock
}

// WithClock sets the clock that times key waits.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func buildOptions(opts []Option) options {
	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewReader starts reading r in the background. The goroutine ends when
// r returns an error; a blocked Read cannot be interrupted.
func NewReader(r io.Reader, opts ...Option) *Reader {
	rd := &Reader{
		keys:  make(chan rune, 16),
		clock: buildOptions(opts).clock,
	}
	go rd.loop(bufio.NewReader(r))
	return rd
}

func (r *Reader) loop(br *bufio.Reader) {
	for {
		key, _, err := br.ReadRune()
		if err != nil {
			r.err = err
			close(r.keys)
			return
		}
		r.keys <- key
	}
}

// ReadKey implements teleop.KeyReader. After the underlying reader
// fails, every call returns that error.
func (r *Reader) ReadKey(ctx context.Context, wait teleop.WaitPolicy) (rune, bool, error) {
	timeout, stop := wait.Timer(r.clock)
	defer stop()

	select {
	case key, open := <-r.keys:
		if !open {
			return 0, false, r.err
		}
		return key, true, nil
	case <-timeout:
		return 0, false, nil
	case <-ctx.Done():
		return 0, false, ctx.Err()
	}
}

// Terminal reads keys from a terminal held in raw mode, so single key
// presses arrive without Enter and Ctrl+C arrives as force.ExitKey.
type Terminal struct {
	*Reader
	fd    int
	state *term.State
}

// NewTerminal switches f into raw mode. Close restores it.
func NewTerminal(f *os.File, opts ...Option) (*Terminal, error) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("%s is not a terminal", f.Name())
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("enter raw mode: %w", err)
	}

	return &Terminal{
		Reader: NewReader(f, opts...),
		fd:     fd,
		state:  state,
	}, nil
}

// Close restores the terminal settings saved by NewTerminal.
func (t *Terminal) Close() error {
	if err := term.Restore(t.fd, t.state); err != nil {
		return fmt.Errorf("restore terminal: %w", err)
	}
	return nil
}
