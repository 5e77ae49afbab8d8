package teleop

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gwillem/keyforce/pkg/force"
)

const testTimeout = 2 * time.Second

// recorder is a Publisher that keeps every command it is handed.
type recorder struct {
	subscribers atomic.Int32
	ch          chan force.Command
	delay       time.Duration

	mu   sync.Mutex
	cmds []force.Command
	err  error
}

func newRecorder(subscribers int) *recorder {
	r := &recorder{ch: make(chan force.Command, 1024)}
	r.subscribers.Store(int32(subscribers))
	return r
}

func (r *recorder) Name() string { return "test/force" }

func (r *recorder) Subscribers() int { return int(r.subscribers.Load()) }

func (r *recorder) Publish(cmd force.Command) error {
	r.mu.Lock()
	r.cmds = append(r.cmds, cmd)
	err := r.err
	r.mu.Unlock()
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	select {
	case r.ch <- cmd:
	default:
		// tests that flood the loop read published() instead
	}
	return err
}

func (r *recorder) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *recorder) published() []force.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]force.Command(nil), r.cmds...)
}

// next waits for the next published command.
func (r *recorder) next(t *testing.T) force.Command {
	t.Helper()
	select {
	case cmd := <-r.ch:
		return cmd
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for a publish")
		return force.Command{}
	}
}

// expectNone fails if anything is published within d.
func (r *recorder) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case cmd := <-r.ch:
		t.Fatalf("unexpected publish %+v", cmd)
	case <-time.After(d):
	}
}

type readResult struct {
	key rune
	ok  bool
	err error
}

// scriptedKeys hands out one result per value sent on results.
type scriptedKeys struct {
	results chan readResult
	panics  bool
}

func newScriptedKeys() *scriptedKeys {
	return &scriptedKeys{results: make(chan readResult)}
}

func (s *scriptedKeys) ReadKey(ctx context.Context, wait WaitPolicy) (rune, bool, error) {
	select {
	case r := <-s.results:
		if s.panics && r.err != nil {
			panic(r.err)
		}
		return r.key, r.ok, r.err
	case <-ctx.Done():
		return 0, false, ctx.Err()
	}
}

func (s *scriptedKeys) press(t *testing.T, key rune) {
	t.Helper()
	s.send(t, readResult{key: key, ok: true})
}

func (s *scriptedKeys) send(t *testing.T, r readResult) {
	t.Helper()
	select {
	case s.results <- r:
	case <-time.After(testTimeout):
		t.Fatal("session is not reading keys")
	}
}
