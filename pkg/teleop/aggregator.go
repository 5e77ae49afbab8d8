package teleop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/gwillem/keyforce/pkg/force"
)

const defaultPollInterval = 100 * time.Millisecond

// Config holds configuration for the aggregator.
type Config struct {
	Wait         WaitPolicy    // how long the publish loop waits for an update
	PollInterval time.Duration // subscriber poll period in WaitForSubscribers
	Clock        clock.Clock
}

// Aggregator accumulates force deltas and publishes the clamped command
// from its own goroutine.
type Aggregator struct {
	pub   Publisher
	wait  WaitPolicy
	poll  time.Duration
	clock clock.Clock

	mu      sync.Mutex
	acc     force.Accumulator
	pending int // updates not yet answered by an emission
	phase   Phase

	wake    chan struct{}
	done    chan struct{}
	stateCh chan State
	logCh   chan string
}

// NewAggregator creates an aggregator publishing to pub. The publish loop
// does not run until Start is called.
func NewAggregator(pub Publisher, cfg Config) *Aggregator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	return &Aggregator{
		pub:     pub,
		wait:    cfg.Wait,
		poll:    cfg.PollInterval,
		clock:   cfg.Clock,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stateCh: make(chan State, 1),
		logCh:   make(chan string, 10),
	}
}

// States returns a channel that receives the latest emission.
func (a *Aggregator) States() <-chan State {
	return a.stateCh
}

// Logs returns a channel that receives log messages.
func (a *Aggregator) Logs() <-chan string {
	return a.logCh
}

// Wait returns the publish wait policy.
func (a *Aggregator) Wait() WaitPolicy {
	return a.wait
}

// Phase returns the current lifecycle phase.
func (a *Aggregator) Phase() Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

// Done is closed once the publish loop has sent its final zero command.
func (a *Aggregator) Done() <-chan struct{} {
	return a.done
}

func (a *Aggregator) log(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", a.clock.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case a.logCh <- msg:
	default:
		// Drop if channel full
	}
}

// Start spawns the publish loop.
func (a *Aggregator) Start() error {
	a.mu.Lock()
	if a.phase != Idle {
		phase := a.phase
		a.mu.Unlock()
		return fmt.Errorf("publish loop already %s", phase)
	}
	a.phase = Running
	a.mu.Unlock()

	a.log("Publishing to %s (wait %s)", a.pub.Name(), a.wait)
	go a.run()
	return nil
}

// Update adds d to the accumulated channels and wakes the publish loop.
// It never fails and may be called in any phase.
func (a *Aggregator) Update(d force.Deltas) {
	a.mu.Lock()
	a.add(d)
	a.mu.Unlock()
	a.ring()
}

// add must be called with mu held.
func (a *Aggregator) add(d force.Deltas) {
	a.acc.Add(d)
	a.pending++
}

func (a *Aggregator) ring() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// Stop asks the publish loop to finish and blocks until it has published
// a final all-zero command. The loop publishes at most one more snapshot
// before the zero, however many updates are pending. Calling Stop again
// waits for the same exit.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	switch a.phase {
	case Idle:
		// nothing was ever published
		a.phase = Stopped
		close(a.done)
		a.mu.Unlock()
		return
	case Running:
		a.phase = Stopping
		a.add(force.Deltas{})
	}
	a.mu.Unlock()

	a.ring()
	<-a.done
}

// WaitForSubscribers blocks until the publisher has at least one
// subscriber. It fails with ErrShutdownRequested if ctx ends first,
// including when ctx is already done on entry.
func (a *Aggregator) WaitForSubscribers(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrShutdownRequested, context.Cause(ctx))
	}
	if a.pub.Subscribers() > 0 {
		return nil
	}

	a.log("Waiting for subscriber to connect to %s", a.pub.Name())

	ticker := a.clock.Ticker(a.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrShutdownRequested, context.Cause(ctx))
		case <-ticker.C:
			if a.pub.Subscribers() > 0 {
				a.log("Subscriber connected to %s", a.pub.Name())
				return nil
			}
		}
	}
}

func (a *Aggregator) run() {
	defer close(a.done)

	for {
		a.await()

		a.mu.Lock()
		cmd := a.acc.Command()
		// The snapshot already holds every update added so far, so once
		// stopping one more publish covers whatever is still pending.
		last := a.phase == Stopping
		if last {
			a.pending = 0
		}
		a.mu.Unlock()

		// Never publish while holding mu: Update callers must not wait on I/O.
		a.publish(cmd, false)

		if last {
			break
		}
	}

	a.publish(force.Command{}, true)

	a.mu.Lock()
	a.phase = Stopped
	a.mu.Unlock()
	a.log("Publish loop stopped")
}

// await returns after consuming one pending update, or when the wait
// policy elapses without one.
func (a *Aggregator) await() {
	timeout, stop := a.wait.Timer(a.clock)
	defer stop()

	for {
		a.mu.Lock()
		if a.pending > 0 {
			a.pending--
			a.mu.Unlock()
			return
		}
		a.mu.Unlock()

		select {
		case <-a.wake:
		case <-timeout:
			return
		}
	}
}

func (a *Aggregator) publish(cmd force.Command, final bool) {
	err := a.pub.Publish(cmd)
	if err != nil {
		a.log("Publish error: %v", err)
	}
	a.sendState(State{
		Command:   cmd,
		Timestamp: a.clock.Now(),
		Final:     final,
		Err:       err,
	})
}

func (a *Aggregator) sendState(s State) {
	select {
	case a.stateCh <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-a.stateCh:
		default:
		}
		select {
		case a.stateCh <- s:
		default:
		}
	}
}
