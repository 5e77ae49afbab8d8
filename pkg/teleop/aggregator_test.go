package teleop

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/gwillem/keyforce/pkg/force"
)

func startAggregator(t *testing.T, pub Publisher, cfg Config) *Aggregator {
	t.Helper()
	agg := NewAggregator(pub, cfg)
	if err := agg.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return agg
}

func TestAggregator_ClampScenario(t *testing.T) {
	rec := newRecorder(1)
	agg := startAggregator(t, rec, Config{Wait: WaitForever()})
	bindings := force.DefaultBindings()

	press := func(key rune) force.Command {
		agg.Update(bindings[key])
		return rec.next(t)
	}

	if got := press('8'); got != (force.Command{X: 20}) {
		t.Fatalf("after one '8': %+v, want x=20", got)
	}

	var got force.Command
	for i := 0; i < 6; i++ {
		got = press('8')
	}
	if got != (force.Command{X: 100}) {
		t.Errorf("after seven '8': %+v, want x=100", got)
	}

	if got := press('2'); got != (force.Command{X: 100}) {
		t.Errorf("after one '2': %+v, want x=100 (sum 120 clamped)", got)
	}

	for i := 0; i < 6; i++ {
		got = press('2')
	}
	if got != (force.Command{}) {
		t.Errorf("after seven '2': %+v, want all zero", got)
	}

	agg.Stop()
}

func TestAggregator_NoSpontaneousEmissionWhenWaitingForever(t *testing.T) {
	rec := newRecorder(1)
	agg := startAggregator(t, rec, Config{Wait: WaitForever()})

	rec.expectNone(t, 50*time.Millisecond)

	agg.Stop()

	cmds := rec.published()
	if len(cmds) != 2 {
		t.Fatalf("published %d commands, want 2 (stop update + final zero)", len(cmds))
	}
	for i, cmd := range cmds {
		if !cmd.IsZero() {
			t.Errorf("command %d = %+v, want zero", i, cmd)
		}
	}
	if phase := agg.Phase(); phase != Stopped {
		t.Errorf("Phase() = %s, want stopped", phase)
	}
}

func TestAggregator_OneEmissionPerUpdate(t *testing.T) {
	rec := newRecorder(1)
	agg := startAggregator(t, rec, Config{Wait: WaitForever()})

	const updates = 25
	for i := 0; i < updates; i++ {
		agg.Update(force.Deltas{NPos: force.Step})
		rec.next(t)
	}
	agg.Stop()

	cmds := rec.published()
	if want := updates + 2; len(cmds) != want {
		t.Fatalf("published %d commands, want %d", len(cmds), want)
	}
	if got := cmds[len(cmds)-2]; got != (force.Command{N: 100}) {
		t.Errorf("stop cycle published %+v, want n=100", got)
	}
}

func TestAggregator_StopSendsZeroLast(t *testing.T) {
	rec := newRecorder(1)
	agg := startAggregator(t, rec, Config{Wait: WaitForever()})

	agg.Update(force.Deltas{XPos: 60, YNeg: -40, NPos: 20})
	rec.next(t)

	agg.Stop()

	if got := rec.next(t); got != (force.Command{X: 60, Y: -40, N: 20}) {
		t.Errorf("stop cycle published %+v, want the held command", got)
	}
	last := rec.next(t)
	if last.X != 0 || last.Y != 0 || last.Z != 0 || last.K != 0 || last.M != 0 || last.N != 0 {
		t.Errorf("final command = %+v, want all six fields zero", last)
	}
	rec.expectNone(t, 20*time.Millisecond)

	select {
	case <-agg.Done():
	default:
		t.Error("Done() not closed after Stop returned")
	}
}

func TestAggregator_FinalState(t *testing.T) {
	rec := newRecorder(1)
	agg := startAggregator(t, rec, Config{Wait: WaitForever()})
	agg.Stop()

	select {
	case s := <-agg.States():
		if !s.Final || !s.Command.IsZero() {
			t.Errorf("last state = %+v, want final zero command", s)
		}
	default:
		t.Fatal("no state after Stop")
	}
}

func TestAggregator_EmittedAxesStayClamped(t *testing.T) {
	rec := newRecorder(1)
	agg := startAggregator(t, rec, Config{Wait: WaitForever()})

	rng := rand.New(rand.NewSource(1))
	steps := []float64{-force.Step, 0, force.Step}
	pick := func() float64 { return steps[rng.Intn(len(steps))] }

	var want force.Accumulator
	for i := 0; i < 500; i++ {
		// Bias toward one direction so the sums run far past the limit.
		d := force.Deltas{
			XPos: pick() + force.Step, XNeg: pick(),
			YPos: pick(), YNeg: pick() - force.Step,
			NPos: pick(), NNeg: pick(),
		}
		want.Add(d)
		agg.Update(d)
	}
	agg.Stop()

	cmds := rec.published()
	for i, cmd := range cmds {
		for _, v := range []float64{cmd.X, cmd.Y, cmd.N} {
			if v < -force.Limit || v > force.Limit {
				t.Fatalf("command %d = %+v exceeds ±%g", i, cmd, force.Limit)
			}
		}
		if cmd.Z != 0 || cmd.K != 0 || cmd.M != 0 {
			t.Fatalf("command %d = %+v commands an uncontrolled axis", i, cmd)
		}
	}

	// The stop cycle sees every update.
	if got := cmds[len(cmds)-2]; got != want.Command() {
		t.Errorf("stop cycle published %+v, want %+v", got, want.Command())
	}
	if x, y, _ := want.Sums(); x <= force.Limit || y >= -force.Limit {
		t.Errorf("sums (%g, %g) did not exceed the limit; test is not exercising saturation", x, y)
	}
}

func TestAggregator_BoundedWaitRepublishes(t *testing.T) {
	mock := clock.NewMock()
	rec := newRecorder(1)
	agg := startAggregator(t, rec, Config{Wait: BoundedWait(100 * time.Millisecond), Clock: mock})

	agg.Update(force.Deltas{YPos: force.Step})
	if got := rec.next(t); got != (force.Command{Y: 20}) {
		t.Fatalf("first publish = %+v, want y=20", got)
	}

	// No updates: the loop must re-emit the held command after each timeout.
	for repeats := 0; repeats < 3; {
		mock.Add(100 * time.Millisecond)
		select {
		case got := <-rec.ch:
			if got != (force.Command{Y: 20}) {
				t.Fatalf("repeat publish = %+v, want y=20", got)
			}
			repeats++
		case <-time.After(10 * time.Millisecond):
		}
	}

	agg.Stop()
}

func TestAggregator_UpdateDoesNotWaitForPublish(t *testing.T) {
	release := make(chan struct{})
	pub := &blockingPublisher{entered: make(chan struct{}, 8), release: release}
	agg := NewAggregator(pub, Config{Wait: WaitForever()})
	if err := agg.Start(); err != nil {
		t.Fatal(err)
	}

	agg.Update(force.Deltas{XPos: force.Step})
	select {
	case <-pub.entered:
	case <-time.After(testTimeout):
		t.Fatal("publish never started")
	}

	// Publish is now blocked; Update must still complete.
	updated := make(chan struct{})
	go func() {
		agg.Update(force.Deltas{XPos: force.Step})
		close(updated)
	}()
	select {
	case <-updated:
	case <-time.After(testTimeout):
		t.Fatal("Update blocked behind an in-flight publish")
	}

	close(release)
	agg.Stop()
}

type blockingPublisher struct {
	entered chan struct{}
	release chan struct{}
}

func (p *blockingPublisher) Name() string     { return "blocking" }
func (p *blockingPublisher) Subscribers() int { return 1 }

func (p *blockingPublisher) Publish(force.Command) error {
	select {
	case p.entered <- struct{}{}:
	default:
	}
	<-p.release
	return nil
}

func TestAggregator_PublishErrorIsReportedNotRetried(t *testing.T) {
	rec := newRecorder(1)
	rec.setErr(errors.New("broker unreachable"))
	agg := startAggregator(t, rec, Config{Wait: WaitForever()})

	agg.Update(force.Deltas{XPos: force.Step})
	rec.next(t)
	rec.expectNone(t, 20*time.Millisecond)

	found := false
	for !found {
		select {
		case msg := <-agg.Logs():
			found = strings.Contains(msg, "Publish error: broker unreachable")
		case <-time.After(testTimeout):
			t.Fatal("publish error was not logged")
		}
	}

	agg.Stop()
}

func TestAggregator_Lifecycle(t *testing.T) {
	rec := newRecorder(1)
	agg := NewAggregator(rec, Config{})

	if phase := agg.Phase(); phase != Idle {
		t.Errorf("Phase() = %s before Start, want idle", phase)
	}
	rec.expectNone(t, 20*time.Millisecond)

	if err := agg.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := agg.Start(); err == nil {
		t.Error("second Start succeeded")
	}

	agg.Stop()
	agg.Stop() // must not block or publish again

	if n := len(rec.published()); n != 2 {
		t.Errorf("published %d commands, want 2", n)
	}
	if err := agg.Start(); err == nil {
		t.Error("Start after Stop succeeded")
	}
}

func TestAggregator_StopBeforeStart(t *testing.T) {
	rec := newRecorder(1)
	agg := NewAggregator(rec, Config{})

	agg.Stop()

	if n := len(rec.published()); n != 0 {
		t.Errorf("published %d commands, want 0", n)
	}
	if phase := agg.Phase(); phase != Stopped {
		t.Errorf("Phase() = %s, want stopped", phase)
	}
}

func TestWaitForSubscribers_AlreadyShutDown(t *testing.T) {
	rec := newRecorder(0)
	agg := NewAggregator(rec, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := agg.WaitForSubscribers(ctx)
	if !errors.Is(err, ErrShutdownRequested) {
		t.Fatalf("WaitForSubscribers() = %v, want ErrShutdownRequested", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("WaitForSubscribers() = %v, want it to carry context.Canceled", err)
	}
	if n := len(rec.published()); n != 0 {
		t.Errorf("published %d commands, want 0", n)
	}
}

func TestWaitForSubscribers_ShutdownWinsOverSubscriber(t *testing.T) {
	agg := NewAggregator(newRecorder(3), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := agg.WaitForSubscribers(ctx); !errors.Is(err, ErrShutdownRequested) {
		t.Errorf("WaitForSubscribers() = %v, want ErrShutdownRequested", err)
	}
}

func TestWaitForSubscribers_ReturnsWhenAttached(t *testing.T) {
	mock := clock.NewMock()
	rec := newRecorder(0)
	agg := NewAggregator(rec, Config{Clock: mock, PollInterval: 50 * time.Millisecond})

	errCh := make(chan error, 1)
	go func() { errCh <- agg.WaitForSubscribers(context.Background()) }()

	mock.Add(50 * time.Millisecond)
	select {
	case err := <-errCh:
		t.Fatalf("returned %v with no subscriber", err)
	case <-time.After(10 * time.Millisecond):
	}

	rec.subscribers.Store(1)
	deadline := time.After(testTimeout)
	for {
		mock.Add(50 * time.Millisecond)
		select {
		case err := <-errCh:
			if err != nil {
				t.Fatalf("WaitForSubscribers() = %v, want nil", err)
			}
			return
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatal("WaitForSubscribers did not notice the subscriber")
		}
	}
}

func TestWaitForSubscribers_CancelledWhileWaiting(t *testing.T) {
	agg := NewAggregator(newRecorder(0), Config{PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := agg.WaitForSubscribers(ctx)
	if !errors.Is(err, ErrShutdownRequested) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForSubscribers() = %v, want ErrShutdownRequested from deadline", err)
	}
}

func TestAggregator_StopIsBoundedUnderLoad(t *testing.T) {
	rec := newRecorder(1)
	rec.delay = time.Millisecond
	agg := startAggregator(t, rec, Config{Wait: WaitForever()})

	quit := make(chan struct{})
	updaterDone := make(chan struct{})
	go func() {
		defer close(updaterDone)
		for {
			select {
			case <-quit:
				return
			default:
				agg.Update(force.Deltas{XPos: force.Step})
			}
		}
	}()
	defer func() {
		close(quit)
		<-updaterDone
	}()

	time.Sleep(20 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		agg.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(testTimeout):
		t.Fatalf("Stop did not return within %s; phase=%s", testTimeout, agg.Phase())
	}

	cmds := rec.published()
	if last := cmds[len(cmds)-1]; !last.IsZero() {
		t.Errorf("last command = %+v, want zero", last)
	}
}

func TestAggregator_BacklogDoesNotDelayStop(t *testing.T) {
	rec := newRecorder(1)
	rec.delay = 5 * time.Millisecond
	agg := startAggregator(t, rec, Config{Wait: WaitForever()})

	const updates = 1000
	for i := 0; i < updates; i++ {
		agg.Update(force.Deltas{YPos: force.Step})
	}
	agg.Stop()

	cmds := rec.published()
	if len(cmds) > 20 {
		t.Errorf("published %d commands for a stopped backlog of %d, want at most 20", len(cmds), updates)
	}
	if got := cmds[len(cmds)-2]; got != (force.Command{Y: 100}) {
		t.Errorf("stop cycle published %+v, want y=100", got)
	}
	if last := cmds[len(cmds)-1]; !last.IsZero() {
		t.Errorf("last command = %+v, want zero", last)
	}
}

func TestAggregator_ConcurrentUpdatesNeverHalfApplied(t *testing.T) {
	rec := newRecorder(1)
	agg := startAggregator(t, rec, Config{Wait: WaitForever()})

	const (
		workers = 8
		each    = 50
	)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				agg.Update(force.Deltas{XPos: force.Step, YPos: force.Step, NPos: force.Step})
			}
		}()
	}
	wg.Wait()
	agg.Stop()

	cmds := rec.published()
	// the final command is the zero sent on exit
	cmds = cmds[:len(cmds)-1]
	prev := 0.0
	for i, cmd := range cmds {
		if cmd.X != cmd.Y || cmd.Y != cmd.N {
			t.Fatalf("command %d = %+v, want x == y == n", i, cmd)
		}
		if cmd.X < prev {
			t.Fatalf("command %d x = %g, below previous %g", i, cmd.X, prev)
		}
		if cmd.X > force.Limit {
			t.Fatalf("command %d x = %g, above limit", i, cmd.X)
		}
		prev = cmd.X
	}
	if prev != force.Limit {
		t.Errorf("stop cycle x = %g, want %g", prev, force.Limit)
	}
}
