// Package teleop provides the keyboard teleoperation publish loop and session.
package teleop

import (
	"context"
	"errors"
	"time"

	"github.com/gwillem/keyforce/pkg/force"
)

// ErrShutdownRequested is returned when shutdown is observed before any
// subscriber attached to the transport.
var ErrShutdownRequested = errors.New("shutdown requested before subscribers connected")

// Publisher is the transport a force command is handed to.
type Publisher interface {
	// Name identifies the destination, e.g. an MQTT topic.
	Name() string
	// Publish sends one command. It should not block for long.
	Publish(cmd force.Command) error
	// Subscribers returns the number of consumers currently attached.
	Subscribers() int
}

// KeyReader supplies single keys from an input device.
type KeyReader interface {
	// ReadKey waits for one key according to wait. It returns ok=false
	// when the wait elapsed without input.
	ReadKey(ctx context.Context, wait WaitPolicy) (key rune, ok bool, err error)
}

// State represents one emission of the publish loop.
type State struct {
	Command   force.Command
	Timestamp time.Time
	Final     bool // the zero command sent on stop
	Err       error
}

// Phase is the lifecycle position of an Aggregator.
type Phase int

const (
	Idle Phase = iota
	Running
	Stopping
	Stopped
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}
