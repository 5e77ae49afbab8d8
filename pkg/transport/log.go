// Package transport provides force command publishers.
package transport

import (
	"go.uber.org/zap"

	"github.com/gwillem/keyforce/pkg/force"
)

// Log publishes commands as structured log entries. It always reports a
// subscriber, which makes it usable as a dry run.
type Log struct {
	logger *zap.SugaredLogger
}

// NewLog creates a log publisher.
func NewLog(logger *zap.SugaredLogger) *Log {
	return &Log{logger: logger.Named("force")}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Subscribers() int { return 1 }

func (l *Log) Publish(cmd force.Command) error {
	l.logger.Infow("force command",
		"x", cmd.X,
		"y", cmd.Y,
		"n", cmd.N,
	)
	return nil
}

func (l *Log) Close() error { return nil }
