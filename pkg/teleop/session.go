package teleop

import (
	"context"
	"fmt"

	"github.com/gwillem/keyforce/pkg/force"
)

// Session drives an Aggregator from a KeyReader until the exit key.
type Session struct {
	agg     *Aggregator
	keys    KeyReader
	mapper  *force.KeyMapper
	keyWait WaitPolicy
}

// NewSession creates a session. keyWait bounds each key read.
func NewSession(agg *Aggregator, keys KeyReader, mapper *force.KeyMapper, keyWait WaitPolicy) *Session {
	return &Session{
		agg:     agg,
		keys:    keys,
		mapper:  mapper,
		keyWait: keyWait,
	}
}

// Run starts the publish loop and feeds it key deltas until force.ExitKey
// is read, ctx ends, or reading fails. Whatever the exit path, the publish
// loop is stopped before Run returns, so the last command sent is zero.
//
// A key without a binding, and a read that timed out, both re-apply the
// deltas of the last bound key.
func (s *Session) Run(ctx context.Context) error {
	if err := s.agg.Start(); err != nil {
		return fmt.Errorf("start publish loop: %w", err)
	}
	defer s.agg.Stop()

	if err := s.agg.WaitForSubscribers(ctx); err != nil {
		return err
	}

	var last force.Deltas
	s.agg.Update(last)

	for {
		key, ok, err := s.keys.ReadKey(ctx, s.keyWait)
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}

		if ok {
			if d, found := s.mapper.Resolve(key); found {
				last = d
			} else if key == force.ExitKey {
				return nil
			}
		}

		s.agg.Update(last)
	}
}
