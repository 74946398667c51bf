// Package statemachine defines the deterministic applier of committed
// log entries and a small key-value machine used by the examples and
// tests.
package statemachine

import (
	"context"
	"fmt"

	c "github.com/amirimatin/go-consensus/pkg/consensus"
	consenlog "github.com/amirimatin/go-consensus/pkg/consensus/log"
)

// StateMachine applies committed entries strictly in increasing index
// order. Apply must be idempotent with respect to re-delivery: recovery
// may re-present entries at or below LastApplied and they must be
// no-ops.
type StateMachine interface {
	Apply(entry c.LogEntry) error
	LastApplied() c.LogIndex
}

// Applier drains the log's committed prefix into a state machine. One
// applier goroutine exists per engine.
type Applier struct {
	log *consenlog.Log
	sm  StateMachine
}

func NewApplier(l *consenlog.Log, sm StateMachine) *Applier {
	return &Applier{log: l, sm: sm}
}

// Run blocks until ctx is cancelled, applying entries as the commit
// index advances.
func (a *Applier) Run(ctx context.Context) error {
	for {
		if err := a.CatchUp(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.log.CommitNotify():
		}
	}
}

// CatchUp synchronously applies everything committed but not yet
// applied.
func (a *Applier) CatchUp() error {
	commit := a.log.CommitIndex()
	for idx := a.sm.LastApplied() + 1; idx <= commit; idx++ {
		entry, ok := a.log.Entry(idx)
		if !ok {
			return fmt.Errorf("statemachine: committed entry %d missing from log: %w", idx, c.ErrCorruptEntry)
		}
		if err := a.sm.Apply(entry); err != nil {
			return fmt.Errorf("statemachine: apply entry %d: %w", idx, err)
		}
	}
	return nil
}
