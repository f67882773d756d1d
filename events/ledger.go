package events

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Ledger records which events have had their mutation applied, so a
// redelivered event is never applied twice.
type Ledger interface {
	Processed(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

// MemoryLedger is an in-process Ledger. Entries are kept for the process
// lifetime unless Forget is called.
type MemoryLedger struct {
	seen *xsync.MapOf[string, time.Time]
	now  func() time.Time
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: xsync.NewMapOf[string, time.Time](), now: time.Now}
}

func (l *MemoryLedger) Processed(ctx context.Context, eventID string) (bool, error) {
	_, ok := l.seen.Load(eventID)
	return ok, nil
}

func (l *MemoryLedger) Mark(ctx context.Context, eventID string) error {
	l.seen.LoadOrStore(eventID, l.now())
	return nil
}

// Forget drops entries marked before cutoff and returns how many were removed.
func (l *MemoryLedger) Forget(cutoff time.Time) int {
	removed := 0
	l.seen.Range(func(id string, at time.Time) bool {
		if at.Before(cutoff) {
			l.seen.Delete(id)
			removed++
		}
		return true
	})
	return removed
}

// Len returns the number of recorded events.
func (l *MemoryLedger) Len() int {
	return l.seen.Size()
}
