package log

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"

	c "github.com/amirimatin/go-consensus/pkg/consensus"
	"github.com/amirimatin/go-consensus/pkg/storage"
)

// ConflictError reports a failed consistency check on Append together with
// hints the leader can use to skip a whole run of mismatched entries.
type ConflictError struct {
	// Index is the first index the follower holds for Term, or lastIndex+1
	// when the follower has no entry at the checked position.
	Index c.LogIndex
	// Term is the conflicting term at the checked position (zero when the
	// entry does not exist).
	Term c.Term
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%v (hint index=%d term=%d)", c.ErrLogConflict, e.Index, e.Term)
}

func (e *ConflictError) Unwrap() error { return c.ErrLogConflict }

// Log is the ordered append-only substrate shared by the Raft and Paxos
// paths. Writers are serialized; reads go through a concurrent ordered map
// and never block writers.
type Log struct {
	mu    sync.Mutex // serializes all mutation
	store storage.LogStore

	entries *skipmap.FuncMap[uint64, c.LogEntry]

	last    atomic.Uint64 // last index
	lastTrm atomic.Uint64 // term of last entry
	commit  atomic.Uint64 // commit index, monotone

	commitCh chan struct{}
}

// New builds a Log over the given durable store, replaying whatever the
// store already holds. Replay failures from integrity checks surface
// unwrapped so callers can route to recovery.
func New(store storage.LogStore) (*Log, error) {
	l := &Log{
		store: store,
		entries: skipmap.NewFunc[uint64, c.LogEntry](func(a, b uint64) bool {
			return a < b
		}),
		commitCh: make(chan struct{}, 1),
	}
	last, err := store.LastIndex()
	if err != nil {
		return nil, err
	}
	if last > 0 {
		first := c.LogIndex(1)
		if snap, ok, err := store.ReadSnapshot(); err != nil {
			return nil, err
		} else if ok {
			first = snap.LastIndex + 1
			l.commit.Store(uint64(snap.LastIndex))
		}
		es, err := store.Entries(first, last)
		if err != nil {
			return nil, err
		}
		for _, e := range es {
			l.entries.Store(uint64(e.Index), e)
		}
		if n := len(es); n > 0 {
			l.last.Store(uint64(es[n-1].Index))
			l.lastTrm.Store(uint64(es[n-1].Term))
		}
	}
	return l, nil
}

// LastIndex returns the index of the most recent entry (0 when empty).
func (l *Log) LastIndex() c.LogIndex { return c.LogIndex(l.last.Load()) }

// LastTerm returns the term of the most recent entry (0 when empty).
func (l *Log) LastTerm() c.Term { return c.Term(l.lastTrm.Load()) }

// CommitIndex returns the highest committed index.
func (l *Log) CommitIndex() c.LogIndex { return c.LogIndex(l.commit.Load()) }

// Term returns the term of the entry at index, if present.
func (l *Log) Term(index c.LogIndex) (c.Term, bool) {
	if index == 0 {
		return 0, true
	}
	e, ok := l.entries.Load(uint64(index))
	if !ok {
		return 0, false
	}
	return e.Term, true
}

// Entry returns the entry at index, if present.
func (l *Log) Entry(index c.LogIndex) (c.LogEntry, bool) {
	return l.entries.Load(uint64(index))
}

// EntriesFrom returns all entries with index >= from, in order.
func (l *Log) EntriesFrom(from c.LogIndex) []c.LogEntry {
	var out []c.LogEntry
	l.entries.Range(func(k uint64, e c.LogEntry) bool {
		if k >= uint64(from) {
			out = append(out, e)
		}
		return true
	})
	return out
}

// Range returns the closed interval [lo, hi] of entries, in order.
func (l *Log) Range(lo, hi c.LogIndex) []c.LogEntry {
	var out []c.LogEntry
	l.entries.Range(func(k uint64, e c.LogEntry) bool {
		if k > uint64(hi) {
			return false
		}
		if k >= uint64(lo) {
			out = append(out, e)
		}
		return true
	})
	return out
}

// AppendAsLeader assigns the next index to a fresh entry and appends it
// locally. Only the active leader/proposer may call it.
func (l *Log) AppendAsLeader(term c.Term, kind c.EntryKind, payload []byte) (c.LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := c.LogEntry{
		Index:   l.LastIndex() + 1,
		Term:    term,
		Kind:    kind,
		Payload: payload,
	}
	if err := l.store.AppendAt(e.Index, []c.LogEntry{e}); err != nil {
		return c.LogEntry{}, err
	}
	l.entries.Store(uint64(e.Index), e)
	l.last.Store(uint64(e.Index))
	l.lastTrm.Store(uint64(e.Term))
	return e, nil
}

// Append applies the log-matching consistency check at (prevIndex,
// prevTerm) and, on success, writes entries after it, truncating any
// conflicting uncommitted suffix. On mismatch it returns a *ConflictError
// so the leader can back off its next index.
func (l *Log) Append(entries []c.LogEntry, prevIndex c.LogIndex, prevTerm c.Term) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if prevIndex > 0 {
		t, ok := l.Term(prevIndex)
		if !ok {
			return &ConflictError{Index: l.LastIndex() + 1}
		}
		if t != prevTerm {
			return &ConflictError{Index: l.firstIndexOfTerm(t, prevIndex), Term: t}
		}
	}

	for _, e := range entries {
		if existing, ok := l.entries.Load(uint64(e.Index)); ok {
			if existing.Term == e.Term {
				continue // already have it
			}
			// Conflicting suffix; committed entries are untouchable.
			if e.Index <= l.CommitIndex() {
				return fmt.Errorf("append at committed index %d: %w", e.Index, c.ErrCorruptEntry)
			}
			if err := l.truncateLocked(e.Index); err != nil {
				return err
			}
		}
		if err := l.store.AppendAt(e.Index, []c.LogEntry{e}); err != nil {
			return err
		}
		l.entries.Store(uint64(e.Index), e)
		if uint64(e.Index) > l.last.Load() {
			l.last.Store(uint64(e.Index))
			l.lastTrm.Store(uint64(e.Term))
		}
	}
	return nil
}

// TruncateAfter removes all entries with index > index. Truncating into the
// committed prefix is a caller bug and is rejected.
func (l *Log) TruncateAfter(index c.LogIndex) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index <= l.CommitIndex() {
		return fmt.Errorf("truncate after %d at or below commit %d: %w", index, l.CommitIndex(), c.ErrCommitted)
	}
	return l.truncateLocked(index + 1)
}

// truncateLocked removes entries with index >= from. Caller holds l.mu and
// has verified from is above the commit index. Truncating past the end of
// the log is a no-op; last and its term must not move forward.
func (l *Log) truncateLocked(from c.LogIndex) error {
	if from > l.LastIndex() {
		return nil
	}
	if err := l.store.TruncateSuffix(from); err != nil {
		return err
	}
	for i := from; i <= l.LastIndex(); i++ {
		l.entries.Delete(uint64(i))
	}
	if from > 0 {
		l.last.Store(uint64(from - 1))
		if t, ok := l.Term(from - 1); ok {
			l.lastTrm.Store(uint64(t))
		} else {
			l.lastTrm.Store(0)
		}
	}
	return nil
}

// MarkCommitted advances the commit index to min(index, lastIndex).
// The commit index never moves backwards. Returns true when it advanced.
func (l *Log) MarkCommitted(index c.LogIndex) bool {
	if last := l.LastIndex(); index > last {
		index = last
	}
	for {
		cur := l.commit.Load()
		if uint64(index) <= cur {
			return false
		}
		if l.commit.CompareAndSwap(cur, uint64(index)) {
			select {
			case l.commitCh <- struct{}{}:
			default:
			}
			return true
		}
	}
}

// CommitNotify delivers a coalesced signal whenever the commit index
// advances.
func (l *Log) CommitNotify() <-chan struct{} { return l.commitCh }

func (l *Log) firstIndexOfTerm(term c.Term, upTo c.LogIndex) c.LogIndex {
	first := upTo
	for i := upTo; i > 0; i-- {
		t, ok := l.Term(i)
		if !ok || t != term {
			break
		}
		first = i
	}
	return first
}
