package storage

import (
	"sync"

	c "github.com/amirimatin/go-consensus/pkg/consensus"
)

// Snapshot is a compacted prefix of the log plus the state-machine image at
// LastIndex. The core never creates snapshots itself; an external mechanism
// installs them through the store.
type Snapshot struct {
	LastIndex c.LogIndex `json:"lastIndex"`
	LastTerm  c.Term     `json:"lastTerm"`
	Data      []byte     `json:"data"`
}

// LogStore is the durable backing for the replicated log: append entries at
// an index, read a range, truncate a suffix, install/read a snapshot. The
// consensus core performs no disk I/O of its own.
type LogStore interface {
	// AppendAt writes entries starting at index at, overwriting any existing
	// suffix from that position.
	AppendAt(at c.LogIndex, entries []c.LogEntry) error
	// Entries returns the closed range [lo, hi]. Entries outside the stored
	// range are simply absent from the result.
	Entries(lo, hi c.LogIndex) ([]c.LogEntry, error)
	LastIndex() (c.LogIndex, error)
	// TruncateSuffix removes all entries with index >= from.
	TruncateSuffix(from c.LogIndex) error
	InstallSnapshot(s Snapshot) error
	ReadSnapshot() (Snapshot, bool, error)
	Close() error
}

// StableStore persists the node's hard state that must survive restarts
// before any RPC is answered: the current term and the vote cast in it.
type StableStore interface {
	SetHardState(term c.Term, votedFor c.NodeID) error
	HardState() (c.Term, c.NodeID, error)
}

// Inmem is a volatile LogStore/StableStore for tests and development,
// with the same semantics as the bolt-backed store.
type Inmem struct {
	mu       sync.RWMutex
	entries  map[c.LogIndex]c.LogEntry
	last     c.LogIndex
	snap     Snapshot
	hasSnap  bool
	term     c.Term
	votedFor c.NodeID
}

func NewInmem() *Inmem {
	return &Inmem{entries: make(map[c.LogIndex]c.LogEntry)}
}

func (s *Inmem) AppendAt(at c.LogIndex, entries []c.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := at; i <= s.last; i++ {
		delete(s.entries, i)
	}
	idx := at
	for _, e := range entries {
		e.Index = idx
		s.entries[idx] = e
		idx++
	}
	if len(entries) > 0 {
		s.last = at + c.LogIndex(len(entries)) - 1
	} else if at > 0 && at-1 < s.last {
		s.last = at - 1
	}
	return nil
}

func (s *Inmem) Entries(lo, hi c.LogIndex) ([]c.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]c.LogEntry, 0, int(hi-lo)+1)
	for i := lo; i <= hi; i++ {
		if e, ok := s.entries[i]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Inmem) LastIndex() (c.LogIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, nil
}

func (s *Inmem) TruncateSuffix(from c.LogIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := from; i <= s.last; i++ {
		delete(s.entries, i)
	}
	if from > 0 {
		s.last = from - 1
	} else {
		s.last = 0
	}
	return nil
}

func (s *Inmem) InstallSnapshot(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
	s.hasSnap = true
	for i := range s.entries {
		if i <= snap.LastIndex {
			delete(s.entries, i)
		}
	}
	if s.last < snap.LastIndex {
		s.last = snap.LastIndex
	}
	return nil
}

func (s *Inmem) ReadSnapshot() (Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap, s.hasSnap, nil
}

func (s *Inmem) SetHardState(term c.Term, votedFor c.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term = term
	s.votedFor = votedFor
	return nil
}

func (s *Inmem) HardState() (c.Term, c.NodeID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.term, s.votedFor, nil
}

func (s *Inmem) Close() error { return nil }

var (
	_ LogStore    = (*Inmem)(nil)
	_ StableStore = (*Inmem)(nil)
)
