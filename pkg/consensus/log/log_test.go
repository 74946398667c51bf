package log

import (
	"errors"
	"testing"

	c "github.com/amirimatin/go-consensus/pkg/consensus"
	"github.com/amirimatin/go-consensus/pkg/storage"
)

func newLog(t *testing.T) *Log {
	t.Helper()
	l, err := New(storage.NewInmem())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func seed(t *testing.T, l *Log, terms ...c.Term) {
	t.Helper()
	for i, term := range terms {
		entries := []c.LogEntry{{Index: c.LogIndex(i + 1), Term: term, Kind: c.EntryNormal}}
		var prevTerm c.Term
		if i > 0 {
			prevTerm = terms[i-1]
		}
		if err := l.Append(entries, c.LogIndex(i), prevTerm); err != nil {
			t.Fatalf("seed entry %d: %v", i+1, err)
		}
	}
}

func TestAppendAsLeaderAssignsIndexes(t *testing.T) {
	l := newLog(t)
	for i := 1; i <= 3; i++ {
		e, err := l.AppendAsLeader(2, c.EntryNormal, []byte("x"))
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if e.Index != c.LogIndex(i) {
			t.Fatalf("index = %d, want %d", e.Index, i)
		}
	}
	if l.LastIndex() != 3 || l.LastTerm() != 2 {
		t.Fatalf("last = (%d, %d)", l.LastIndex(), l.LastTerm())
	}
}

func TestAppendRejectsMissingPrev(t *testing.T) {
	l := newLog(t)
	seed(t, l, 1, 1)

	err := l.Append([]c.LogEntry{{Index: 6, Term: 2}}, 5, 2)
	if !errors.Is(err, c.ErrLogConflict) {
		t.Fatalf("err = %v, want log conflict", err)
	}
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err %T carries no hints", err)
	}
	if conflict.Index != 3 || conflict.Term != 0 {
		t.Fatalf("hint = (%d, %d), want (3, 0)", conflict.Index, conflict.Term)
	}
}

func TestAppendConflictHintPointsAtTermStart(t *testing.T) {
	l := newLog(t)
	seed(t, l, 1, 2, 2, 2)

	// Prev term mismatch at index 4: follower holds term 2 from index 2.
	err := l.Append([]c.LogEntry{{Index: 5, Term: 3}}, 4, 3)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
	if conflict.Index != 2 || conflict.Term != 2 {
		t.Fatalf("hint = (%d, %d), want (2, 2)", conflict.Index, conflict.Term)
	}
}

func TestAppendTruncatesConflictingSuffix(t *testing.T) {
	l := newLog(t)
	seed(t, l, 1, 1, 2, 2)

	// Leader overwrites indexes 3..4 with term 3 entries.
	err := l.Append([]c.LogEntry{
		{Index: 3, Term: 3, Payload: []byte("a")},
		{Index: 4, Term: 3, Payload: []byte("b")},
	}, 2, 1)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if got, _ := l.Term(3); got != 3 {
		t.Fatalf("term(3) = %d, want 3", got)
	}
	if l.LastIndex() != 4 || l.LastTerm() != 3 {
		t.Fatalf("last = (%d, %d)", l.LastIndex(), l.LastTerm())
	}
}

func TestAppendIsIdempotentForDuplicates(t *testing.T) {
	l := newLog(t)
	seed(t, l, 1, 1, 1)
	if err := l.Append([]c.LogEntry{{Index: 2, Term: 1}, {Index: 3, Term: 1}}, 1, 1); err != nil {
		t.Fatalf("duplicate append: %v", err)
	}
	if l.LastIndex() != 3 {
		t.Fatalf("last index = %d", l.LastIndex())
	}
}

func TestCommittedEntriesAreUntouchable(t *testing.T) {
	l := newLog(t)
	seed(t, l, 1, 1, 1)
	l.MarkCommitted(3)

	err := l.Append([]c.LogEntry{{Index: 2, Term: 5}}, 1, 1)
	if !errors.Is(err, c.ErrCorruptEntry) {
		t.Fatalf("overwrite committed: err = %v, want corrupt entry", err)
	}
	if err := l.TruncateAfter(1); !errors.Is(err, c.ErrCommitted) {
		t.Fatalf("truncate committed: err = %v, want committed", err)
	}
}

func TestTruncateAtCommitIndexIsRejected(t *testing.T) {
	l := newLog(t)
	seed(t, l, 1, 1, 1)
	l.MarkCommitted(1)

	if err := l.TruncateAfter(1); !errors.Is(err, c.ErrCommitted) {
		t.Fatalf("truncate at commit: err = %v, want committed", err)
	}
	if err := l.TruncateAfter(2); err != nil {
		t.Fatalf("truncate above commit: %v", err)
	}
	if l.LastIndex() != 2 {
		t.Fatalf("last index = %d, want 2", l.LastIndex())
	}
}

func TestTruncatePastEndIsNoop(t *testing.T) {
	l := newLog(t)
	seed(t, l, 1, 1, 1)

	if err := l.TruncateAfter(10); err != nil {
		t.Fatalf("truncate past end: %v", err)
	}
	if l.LastIndex() != 3 || l.LastTerm() != 1 {
		t.Fatalf("last = (%d, %d), want (3, 1)", l.LastIndex(), l.LastTerm())
	}
	e, err := l.AppendAsLeader(1, c.EntryNormal, []byte("x"))
	if err != nil {
		t.Fatalf("append after truncate: %v", err)
	}
	if e.Index != 4 {
		t.Fatalf("next assigned index = %d, want 4", e.Index)
	}
}

func TestMarkCommittedIsClampedAndMonotone(t *testing.T) {
	l := newLog(t)
	seed(t, l, 1, 1)

	if !l.MarkCommitted(10) {
		t.Fatal("expected commit to advance")
	}
	if l.CommitIndex() != 2 {
		t.Fatalf("commit = %d, want clamp to last index 2", l.CommitIndex())
	}
	if l.MarkCommitted(1) {
		t.Fatal("commit moved backwards")
	}

	select {
	case <-l.CommitNotify():
	default:
		t.Fatal("no commit notification pending")
	}
}

func TestReplayFromStore(t *testing.T) {
	store := storage.NewInmem()
	l, err := New(store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	seed(t, l, 1, 2, 2)

	replayed, err := New(store)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replayed.LastIndex() != 3 || replayed.LastTerm() != 2 {
		t.Fatalf("replayed last = (%d, %d)", replayed.LastIndex(), replayed.LastTerm())
	}
	es := replayed.Range(1, 3)
	if len(es) != 3 || es[0].Term != 1 || es[2].Term != 2 {
		t.Fatalf("replayed entries: %+v", es)
	}
}

func TestRangeAndEntriesFrom(t *testing.T) {
	l := newLog(t)
	seed(t, l, 1, 1, 2, 2, 3)

	if es := l.Range(2, 4); len(es) != 3 || es[0].Index != 2 || es[2].Index != 4 {
		t.Fatalf("range: %+v", es)
	}
	if es := l.EntriesFrom(4); len(es) != 2 || es[0].Index != 4 {
		t.Fatalf("entries from: %+v", es)
	}
}
