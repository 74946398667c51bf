package bolt

import (
	"encoding/json"
	"errors"
	"testing"

	boltdb "github.com/boltdb/bolt"

	c "github.com/amirimatin/go-consensus/pkg/consensus"
	"github.com/amirimatin/go-consensus/pkg/storage"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndReadBack(t *testing.T) {
	s := openStore(t)
	entries := []c.LogEntry{
		{Index: 1, Term: 1, Kind: c.EntryNormal, Payload: []byte("a")},
		{Index: 2, Term: 1, Kind: c.EntryNoop},
		{Index: 3, Term: 2, Kind: c.EntryNormal, Payload: []byte("c")},
	}
	if err := s.AppendAt(1, entries); err != nil {
		t.Fatalf("AppendAt: %v", err)
	}

	got, err := s.Entries(1, 3)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries", len(got))
	}
	if string(got[0].Payload) != "a" || got[2].Term != 2 {
		t.Fatalf("entries: %+v", got)
	}
	last, err := s.LastIndex()
	if err != nil || last != 3 {
		t.Fatalf("LastIndex = %d, %v", last, err)
	}
}

func TestAppendAtOverwritesSuffix(t *testing.T) {
	s := openStore(t)
	if err := s.AppendAt(1, []c.LogEntry{
		{Index: 1, Term: 1}, {Index: 2, Term: 1}, {Index: 3, Term: 1},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.AppendAt(2, []c.LogEntry{{Index: 2, Term: 3}}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	last, _ := s.LastIndex()
	if last != 2 {
		t.Fatalf("last = %d, want suffix gone", last)
	}
	got, _ := s.Entries(2, 2)
	if len(got) != 1 || got[0].Term != 3 {
		t.Fatalf("entries: %+v", got)
	}
}

func TestTruncateSuffix(t *testing.T) {
	s := openStore(t)
	if err := s.AppendAt(1, []c.LogEntry{{Index: 1, Term: 1}, {Index: 2, Term: 1}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.TruncateSuffix(2); err != nil {
		t.Fatalf("TruncateSuffix: %v", err)
	}
	last, _ := s.LastIndex()
	if last != 1 {
		t.Fatalf("last = %d", last)
	}
}

func TestHardStateRoundTrip(t *testing.T) {
	s := openStore(t)
	term, voted, err := s.HardState()
	if err != nil || term != 0 || voted != "" {
		t.Fatalf("fresh hard state = (%d, %q, %v)", term, voted, err)
	}
	if err := s.SetHardState(7, "node-2"); err != nil {
		t.Fatalf("SetHardState: %v", err)
	}
	term, voted, err = s.HardState()
	if err != nil || term != 7 || voted != "node-2" {
		t.Fatalf("hard state = (%d, %q, %v)", term, voted, err)
	}
}

func TestSnapshotCompactsPrefix(t *testing.T) {
	s := openStore(t)
	if err := s.AppendAt(1, []c.LogEntry{
		{Index: 1, Term: 1}, {Index: 2, Term: 1}, {Index: 3, Term: 2},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	snap := storage.Snapshot{LastIndex: 2, LastTerm: 1, Data: []byte(`{"data":{}}`)}
	if err := s.InstallSnapshot(snap); err != nil {
		t.Fatalf("InstallSnapshot: %v", err)
	}
	got, ok, err := s.ReadSnapshot()
	if err != nil || !ok || got.LastIndex != 2 {
		t.Fatalf("ReadSnapshot = (%+v, %v, %v)", got, ok, err)
	}
	es, err := s.Entries(1, 3)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(es) != 1 || es[0].Index != 3 {
		t.Fatalf("prefix not compacted: %+v", es)
	}
}

func TestCorruptRecordSurfacesAsCorruptEntry(t *testing.T) {
	s := openStore(t)
	if err := s.AppendAt(1, []c.LogEntry{{Index: 1, Term: 1, Payload: []byte("a")}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// Flip the payload without updating the checksum.
	err := s.db.Update(func(tx *boltdb.Tx) error {
		b := tx.Bucket(bucketLog)
		var r record
		if err := json.Unmarshal(b.Get(indexKey(1)), &r); err != nil {
			return err
		}
		r.Entry.Payload = []byte("tampered")
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return b.Put(indexKey(1), data)
	})
	if err != nil {
		t.Fatalf("tamper: %v", err)
	}

	if _, err := s.Entries(1, 1); !errors.Is(err, c.ErrCorruptEntry) {
		t.Fatalf("err = %v, want corrupt entry", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.AppendAt(1, []c.LogEntry{{Index: 1, Term: 1, Payload: []byte("a")}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	again, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()
	es, err := again.Entries(1, 1)
	if err != nil || len(es) != 1 || string(es[0].Payload) != "a" {
		t.Fatalf("reopened entries = %+v, %v", es, err)
	}
}
