package statemachine

import (
	"testing"

	c "github.com/amirimatin/go-consensus/pkg/consensus"
	consenlog "github.com/amirimatin/go-consensus/pkg/consensus/log"
	"github.com/amirimatin/go-consensus/pkg/storage"
)

func entry(t *testing.T, idx c.LogIndex, term c.Term, cmd Command) c.LogEntry {
	t.Helper()
	payload, err := EncodeCommand(cmd)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return c.LogEntry{Index: idx, Term: term, Kind: c.EntryNormal, Payload: payload}
}

func TestKVAppliesInOrder(t *testing.T) {
	kv := NewKV()
	if err := kv.Apply(entry(t, 1, 1, Command{Op: "set", Key: "a", Value: "1"})); err != nil {
		t.Fatalf("apply 1: %v", err)
	}
	if err := kv.Apply(entry(t, 2, 1, Command{Op: "set", Key: "a", Value: "2"})); err != nil {
		t.Fatalf("apply 2: %v", err)
	}
	if err := kv.Apply(entry(t, 3, 1, Command{Op: "del", Key: "a"})); err != nil {
		t.Fatalf("apply 3: %v", err)
	}
	if _, ok := kv.Get("a"); ok {
		t.Fatal("key survived delete")
	}
	if kv.LastApplied() != 3 {
		t.Fatalf("lastApplied = %d, want 3", kv.LastApplied())
	}
}

func TestKVReplayIsIdempotent(t *testing.T) {
	kv := NewKV()
	e1 := entry(t, 1, 1, Command{Op: "set", Key: "k", Value: "v1"})
	e2 := entry(t, 2, 1, Command{Op: "set", Key: "k", Value: "v2"})
	for _, e := range []c.LogEntry{e1, e2} {
		if err := kv.Apply(e); err != nil {
			t.Fatalf("apply %d: %v", e.Index, err)
		}
	}
	// Crash-replay re-presents already-applied entries.
	for _, e := range []c.LogEntry{e1, e2, e1} {
		if err := kv.Apply(e); err != nil {
			t.Fatalf("replay %d: %v", e.Index, err)
		}
	}
	if v, _ := kv.Get("k"); v != "v2" {
		t.Fatalf("value after replay = %q, want v2", v)
	}
	if kv.LastApplied() != 2 {
		t.Fatalf("lastApplied after replay = %d, want 2", kv.LastApplied())
	}
}

func TestKVRejectsOutOfOrderApply(t *testing.T) {
	kv := NewKV()
	if err := kv.Apply(entry(t, 2, 1, Command{Op: "set", Key: "a", Value: "1"})); err == nil {
		t.Fatal("apply at index 2 on empty machine succeeded")
	}
}

func TestKVNoopAdvancesLastApplied(t *testing.T) {
	kv := NewKV()
	if err := kv.Apply(c.LogEntry{Index: 1, Term: 1, Kind: c.EntryNoop}); err != nil {
		t.Fatalf("apply noop: %v", err)
	}
	if kv.LastApplied() != 1 {
		t.Fatalf("lastApplied = %d, want 1", kv.LastApplied())
	}
	if kv.Len() != 0 {
		t.Fatal("noop mutated data")
	}
}

func TestKVSnapshotRestore(t *testing.T) {
	kv := NewKV()
	for i := 1; i <= 3; i++ {
		cmd := Command{Op: "set", Key: string(rune('a' + i)), Value: "v"}
		if err := kv.Apply(entry(t, c.LogIndex(i), 1, cmd)); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}
	blob, err := kv.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	fresh := NewKV()
	if err := fresh.Restore(blob); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if fresh.LastApplied() != 3 || fresh.Len() != 3 {
		t.Fatalf("restored lastApplied=%d len=%d, want 3/3", fresh.LastApplied(), fresh.Len())
	}
}

func TestApplierCatchUp(t *testing.T) {
	lg, err := consenlog.New(storage.NewInmem())
	if err != nil {
		t.Fatalf("log.New: %v", err)
	}
	for i := 0; i < 4; i++ {
		payload, _ := EncodeCommand(Command{Op: "set", Key: "k", Value: string(rune('0' + i))})
		if _, err := lg.AppendAsLeader(1, c.EntryNormal, payload); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	lg.MarkCommitted(3)

	kv := NewKV()
	ap := NewApplier(lg, kv)
	if err := ap.CatchUp(); err != nil {
		t.Fatalf("catch up: %v", err)
	}
	if kv.LastApplied() != 3 {
		t.Fatalf("lastApplied = %d, want committed prefix 3", kv.LastApplied())
	}
	if v, _ := kv.Get("k"); v != "2" {
		t.Fatalf("value = %q, want entry 3's value", v)
	}

	lg.MarkCommitted(4)
	if err := ap.CatchUp(); err != nil {
		t.Fatalf("catch up after commit advance: %v", err)
	}
	if kv.LastApplied() != 4 {
		t.Fatalf("lastApplied = %d, want 4", kv.LastApplied())
	}
}
