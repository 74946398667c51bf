package bolt

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/boltdb/bolt"

	c "github.com/amirimatin/go-consensus/pkg/consensus"
	"github.com/amirimatin/go-consensus/pkg/storage"
)

var (
	bucketLog    = []byte("log")
	bucketStable = []byte("stable")
	bucketSnap   = []byte("snapshot")

	keyTerm     = []byte("term")
	keyVotedFor = []byte("votedFor")
	keySnapshot = []byte("current")
)

// Store is a bolt-backed LogStore/StableStore. Every log record carries a
// CRC32 of its encoded entry; a mismatch on read surfaces as
// consensus.ErrCorruptEntry and must push the engine into recovery.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the store at dir/consensus.db.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(filepath.Join(dir, "consensus.db"), 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketLog, bucketStable, bucketSnap} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func indexKey(i c.LogIndex) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(i))
	return k[:]
}

type record struct {
	CRC   uint32     `json:"crc"`
	Entry c.LogEntry `json:"entry"`
}

func encode(e c.LogEntry) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(record{CRC: crc32.ChecksumIEEE(body), Entry: e})
}

func decode(data []byte) (c.LogEntry, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return c.LogEntry{}, fmt.Errorf("%w: %v", c.ErrCorruptEntry, err)
	}
	body, err := json.Marshal(r.Entry)
	if err != nil {
		return c.LogEntry{}, err
	}
	if crc32.ChecksumIEEE(body) != r.CRC {
		return c.LogEntry{}, fmt.Errorf("%w: index %d checksum mismatch", c.ErrCorruptEntry, r.Entry.Index)
	}
	return r.Entry, nil
}

func (s *Store) AppendAt(at c.LogIndex, entries []c.LogEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLog)
		// Drop any conflicting suffix first.
		cur := b.Cursor()
		for k, _ := cur.Seek(indexKey(at)); k != nil; k, _ = cur.Next() {
			if err := cur.Delete(); err != nil {
				return err
			}
		}
		idx := at
		for _, e := range entries {
			e.Index = idx
			data, err := encode(e)
			if err != nil {
				return err
			}
			if err := b.Put(indexKey(idx), data); err != nil {
				return err
			}
			idx++
		}
		return nil
	})
}

func (s *Store) Entries(lo, hi c.LogIndex) ([]c.LogEntry, error) {
	var out []c.LogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(bucketLog).Cursor()
		for k, v := cur.Seek(indexKey(lo)); k != nil; k, v = cur.Next() {
			if binary.BigEndian.Uint64(k) > uint64(hi) {
				break
			}
			e, err := decode(v)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (s *Store) LastIndex() (c.LogIndex, error) {
	var last c.LogIndex
	err := s.db.View(func(tx *bolt.Tx) error {
		if k, _ := tx.Bucket(bucketLog).Cursor().Last(); k != nil {
			last = c.LogIndex(binary.BigEndian.Uint64(k))
		}
		return nil
	})
	return last, err
}

func (s *Store) TruncateSuffix(from c.LogIndex) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		cur := tx.Bucket(bucketLog).Cursor()
		for k, _ := cur.Seek(indexKey(from)); k != nil; k, _ = cur.Next() {
			if err := cur.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) InstallSnapshot(snap storage.Snapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketSnap).Put(keySnapshot, data); err != nil {
			return err
		}
		// The covered prefix is no longer needed.
		cur := tx.Bucket(bucketLog).Cursor()
		for k, _ := cur.First(); k != nil; k, _ = cur.Next() {
			if binary.BigEndian.Uint64(k) > uint64(snap.LastIndex) {
				break
			}
			if err := cur.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ReadSnapshot() (storage.Snapshot, bool, error) {
	var snap storage.Snapshot
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSnap).Get(keySnapshot)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &snap)
	})
	return snap, found, err
}

func (s *Store) SetHardState(term c.Term, votedFor c.NodeID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStable)
		var t [8]byte
		binary.BigEndian.PutUint64(t[:], uint64(term))
		if err := b.Put(keyTerm, t[:]); err != nil {
			return err
		}
		return b.Put(keyVotedFor, []byte(votedFor))
	})
}

func (s *Store) HardState() (c.Term, c.NodeID, error) {
	var term c.Term
	var voted c.NodeID
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStable)
		if v := b.Get(keyTerm); len(v) == 8 {
			term = c.Term(binary.BigEndian.Uint64(v))
		}
		if v := b.Get(keyVotedFor); v != nil {
			voted = c.NodeID(v)
		}
		return nil
	})
	return term, voted, err
}

func (s *Store) Close() error { return s.db.Close() }

var (
	_ storage.LogStore    = (*Store)(nil)
	_ storage.StableStore = (*Store)(nil)
)
