package statemachine

import (
	"encoding/json"
	"fmt"
	"sync"

	c "github.com/amirimatin/go-consensus/pkg/consensus"
)

// Command is the payload format understood by the KV machine.
type Command struct {
	Op    string `json:"op"` // "set" or "del"
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// EncodeCommand marshals a command for proposing.
func EncodeCommand(cmd Command) ([]byte, error) {
	return json.Marshal(cmd)
}

// KV is a replicated string map. No-op and config entries advance
// LastApplied without touching the data.
type KV struct {
	mu          sync.RWMutex
	data        map[string]string
	lastApplied c.LogIndex
}

func NewKV() *KV {
	return &KV{data: make(map[string]string)}
}

func (k *KV) Apply(entry c.LogEntry) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if entry.Index <= k.lastApplied {
		return nil // replayed entry
	}
	if entry.Index != k.lastApplied+1 {
		return fmt.Errorf("statemachine: apply %d out of order, last applied %d", entry.Index, k.lastApplied)
	}
	if entry.Kind == c.EntryNormal && len(entry.Payload) > 0 {
		var cmd Command
		if err := json.Unmarshal(entry.Payload, &cmd); err != nil {
			return fmt.Errorf("statemachine: decode command at %d: %w", entry.Index, err)
		}
		switch cmd.Op {
		case "set":
			k.data[cmd.Key] = cmd.Value
		case "del":
			delete(k.data, cmd.Key)
		default:
			return fmt.Errorf("statemachine: unknown op %q at %d", cmd.Op, entry.Index)
		}
	}
	k.lastApplied = entry.Index
	return nil
}

func (k *KV) LastApplied() c.LogIndex {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.lastApplied
}

func (k *KV) Get(key string) (string, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	v, ok := k.data[key]
	return v, ok
}

// Len reports the number of keys.
func (k *KV) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.data)
}

type kvState struct {
	Data        map[string]string `json:"data"`
	LastApplied c.LogIndex        `json:"lastApplied"`
}

// Snapshot serializes the machine state.
func (k *KV) Snapshot() ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return json.Marshal(kvState{Data: k.data, LastApplied: k.lastApplied})
}

// Restore replaces the machine state from a snapshot.
func (k *KV) Restore(data []byte) error {
	var st kvState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("statemachine: restore snapshot: %w", err)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if st.Data == nil {
		st.Data = make(map[string]string)
	}
	k.data = st.Data
	k.lastApplied = st.LastApplied
	return nil
}

var _ StateMachine = (*KV)(nil)
