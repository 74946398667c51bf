package engine

import (
	"context"
	"sync"
	"time"

	c "github.com/amirimatin/go-consensus/pkg/consensus"
	"github.com/amirimatin/go-consensus/pkg/consensus/hybrid"
	"github.com/amirimatin/go-consensus/pkg/internal/logutil"
)

// EventType identifies an engine level event.
type EventType string

const (
	EventLeaderChanged EventType = "leader_changed"
	EventModeChanged   EventType = "mode_changed"
	EventMemberJoin    EventType = "member_join"
	EventMemberAlive   EventType = "member_alive"
	EventMemberSuspect EventType = "member_suspect"
	EventMemberFailed  EventType = "member_failed"
	EventMemberLeave   EventType = "member_leave"
)

// Event is delivered to subscribers of the engine bus. Fields other
// than Type and At are populated only when relevant for the type.
type Event struct {
	Type   EventType   `json:"type"`
	At     time.Time   `json:"at"`
	Leader c.NodeID    `json:"leader,omitempty"`
	Term   c.Term      `json:"term,omitempty"`
	Mode   hybrid.Mode `json:"mode,omitempty"`
	Member c.NodeID    `json:"member,omitempty"`
}

type eventBus struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[chan Event]struct{})}
}

func (b *eventBus) add(ch chan Event) {
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
}

func (b *eventBus) remove(ch chan Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

// publish delivers ev to every subscriber. A subscriber that cannot
// keep up loses the event rather than stalling the publisher.
func (b *eventBus) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			logutil.Debugf("engine: dropped %s event for slow subscriber", ev.Type)
		}
	}
}

// Subscribe returns a channel of engine events. The subscription is
// removed and the channel closed when ctx is done.
func (e *Engine) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)
	e.bus.add(ch)
	go func() {
		<-ctx.Done()
		e.bus.remove(ch)
		close(ch)
	}()
	return ch
}
