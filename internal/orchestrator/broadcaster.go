package orchestrator

import (
	"sync"

	"github.com/depotgrab/depotgrab/internal/events"
	"github.com/depotgrab/depotgrab/internal/utils"
)

// subscriberBuffer bounds how far a subscriber may lag before events are
// dropped for it. Delivery is best-effort; a slow consumer never stalls the
// pipeline.
const subscriberBuffer = 256

type subscriber struct {
	jobID string // "" subscribes to every job
	ch    chan any
}

// Broadcaster fans out job events to live subscribers, in the order they
// were published per job. There is no replay; a subscriber attached late
// sees only subsequent events.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// NewBroadcaster builds an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*subscriber]struct{})}
}

// Subscribe returns a live event feed, filtered to one job when jobID is
// non-empty. The returned cancel func detaches and closes the channel.
func (b *Broadcaster) Subscribe(jobID string) (<-chan any, func()) {
	s := &subscriber{jobID: jobID, ch: make(chan any, subscriberBuffer)}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, cancel
}

// Publish delivers one event to every matching subscriber. Publishing is
// non-blocking: if a subscriber's buffer is full the event is dropped for
// that subscriber only.
func (b *Broadcaster) Publish(msg any) {
	jobID := events.JobID(msg)

	b.mu.Lock()
	defer b.mu.Unlock()

	for s := range b.subs {
		if s.jobID != "" && s.jobID != jobID {
			continue
		}
		select {
		case s.ch <- msg:
		default:
			utils.Debug("broadcaster: dropping %s event for slow subscriber (job %s)", events.Kind(msg), jobID)
		}
	}
}
