package central

import (
	"sync"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
)

// DefaultQueueSize is the default capacity of the event queue ring.
const DefaultQueueSize uint32 = 1024

// Stats reports event queue counters.
type Stats struct {
	Processed int64 // events applied on the owner goroutine
	Spilled   int64 // events that did not fit in the ring and went to the overflow list
}

// eventQueue carries events from bridge goroutines to the owner goroutine.
// Producers never block and no event is ever lost: when the ring is full,
// events go to an overflow list that is drained after the ring. While the
// overflow list is non-empty every new event joins it, so order is kept.
type eventQueue struct {
	ring   mpmc.RingBuffer[event]
	wake   chan struct{}
	logger *logrus.Logger

	mu       sync.Mutex
	overflow []event

	processed atomic.Int64
	spilled   atomic.Int64
}

func newEventQueue(size uint32, logger *logrus.Logger) *eventQueue {
	if size == 0 {
		size = DefaultQueueSize
	}
	return &eventQueue{
		ring:   mpmc.New[event](size),
		wake:   make(chan struct{}, 1),
		logger: logger,
	}
}

func (q *eventQueue) push(ev event) {
	q.mu.Lock()
	if len(q.overflow) > 0 || q.ring.Enqueue(ev) != nil {
		if len(q.overflow) == 0 {
			q.logger.WithFields(logrus.Fields{
				"event":    ev.kind.String(),
				"capacity": q.ring.Cap(),
			}).Warn("Event queue ring full, spilling to overflow list")
		}
		q.overflow = append(q.overflow, ev)
		q.spilled.Add(1)
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) pop() (event, bool) {
	// Ring events are always older than overflow events: producers only use
	// the ring while the overflow list is empty.
	if !q.ring.IsEmpty() {
		if ev, err := q.ring.Dequeue(); err == nil {
			return ev, true
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.overflow) == 0 {
		return event{}, false
	}
	ev := q.overflow[0]
	q.overflow[0] = event{}
	q.overflow = q.overflow[1:]
	if len(q.overflow) == 0 {
		q.overflow = nil
	}
	return ev, true
}

func (q *eventQueue) stats() Stats {
	return Stats{
		Processed: q.processed.Load(),
		Spilled:   q.spilled.Load(),
	}
}
