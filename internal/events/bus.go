package events

import (
	"log/slog"
	"sync"
	"time"
)

const (
	defaultQueueSize = 64
	defaultHeartbeat = 30 * time.Second
)

// Bus fans events out per run_id. Publishing never blocks on a slow
// subscriber: a full queue drops its oldest event. Event order is FIFO
// within a run; there is no ordering across runs.
type Bus struct {
	mu        sync.Mutex
	subs      map[string]map[*Subscription]struct{}
	logger    *slog.Logger
	queueSize int
	heartbeat time.Duration
}

// NewBus builds a bus with the default queue depth and heartbeat interval.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:      make(map[string]map[*Subscription]struct{}),
		logger:    logger,
		queueSize: defaultQueueSize,
		heartbeat: defaultHeartbeat,
	}
}

// Subscription is one subscriber's view of a run's event stream.
type Subscription struct {
	bus    *Bus
	runID  string
	ch     chan Event
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

// C is the event channel. It is closed after run_completed or Close.
func (s *Subscription) C() <-chan Event { return s.ch }

// Close detaches the subscription. Safe to call more than once; the run
// itself is unaffected.
func (s *Subscription) Close() {
	s.bus.detach(s)
	s.finish()
}

// Subscribe attaches a subscriber to a run. snapshot supplies the current
// run_state event, delivered before anything else.
func (b *Bus) Subscribe(runID string, snapshot func() Event) *Subscription {
	s := &Subscription{
		bus:   b,
		runID: runID,
		ch:    make(chan Event, b.queueSize),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	if b.subs[runID] == nil {
		b.subs[runID] = make(map[*Subscription]struct{})
	}
	b.subs[runID][s] = struct{}{}
	// Snapshot is queued under the bus lock so no published event can
	// slip in ahead of it.
	if snapshot != nil {
		s.offer(snapshot())
	}
	b.mu.Unlock()

	go s.heartbeatLoop(b.heartbeat)
	return s
}

// Publish delivers the event to every subscriber of its run. After a
// run_completed event all subscriptions for the run are ended.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	targets := make([]*Subscription, 0, len(b.subs[ev.RunID]))
	for s := range b.subs[ev.RunID] {
		targets = append(targets, s)
	}
	final := ev.Type == EventRunCompleted
	if final {
		delete(b.subs, ev.RunID)
	}
	b.mu.Unlock()

	for _, s := range targets {
		if !s.offer(ev) {
			b.logger.Warn("subscriber lagging, oldest event dropped", "run_id", ev.RunID, "type", ev.Type)
		}
		if final {
			s.finish()
		}
	}
}

// SubscriberCount reports live subscriptions for a run.
func (b *Bus) SubscriberCount(runID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[runID])
}

func (b *Bus) detach(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[s.runID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(b.subs, s.runID)
		}
	}
}

// offer queues the event without blocking, evicting the oldest queued
// event when the queue is full. The newest event always lands, so the
// final run_completed is never the one lost. Returns false when
// something was evicted.
func (s *Subscription) offer(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	dropped := 0
	for {
		select {
		case s.ch <- ev:
			return dropped == 0
		default:
		}
		select {
		case <-s.ch:
			dropped++
		default:
		}
	}
}

func (s *Subscription) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.ch)
}

func (s *Subscription) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.offer(Event{
				RunID:     s.runID,
				Type:      EventHeartbeat,
				Timestamp: time.Now().UTC(),
			})
		}
	}
}
