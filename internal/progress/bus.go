package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by Subscription.Next once the stream has delivered
// its final event.
var ErrClosed = errors.New("progress: stream closed")

// maxSubscriberQueue bounds each subscriber's pending events. Overflow drops
// the oldest non-terminal event for that subscriber only.
const maxSubscriberQueue = 256

// EventStore receives every published event for durable replay. Satisfied by
// *storage.Storage.
type EventStore interface {
	AppendImportEvent(sessionID, seq int64, kind, payloadJSON string) error
}

// Bus fans session progress events out to live subscribers and appends them
// to the durable log. One publisher per session; any number of subscribers.
type Bus struct {
	mu     sync.Mutex
	store  EventStore
	topics map[int64]*topic
}

type topic struct {
	mu     sync.Mutex
	log    []Event
	subs   map[*Subscription]struct{}
	closed bool
}

func NewBus(store EventStore) *Bus {
	return &Bus{
		store:  store,
		topics: make(map[int64]*topic),
	}
}

// Open registers a topic for a session. The engine calls this before its
// first publish so subscribers can attach from the moment Start returns.
func (b *Bus) Open(sessionID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[sessionID]; !ok {
		b.topics[sessionID] = &topic{subs: make(map[*Subscription]struct{})}
	}
}

// Release drops the in-memory topic. Late subscribers fall back to the
// durable event rows.
func (b *Bus) Release(sessionID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.topics, sessionID)
}

func (b *Bus) topicFor(sessionID int64) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.topics[sessionID]
}

// Publish assigns the next seq, persists the event, and fans it out. Returns
// the assigned seq.
func (b *Bus) Publish(sessionID int64, kind string, payload any) (int64, error) {
	const op = "progress.Publish"

	t := b.topicFor(sessionID)
	if t == nil {
		return 0, fmt.Errorf("%s: no topic for session %d", op, sessionID)
	}

	data := "{}"
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("%s: %v", op, err)
		}
		data = string(raw)
	}

	t.mu.Lock()
	seq := int64(len(t.log)) + 1
	ev := Event{Seq: seq, Kind: kind, Data: data}
	t.log = append(t.log, ev)

	// Persist before fan-out so a subscriber that reacts to an event never
	// races ahead of the durable log.
	var storeErr error
	if b.store != nil {
		storeErr = b.store.AppendImportEvent(sessionID, seq, kind, data)
	}

	for sub := range t.subs {
		sub.push(ev)
	}
	if kind == KindDone {
		t.closed = true
		for sub := range t.subs {
			sub.close()
		}
		t.subs = make(map[*Subscription]struct{})
	}
	t.mu.Unlock()

	if storeErr != nil {
		return seq, fmt.Errorf("%s: %v", op, storeErr)
	}
	return seq, nil
}

// Subscribe attaches to a live session topic, replaying the backlog first.
// ok is false when the session has no in-memory topic (not running in this
// process, or already released); callers then replay from storage.
func (b *Bus) Subscribe(sessionID int64) (*Subscription, bool) {
	t := b.topicFor(sessionID)
	if t == nil {
		return nil, false
	}

	sub := &Subscription{notify: make(chan struct{}, 1)}

	t.mu.Lock()
	// Backlog is pushed under the topic lock so no published event can be
	// missed or duplicated between replay and registration.
	for _, ev := range t.log {
		sub.push(ev)
	}
	if t.closed {
		sub.close()
	} else {
		t.subs[sub] = struct{}{}
	}
	t.mu.Unlock()

	return sub, true
}

// Unsubscribe detaches a live subscriber (client disconnect). The session
// keeps running.
func (b *Bus) Unsubscribe(sessionID int64, sub *Subscription) {
	t := b.topicFor(sessionID)
	if t == nil {
		return
	}
	t.mu.Lock()
	delete(t.subs, sub)
	t.mu.Unlock()
}

// Subscription is one consumer's view of a session stream. Events arrive in
// seq order; Next blocks until an event, close, or ctx cancellation.
type Subscription struct {
	mu      sync.Mutex
	queue   []Event
	notify  chan struct{}
	closed  bool
	dropped int
	dropSeq int64
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	if len(s.queue) >= maxSubscriberQueue {
		// Drop the oldest non-terminal event for this subscriber only.
		if i := s.oldestDroppable(); i >= 0 {
			if s.dropped == 0 {
				s.dropSeq = s.queue[i].Seq
			}
			s.dropped++
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
		}
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// oldestDroppable finds the first queued event that is not terminal.
func (s *Subscription) oldestDroppable() int {
	for i, ev := range s.queue {
		if !Terminal(ev.Kind) {
			return i
		}
	}
	return -1
}

func (s *Subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next returns the next event in seq order. It returns ErrClosed after the
// final event has been consumed, or ctx.Err() on cancellation. If events were
// dropped since the last call, a synthetic status marking the gap is
// delivered before the surviving events; it carries the seq of the first
// dropped event, so the stream stays strictly seq-increasing.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if s.dropped > 0 {
			ev := Event{
				Seq:  s.dropSeq,
				Kind: KindStatus,
				Data: fmt.Sprintf(`{"message":"%d event(s) dropped for slow subscriber"}`, s.dropped),
			}
			s.dropped = 0
			s.mu.Unlock()
			return ev, nil
		}
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, nil
		}
		if s.closed {
			s.mu.Unlock()
			return Event{}, ErrClosed
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}
