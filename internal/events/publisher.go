package events

import (
	"sync"
)

// GlobalTaskID is the task ID queue/supervisor-level events (queue-started,
// autonomous-*) publish under, and that a project-wide watcher subscribes
// to instead of one task ID at a time.
const GlobalTaskID = "*"

// Publisher fans out queue.Queue and supervisor.Supervisor occurrences to
// whatever is watching a project, such as the supervisor's counters loop.
type Publisher interface {
	// Publish delivers event to every subscriber of event.TaskID, plus every
	// GlobalTaskID subscriber.
	Publish(event Event)
	// Subscribe opens a channel for taskID's events. Pass GlobalTaskID to
	// receive every event published for the project.
	Subscribe(taskID string) <-chan Event
	// Unsubscribe closes and detaches a channel returned by Subscribe.
	Unsubscribe(taskID string, ch <-chan Event)
	// Close shuts down the publisher and every open subscription.
	Close()
}

// MemoryPublisher fans Event out to in-process subscriber channels. It does
// not persist events; a subscriber that misses Subscribe before a Publish
// simply never sees that event.
type MemoryPublisher struct {
	subscribers map[string][]chan Event
	mu          sync.RWMutex
	bufferSize  int
	closed      bool
}

// PublisherOption configures a MemoryPublisher at construction.
type PublisherOption func(*MemoryPublisher)

// WithBufferSize sets each subscriber channel's buffer. A slow subscriber
// drops events past this depth rather than stalling the publisher.
func WithBufferSize(size int) PublisherOption {
	return func(p *MemoryPublisher) {
		p.bufferSize = size
	}
}

// NewMemoryPublisher builds the in-process Publisher openApp wires into
// every queue.Queue and supervisor.Supervisor it constructs.
func NewMemoryPublisher(opts ...PublisherOption) *MemoryPublisher {
	p := &MemoryPublisher{
		subscribers: make(map[string][]chan Event),
		bufferSize:  100,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish fans event out to event.TaskID's subscribers and to every
// GlobalTaskID subscriber. A subscriber whose buffer is full drops the
// event rather than blocking the caller (typically the scheduler loop).
func (p *MemoryPublisher) Publish(event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return
	}

	for _, ch := range p.subscribers[event.TaskID] {
		select {
		case ch <- event:
		default:
		}
	}

	if event.TaskID != GlobalTaskID {
		for _, ch := range p.subscribers[GlobalTaskID] {
			select {
			case ch <- event:
			default:
			}
		}
	}
}

// Subscribe opens a buffered channel registered for taskID.
func (p *MemoryPublisher) Subscribe(taskID string) <-chan Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, p.bufferSize)
	p.subscribers[taskID] = append(p.subscribers[taskID], ch)
	return ch
}

// Unsubscribe detaches and closes ch. A no-op if ch was never registered
// for taskID (e.g. double-unsubscribe on a CLI follow session's shutdown).
func (p *MemoryPublisher) Unsubscribe(taskID string, ch <-chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	subs := p.subscribers[taskID]
	for i, sub := range subs {
		if sub == ch {
			p.subscribers[taskID] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}

	if len(p.subscribers[taskID]) == 0 {
		delete(p.subscribers, taskID)
	}
}

// Close shuts the publisher down, closing every open subscription channel.
// Subsequent Publish/Subscribe calls are no-ops/closed-channel returns.
func (p *MemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true

	for taskID, subs := range p.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(p.subscribers, taskID)
	}
}

// SubscriberCount reports how many open channels are registered for taskID.
func (p *MemoryPublisher) SubscriberCount(taskID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscribers[taskID])
}

// TaskCount reports how many distinct task IDs (GlobalTaskID included) have
// at least one subscriber.
func (p *MemoryPublisher) TaskCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscribers)
}

// NopPublisher discards every event. openApp never constructs one today,
// but it lets a headless embedder wire a queue.Queue without paying for
// the channel fan-out MemoryPublisher does.
type NopPublisher struct{}

// Publish discards event.
func (p *NopPublisher) Publish(event Event) {}

// Subscribe returns an already-closed channel.
func (p *NopPublisher) Subscribe(taskID string) <-chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}

// Unsubscribe is a no-op.
func (p *NopPublisher) Unsubscribe(taskID string, ch <-chan Event) {}

// Close is a no-op.
func (p *NopPublisher) Close() {}

// NewNopPublisher returns a Publisher that discards every event.
func NewNopPublisher() *NopPublisher {
	return &NopPublisher{}
}
