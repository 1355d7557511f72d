// Package llmdriver defines the request/stream/cancel capability the
// queue engine and approval resolver use to talk to an LLM, and a
// concrete Anthropic-backed implementation.
package llmdriver

import "context"

// Request describes one turn of LLM work.
type Request struct {
	SessionID    string
	Prompt       string
	ProjectPath  string
	AgentPersona string
}

// EventKind labels a StreamEvent's payload.
type EventKind string

const (
	EventContent  EventKind = "stream"
	EventComplete EventKind = "complete"
	EventError    EventKind = "error"
)

// StreamEvent is one asynchronous callback from a Driver, correlated by
// SessionID so late callbacks after a Cancel can be discarded by the
// caller.
type StreamEvent struct {
	SessionID string
	Kind      EventKind
	Content   string
	Err       error
}

// Driver is the capability the queue engine depends on. Implementations
// must support exactly one in-flight Send per Driver value — the queue
// enforces single-flight externally (internal/queue's semaphore), but a
// Driver must still make CancelCurrent meaningful for whatever request
// is outstanding.
type Driver interface {
	// Send starts a turn identified by req.SessionID. Results arrive
	// asynchronously on the channel returned by Events.
	Send(ctx context.Context, req Request) error

	// Events returns the channel StreamEvents are published to for the
	// lifetime of the Driver.
	Events() <-chan StreamEvent

	// CancelCurrent aborts whatever session is currently in flight, if
	// any. Events already queued for delivery may still arrive, but no
	// new content/complete events are published for a cancelled
	// session.
	CancelCurrent()

	// Complete performs a synchronous, non-streaming turn and returns
	// the full text. Used by the approval resolver's AI-assisted gate
	// evaluation.
	Complete(ctx context.Context, req Request) (string, error)

	// CompleteWithSchema performs a synchronous turn constrained to the
	// given JSON schema and decodes the result into out.
	CompleteWithSchema(ctx context.Context, req Request, schema string, out any) error
}
