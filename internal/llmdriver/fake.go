package llmdriver

import (
	"context"
	"encoding/json"
	"sync"
)

// FakeDriver is an in-memory Driver for tests: it never calls a real
// API, responding to each Send/Complete from a caller-supplied script.
type FakeDriver struct {
	mu      sync.Mutex
	events  chan StreamEvent
	current string

	// Respond is called for every Send/Complete; it returns the full
	// response text and an error to simulate a failed turn.
	Respond func(req Request) (string, error)

	// SchemaRespond is called for CompleteWithSchema; if nil, the text
	// returned by Respond is decoded as JSON straight into out, so a
	// plain-text Respond makes CompleteWithSchema return a decode error.
	SchemaRespond func(req Request, schema string) (any, error)

	cancelled []string
}

// NewFakeDriver builds a FakeDriver that always returns resp, nil.
func NewFakeDriver(resp string) *FakeDriver {
	return &FakeDriver{
		events: make(chan StreamEvent, 16),
		Respond: func(Request) (string, error) { return resp, nil },
	}
}

func (f *FakeDriver) Events() <-chan StreamEvent { return f.events }

func (f *FakeDriver) Send(ctx context.Context, req Request) error {
	f.mu.Lock()
	f.current = req.SessionID
	f.mu.Unlock()

	text, err := f.Respond(req)

	f.mu.Lock()
	isCurrent := f.current == req.SessionID
	f.mu.Unlock()
	if !isCurrent {
		return nil
	}

	if err != nil {
		f.events <- StreamEvent{SessionID: req.SessionID, Kind: EventError, Err: err}
		return nil
	}
	f.events <- StreamEvent{SessionID: req.SessionID, Kind: EventContent, Content: text}
	f.events <- StreamEvent{SessionID: req.SessionID, Kind: EventComplete, Content: text}
	return nil
}

func (f *FakeDriver) CancelCurrent() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current != "" {
		f.cancelled = append(f.cancelled, f.current)
	}
	f.current = ""
}

func (f *FakeDriver) Complete(ctx context.Context, req Request) (string, error) {
	return f.Respond(req)
}

func (f *FakeDriver) CompleteWithSchema(ctx context.Context, req Request, schema string, out any) error {
	if f.SchemaRespond == nil {
		text, err := f.Respond(req)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(text), out)
	}
	val, err := f.SchemaRespond(req, schema)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// Cancelled returns the session IDs that were cancelled, in order.
func (f *FakeDriver) Cancelled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.cancelled...)
}

var _ Driver = (*FakeDriver)(nil)
