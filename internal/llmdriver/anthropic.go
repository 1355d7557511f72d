package llmdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/corvid-labs/foreman/internal/ferrors"
)

const defaultMaxTokens = 4096

// AnthropicConfig configures an AnthropicDriver.
type AnthropicConfig struct {
	APIKey   string
	Model    string
	MaxRPS   float64// requests per second, 0 disables throttling
	Logger   *slog.Logger
}

// AnthropicOption configures an AnthropicDriver at construction time.
type AnthropicOption func(*AnthropicDriver)

// WithLogger overrides the driver's logger.
func WithLogger(l *slog.Logger) AnthropicOption {
	return func(d *AnthropicDriver) { d.logger = l }
}

// AnthropicDriver is the production Driver backed by
// github.com/anthropics/anthropic-sdk-go, guarded by a circuit breaker
// and a per-project rate limiter.
type AnthropicDriver struct {
	client  anthropic.Client
	model   string
	logger  *slog.Logger
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	events chan StreamEvent

	mu        sync.Mutex
	current   string
	cancelCur context.CancelFunc
}

// NewAnthropicDriver builds a driver for cfg. The returned driver owns a
// retrying HTTP transport (hashicorp/go-retryablehttp over
// hashicorp/go-cleanhttp's pooled transport) and a gobreaker circuit
// breaker that trips after repeated API failures so the queue's
// single-flight execution loop doesn't hammer a downed API.
func NewAnthropicDriver(cfg AnthropicConfig, opts ...AnthropicOption) *AnthropicDriver {
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = cleanhttp.DefaultPooledClient()
	retryClient.RetryMax = 3
	retryClient.Logger = nil

	httpClient := retryClient.StandardClient()

	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-5-20250929"
	}

	limit := rate.Inf
	if cfg.MaxRPS > 0 {
		limit = rate.Limit(cfg.MaxRPS)
	}

	cbSettings := gobreaker.Settings{
		Name:        "anthropic-driver",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	d := &AnthropicDriver{
		client:  anthropic.NewClient(option.WithAPIKey(cfg.APIKey), option.WithHTTPClient(httpClient)),
		model:   model,
		logger:  slog.Default(),
		limiter: rate.NewLimiter(limit, 1),
		breaker: gobreaker.NewCircuitBreaker(cbSettings),
		events:  make(chan StreamEvent, 64),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *AnthropicDriver) Events() <-chan StreamEvent { return d.events }

// Send starts a streaming turn for req and publishes incremental and
// terminal events to Events(). It returns once the stream has been
// established, not once it completes.
func (d *AnthropicDriver) Send(ctx context.Context, req Request) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.current = req.SessionID
	d.cancelCur = cancel
	d.mu.Unlock()

	go d.stream(runCtx, req)
	return nil
}

func (d *AnthropicDriver) stream(ctx context.Context, req Request) {
	_, err := d.breaker.Execute(func() (any, error) {
		stream := d.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(d.model),
			MaxTokens: defaultMaxTokens,
			System:    personaSystemPrompt(req.AgentPersona),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
			},
		})

		var full string
		for stream.Next() {
			if !d.isCurrent(req.SessionID) {
				return nil, nil
			}
			event := stream.Current()
			if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if text := delta.Delta.Text; text != "" {
					full += text
					d.publish(StreamEvent{SessionID: req.SessionID, Kind: EventContent, Content: text})
				}
			}
		}
		if err := stream.Err(); err != nil {
			return nil, err
		}
		if d.isCurrent(req.SessionID) {
			d.publish(StreamEvent{SessionID: req.SessionID, Kind: EventComplete, Content: full})
		}
		return nil, nil
	})

	if err != nil && d.isCurrent(req.SessionID) {
		if err == gobreaker.ErrOpenState {
			err = ferrors.ErrDriverUnavailable("circuit breaker open after repeated failures").WithCause(err)
		}
		d.publish(StreamEvent{SessionID: req.SessionID, Kind: EventError, Err: err})
	}
}

func (d *AnthropicDriver) isCurrent(sessionID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current == sessionID
}

func (d *AnthropicDriver) publish(ev StreamEvent) {
	select {
	case d.events <- ev:
	default:
		d.logger.Warn("llmdriver: dropping event, subscriber too slow", "session_id", ev.SessionID)
	}
}

// CancelCurrent aborts whatever session is in flight.
func (d *AnthropicDriver) CancelCurrent() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancelCur != nil {
		d.cancelCur()
	}
	d.current = ""
	d.cancelCur = nil
}

// Complete performs a synchronous, non-streaming turn.
func (d *AnthropicDriver) Complete(ctx context.Context, req Request) (string, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return "", err
	}

	result, err := d.breaker.Execute(func() (any, error) {
		resp, err := d.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(d.model),
			MaxTokens: defaultMaxTokens,
			System:    personaSystemPrompt(req.AgentPersona),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
			},
		})
		if err != nil {
			return "", err
		}
		var text string
		for _, block := range resp.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}
		return text, nil
	})
	if err != nil {
		return "", fmt.Errorf("anthropic completion: %w", err)
	}
	return result.(string), nil
}

// CompleteWithSchema runs a completion constrained to schema and decodes
// the JSON response into out. No fallback parsing is attempted: a
// response that doesn't parse as JSON is a hard error.
func (d *AnthropicDriver) CompleteWithSchema(ctx context.Context, req Request, schema string, out any) error {
	prompt := req.Prompt + "\n\nRespond with JSON matching this schema:\n" + schema
	text, err := d.Complete(ctx, Request{SessionID: req.SessionID, Prompt: prompt, ProjectPath: req.ProjectPath, AgentPersona: req.AgentPersona})
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("decode schema response: %w", err)
	}
	return nil
}

func personaSystemPrompt(persona string) []anthropic.TextBlockParam {
	if persona == "" {
		return nil
	}
	return []anthropic.TextBlockParam{{Text: fmt.Sprintf("You are acting as the %s agent persona for this task.", persona)}}
}

var _ Driver = (*AnthropicDriver)(nil)
