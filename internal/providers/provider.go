package providers

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// DefaultTemperature is sent when the caller gives none.
const DefaultTemperature = 0.7

// ChatRequest is one outbound chat completion call.
type ChatRequest struct {
	BaseURL     string          // without the /chat/completions suffix
	APIKey      string          // sent as a bearer token
	Model       string          // upstream model id
	Messages    json.RawMessage // forwarded unmodified
	Temperature float64
	MaxTokens   int  // omitted when <= 0
	Stream      bool // omitted when false
}

// ChatResponse is the raw upstream reply. For a successful streamed call Body
// is nil and Stream carries the event stream; the caller must close it.
type ChatResponse struct {
	StatusCode      int
	Body            []byte
	Stream          io.ReadCloser
	ProviderLatency time.Duration
	InputTokens     int
	OutputTokens    int
}

// StreamEvent represents a single event in a streaming response
type StreamEvent struct {
	Data  []byte
	Error error
	Done  bool
}

// Client sends chat completion requests to an OpenAI-compatible endpoint.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}
