package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIClient talks to any endpoint implementing the OpenAI chat completions API.
// The endpoint and credential come with each request, so one client serves
// every registered model.
type OpenAIClient struct {
	client *http.Client
}

// NewOpenAIClient creates a client. Deadlines are carried by the request
// context rather than the http.Client so streamed bodies are not cut short.
func NewOpenAIClient() *OpenAIClient {
	return &OpenAIClient{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// NewOpenAIClientWithHTTP wraps an existing http.Client.
func NewOpenAIClientWithHTTP(client *http.Client) *OpenAIClient {
	return &OpenAIClient{client: client}
}

type chatPayload struct {
	Model         string          `json:"model"`
	Messages      json.RawMessage `json:"messages"`
	Temperature   float64         `json:"temperature"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	StreamOptions *streamOptions  `json:"stream_options,omitempty"`
}

// streamOptions asks the upstream for a final usage chunk.
type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// Chat sends a chat completion request. Transport failures are returned as
// errors; any HTTP response, including non-2xx, is returned as a ChatResponse.
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	messages := req.Messages
	if len(messages) == 0 {
		messages = json.RawMessage("[]")
	}

	payload := chatPayload{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   max(req.MaxTokens, 0),
		Stream:      req.Stream,
	}
	if req.Stream {
		payload.StreamOptions = &streamOptions{IncludeUsage: true}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(req.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	latency := time.Since(start)

	if req.Stream && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &ChatResponse{
			StatusCode:      resp.StatusCode,
			Stream:          resp.Body,
			ProviderLatency: latency,
		}, nil
	}

	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	out := &ChatResponse{
		StatusCode:      resp.StatusCode,
		Body:            respBody,
		ProviderLatency: time.Since(start),
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		usage := ExtractUsage(respBody)
		out.InputTokens = usage.InputTokens
		out.OutputTokens = usage.OutputTokens
	}
	return out, nil
}

// UsageInfo contains token usage reported by the upstream
type UsageInfo struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	Present      bool // a usage object was found
}

// ExtractUsage reads usage.prompt_tokens and usage.completion_tokens from a
// response body or stream chunk. Responses-style input_tokens/output_tokens
// are accepted too. Missing fields read as zero.
func ExtractUsage(body []byte) UsageInfo {
	var response struct {
		Usage *struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			InputTokens      int `json:"input_tokens"`
			OutputTokens     int `json:"output_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}

	if err := json.Unmarshal(body, &response); err != nil || response.Usage == nil {
		return UsageInfo{}
	}

	u := response.Usage
	usage := UsageInfo{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  u.TotalTokens,
		Present:      true,
	}
	if usage.InputTokens == 0 && u.InputTokens > 0 {
		usage.InputTokens = u.InputTokens
	}
	if usage.OutputTokens == 0 && u.OutputTokens > 0 {
		usage.OutputTokens = u.OutputTokens
	}
	return usage
}

// ExtractErrorMessage returns error.message from a JSON error body, or the
// raw body text when there is none.
func ExtractErrorMessage(body []byte) string {
	var payload struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Error) > 0 {
		var obj struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(payload.Error, &obj) == nil && obj.Message != "" {
			return obj.Message
		}
	}
	return string(body)
}

// StreamReader provides a convenient way to read streaming responses
type StreamReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
}

// NewStreamReader creates a new stream reader
func NewStreamReader(r io.ReadCloser) *StreamReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &StreamReader{
		scanner: scanner,
		closer:  r,
	}
}

// Read reads the next data event from the stream. It returns io.EOF after
// the [DONE] marker or when the stream ends.
func (s *StreamReader) Read() (*StreamEvent, error) {
	for s.scanner.Scan() {
		line := bytes.TrimRight(s.scanner.Bytes(), "\r")

		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		data := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if len(data) == 0 {
			continue
		}

		if bytes.Equal(data, []byte("[DONE]")) {
			return &StreamEvent{Done: true}, io.EOF
		}

		out := make([]byte, len(data))
		copy(out, data)
		return &StreamEvent{Data: out}, nil
	}

	if err := s.scanner.Err(); err != nil {
		return &StreamEvent{Error: err}, err
	}
	return &StreamEvent{Done: true}, io.EOF
}

// Close closes the stream
func (s *StreamReader) Close() error {
	return s.closer.Close()
}
