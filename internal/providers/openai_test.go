package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatBuildsRequest(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotBody map[string]json.RawMessage
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","usage":{"prompt_tokens":5,"completion_tokens":3}}`)
	}))
	defer srv.Close()

	resp, err := NewOpenAIClient().Chat(context.Background(), ChatRequest{
		BaseURL:     srv.URL + "/v1/",
		APIKey:      "sk-abc",
		Model:       "gpt-x",
		Messages:    json.RawMessage(`[{"role":"user","content":"hi"}]`),
		Temperature: DefaultTemperature,
	})
	require.NoError(t, err)

	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-abc", gotAuth)
	assert.JSONEq(t, `"gpt-x"`, string(gotBody["model"]))
	assert.JSONEq(t, `[{"role":"user","content":"hi"}]`, string(gotBody["messages"]))
	assert.JSONEq(t, `0.7`, string(gotBody["temperature"]))
	assert.NotContains(t, gotBody, "max_tokens")
	assert.NotContains(t, gotBody, "stream")
	assert.NotContains(t, gotBody, "stream_options")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 5, resp.InputTokens)
	assert.Equal(t, 3, resp.OutputTokens)
	assert.Contains(t, string(resp.Body), `"id":"c1"`)
}

func TestChatOptionalFields(t *testing.T) {
	var gotBody map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	resp, err := NewOpenAIClient().Chat(context.Background(), ChatRequest{
		BaseURL:   srv.URL,
		Model:     "m",
		MaxTokens: 256,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `256`, string(gotBody["max_tokens"]))
	assert.JSONEq(t, `[]`, string(gotBody["messages"]))
	assert.Zero(t, resp.InputTokens)
}

func TestChatReturnsNonSuccessResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"rate limited"},"usage":{"prompt_tokens":9}}`)
	}))
	defer srv.Close()

	resp, err := NewOpenAIClient().Chat(context.Background(), ChatRequest{BaseURL: srv.URL, Stream: true})
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Nil(t, resp.Stream)
	assert.Zero(t, resp.InputTokens)
	assert.Equal(t, "rate limited", ExtractErrorMessage(resp.Body))
}

func TestChatStreamsSuccess(t *testing.T) {
	var gotBody map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"n\":1}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	resp, err := NewOpenAIClient().Chat(context.Background(), ChatRequest{BaseURL: srv.URL, Stream: true})
	require.NoError(t, err)
	require.NotNil(t, resp.Stream)
	defer resp.Stream.Close()

	assert.JSONEq(t, `true`, string(gotBody["stream"]))
	assert.JSONEq(t, `{"include_usage":true}`, string(gotBody["stream_options"]))

	reader := NewStreamReader(resp.Stream)
	ev, err := reader.Read()
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, string(ev.Data))

	ev, err = reader.Read()
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, ev.Done)
}

func TestChatTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewOpenAIClient().Chat(context.Background(), ChatRequest{BaseURL: url})
	assert.Error(t, err)
}

func TestChatContextDeadline(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewOpenAIClient().Chat(ctx, ChatRequest{BaseURL: srv.URL})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestExtractUsage(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		in, out int
		present bool
	}{
		{"openai", `{"usage":{"prompt_tokens":5,"completion_tokens":3}}`, 5, 3, true},
		{"responses style", `{"usage":{"input_tokens":7,"output_tokens":2}}`, 7, 2, true},
		{"absent", `{"choices":[]}`, 0, 0, false},
		{"partial", `{"usage":{"prompt_tokens":4}}`, 4, 0, true},
		{"not json", `oops`, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := ExtractUsage([]byte(tt.body))
			assert.Equal(t, tt.in, u.InputTokens)
			assert.Equal(t, tt.out, u.OutputTokens)
			assert.Equal(t, tt.present, u.Present)
		})
	}
}

func TestExtractErrorMessage(t *testing.T) {
	assert.Equal(t, "bad key", ExtractErrorMessage([]byte(`{"error":{"message":"bad key","type":"auth"}}`)))
	assert.Equal(t, `{"error":"flat"}`, ExtractErrorMessage([]byte(`{"error":"flat"}`)))
	assert.Equal(t, "upstream exploded", ExtractErrorMessage([]byte("upstream exploded")))
	assert.Equal(t, "", ExtractErrorMessage(nil))
}

func TestStreamReaderSkipsNoise(t *testing.T) {
	raw := ": keep-alive\r\n\r\nevent: message\ndata:{\"a\":1}\r\n\ndata: \n\ndata: {\"b\":2}\n"
	reader := NewStreamReader(io.NopCloser(strings.NewReader(raw)))

	ev, err := reader.Read()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(ev.Data))

	ev, err = reader.Read()
	require.NoError(t, err)
	assert.Equal(t, `{"b":2}`, string(ev.Data))

	_, err = reader.Read()
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, reader.Close())
}
