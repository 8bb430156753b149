package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studio_gateway/internal/logging"
	"studio_gateway/internal/models"
	"studio_gateway/internal/providers"
	"studio_gateway/internal/storage"
	"studio_gateway/internal/utils"
)

type modelMap map[string]*models.ModelConfig

func (m modelMap) GetByID(ctx context.Context, id string) (*models.ModelConfig, error) {
	model, ok := m[id]
	if !ok {
		return nil, storage.ErrModelNotFound
	}
	copied := *model
	return &copied, nil
}

type staticDefault string

func (d staticDefault) DefaultModelID(context.Context) (string, error) {
	return string(d), nil
}

type captureRecorder struct {
	mu      sync.Mutex
	records []*models.UsageRecord
	ctxErrs []error
}

func (r *captureRecorder) Record(ctx context.Context, rec *models.UsageRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
}

func (r *captureRecorder) all() []*models.UsageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.UsageRecord(nil), r.records...)
}

// countingClient fails the test if it is ever called.
type countingClient struct {
	calls atomic.Int32
}

func (c *countingClient) Chat(context.Context, providers.ChatRequest) (*providers.ChatResponse, error) {
	c.calls.Add(1)
	return nil, errors.New("unexpected outbound call")
}

func gptX(baseURL string) *models.ModelConfig {
	return &models.ModelConfig{
		ID:         "gpt-x",
		Name:       "GPT X",
		Provider:   "openai",
		APIModelID: utils.StringPtr("gpt-x-2025"),
		BaseURL:    utils.StringPtr(baseURL),
		APIKey:     utils.StringPtr("sk-abc"),
		IsEnabled:  true,
	}
}

func newTestProxy(source ModelSource, client providers.Client, rec UsageRecorder, cfg Config) *Proxy {
	return New(source, staticDefault(""), client, rec, cfg, logging.NewNop())
}

func messages() json.RawMessage {
	return json.RawMessage(`[{"role":"user","content":"hello"}]`)
}

func TestCompleteSuccessRecordsUsage(t *testing.T) {
	var got struct {
		path, auth string
		body       map[string]json.RawMessage
	}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got.body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"hi"}}],"usage":{"prompt_tokens":5,"completion_tokens":3}}`)
	}))
	defer upstream.Close()

	rec := &captureRecorder{}
	p := newTestProxy(modelMap{"gpt-x": gptX(upstream.URL + "/v1/")}, providers.NewOpenAIClient(), rec, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	result, err := p.Complete(ctx, "alice", Request{ModelID: "gpt-x", Messages: messages()})
	cancel()
	require.NoError(t, err)

	assert.Equal(t, "/v1/chat/completions", got.path)
	assert.Equal(t, "Bearer sk-abc", got.auth)
	assert.JSONEq(t, `"gpt-x-2025"`, string(got.body["model"]))
	assert.JSONEq(t, `0.7`, string(got.body["temperature"]))
	assert.JSONEq(t, string(messages()), string(got.body["messages"]))
	assert.NotContains(t, got.body, "max_tokens")

	assert.Contains(t, string(result.Body), `"content":"hi"`)

	records := rec.all()
	require.Len(t, records, 1)
	assert.Equal(t, "alice", records[0].Username)
	assert.Equal(t, "gpt-x", records[0].ModelID)
	assert.Equal(t, "GPT X", utils.StringPtrValue(records[0].ModelName))
	assert.Equal(t, "openai", utils.StringPtrValue(records[0].Provider))
	assert.Equal(t, 5, records[0].TokensInput)
	assert.Equal(t, 3, records[0].TokensOutput)
	assert.True(t, records[0].Success)
	assert.NoError(t, rec.ctxErrs[0])
}

func TestCompleteScenarioExampleHost(t *testing.T) {
	var gotURL, gotAuth string
	client := clientFunc(func(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
		gotURL = req.BaseURL
		gotAuth = req.APIKey
		return &providers.ChatResponse{
			StatusCode:   http.StatusOK,
			Body:         []byte(`{"usage":{"prompt_tokens":5,"completion_tokens":3}}`),
			InputTokens:  5,
			OutputTokens: 3,
		}, nil
	})

	model := gptX("https://api.example.com/v1")
	model.APIModelID = nil
	rec := &captureRecorder{}
	p := newTestProxy(modelMap{"gpt-x": model}, client, rec, Config{})

	_, err := p.Complete(context.Background(), "alice", Request{ModelID: "gpt-x", Messages: messages()})
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1", gotURL)
	assert.Equal(t, "sk-abc", gotAuth)

	records := rec.all()
	require.Len(t, records, 1)
	assert.Equal(t, 5, records[0].TokensInput)
	assert.Equal(t, 3, records[0].TokensOutput)
	assert.True(t, records[0].Success)
}

type clientFunc func(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error)

func (f clientFunc) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return f(ctx, req)
}

func TestCompleteMissingUsageCountsZero(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[]}`)
	}))
	defer upstream.Close()

	rec := &captureRecorder{}
	p := newTestProxy(modelMap{"gpt-x": gptX(upstream.URL)}, providers.NewOpenAIClient(), rec, Config{})

	_, err := p.Complete(context.Background(), "alice", Request{
		ModelID:     "gpt-x",
		Messages:    messages(),
		Temperature: func() *float64 { v := 0.2; return &v }(),
		MaxTokens:   utils.IntPtr(64),
	})
	require.NoError(t, err)

	records := rec.all()
	require.Len(t, records, 1)
	assert.Zero(t, records[0].TokensInput)
	assert.Zero(t, records[0].TokensOutput)
}

func TestResolutionFailuresNeverDispatch(t *testing.T) {
	disabledModel := gptX("https://api.example.com/v1")
	disabledModel.IsEnabled = false

	noKey := gptX("https://api.example.com/v1")
	noKey.APIKey = nil

	blankKey := gptX("https://api.example.com/v1")
	blankKey.APIKey = utils.StringPtr("   ")

	disabledNoKey := gptX("https://api.example.com/v1")
	disabledNoKey.IsEnabled = false
	disabledNoKey.APIKey = nil

	tests := []struct {
		name     string
		models   modelMap
		username string
		modelID  string
		sentinel error
		status   int
		message  string
	}{
		{"no caller", modelMap{}, "", "gpt-x", ErrForbidden, http.StatusForbidden, "Not authenticated"},
		{"unknown model", modelMap{}, "alice", "gpt-x", ErrNotFound, http.StatusNotFound, "Model 'gpt-x' not found"},
		{"disabled", modelMap{"gpt-x": disabledModel}, "alice", "gpt-x", ErrDisabled, http.StatusBadRequest, "Model 'gpt-x' is disabled"},
		{"disabled wins over missing key", modelMap{"gpt-x": disabledNoKey}, "alice", "gpt-x", ErrDisabled, http.StatusBadRequest, "Model 'gpt-x' is disabled"},
		{"missing key", modelMap{"gpt-x": noKey}, "alice", "gpt-x", ErrMissingCredential, http.StatusBadRequest, "API Key not configured for model 'GPT X'"},
		{"blank key", modelMap{"gpt-x": blankKey}, "alice", "gpt-x", ErrMissingCredential, http.StatusBadRequest, "API Key not configured for model 'GPT X'"},
		{"no model and no default", modelMap{}, "alice", "", ErrNotFound, http.StatusNotFound, "Model '' not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &countingClient{}
			rec := &captureRecorder{}
			p := newTestProxy(tt.models, client, rec, Config{LogFailures: true})

			_, err := p.Complete(context.Background(), tt.username, Request{ModelID: tt.modelID, Messages: messages()})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var perr *Error
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.status, perr.Status)
			assert.Equal(t, tt.message, perr.Message)
			assert.False(t, perr.Dispatched())

			_, err = p.OpenStream(context.Background(), tt.username, Request{ModelID: tt.modelID, Stream: true})
			assert.ErrorIs(t, err, tt.sentinel)

			assert.Zero(t, client.calls.Load())
			assert.Empty(t, rec.all())
		})
	}
}

func TestCredentialRemovedBeforeCall(t *testing.T) {
	source := modelMap{"gpt-x": gptX("https://api.example.com/v1")}
	client := &countingClient{}
	p := newTestProxy(source, client, &captureRecorder{}, Config{})

	source["gpt-x"].APIKey = nil

	_, err := p.Complete(context.Background(), "alice", Request{ModelID: "gpt-x"})
	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.Zero(t, client.calls.Load())
}

func TestDefaultModelFallback(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"usage":{"prompt_tokens":1,"completion_tokens":1}}`)
	}))
	defer upstream.Close()

	rec := &captureRecorder{}
	p := New(modelMap{"gpt-x": gptX(upstream.URL)}, staticDefault("gpt-x"), providers.NewOpenAIClient(), rec, Config{}, nil)

	result, err := p.Complete(context.Background(), "alice", Request{Messages: messages()})
	require.NoError(t, err)
	assert.Equal(t, "gpt-x", result.Model.ID)
	assert.Equal(t, "gpt-x", rec.all()[0].ModelID)
}

func TestUpstreamErrorPropagates(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"json error", http.StatusUnauthorized, `{"error":{"message":"Incorrect API key provided"}}`, "Incorrect API key provided"},
		{"plain text", http.StatusInternalServerError, `upstream exploded`, "upstream exploded"},
		{"json without message", http.StatusTooManyRequests, `{"error":{"code":"rate"}}`, `{"error":{"code":"rate"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer upstream.Close()

			rec := &captureRecorder{}
			p := newTestProxy(modelMap{"gpt-x": gptX(upstream.URL)}, providers.NewOpenAIClient(), rec, Config{})

			_, err := p.Complete(context.Background(), "alice", Request{ModelID: "gpt-x", Messages: messages()})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUpstream)

			var perr *Error
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.status, perr.Status)
			assert.Equal(t, tt.message, perr.Message)
			assert.Empty(t, rec.all())
		})
	}
}

func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(release)

	rec := &captureRecorder{}
	p := newTestProxy(modelMap{"gpt-x": gptX(upstream.URL)}, providers.NewOpenAIClient(), rec, Config{Timeout: 50 * time.Millisecond})

	_, err := p.Complete(context.Background(), "alice", Request{ModelID: "gpt-x", Messages: messages()})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)

	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusGatewayTimeout, perr.Status)
	assert.Equal(t, "Request to AI API timed out", perr.Message)
	assert.Empty(t, rec.all())
}

func TestConnectError(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()

	rec := &captureRecorder{}
	p := newTestProxy(modelMap{"gpt-x": gptX(url)}, providers.NewOpenAIClient(), rec, Config{})

	_, err := p.Complete(context.Background(), "alice", Request{ModelID: "gpt-x", Messages: messages()})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamUnreachable)

	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusBadGateway, perr.Status)
	assert.Contains(t, perr.Message, "Failed to connect to AI API: ")
	assert.Empty(t, rec.all())
}

func TestLogFailuresRecordsDispatchedFailures(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"context too long"}}`)
	}))
	defer upstream.Close()

	rec := &captureRecorder{}
	p := newTestProxy(modelMap{"gpt-x": gptX(upstream.URL)}, providers.NewOpenAIClient(), rec, Config{LogFailures: true})

	_, err := p.Complete(context.Background(), "alice", Request{ModelID: "gpt-x", Messages: messages()})
	require.Error(t, err)

	records := rec.all()
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.Equal(t, "context too long", utils.StringPtrValue(records[0].ErrorMessage))
	assert.Zero(t, records[0].TokensInput)
}

func TestRecorderContextOutlivesCaller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := clientFunc(func(context.Context, providers.ChatRequest) (*providers.ChatResponse, error) {
		cancel()
		return &providers.ChatResponse{StatusCode: http.StatusOK, Body: []byte(`{}`)}, nil
	})

	rec := &captureRecorder{}
	p := newTestProxy(modelMap{"gpt-x": gptX("https://api.example.com/v1")}, client, rec, Config{})

	_, err := p.Complete(ctx, "alice", Request{ModelID: "gpt-x"})
	require.NoError(t, err)
	require.Len(t, rec.all(), 1)
	assert.NoError(t, rec.ctxErrs[0])
}

func TestErrorIsMatchesKindOnly(t *testing.T) {
	err := upstreamError(http.StatusTeapot, "short and stout")
	assert.ErrorIs(t, err, ErrUpstream)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Equal(t, "short and stout", err.Error())
	assert.Equal(t, "timeout", (&Error{Kind: KindTimeout}).Error())
}
