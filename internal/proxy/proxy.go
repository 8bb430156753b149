// Package proxy forwards chat completion calls to the upstream endpoint of a
// registered model and records token usage for each successful call.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"studio_gateway/internal/logging"
	"studio_gateway/internal/models"
	"studio_gateway/internal/providers"
	"studio_gateway/internal/storage"
)

const (
	// DefaultTimeout bounds one upstream attempt.
	DefaultTimeout = 120 * time.Second

	recordTimeout = 10 * time.Second
)

// ModelSource resolves model ids. It must return storage.ErrModelNotFound for unknown ids.
type ModelSource interface {
	GetByID(ctx context.Context, id string) (*models.ModelConfig, error)
}

// DefaultModelSource supplies the model used when a request names none.
// An empty id means no default is configured.
type DefaultModelSource interface {
	DefaultModelID(ctx context.Context) (string, error)
}

// UsageRecorder receives one record per recorded call. It must not fail.
type UsageRecorder interface {
	Record(ctx context.Context, rec *models.UsageRecord)
}

// Config controls dispatch.
type Config struct {
	Timeout        time.Duration
	DefaultBaseURL string
	LogFailures    bool // also record dispatched calls that failed
}

// Request is a chat completion call as received from the studio.
type Request struct {
	ModelID     string          `json:"model_id"`
	Messages    json.RawMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

// Result is a successful non-streamed call.
type Result struct {
	Body         []byte
	Model        *models.ModelConfig
	InputTokens  int
	OutputTokens int
}

// Proxy dispatches completion calls. It holds no per-call state.
type Proxy struct {
	models   ModelSource
	defaults DefaultModelSource
	client   providers.Client
	recorder UsageRecorder
	config   Config
	logger   *logging.Logger
}

// New creates a proxy. defaults may be nil when no default model is supported.
func New(modelSource ModelSource, defaults DefaultModelSource, client providers.Client, recorder UsageRecorder, config Config, logger *logging.Logger) *Proxy {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.DefaultBaseURL == "" {
		config.DefaultBaseURL = models.DefaultBaseURL
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Proxy{
		models:   modelSource,
		defaults: defaults,
		client:   client,
		recorder: recorder,
		config:   config,
		logger:   logger,
	}
}

// Resolve returns the model a call for modelID would be dispatched to.
// Checks run in order: unknown id, disabled, missing credential.
func (p *Proxy) Resolve(ctx context.Context, modelID string) (*models.ModelConfig, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" && p.defaults != nil {
		id, err := p.defaults.DefaultModelID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read default model: %w", err)
		}
		modelID = id
	}
	if modelID == "" {
		return nil, notFound(modelID)
	}

	model, err := p.models.GetByID(ctx, modelID)
	if err != nil {
		if errors.Is(err, storage.ErrModelNotFound) {
			return nil, notFound(modelID)
		}
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	if !model.IsEnabled {
		return nil, disabled(modelID)
	}
	if model.Credential() == "" {
		return nil, missingCredential(model.Name)
	}
	return model, nil
}

// Complete performs one non-streamed call for username.
func (p *Proxy) Complete(ctx context.Context, username string, req Request) (*Result, error) {
	if username == "" {
		return nil, forbidden()
	}

	model, err := p.Resolve(ctx, req.ModelID)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.client.Chat(callCtx, p.chatRequest(model, req, false))
	if err != nil {
		perr := classify(err, callCtx)
		p.recordFailure(ctx, username, model, perr)
		return nil, perr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		perr := upstreamError(resp.StatusCode, providers.ExtractErrorMessage(resp.Body))
		p.recordFailure(ctx, username, model, perr)
		return nil, perr
	}

	p.logger.Debug("Completion proxied",
		"username", username,
		"model_id", model.ID,
		"latency_ms", time.Since(start).Milliseconds(),
		"tokens_input", resp.InputTokens,
		"tokens_output", resp.OutputTokens,
	)

	rec := usageRecord(username, model)
	rec.TokensInput = resp.InputTokens
	rec.TokensOutput = resp.OutputTokens
	rec.Success = true
	p.record(ctx, rec)

	return &Result{
		Body:         resp.Body,
		Model:        model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}, nil
}

func (p *Proxy) chatRequest(model *models.ModelConfig, req Request, stream bool) providers.ChatRequest {
	temperature := providers.DefaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := 0
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	return providers.ChatRequest{
		BaseURL:     model.EndpointBaseURL(p.config.DefaultBaseURL),
		APIKey:      model.Credential(),
		Model:       model.UpstreamModelID(),
		Messages:    req.Messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Stream:      stream,
	}
}

// classify maps a transport error to Timeout or UpstreamUnreachable.
func classify(err error, callCtx context.Context) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return timeout(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return timeout(err)
	}
	return unreachable(err)
}

// record hands rec to the recorder on a context that outlives the caller's.
func (p *Proxy) record(ctx context.Context, rec *models.UsageRecord) {
	if p.recorder == nil {
		return
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	p.recorder.Record(recordCtx, rec)
}

func (p *Proxy) recordFailure(ctx context.Context, username string, model *models.ModelConfig, perr *Error) {
	p.logger.Warn("Completion failed",
		"username", username,
		"model_id", model.ID,
		"kind", perr.Kind.String(),
		"status", perr.Status,
		"error", perr.Message,
	)
	if !p.config.LogFailures || !perr.Dispatched() {
		return
	}
	msg := perr.Message
	rec := usageRecord(username, model)
	rec.ErrorMessage = &msg
	p.record(ctx, rec)
}

func usageRecord(username string, model *models.ModelConfig) *models.UsageRecord {
	name, provider := model.Name, model.Provider
	return &models.UsageRecord{
		Username:  username,
		ModelID:   model.ID,
		ModelName: &name,
		Provider:  &provider,
	}
}
