package proxy

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"studio_gateway/internal/models"
	"studio_gateway/internal/providers"
)

// Stream is an open streamed completion. Callers read events with Next until
// io.EOF and must call Close, which records usage.
type Stream struct {
	proxy    *Proxy
	ctx      context.Context
	cancel   context.CancelFunc
	reader   *providers.StreamReader
	username string
	model    *models.ModelConfig
	usage    providers.UsageInfo
	err      error
	complete bool
	once     sync.Once
}

// OpenStream resolves the model and opens a streamed call. Failures before
// the first byte is relayed are returned as *Error, exactly as Complete
// would. The timeout covers the wait for response headers only.
func (p *Proxy) OpenStream(ctx context.Context, username string, req Request) (*Stream, error) {
	if username == "" {
		return nil, forbidden()
	}

	model, err := p.Resolve(ctx, req.ModelID)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithCancel(ctx)
	var timedOut atomic.Bool
	timer := time.AfterFunc(p.config.Timeout, func() {
		timedOut.Store(true)
		cancel()
	})

	resp, err := p.client.Chat(callCtx, p.chatRequest(model, req, true))
	timer.Stop()
	if err != nil {
		cancel()
		var perr *Error
		if timedOut.Load() {
			perr = timeout(err)
		} else {
			perr = classify(err, callCtx)
		}
		p.recordFailure(ctx, username, model, perr)
		return nil, perr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || resp.Stream == nil {
		cancel()
		perr := upstreamError(resp.StatusCode, providers.ExtractErrorMessage(resp.Body))
		p.recordFailure(ctx, username, model, perr)
		return nil, perr
	}

	return &Stream{
		proxy:    p,
		ctx:      ctx,
		cancel:   cancel,
		reader:   providers.NewStreamReader(resp.Stream),
		username: username,
		model:    model,
	}, nil
}

// Model is the model serving the stream.
func (s *Stream) Model() *models.ModelConfig {
	return s.model
}

// Next returns the payload of the next data event. It returns io.EOF once the
// upstream sends [DONE] or ends the stream.
func (s *Stream) Next() ([]byte, error) {
	if s.complete {
		return nil, io.EOF
	}
	if s.err != nil {
		return nil, s.err
	}

	ev, err := s.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.complete = true
			return nil, io.EOF
		}
		s.err = err
		return nil, err
	}

	if u := providers.ExtractUsage(ev.Data); u.Present {
		s.usage = u
	}
	return ev.Data, nil
}

// Close releases the upstream connection and records the call. A stream that
// reached its end records one success; an interrupted one is a failure.
func (s *Stream) Close() error {
	var closeErr error
	s.once.Do(func() {
		closeErr = s.reader.Close()
		s.cancel()

		if s.complete {
			rec := usageRecord(s.username, s.model)
			rec.TokensInput = s.usage.InputTokens
			rec.TokensOutput = s.usage.OutputTokens
			rec.Success = true
			s.proxy.record(s.ctx, rec)
			return
		}

		err := s.err
		if err == nil {
			err = errors.New("stream closed before completion")
		}
		s.proxy.recordFailure(s.ctx, s.username, s.model, unreachable(err))
	})
	return closeErr
}
