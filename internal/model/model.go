// Package model is the boundary to the language-model collaborator: a
// conversation snapshot plus tool schemas in, a final answer or tool
// requests out.
package model

import (
	"context"
	"errors"
	"time"

	"github.com/pilotdev/pilot/internal/session"
	"github.com/pilotdev/pilot/internal/tools"
)

// ErrMalformed means the provider returned a response the engine cannot
// parse. After bounded retries this is a fatal cycle error.
var ErrMalformed = errors.New("malformed model response")

// Request is one completion call.
type Request struct {
	System    string
	Turns     []session.Turn
	Tools     []tools.Schema
	MaxTokens int
}

// Response is either a final answer (no requests) or an ordered set of
// tool requests, optionally with accompanying reasoning text.
type Response struct {
	Text     string
	Requests []session.ToolRequest
}

// Client produces completions.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// RetryConfig bounds transient-failure retries around a client.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// WithRetry wraps a client with bounded, exponentially backed-off retries.
// Context cancellation and malformed responses are not retried here;
// malformed output is the engine's bounded-retry concern.
func WithRetry(next Client, cfg RetryConfig) Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	return &retryClient{next: next, cfg: cfg}
}

type retryClient struct {
	next Client
	cfg  RetryConfig
}

func (c *retryClient) Complete(ctx context.Context, req Request) (Response, error) {
	var lastErr error
	delay := c.cfg.BaseDelay
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		resp, err := c.next.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(ctx, err) || attempt == c.cfg.MaxAttempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
		delay *= 2
	}
	return Response{}, lastErr
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrMalformed) {
		return false
	}
	return true
}
