package modeladapter

import (
	"context"

	"golang.org/x/time/rate"
)

var (
	_ Provider     = (*RateLimited)(nil)
	_ Streamer     = (*RateLimited)(nil)
	_ BatchInferer = (*RateLimited)(nil)
	_ Embedder     = (*RateLimited)(nil)
)

// RateLimitOpts configures a RateLimited provider.
type RateLimitOpts struct {
	RPS   float64 // Requests per second (0 = no limit).
	Burst int     // Maximum burst size (default 1).
}

// RateLimited wraps a Provider with proactive request throttling. Every
// capability call waits for a token before reaching the inner provider;
// capabilities the inner provider lacks fail with an [UnsupportedError]
// without consuming one.
type RateLimited struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewRateLimited wraps inner with a token bucket limiter.
func NewRateLimited(inner Provider, opts RateLimitOpts) *RateLimited {
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}

	return &RateLimited{inner: inner, limiter: rate.NewLimiter(limit, opts.Burst)}
}

// Unwrap returns the inner provider.
func (r *RateLimited) Unwrap() Provider { return r.inner }

// ProviderType forwards to the inner provider.
func (r *RateLimited) ProviderType() string { return r.inner.ProviderType() }

// Infer implements Provider.
func (r *RateLimited) Infer(ctx context.Context, req *Request, creds Credentials) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	return r.inner.Infer(ctx, req, creds)
}

// InferStream implements Streamer.
func (r *RateLimited) InferStream(ctx context.Context, req *Request, creds Credentials) (*Stream, string, error) {
	if _, ok := r.inner.(Streamer); !ok {
		return InferStream(ctx, r.inner, req, creds)
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}

	return InferStream(ctx, r.inner, req, creds)
}

// StartBatchInference implements BatchInferer.
func (r *RateLimited) StartBatchInference(ctx context.Context, reqs []*Request, creds Credentials) (*StartBatchResponse, error) {
	if _, ok := r.inner.(BatchInferer); ok {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	return StartBatchInference(ctx, r.inner, reqs, creds)
}

// PollBatchInference implements BatchInferer.
func (r *RateLimited) PollBatchInference(ctx context.Context, row BatchRequestRow, creds Credentials) (*PollBatchResponse, error) {
	if _, ok := r.inner.(BatchInferer); ok {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	return PollBatchInference(ctx, r.inner, row, creds)
}

// Embed implements Embedder.
func (r *RateLimited) Embed(ctx context.Context, req *EmbeddingRequest, creds Credentials) (*EmbeddingResponse, error) {
	if _, ok := r.inner.(Embedder); ok {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	return Embed(ctx, r.inner, req, creds)
}
