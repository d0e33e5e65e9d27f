package dummy

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/germanamz/relay/pkg/modeladapter"
	"github.com/germanamz/relay/pkg/modeladapter/usage"
)

// EmbeddingDimensions is the length of every dummy embedding.
const EmbeddingDimensions = 1536

// Embed implements modeladapter.Embedder. The embedding is all zeros.
func (p *Provider) Embed(_ context.Context, req *modeladapter.EmbeddingRequest, creds modeladapter.Credentials) (*modeladapter.EmbeddingResponse, error) {
	if err := p.errorModel(); err != nil {
		return nil, err
	}

	if _, err := p.apiKey(creds); err != nil {
		return nil, err
	}

	return &modeladapter.EmbeddingResponse{
		ID:          uuid.Must(uuid.NewV7()),
		Input:       req.Input,
		Embedding:   make([]float32, EmbeddingDimensions),
		Created:     time.Now().Unix(),
		RawRequest:  rawRequest,
		RawResponse: rawRequest,
		Usage:       usage.Usage{InputTokens: 10, OutputTokens: 1},
		Latency:     inferResponseTime,
	}, nil
}
