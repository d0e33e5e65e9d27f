package engine

import (
	"context"

	"github.com/germanamz/relay/pkg/model"
	"github.com/germanamz/relay/pkg/modeladapter"
)

// EmbeddingRequest asks an embedding model to embed one input.
type EmbeddingRequest struct {
	ModelName   string                   `json:"model_name"`
	Input       string                   `json:"input"`
	Credentials modeladapter.Credentials `json:"credentials,omitempty"`
}

// Embed embeds req.Input with the named embedding model.
func (e *Engine) Embed(ctx context.Context, req *EmbeddingRequest) (*model.EmbeddingResponse, error) {
	m, err := e.embeddings.Get(req.ModelName)
	if err != nil {
		return nil, err
	}

	resp, err := m.Embed(ctx, &modeladapter.EmbeddingRequest{Input: req.Input}, req.Credentials)
	if err != nil {
		e.logger.Error("embedding failed", "model", req.ModelName, "error", err)
		return nil, err
	}

	e.usage.Add(resp.ModelName, resp.Usage)

	return resp, nil
}
