package modeladapter

import (
	"time"

	"github.com/google/uuid"

	"github.com/germanamz/relay/pkg/modeladapter/usage"
)

// EmbeddingRequest asks for the embedding of a single input.
type EmbeddingRequest struct {
	Input string `json:"input"`
}

// EmbeddingResponse is a provider's embedding of one input.
type EmbeddingResponse struct {
	ID          uuid.UUID     `json:"id"`
	Input       string        `json:"input"`
	Embedding   []float32     `json:"embedding"`
	Created     int64         `json:"created"`
	RawRequest  string        `json:"raw_request"`
	RawResponse string        `json:"raw_response"`
	Usage       usage.Usage   `json:"usage"`
	Latency     time.Duration `json:"latency"`
}
