package model

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/germanamz/relay/pkg/modeladapter"
)

// EmbeddingConfig is an embedding model: named providers tried in routing
// order.
type EmbeddingConfig struct {
	Name      string
	Routing   []string
	Providers map[string]modeladapter.Provider
	Logger    *slog.Logger
}

// EmbeddingResponse is a provider embedding annotated with where it came from.
type EmbeddingResponse struct {
	*modeladapter.EmbeddingResponse
	ModelName    string `json:"model_name"`
	ProviderName string `json:"model_provider_name"`
}

func (c *EmbeddingConfig) asConfig() *Config {
	return &Config{Name: c.Name, Routing: c.Routing, Providers: c.Providers, Logger: c.Logger}
}

// Embed embeds req with the first provider that succeeds.
func (c *EmbeddingConfig) Embed(ctx context.Context, req *modeladapter.EmbeddingRequest, creds modeladapter.Credentials) (*EmbeddingResponse, error) {
	m := c.asConfig()
	errs := make(map[string]error)

	for _, name := range c.Routing {
		resp, err := modeladapter.Embed(ctx, c.Providers[name], req, creds)
		if err != nil {
			if m.failed(ctx, errs, name, err) {
				break
			}

			continue
		}

		return &EmbeddingResponse{EmbeddingResponse: resp, ModelName: c.Name, ProviderName: name}, nil
	}

	return nil, m.exhausted(ctx, errs)
}

// EmbeddingTable maps embedding model names to their configuration.
type EmbeddingTable struct {
	models map[string]*EmbeddingConfig
}

// NewEmbeddingTable validates models and builds a table.
func NewEmbeddingTable(models map[string]*EmbeddingConfig) (*EmbeddingTable, error) {
	for name, m := range models {
		if m.Name == "" {
			m.Name = name
		}

		if err := m.asConfig().Validate(); err != nil {
			return nil, fmt.Errorf("embedding %w", err)
		}
	}

	return &EmbeddingTable{models: models}, nil
}

// Get returns the named embedding model.
func (t *EmbeddingTable) Get(name string) (*EmbeddingConfig, error) {
	return lookup(t.models, name)
}

// Names returns the embedding model names in sorted order.
func (t *EmbeddingTable) Names() []string {
	return sortedKeys(t.models)
}
