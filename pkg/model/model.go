// Package model routes canonical requests to the providers configured for a
// model, falling back through them in routing order.
package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/germanamz/relay/pkg/modeladapter"
)

// UnknownModelError reports a model name missing from a table.
type UnknownModelError struct {
	Name string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("model: unknown model %q", e.Name)
}

// ProvidersExhaustedError reports that every provider of a model failed.
type ProvidersExhaustedError struct {
	Model          string
	ProviderErrors map[string]error
}

func (e *ProvidersExhaustedError) Error() string {
	names := make([]string, 0, len(e.ProviderErrors))
	for name := range e.ProviderErrors {
		names = append(names, name)
	}

	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.ProviderErrors[name]))
	}

	return fmt.Sprintf("model: all providers failed for %q: %s", e.Model, strings.Join(parts, "; "))
}

// Unwrap exposes the per-provider errors to errors.Is and errors.As.
func (e *ProvidersExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.ProviderErrors))
	for _, err := range e.ProviderErrors {
		errs = append(errs, err)
	}

	return errs
}

// Retryable reports whether any provider failed with a retryable error.
func (e *ProvidersExhaustedError) Retryable() bool {
	for _, err := range e.ProviderErrors {
		if modeladapter.IsRetryable(err) {
			return true
		}
	}

	return false
}

// Config is a model: named providers tried in routing order.
type Config struct {
	Name      string
	Routing   []string
	Providers map[string]modeladapter.Provider
	// Cache, when set, serves and stores blocking inference responses.
	Cache  *Cache
	Logger *slog.Logger
}

// Response is a provider response annotated with where it came from.
type Response struct {
	*modeladapter.Response
	ModelName    string `json:"model_name"`
	ProviderName string `json:"model_provider_name"`
	Cached       bool   `json:"cached"`
}

// StreamResponse is an open provider stream annotated with where it came from.
type StreamResponse struct {
	Stream       *modeladapter.Stream
	RawRequest   string
	ModelName    string
	ProviderName string
}

// BatchStart is a started provider batch annotated with where it runs.
type BatchStart struct {
	*modeladapter.StartBatchResponse
	ModelName    string
	ProviderName string
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}

	return slog.Default()
}

// Validate checks that every routing entry names a configured provider.
func (c *Config) Validate() error {
	if len(c.Routing) == 0 {
		return fmt.Errorf("model: %s: routing is empty", c.Name)
	}

	for _, name := range c.Routing {
		if _, ok := c.Providers[name]; !ok {
			return fmt.Errorf("model: %s: routing names unknown provider %q", c.Name, name)
		}
	}

	return nil
}

// failed records a provider failure and reports whether routing should stop
// because the caller gave up.
func (c *Config) failed(ctx context.Context, errs map[string]error, provider string, err error) bool {
	errs[provider] = err
	c.logger().Warn("provider failed", "model", c.Name, "provider", provider, "error", err)

	return ctx.Err() != nil
}

func (c *Config) exhausted(ctx context.Context, errs map[string]error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return &ProvidersExhaustedError{Model: c.Name, ProviderErrors: errs}
}

// Infer runs req against each provider in routing order and returns the first
// success. The cache, when configured, is consulted per provider.
func (c *Config) Infer(ctx context.Context, req *modeladapter.Request, creds modeladapter.Credentials, opts CacheOptions) (*Response, error) {
	errs := make(map[string]error)

	for _, name := range c.Routing {
		var key string

		if c.Cache != nil && opts.Mode.enabled() {
			k, err := CacheKey(c.Name, name, req)
			if err != nil {
				return nil, err
			}

			key = k

			if opts.Mode.Read() {
				if hit, ok := c.Cache.Get(key, opts.MaxAge); ok {
					c.logger().Debug("cache hit", "model", c.Name, "provider", name)
					return &Response{Response: hit, ModelName: c.Name, ProviderName: name, Cached: true}, nil
				}
			}
		}

		resp, err := c.Providers[name].Infer(ctx, req, creds)
		if err != nil {
			if c.failed(ctx, errs, name, err) {
				break
			}

			continue
		}

		if key != "" && opts.Mode.Write() {
			c.Cache.Put(key, resp)
		}

		return &Response{Response: resp, ModelName: c.Name, ProviderName: name}, nil
	}

	return nil, c.exhausted(ctx, errs)
}

// InferStream opens a stream on the first provider that starts one. A provider
// whose first chunk is an error counts as failed and routing moves on.
func (c *Config) InferStream(ctx context.Context, req *modeladapter.Request, creds modeladapter.Credentials) (*StreamResponse, error) {
	errs := make(map[string]error)

	for _, name := range c.Routing {
		stream, raw, err := modeladapter.InferStream(ctx, c.Providers[name], req, creds)
		if err == nil {
			if _, err = stream.Peek(ctx); errors.Is(err, io.EOF) {
				err = nil
			}

			if err != nil {
				_ = stream.Close()
			}
		}

		if err != nil {
			if c.failed(ctx, errs, name, err) {
				break
			}

			continue
		}

		return &StreamResponse{Stream: stream, RawRequest: raw, ModelName: c.Name, ProviderName: name}, nil
	}

	return nil, c.exhausted(ctx, errs)
}

// StartBatchInference starts a batch on the first provider that accepts it.
func (c *Config) StartBatchInference(ctx context.Context, reqs []*modeladapter.Request, creds modeladapter.Credentials) (*BatchStart, error) {
	errs := make(map[string]error)

	for _, name := range c.Routing {
		resp, err := modeladapter.StartBatchInference(ctx, c.Providers[name], reqs, creds)
		if err != nil {
			if c.failed(ctx, errs, name, err) {
				break
			}

			continue
		}

		return &BatchStart{StartBatchResponse: resp, ModelName: c.Name, ProviderName: name}, nil
	}

	return nil, c.exhausted(ctx, errs)
}

// PollBatchInference polls a batch on the provider that started it.
func (c *Config) PollBatchInference(ctx context.Context, row modeladapter.BatchRequestRow, creds modeladapter.Credentials) (*modeladapter.PollBatchResponse, error) {
	p, ok := c.Providers[row.ModelProviderName]
	if !ok {
		return nil, fmt.Errorf("model: %s: unknown provider %q", c.Name, row.ModelProviderName)
	}

	return modeladapter.PollBatchInference(ctx, p, row, creds)
}

// Table maps model names to their configuration.
type Table struct {
	models map[string]*Config
}

// NewTable validates models and builds a table. A model's Name defaults to its
// key.
func NewTable(models map[string]*Config) (*Table, error) {
	for name, m := range models {
		if m.Name == "" {
			m.Name = name
		}

		if err := m.Validate(); err != nil {
			return nil, err
		}
	}

	return &Table{models: models}, nil
}

// Get returns the named model.
func (t *Table) Get(name string) (*Config, error) {
	return lookup(t.models, name)
}

// Names returns the model names in sorted order.
func (t *Table) Names() []string {
	return sortedKeys(t.models)
}

func lookup[T any](m map[string]T, name string) (T, error) {
	v, ok := m[name]
	if !ok {
		var zero T
		return zero, &UnknownModelError{Name: name}
	}

	return v, nil
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys
}
