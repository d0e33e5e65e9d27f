package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/germanamz/relay/pkg/chats/content"
	"github.com/germanamz/relay/pkg/chats/message"
	"github.com/germanamz/relay/pkg/function"
	"github.com/germanamz/relay/pkg/model"
	"github.com/germanamz/relay/pkg/modeladapter"
	"github.com/germanamz/relay/pkg/modeladapter/extra"
	"github.com/germanamz/relay/pkg/modeladapter/usage"
	"github.com/germanamz/relay/pkg/schema"
	"github.com/germanamz/relay/pkg/variant"
)

// CacheParams are a caller's cache settings for one inference.
type CacheParams struct {
	Enabled model.CacheMode `json:"enabled,omitempty"`
	MaxAgeS *uint32         `json:"max_age_s,omitempty"`
}

// InferenceRequest asks for one inference of a function.
type InferenceRequest struct {
	FunctionName string `json:"function_name"`
	// VariantName pins a variant; empty samples one by weight.
	VariantName string                `json:"variant_name,omitempty"`
	Input       message.ResolvedInput `json:"input"`
	Params      variant.Params        `json:"params"`
	function.ToolParams
	// OutputSchema overrides a json function's output schema.
	OutputSchema json.RawMessage          `json:"output_schema,omitempty"`
	Credentials  modeladapter.Credentials `json:"credentials,omitempty"`
	Cache        CacheParams              `json:"cache_options"`
	ExtraBody    extra.InferenceBody      `json:"extra_body,omitempty"`
	ExtraHeaders extra.InferenceHeaders   `json:"extra_headers,omitempty"`
}

// JSONOutput is the output of a json function. Parsed is nil when Raw does
// not satisfy the output schema.
type JSONOutput struct {
	Raw    string `json:"raw"`
	Parsed any    `json:"parsed"`
}

// InferenceResponse is the result of a blocking inference. Content is set for
// chat functions, Output for json functions.
type InferenceResponse struct {
	InferenceID  uuid.UUID                 `json:"inference_id"`
	FunctionName string                    `json:"function_name"`
	VariantName  string                    `json:"variant_name"`
	Content      content.Outputs           `json:"content,omitempty"`
	Output       *JSONOutput               `json:"output,omitempty"`
	Usage        usage.Usage               `json:"usage"`
	ModelName    string                    `json:"model_name"`
	ProviderName string                    `json:"model_provider_name"`
	Cached       bool                      `json:"cached"`
	FinishReason modeladapter.FinishReason `json:"finish_reason,omitempty"`
}

// call is an inference request resolved against its function.
type call struct {
	id         uuid.UUID
	req        *InferenceRequest
	fn         *Function
	tools      *modeladapter.ToolConfig
	dynamic    *schema.Schema
	candidates []string
	pinned     bool
}

func (e *Engine) resolve(req *InferenceRequest) (*call, error) {
	fn, err := e.Function(req.FunctionName)
	if err != nil {
		return nil, err
	}

	if err := fn.Config.ValidateInput(req.Input); err != nil {
		return nil, err
	}

	c := &call{id: uuid.Must(uuid.NewV7()), req: req, fn: fn}

	if len(req.OutputSchema) > 0 {
		if fn.Config.Type != modeladapter.FunctionTypeJSON {
			return nil, &InvalidRequestError{Message: "output_schema is only allowed for json functions"}
		}

		if c.dynamic, err = schema.FromJSON(req.OutputSchema); err != nil {
			return nil, &InvalidRequestError{Message: err.Error()}
		}
	}

	if fn.Config.Type == modeladapter.FunctionTypeChat {
		if c.tools, err = fn.Config.ToolConfig(req.ToolParams); err != nil {
			return nil, &InvalidRequestError{Message: err.Error()}
		}
	}

	if req.VariantName != "" {
		if _, ok := fn.Variants[req.VariantName]; !ok {
			return nil, &UnknownVariantError{Function: fn.Name, Variant: req.VariantName}
		}

		c.candidates = []string{req.VariantName}
		c.pinned = true

		return c, nil
	}

	if c.candidates = fn.candidates(); len(c.candidates) == 0 {
		return nil, &NoVariantsError{Function: fn.Name}
	}

	return c, nil
}

func (c *call) inferenceConfig(e *Engine, variantName string) *variant.InferenceConfig {
	return &variant.InferenceConfig{
		FunctionName:        c.fn.Name,
		VariantName:         variantName,
		Templates:           e.templates,
		ToolConfig:          c.tools,
		DynamicOutputSchema: c.dynamic,
		ExtraBody:           c.req.ExtraBody,
		ExtraHeaders:        c.req.ExtraHeaders,
		Cache:               cacheOptions(c.req.Cache),
	}
}

// tryVariants samples variants until run succeeds. A pinned variant's error
// is returned as is; otherwise every failure is collected.
func tryVariants[T any](ctx context.Context, e *Engine, c *call, run func(name string) (T, error)) (T, error) {
	var zero T

	remaining := slices.Clone(c.candidates)
	errs := make(map[string]error)

	for len(remaining) > 0 {
		name := e.pick(c.fn, remaining)
		remaining = slices.DeleteFunc(remaining, func(n string) bool { return n == name })

		out, err := run(name)
		if err == nil {
			return out, nil
		}

		if c.pinned {
			return zero, err
		}

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		errs[name] = err
		e.logger.Warn("variant failed", "function", c.fn.Name, "variant", name, "inference_id", c.id, "error", err)
		e.events.Publish(Event{
			Kind:        EventVariantFailed,
			InferenceID: c.id,
			Function:    c.fn.Name,
			Variant:     name,
			Timestamp:   time.Now(),
			Data:        err,
		})
	}

	return zero, &AllVariantsFailedError{Function: c.fn.Name, Errors: errs}
}

func (e *Engine) start(c *call) time.Time {
	now := time.Now()
	e.events.Publish(Event{Kind: EventInferenceStart, InferenceID: c.id, Function: c.fn.Name, Timestamp: now})

	return now
}

// Infer runs a blocking inference.
func (e *Engine) Infer(ctx context.Context, req *InferenceRequest) (*InferenceResponse, error) {
	c, err := e.resolve(req)
	if err != nil {
		return nil, err
	}

	started := e.start(c)

	resp, err := tryVariants(ctx, e, c, func(name string) (*InferenceResponse, error) {
		return e.inferVariant(ctx, c, name)
	})
	if err != nil {
		e.logger.Error("inference failed", "function", c.fn.Name, "inference_id", c.id, "error", err)
		e.events.Publish(Event{Kind: EventError, InferenceID: c.id, Function: c.fn.Name, Timestamp: time.Now(), Data: err})

		return nil, err
	}

	e.logger.Info("inference complete",
		"function", c.fn.Name,
		"variant", resp.VariantName,
		"model", resp.ModelName,
		"provider", resp.ProviderName,
		"cached", resp.Cached,
		"duration", time.Since(started),
	)
	e.events.Publish(Event{
		Kind:        EventInferenceEnd,
		InferenceID: c.id,
		Function:    c.fn.Name,
		Variant:     resp.VariantName,
		Timestamp:   time.Now(),
		Data:        resp,
	})

	return resp, nil
}

func (e *Engine) inferVariant(ctx context.Context, c *call, name string) (*InferenceResponse, error) {
	params := c.req.Params

	resp, err := c.fn.Variants[name].Infer(ctx, c.req.Input, e.models, c.fn.Config, c.inferenceConfig(e, name), c.req.Credentials, &params)
	if err != nil {
		return nil, err
	}

	if !resp.Cached {
		e.usage.Add(resp.ModelName, resp.Usage)
	}

	out := &InferenceResponse{
		InferenceID:  c.id,
		FunctionName: c.fn.Name,
		VariantName:  name,
		Usage:        resp.Usage,
		ModelName:    resp.ModelName,
		ProviderName: resp.ProviderName,
		Cached:       resp.Cached,
		FinishReason: resp.FinishReason,
	}

	if c.fn.Config.Type == modeladapter.FunctionTypeJSON {
		out.Output = e.jsonOutput(c, resp.Output)
	} else {
		out.Content = resp.Output
	}

	return out, nil
}

// jsonOutput extracts a json function's document from model output: the text
// blocks, or failing that the first tool call's arguments.
func (e *Engine) jsonOutput(c *call, output content.Outputs) *JSONOutput {
	var raw strings.Builder

	for _, block := range output {
		if t, ok := block.(content.Text); ok {
			raw.WriteString(t.Text)
		}
	}

	if raw.Len() == 0 {
		for _, block := range output {
			if tc, ok := block.(content.ToolCall); ok {
				raw.WriteString(tc.Arguments)
				break
			}
		}
	}

	s := c.fn.Config.OutputSchema
	if c.dynamic != nil {
		s = c.dynamic
	}

	out := &JSONOutput{Raw: raw.String()}

	parsed, err := function.ParseOutput(out.Raw, s)
	if err != nil {
		e.logger.Warn("json output rejected", "function", c.fn.Name, "inference_id", c.id, "error", err)
		return out
	}

	out.Parsed = parsed

	return out
}

// StreamChunk is one element of an inference stream.
type StreamChunk struct {
	InferenceID  uuid.UUID                 `json:"inference_id"`
	VariantName  string                    `json:"variant_name"`
	Content      content.Chunks            `json:"content,omitempty"`
	Usage        *usage.Usage              `json:"usage,omitempty"`
	FinishReason modeladapter.FinishReason `json:"finish_reason,omitempty"`
}

// InferenceStream is an open streaming inference. It must be closed.
type InferenceStream struct {
	InferenceID  uuid.UUID
	FunctionName string
	VariantName  string
	ModelName    string
	ProviderName string

	engine  *Engine
	stream  *modeladapter.Stream
	started time.Time
}

// InferStream starts a streaming inference. Variant fallback only covers
// opening the stream; errors after the first chunk end the stream.
func (e *Engine) InferStream(ctx context.Context, req *InferenceRequest) (*InferenceStream, error) {
	c, err := e.resolve(req)
	if err != nil {
		return nil, err
	}

	started := e.start(c)

	return tryVariants(ctx, e, c, func(name string) (*InferenceStream, error) {
		params := c.req.Params

		resp, err := c.fn.Variants[name].InferStream(ctx, c.req.Input, e.models, c.fn.Config, c.inferenceConfig(e, name), c.req.Credentials, &params)
		if err != nil {
			return nil, err
		}

		return &InferenceStream{
			InferenceID:  c.id,
			FunctionName: c.fn.Name,
			VariantName:  name,
			ModelName:    resp.ModelName,
			ProviderName: resp.ProviderName,
			engine:       e,
			stream:       resp.Stream,
			started:      started,
		}, nil
	})
}

// Recv returns the next chunk, or io.EOF after the terminal chunk. Usage is
// recorded when the terminal chunk passes through.
func (s *InferenceStream) Recv(ctx context.Context) (*StreamChunk, error) {
	chunk, err := s.stream.Recv(ctx)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.engine.events.Publish(Event{
				Kind:        EventError,
				InferenceID: s.InferenceID,
				Function:    s.FunctionName,
				Variant:     s.VariantName,
				Timestamp:   time.Now(),
				Data:        err,
			})
		}

		return nil, err
	}

	if chunk.Terminal() {
		s.engine.usage.Add(s.ModelName, *chunk.Usage)
		s.engine.logger.Info("inference stream complete",
			"function", s.FunctionName,
			"variant", s.VariantName,
			"model", s.ModelName,
			"provider", s.ProviderName,
			"duration", time.Since(s.started),
		)
		s.engine.events.Publish(Event{
			Kind:        EventInferenceEnd,
			InferenceID: s.InferenceID,
			Function:    s.FunctionName,
			Variant:     s.VariantName,
			Timestamp:   time.Now(),
			Data:        *chunk.Usage,
		})
	}

	return &StreamChunk{
		InferenceID:  s.InferenceID,
		VariantName:  s.VariantName,
		Content:      chunk.Content,
		Usage:        chunk.Usage,
		FinishReason: chunk.FinishReason,
	}, nil
}

// Close releases the underlying provider stream.
func (s *InferenceStream) Close() error {
	return s.stream.Close()
}
