// Package variant turns a function's resolved input into canonical model
// requests and dispatches them through the model table.
//
// A chat completion variant pairs a model with optional per-role templates,
// default sampling parameters and request overlays. Preparation is pure: the
// same input, function and configuration always produce the same request.
package variant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/germanamz/relay/pkg/chats/message"
	"github.com/germanamz/relay/pkg/chats/role"
	"github.com/germanamz/relay/pkg/function"
	"github.com/germanamz/relay/pkg/model"
	"github.com/germanamz/relay/pkg/modeladapter"
	"github.com/germanamz/relay/pkg/modeladapter/extra"
	"github.com/germanamz/relay/pkg/schema"
)

// Params are sampling parameters. Nil fields are unset.
type Params struct {
	Temperature      *float32              `json:"temperature,omitempty" yaml:"temperature"`
	MaxTokens        *uint32               `json:"max_tokens,omitempty" yaml:"max_tokens"`
	Seed             *uint32               `json:"seed,omitempty" yaml:"seed"`
	TopP             *float32              `json:"top_p,omitempty" yaml:"top_p"`
	PresencePenalty  *float32              `json:"presence_penalty,omitempty" yaml:"presence_penalty"`
	FrequencyPenalty *float32              `json:"frequency_penalty,omitempty" yaml:"frequency_penalty"`
	StopSequences    []string              `json:"stop_sequences,omitempty" yaml:"stop_sequences"`
	JSONMode         modeladapter.JSONMode `json:"json_mode,omitempty" yaml:"json_mode"`
}

// Backfill fills every unset sampling parameter of p from defaults. JSONMode
// is not backfilled.
func (p *Params) Backfill(defaults Params) {
	if p.Temperature == nil {
		p.Temperature = defaults.Temperature
	}

	if p.MaxTokens == nil {
		p.MaxTokens = defaults.MaxTokens
	}

	if p.Seed == nil {
		p.Seed = defaults.Seed
	}

	if p.TopP == nil {
		p.TopP = defaults.TopP
	}

	if p.PresencePenalty == nil {
		p.PresencePenalty = defaults.PresencePenalty
	}

	if p.FrequencyPenalty == nil {
		p.FrequencyPenalty = defaults.FrequencyPenalty
	}

	if p.StopSequences == nil {
		p.StopSequences = defaults.StopSequences
	}
}

// RetryConfig retries a whole model call, across all its providers.
type RetryConfig struct {
	NumRetries int           `yaml:"num_retries"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// Backoff returns the retry policy for c.
func (c RetryConfig) Backoff() *modeladapter.Backoff {
	return &modeladapter.Backoff{NumRetries: c.NumRetries, MaxDelay: c.MaxDelay}
}

// InferenceConfig carries the per-inference context a variant needs besides
// the input itself.
type InferenceConfig struct {
	FunctionName string
	VariantName  string
	Templates    TemplateEngine
	// ToolConfig is the resolved tool configuration of a chat function.
	ToolConfig *modeladapter.ToolConfig
	// DynamicOutputSchema overrides a json function's output schema.
	DynamicOutputSchema *schema.Schema
	ExtraBody           extra.InferenceBody
	ExtraHeaders        extra.InferenceHeaders
	Cache               model.CacheOptions
}

// ChatCompletion is a variant that sends templated messages to one model.
type ChatCompletion struct {
	// Weight is the sampling weight; nil or zero variants run only when named.
	Weight       *float64
	Model        string
	Templates    Templates
	Defaults     Params
	Retries      RetryConfig
	ExtraBody    extra.Body
	ExtraHeaders extra.Headers
}

// Validate checks the variant against its function and the known models.
func (c *ChatCompletion) Validate(fn *function.Config, models *model.Table, engine TemplateEngine, functionName, variantName string) error {
	prefix := fmt.Sprintf("functions.%s.variants.%s", functionName, variantName)

	if c.Weight != nil && *c.Weight < 0 {
		return &ConfigError{Message: fmt.Sprintf("`%s`: `weight` must be non-negative", prefix)}
	}

	if c.Defaults.JSONMode != "" && !c.Defaults.JSONMode.Valid() {
		return &ConfigError{Message: fmt.Sprintf("`%s`: unknown `json_mode` %q", prefix, c.Defaults.JSONMode)}
	}

	if _, err := models.Get(c.Model); err != nil {
		return err
	}

	for _, r := range []role.Role{role.System, role.User, role.Assistant} {
		if err := ValidateTemplateAndSchema(r, fn.Schema(r), c.Templates.For(r), engine); err != nil {
			return &ConfigError{Message: fmt.Sprintf("`%s.%s_template`: %v", prefix, r, err)}
		}
	}

	return nil
}

// PrepareRequest builds the canonical request for one inference. params is
// backfilled in place with the variant's defaults.
func (c *ChatCompletion) PrepareRequest(in message.ResolvedInput, fn *function.Config, ic *InferenceConfig, stream bool, params *Params) (*modeladapter.Request, error) {
	mi, err := PrepareModelInput(in.System, in.Messages, ic.Templates, c.Templates, fn.TemplateSchemaInfo())
	if err != nil {
		return nil, err
	}

	params.Backfill(c.Defaults)

	req := &modeladapter.Request{
		Messages:         mi.Messages,
		System:           mi.System,
		Temperature:      params.Temperature,
		TopP:             params.TopP,
		MaxTokens:        params.MaxTokens,
		PresencePenalty:  params.PresencePenalty,
		FrequencyPenalty: params.FrequencyPenalty,
		Seed:             params.Seed,
		StopSequences:    params.StopSequences,
		Stream:           stream,
		FunctionType:     fn.Type,
		ExtraBody: extra.FullBody{
			Variant:   c.ExtraBody,
			Inference: ic.ExtraBody.Filter(ic.VariantName),
		},
		ExtraHeaders: extra.FullHeaders{
			Variant:   c.ExtraHeaders,
			Inference: ic.ExtraHeaders.Filter(ic.VariantName),
		},
	}

	switch fn.Type {
	case modeladapter.FunctionTypeChat:
		req.JSONMode = modeladapter.JSONModeOff
		req.ToolConfig = ic.ToolConfig
	case modeladapter.FunctionTypeJSON:
		mode := params.JSONMode
		if mode == "" {
			mode = c.Defaults.JSONMode
		}

		if mode == "" {
			mode = modeladapter.JSONModeStrict
		}

		output := fn.OutputSchema
		if ic.DynamicOutputSchema != nil {
			output = ic.DynamicOutputSchema
		}

		if output != nil {
			req.OutputSchema = output.JSON()
		}

		req.JSONMode = mode
		if mode == modeladapter.JSONModeImplicitTool {
			req.JSONMode = modeladapter.JSONModeOff
			req.ToolConfig = fn.ImplicitToolConfig(ic.DynamicOutputSchema)
		}
	default:
		return nil, fmt.Errorf("variant: unknown function type %q", fn.Type)
	}

	return req, nil
}

// Infer prepares a blocking request and runs it on the variant's model,
// retrying the whole provider list per the variant's retry policy.
func (c *ChatCompletion) Infer(ctx context.Context, in message.ResolvedInput, models *model.Table, fn *function.Config, ic *InferenceConfig, creds modeladapter.Credentials, params *Params) (*model.Response, error) {
	if params == nil {
		params = &Params{}
	}

	req, err := c.PrepareRequest(in, fn, ic, false, params)
	if err != nil {
		return nil, err
	}

	m, err := models.Get(c.Model)
	if err != nil {
		return nil, err
	}

	return modeladapter.Retry(ctx, c.Retries.Backoff(), func(ctx context.Context) (*model.Response, error) {
		return m.Infer(ctx, req, creds, ic.Cache)
	})
}

// InferStream prepares a streaming request and opens a stream on the
// variant's model. Retries only cover opening the stream.
func (c *ChatCompletion) InferStream(ctx context.Context, in message.ResolvedInput, models *model.Table, fn *function.Config, ic *InferenceConfig, creds modeladapter.Credentials, params *Params) (*model.StreamResponse, error) {
	if params == nil {
		params = &Params{}
	}

	req, err := c.PrepareRequest(in, fn, ic, true, params)
	if err != nil {
		return nil, err
	}

	m, err := models.Get(c.Model)
	if err != nil {
		return nil, err
	}

	return modeladapter.Retry(ctx, c.Retries.Backoff(), func(ctx context.Context) (*model.StreamResponse, error) {
		return m.InferStream(ctx, req, creds)
	})
}

// BatchStart is a started batch together with the requests it was built from.
type BatchStart struct {
	*model.BatchStart
	Requests []*modeladapter.Request
	Params   []Params
}

// StartBatchInference prepares one request per input and starts a batch on
// the variant's model. inputs, configs and params are matched by index; params
// may be nil.
func (c *ChatCompletion) StartBatchInference(ctx context.Context, inputs []message.ResolvedInput, models *model.Table, fn *function.Config, configs []*InferenceConfig, creds modeladapter.Credentials, params []Params) (*BatchStart, error) {
	if len(inputs) == 0 {
		return nil, errors.New("variant: batch has no inputs")
	}

	if len(configs) != len(inputs) {
		return nil, fmt.Errorf("variant: batch has %d inputs but %d inference configs", len(inputs), len(configs))
	}

	if params == nil {
		params = make([]Params, len(inputs))
	}

	if len(params) != len(inputs) {
		return nil, fmt.Errorf("variant: batch has %d inputs but %d params", len(inputs), len(params))
	}

	reqs := make([]*modeladapter.Request, 0, len(inputs))

	for i, in := range inputs {
		req, err := c.PrepareRequest(in, fn, configs[i], false, &params[i])
		if err != nil {
			return nil, err
		}

		reqs = append(reqs, req)
	}

	m, err := models.Get(c.Model)
	if err != nil {
		return nil, err
	}

	start, err := m.StartBatchInference(ctx, reqs, creds)
	if err != nil {
		return nil, err
	}

	return &BatchStart{BatchStart: start, Requests: reqs, Params: params}, nil
}
