package engine

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/germanamz/relay/pkg/function"
	"github.com/germanamz/relay/pkg/model"
	"github.com/germanamz/relay/pkg/modeladapter"
	"github.com/germanamz/relay/pkg/modeladapter/usage"
	"github.com/germanamz/relay/pkg/providers/dummy"
	"github.com/germanamz/relay/pkg/schema"
	"github.com/germanamz/relay/pkg/templates"
	"github.com/germanamz/relay/pkg/variant"
)

// Function is a configured function with its variants.
type Function struct {
	Name     string
	Config   *function.Config
	Variants map[string]*variant.ChatCompletion
}

// candidates returns the variants eligible for sampling: those with a
// positive weight, or when none has one, those with no weight at all.
func (f *Function) candidates() []string {
	var weighted, unweighted []string

	for name, v := range f.Variants {
		switch {
		case v.Weight == nil:
			unweighted = append(unweighted, name)
		case *v.Weight > 0:
			weighted = append(weighted, name)
		}
	}

	out := weighted
	if len(out) == 0 {
		out = unweighted
	}

	slices.Sort(out)

	return out
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithBatchStore enables batch inference backed by s.
func WithBatchStore(s BatchStore) Option {
	return func(e *Engine) { e.batches = s }
}

// WithRand sets the source used for weighted variant sampling.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rand = r }
}

// WithDummyCounters shares flaky model call counters between engines. By
// default every engine counts from a fresh set.
func WithDummyCounters(c *dummy.Counters) Option {
	return func(e *Engine) { e.counters = c }
}

// Engine is the composition root that assembles all gateway components from
// configuration and exposes them through a frontend-agnostic API.
type Engine struct {
	cfg        Config
	logger     *slog.Logger
	events     *EventBus
	templates  *templates.Store
	models     *model.Table
	embeddings *model.EmbeddingTable
	functions  map[string]*Function
	usage      usage.Tracker
	batches    BatchStore
	counters   *dummy.Counters

	randMu sync.Mutex
	rand   *rand.Rand
}

// New creates an Engine from the given configuration. It validates the
// config, loads every referenced template and schema, builds providers and
// validates every variant against its function.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		logger:    slog.Default(),
		events:    NewEventBus(),
		templates: templates.NewStore(),
		functions: make(map[string]*Function, len(cfg.Functions)),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.rand == nil {
		e.rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // variant sampling is not security sensitive
	}

	if e.counters == nil {
		e.counters = dummy.NewCounters()
	}

	if err := e.buildModels(); err != nil {
		return nil, err
	}

	tools, err := e.loadTools()
	if err != nil {
		return nil, err
	}

	for _, name := range sortedKeys(cfg.Functions) {
		fn, err := e.buildFunction(name, cfg.Functions[name], tools)
		if err != nil {
			return nil, err
		}

		e.functions[name] = fn
	}

	return e, nil
}

func (e *Engine) buildModels() error {
	var cache *model.Cache
	if c := e.cfg.Gateway.Cache; c.Size > 0 {
		cache = model.NewCache(c.Size, c.TTL)
	}

	models := make(map[string]*model.Config, len(e.cfg.Models))

	for name, mc := range e.cfg.Models {
		providers, err := e.buildProviders(name, mc)
		if err != nil {
			return err
		}

		models[name] = &model.Config{
			Name:      name,
			Routing:   mc.Routing,
			Providers: providers,
			Cache:     cache,
			Logger:    e.logger,
		}
	}

	table, err := model.NewTable(models)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	embeddings := make(map[string]*model.EmbeddingConfig, len(e.cfg.EmbeddingModels))

	for name, mc := range e.cfg.EmbeddingModels {
		providers, err := e.buildProviders(name, mc)
		if err != nil {
			return err
		}

		embeddings[name] = &model.EmbeddingConfig{
			Name:      name,
			Routing:   mc.Routing,
			Providers: providers,
			Logger:    e.logger,
		}
	}

	embeddingTable, err := model.NewEmbeddingTable(embeddings)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	e.models = table
	e.embeddings = embeddingTable

	return nil
}

func (e *Engine) buildProviders(modelName string, mc ModelConfig) (map[string]modeladapter.Provider, error) {
	providers := make(map[string]modeladapter.Provider, len(mc.Providers))

	for name, pc := range mc.Providers {
		p, err := buildProvider(pc, e.counters)
		if err != nil {
			return nil, fmt.Errorf("engine: model %q: provider %q: %w", modelName, name, err)
		}

		providers[name] = p
	}

	return providers, nil
}

func (e *Engine) loadTools() (map[string]modeladapter.Tool, error) {
	tools := make(map[string]modeladapter.Tool, len(e.cfg.Tools))

	for name, tc := range e.cfg.Tools {
		params, err := schema.FromPath(e.cfg.Path(tc.Parameters))
		if err != nil {
			return nil, fmt.Errorf("engine: tool %q: %w", name, err)
		}

		tools[name] = modeladapter.Tool{
			Name:        name,
			Description: tc.Description,
			Parameters:  params.JSON(),
			Strict:      tc.Strict,
		}
	}

	return tools, nil
}

func (e *Engine) loadSchema(path string) (*schema.Schema, error) {
	if path == "" {
		return nil, nil
	}

	return schema.FromPath(e.cfg.Path(path))
}

func (e *Engine) buildFunction(name string, fc FunctionConfig, tools map[string]modeladapter.Tool) (*Function, error) {
	cfg := &function.Config{
		Type:              fc.Type,
		ToolChoice:        fc.ToolChoice,
		ParallelToolCalls: fc.ParallelToolCalls,
	}

	for _, s := range []struct {
		path string
		dst  **schema.Schema
	}{
		{fc.SystemSchema, &cfg.SystemSchema},
		{fc.UserSchema, &cfg.UserSchema},
		{fc.AssistantSchema, &cfg.AssistantSchema},
		{fc.OutputSchema, &cfg.OutputSchema},
	} {
		loaded, err := e.loadSchema(s.path)
		if err != nil {
			return nil, fmt.Errorf("engine: function %q: %w", name, err)
		}

		*s.dst = loaded
	}

	for _, t := range fc.Tools {
		cfg.Tools = append(cfg.Tools, tools[t])
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: function %q: %w", name, err)
	}

	fn := &Function{Name: name, Config: cfg, Variants: make(map[string]*variant.ChatCompletion, len(fc.Variants))}

	for _, vname := range sortedKeys(fc.Variants) {
		vc := fc.Variants[vname]

		if err := e.loadTemplates(vc.SystemTemplate, vc.UserTemplate, vc.AssistantTemplate); err != nil {
			return nil, fmt.Errorf("engine: function %q: variant %q: %w", name, vname, err)
		}

		cc := &variant.ChatCompletion{
			Weight: vc.Weight,
			Model:  vc.Model,
			Templates: variant.Templates{
				System:    vc.SystemTemplate,
				User:      vc.UserTemplate,
				Assistant: vc.AssistantTemplate,
			},
			Defaults:     vc.Params,
			Retries:      vc.Retries,
			ExtraBody:    vc.ExtraBody,
			ExtraHeaders: vc.ExtraHeaders,
		}

		if err := cc.Validate(cfg, e.models, e.templates, name, vname); err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}

		fn.Variants[vname] = cc
	}

	return fn, nil
}

// loadTemplates registers template files under the path written in the
// config.
func (e *Engine) loadTemplates(paths ...string) error {
	files := make(map[string]string, len(paths))

	for _, p := range paths {
		if p != "" && !e.templates.Has(p) {
			files[p] = e.cfg.Path(p)
		}
	}

	return e.templates.Load(files)
}

// Events returns the engine's event bus.
func (e *Engine) Events() *EventBus { return e.events }

// Usage returns the accumulated token usage per model.
func (e *Engine) Usage() map[string]usage.Usage { return e.usage.Snapshot() }

// Functions returns the configured function names in sorted order.
func (e *Engine) Functions() []string { return sortedKeys(e.functions) }

// Function returns the named function.
func (e *Engine) Function(name string) (*Function, error) {
	fn, ok := e.functions[name]
	if !ok {
		return nil, &UnknownFunctionError{Name: name}
	}

	return fn, nil
}

// pick samples one of names by weight. Unweighted candidates are sampled
// uniformly.
func (e *Engine) pick(fn *Function, names []string) string {
	if len(names) == 1 {
		return names[0]
	}

	weights := make([]float64, len(names))
	total := 0.0

	for i, name := range names {
		w := 1.0
		if v := fn.Variants[name]; v.Weight != nil && *v.Weight > 0 {
			w = *v.Weight
		}

		weights[i] = w
		total += w
	}

	e.randMu.Lock()
	r := e.rand.Float64() * total
	e.randMu.Unlock()

	for i, w := range weights {
		if r < w {
			return names[i]
		}

		r -= w
	}

	return names[len(names)-1]
}
