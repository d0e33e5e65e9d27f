package function

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/germanamz/relay/pkg/modeladapter"
	"github.com/germanamz/relay/pkg/schema"
)

// ToolParams adjusts a chat function's tools for a single inference.
type ToolParams struct {
	// AllowedTools restricts the function's own tools to these names.
	AllowedTools []string `json:"allowed_tools,omitempty"`
	// AdditionalTools are offered alongside the function's tools.
	AdditionalTools   []modeladapter.Tool     `json:"additional_tools,omitempty"`
	ToolChoice        modeladapter.ToolChoice `json:"tool_choice,omitempty"`
	ParallelToolCalls *bool                   `json:"parallel_tool_calls,omitempty"`
}

// ToolConfig resolves the tools offered for one inference of a chat
// function. It returns nil when no tools are offered.
func (c *Config) ToolConfig(p ToolParams) (*modeladapter.ToolConfig, error) {
	tools := c.Tools

	if p.AllowedTools != nil {
		tools = make([]modeladapter.Tool, 0, len(p.AllowedTools))

		for _, name := range p.AllowedTools {
			i := slices.IndexFunc(c.Tools, func(t modeladapter.Tool) bool { return t.Name == name })
			if i < 0 {
				return nil, fmt.Errorf("function: allowed tool %q is not declared", name)
			}

			tools = append(tools, c.Tools[i])
		}
	}

	tools = append(slices.Clone(tools), p.AdditionalTools...)
	if len(tools) == 0 {
		return nil, nil
	}

	cfg := &modeladapter.ToolConfig{
		Tools:             tools,
		Choice:            c.ToolChoice,
		ParallelToolCalls: c.ParallelToolCalls,
	}

	if p.ToolChoice != "" {
		cfg.Choice = p.ToolChoice
	}

	if cfg.Choice == "" {
		cfg.Choice = modeladapter.ToolChoiceAuto
	}

	if p.ParallelToolCalls != nil {
		cfg.ParallelToolCalls = p.ParallelToolCalls
	}

	if name, ok := cfg.Choice.Specific(); ok {
		if _, found := cfg.Tool(name); !found {
			return nil, fmt.Errorf("function: tool_choice names unknown tool %q", name)
		}
	}

	return cfg, nil
}

// ImplicitToolConfig returns the single-tool configuration a json function
// uses to obtain structured output through a forced tool call. The tool's
// parameters are the dynamic schema when given, else the function's own.
func (c *Config) ImplicitToolConfig(dynamic *schema.Schema) *modeladapter.ToolConfig {
	output := c.OutputSchema
	if dynamic != nil {
		output = dynamic
	}

	params := json.RawMessage(`{}`)
	if output != nil {
		params = output.JSON()
	}

	return &modeladapter.ToolConfig{
		Tools: []modeladapter.Tool{{
			Name:        ImplicitToolName,
			Description: "Respond to the user using the output schema provided.",
			Parameters:  params,
		}},
		Choice: modeladapter.ToolChoice(ImplicitToolName),
	}
}

// ParseOutput decodes raw JSON output and validates it against s. A nil s
// accepts any JSON value.
func ParseOutput(raw string, s *schema.Schema) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("function: output is not valid JSON: %w", err)
	}

	if s != nil {
		if err := s.Validate(v); err != nil {
			return nil, err
		}
	}

	return v, nil
}
