// Package function describes inference functions: the contract between a
// caller's input and the variants that turn it into model requests.
//
// A chat function returns free-form content and may offer tools. A json
// function returns a single JSON document validated against an output schema.
// Either kind may declare per-role input schemas, in which case input text
// for that role is a structured value instead of a plain string.
package function

import (
	"errors"
	"fmt"

	"github.com/germanamz/relay/pkg/chats/content"
	"github.com/germanamz/relay/pkg/chats/message"
	"github.com/germanamz/relay/pkg/chats/role"
	"github.com/germanamz/relay/pkg/modeladapter"
	"github.com/germanamz/relay/pkg/schema"
)

// ImplicitToolName is the tool a json function offers when its variant asks
// for implicit tool mode.
const ImplicitToolName = "respond"

// Config is an immutable function definition.
type Config struct {
	Type modeladapter.FunctionType

	SystemSchema    *schema.Schema
	UserSchema      *schema.Schema
	AssistantSchema *schema.Schema

	// OutputSchema is only used by json functions.
	OutputSchema *schema.Schema

	// Tools, ToolChoice and ParallelToolCalls are only used by chat functions.
	Tools             []modeladapter.Tool
	ToolChoice        modeladapter.ToolChoice
	ParallelToolCalls *bool
}

// TemplateSchemaInfo records which roles declare an input schema.
type TemplateSchemaInfo struct {
	HasSystemSchema    bool
	HasUserSchema      bool
	HasAssistantSchema bool
}

// Has reports whether r declares a schema.
func (i TemplateSchemaInfo) Has(r role.Role) bool {
	switch r {
	case role.System:
		return i.HasSystemSchema
	case role.User:
		return i.HasUserSchema
	case role.Assistant:
		return i.HasAssistantSchema
	}

	return false
}

// TemplateSchemaInfo returns which roles of c declare a schema.
func (c *Config) TemplateSchemaInfo() TemplateSchemaInfo {
	return TemplateSchemaInfo{
		HasSystemSchema:    c.SystemSchema != nil,
		HasUserSchema:      c.UserSchema != nil,
		HasAssistantSchema: c.AssistantSchema != nil,
	}
}

// Schema returns the input schema declared for r, or nil.
func (c *Config) Schema(r role.Role) *schema.Schema {
	switch r {
	case role.System:
		return c.SystemSchema
	case role.User:
		return c.UserSchema
	case role.Assistant:
		return c.AssistantSchema
	}

	return nil
}

// Validate checks the function definition itself.
func (c *Config) Validate() error {
	if !c.Type.Valid() {
		return fmt.Errorf("function: invalid type %q", c.Type)
	}

	if c.Type == modeladapter.FunctionTypeJSON {
		if len(c.Tools) > 0 {
			return errors.New("function: json functions cannot declare tools")
		}

		return nil
	}

	if c.OutputSchema != nil {
		return errors.New("function: chat functions cannot declare an output schema")
	}

	seen := make(map[string]struct{}, len(c.Tools))
	for _, t := range c.Tools {
		if t.Name == "" {
			return errors.New("function: tool name is required")
		}

		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("function: duplicate tool %q", t.Name)
		}

		seen[t.Name] = struct{}{}
	}

	if name, ok := c.ToolChoice.Specific(); ok {
		if _, found := seen[name]; !found {
			return fmt.Errorf("function: tool_choice names unknown tool %q", name)
		}
	}

	return nil
}

// InputValidationError reports input that does not satisfy a role schema.
type InputValidationError struct {
	Role role.Role
	// Index is the message index, or -1 for the system value.
	Index int
	Err   error
}

func (e *InputValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("function: invalid system input: %v", e.Err)
	}

	return fmt.Sprintf("function: invalid %s input in message %d: %v", e.Role, e.Index, e.Err)
}

func (e *InputValidationError) Unwrap() error { return e.Err }

// ValidateInput checks every text value of in against the schema declared for
// its role. Roles without a schema accept any value.
func (c *Config) ValidateInput(in message.ResolvedInput) error {
	if c.SystemSchema != nil {
		if in.System == nil {
			return &InputValidationError{Role: role.System, Index: -1, Err: errors.New("system input is required by the system schema")}
		}

		if err := c.SystemSchema.Validate(in.System); err != nil {
			return &InputValidationError{Role: role.System, Index: -1, Err: err}
		}
	}

	for i, m := range in.Messages {
		if !m.Role.IsMessageRole() {
			return &InputValidationError{Role: m.Role, Index: i, Err: fmt.Errorf("role %q cannot author a message", m.Role)}
		}

		s := c.Schema(m.Role)
		if s == nil {
			continue
		}

		for _, block := range m.Content {
			t, ok := block.(content.InputText)
			if !ok {
				continue
			}

			if err := s.Validate(t.Value); err != nil {
				return &InputValidationError{Role: m.Role, Index: i, Err: err}
			}
		}
	}

	return nil
}
