package variant

import (
	"encoding/json"
	"fmt"

	"github.com/germanamz/relay/pkg/chats/content"
	"github.com/germanamz/relay/pkg/chats/message"
	"github.com/germanamz/relay/pkg/chats/role"
	"github.com/germanamz/relay/pkg/function"
)

// InvalidMessageError reports input that cannot be turned into request text.
type InvalidMessageError struct {
	Message string
}

func (e *InvalidMessageError) Error() string { return e.Message }

// Templates names the template used for each role. An empty name means the
// role has no template.
type Templates struct {
	System    string `yaml:"system_template"`
	User      string `yaml:"user_template"`
	Assistant string `yaml:"assistant_template"`
}

// For returns the template name for r.
func (t Templates) For(r role.Role) string {
	switch r {
	case role.System:
		return t.System
	case role.User:
		return t.User
	case role.Assistant:
		return t.Assistant
	}

	return ""
}

// ModelInput is the templated conversation sent to a model.
type ModelInput struct {
	System   string
	Messages []message.Request
}

// PrepareModelInput templates the system value and every message.
func PrepareModelInput(system any, messages []message.Input, engine TemplateEngine, tpl Templates, info function.TemplateSchemaInfo) (ModelInput, error) {
	sys, err := PrepareSystemMessage(system, engine, tpl.System, info)
	if err != nil {
		return ModelInput{}, err
	}

	out := make([]message.Request, 0, len(messages))

	for _, m := range messages {
		prepared, err := PrepareRequestMessage(m, engine, tpl.For(m.Role), info)
		if err != nil {
			return ModelInput{}, err
		}

		out = append(out, prepared)
	}

	return ModelInput{System: sys, Messages: out}, nil
}

// PrepareSystemMessage turns the caller's system value into system text. A
// nil system with no template yields "".
//
// With a template, a schema-backed system value is the template context as is;
// otherwise the value is exposed as "system_text". Without a template the
// value must already be a string.
func PrepareSystemMessage(system any, engine TemplateEngine, template string, info function.TemplateSchemaInfo) (string, error) {
	if template == "" {
		if system == nil {
			return "", nil
		}

		s, ok := system.(string)
		if !ok {
			return "", &InvalidMessageError{Message: fmt.Sprintf(
				"System message content %s is not a string but there is no variant template",
				jsonText(system),
			)}
		}

		return s, nil
	}

	var ctx any = map[string]any{role.System.TemplateVar(): system}
	if info.HasSystemSchema {
		ctx = system
	}

	return engine.Render(template, ctx)
}

// PrepareRequestMessage templates the text blocks of an input message. Raw
// text bypasses templating; every other block is forwarded unchanged.
func PrepareRequestMessage(msg message.Input, engine TemplateEngine, template string, info function.TemplateSchemaInfo) (message.Request, error) {
	blocks := make(content.Blocks, 0, len(msg.Content))

	for _, in := range msg.Content {
		switch b := in.(type) {
		case content.InputText:
			text, err := renderText(b.Value, msg.Role, engine, template, info)
			if err != nil {
				return message.Request{}, err
			}

			blocks = append(blocks, content.Text{Text: text})
		case content.RawText:
			blocks = append(blocks, content.Text{Text: b.Value})
		default:
			block, ok := in.(content.Block)
			if !ok {
				return message.Request{}, fmt.Errorf("variant: unsupported input block %q", in.Kind())
			}

			blocks = append(blocks, block)
		}
	}

	return message.Request{Role: msg.Role, Content: blocks}, nil
}

func renderText(value any, r role.Role, engine TemplateEngine, template string, info function.TemplateSchemaInfo) (string, error) {
	if template == "" {
		s, ok := value.(string)
		if !ok {
			return "", &InvalidMessageError{Message: fmt.Sprintf(
				"Request message content %s is not a string but there is no variant template for Role %s",
				jsonText(value), r,
			)}
		}

		return s, nil
	}

	if info.Has(r) {
		return engine.Render(template, value)
	}

	s, ok := value.(string)
	if !ok {
		return "", &InvalidMessageError{Message: fmt.Sprintf(
			"Request message content %s is not a string but template (without schema) is provided for Role %s",
			jsonText(value), r,
		)}
	}

	return engine.Render(template, map[string]any{r.TemplateVar(): s})
}

func jsonText(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}

	return string(data)
}
