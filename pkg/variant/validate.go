package variant

import (
	"fmt"
	"slices"
	"strings"

	"github.com/germanamz/relay/pkg/chats/role"
	"github.com/germanamz/relay/pkg/schema"
)

// TemplateEngine renders named templates. *templates.Store implements it.
type TemplateEngine interface {
	Render(name string, ctx any) (string, error)
	UndeclaredVariables(name string) ([]string, error)
}

// ConfigError reports a variant configuration that cannot work with its
// function.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return e.Message }

// ValidateTemplateAndSchema checks that the template configured for kind
// agrees with the function's schema for that role. An empty template means
// none is configured.
//
// Without a schema a template may only reference the role's text variable
// (e.g. "user_text"). With a schema a template is required; its variables are
// not checked against the schema.
func ValidateTemplateAndSchema(kind role.Role, s *schema.Schema, template string, engine TemplateEngine) error {
	switch {
	case s == nil && template != "":
		vars, err := engine.UndeclaredVariables(template)
		if err != nil {
			return err
		}

		allowed := kind.TemplateVar()
		if len(vars) == 0 || (len(vars) == 1 && vars[0] == allowed) {
			return nil
		}

		vars = slices.Clone(vars)
		slices.Sort(vars)

		return &ConfigError{Message: fmt.Sprintf(
			"template needs variables: [%s] but only `%s` is allowed when template has no schema",
			strings.Join(vars, ", "), allowed,
		)}
	case s != nil && template == "":
		return &ConfigError{Message: "template is required when schema is specified"}
	}

	return nil
}
