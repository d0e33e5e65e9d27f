// Package role defines the roles used in LLM conversations and templates.
package role

// Role identifies the author of a message, or the kind of template applied to
// it. System is only valid as a template kind and for the system prompt;
// conversation messages are authored by User or Assistant.
type Role string

const (
	System    Role = "system"
	User      Role = "user"
	Assistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case System, User, Assistant:
		return true
	}
	return false
}

// IsMessageRole reports whether r may author a message in a conversation.
func (r Role) IsMessageRole() bool {
	return r == User || r == Assistant
}

// TemplateVar returns the reserved template variable that carries the plain
// text of a message when no schema is declared for the role.
func (r Role) TemplateVar() string {
	return string(r) + "_text"
}

// String returns the underlying string value of the role.
func (r Role) String() string {
	return string(r)
}
