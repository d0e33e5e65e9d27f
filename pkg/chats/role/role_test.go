package role

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRole_Valid(t *testing.T) {
	tests := []struct {
		role Role
		want bool
	}{
		{System, true},
		{User, true},
		{Assistant, true},
		{Role("tool"), false},
		{Role(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.role.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.role.Valid())
		})
	}
}

func TestRole_IsMessageRole(t *testing.T) {
	assert.False(t, System.IsMessageRole())
	assert.True(t, User.IsMessageRole())
	assert.True(t, Assistant.IsMessageRole())
}

func TestRole_TemplateVar(t *testing.T) {
	assert.Equal(t, "system_text", System.TemplateVar())
	assert.Equal(t, "user_text", User.TemplateVar())
	assert.Equal(t, "assistant_text", Assistant.TemplateVar())
}

func TestRole_String(t *testing.T) {
	assert.Equal(t, "system", System.String())
	assert.Equal(t, "user", User.String())
	assert.Equal(t, "assistant", Assistant.String())
}
