package templates

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, templates map[string]string) *Store {
	t.Helper()

	s := NewStore()
	for name, src := range templates {
		require.NoError(t, s.Add(name, src))
	}

	return s
}

func TestStore_Render(t *testing.T) {
	s := newStore(t, map[string]string{
		"system":   "You are a helpful and friendly assistant named {{ assistant_name }}",
		"greeting": "Hello, {{ name }}! You are {{ age }} years old.",
		"nested":   "{{user.name}} likes {{ user.tags }}",
		"static":   "What's the capital of Japan?",
	})

	tests := []struct {
		name     string
		template string
		ctx      any
		want     string
	}{
		{"string var", "system", map[string]any{"assistant_name": "ChatGPT"}, "You are a helpful and friendly assistant named ChatGPT"},
		{"number var", "greeting", map[string]any{"name": "John", "age": float64(30)}, "Hello, John! You are 30 years old."},
		{"nested path", "nested", map[string]any{"user": map[string]any{"name": "Ada", "tags": []any{"go", "math"}}}, `Ada likes ["go","math"]`},
		{"no vars", "static", nil, "What's the capital of Japan?"},
		{"struct ctx", "greeting", struct {
			Name string `json:"name"`
			Age  int    `json:"age"`
		}{"Ann", 7}, "Hello, Ann! You are 7 years old."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Render(tt.template, tt.ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStore_Render_Undefined(t *testing.T) {
	s := newStore(t, map[string]string{"greeting": "Hello, {{ name }}! You are {{ age }} years old."})

	_, err := s.Render("greeting", map[string]any{"name": "John"})

	var renderErr *RenderError
	require.ErrorAs(t, err, &renderErr)
	assert.Equal(t, "greeting", renderErr.Template)
	assert.Contains(t, renderErr.Message, "undefined value")
}

func TestStore_Render_NonObjectContext(t *testing.T) {
	s := newStore(t, map[string]string{"t": "{{ user_text }}"})

	_, err := s.Render("t", "just a string")

	var renderErr *RenderError
	require.ErrorAs(t, err, &renderErr)
}

func TestStore_Render_NotFound(t *testing.T) {
	_, err := NewStore().Render("missing", nil)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_UndeclaredVariables(t *testing.T) {
	s := newStore(t, map[string]string{
		"many":  "{{ b }} {{a}} {{ b }} {{ c.d }}",
		"none":  "plain",
		"reuse": "{{ user_text }}",
	})

	vars, err := s.UndeclaredVariables("many")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, vars)

	vars, err = s.UndeclaredVariables("none")
	require.NoError(t, err)
	assert.Empty(t, vars)

	vars, err = s.UndeclaredVariables("reuse")
	require.NoError(t, err)
	assert.Equal(t, []string{"user_text"}, vars)

	_, err = s.UndeclaredVariables("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Add_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unterminated", "Hello {{ name"},
		{"bad tag", "Hello {{ name | upper }}"},
		{"empty tag", "Hello {{ }}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, NewStore().Add("t", tt.src))
		})
	}
}

func TestStore_Load(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "system.minijinja")
	require.NoError(t, os.WriteFile(path, []byte("Hi {{ system_text }}"), 0o600))

	s := NewStore()
	require.NoError(t, s.Load(map[string]string{"system": path}))
	assert.True(t, s.Has("system"))

	got, err := s.Render("system", map[string]any{"system_text": "there"})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", got)
}

func TestStore_Load_MissingFile(t *testing.T) {
	err := NewStore().Load(map[string]string{"x": filepath.Join(t.TempDir(), "nope")})
	assert.Error(t, err)
}
