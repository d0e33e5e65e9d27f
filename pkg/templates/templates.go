// Package templates renders named text templates against JSON contexts.
//
// Templates use "{{ name }}" tags; a tag may address nested object fields with
// dots ("{{ user.name }}"). Rendering is strict: a tag that resolves to nothing
// in the context fails with a [RenderError] instead of producing empty text.
package templates

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/valyala/fasttemplate"
)

const (
	startTag = "{{"
	endTag   = "}}"
)

var tagPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z0-9_]+)*$`)

// ErrNotFound is returned when a template name is not registered.
var ErrNotFound = errors.New("templates: template not found")

// RenderError reports a failure while rendering a template.
type RenderError struct {
	Template string
	Message  string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("templates: render %q: %s", e.Template, e.Message)
}

type entry struct {
	tmpl *fasttemplate.Template
	vars []string
}

// Store holds parsed templates by name. It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	templates map[string]entry
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{templates: make(map[string]entry)}
}

// Add parses source and registers it under name, replacing any previous
// template with the same name.
func (s *Store) Add(name, source string) error {
	tmpl, err := fasttemplate.NewTemplate(source, startTag, endTag)
	if err != nil {
		return fmt.Errorf("templates: parse %q: %w", name, err)
	}

	seen := make(map[string]struct{})

	_, err = tmpl.ExecuteFuncStringWithErr(func(_ io.Writer, tag string) (int, error) {
		path := strings.TrimSpace(tag)
		if !tagPattern.MatchString(path) {
			return 0, fmt.Errorf("invalid tag %q", tag)
		}

		root, _, _ := strings.Cut(path, ".")
		seen[root] = struct{}{}

		return 0, nil
	})
	if err != nil {
		return fmt.Errorf("templates: parse %q: %w", name, err)
	}

	vars := make([]string, 0, len(seen))
	for v := range seen {
		vars = append(vars, v)
	}

	slices.Sort(vars)

	s.mu.Lock()
	s.templates[name] = entry{tmpl: tmpl, vars: vars}
	s.mu.Unlock()

	return nil
}

// Load reads every file in paths (template name to file path) and registers it.
func (s *Store) Load(paths map[string]string) error {
	names := make([]string, 0, len(paths))
	for name := range paths {
		names = append(names, name)
	}

	slices.Sort(names)

	for _, name := range names {
		data, err := os.ReadFile(paths[name])
		if err != nil {
			return fmt.Errorf("templates: load %q: %w", name, err)
		}

		if err := s.Add(name, string(data)); err != nil {
			return err
		}
	}

	return nil
}

// Has reports whether a template is registered under name.
func (s *Store) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.templates[name]

	return ok
}

// UndeclaredVariables returns the sorted top-level variables the template reads
// from its context.
func (s *Store) UndeclaredVariables(name string) ([]string, error) {
	e, err := s.get(name)
	if err != nil {
		return nil, err
	}

	return slices.Clone(e.vars), nil
}

// Render executes the named template against ctx. ctx is any JSON-encodable
// value; tags are resolved against its JSON object form.
func (s *Store) Render(name string, ctx any) (string, error) {
	e, err := s.get(name)
	if err != nil {
		return "", err
	}

	root, err := normalize(ctx)
	if err != nil {
		return "", &RenderError{Template: name, Message: err.Error()}
	}

	out, err := e.tmpl.ExecuteFuncStringWithErr(func(w io.Writer, tag string) (int, error) {
		path := strings.TrimSpace(tag)

		v, ok := lookup(root, path)
		if !ok {
			return 0, fmt.Errorf("undefined value: %s", path)
		}

		text, err := format(v)
		if err != nil {
			return 0, err
		}

		return io.WriteString(w, text)
	})
	if err != nil {
		return "", &RenderError{Template: name, Message: err.Error()}
	}

	return out, nil
}

func (s *Store) get(name string) (entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.templates[name]
	if !ok {
		return entry{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	return e, nil
}

func normalize(ctx any) (any, error) {
	switch ctx.(type) {
	case nil, string, float64, bool:
		return ctx, nil
	}

	data, err := json.Marshal(ctx)
	if err != nil {
		return nil, fmt.Errorf("encode context: %w", err)
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}

	return v, nil
}

func lookup(root any, path string) (any, bool) {
	cur := root

	for part := range strings.SplitSeq(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}

		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}

	return cur, true
}

func format(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return "", err
		}

		return string(data), nil
	}
}
