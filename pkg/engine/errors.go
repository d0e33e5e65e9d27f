package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNoBatchStore is returned by batch operations when the engine has no
// BatchStore.
var ErrNoBatchStore = errors.New("engine: no batch store configured")

// UnknownFunctionError reports a function name missing from the config.
type UnknownFunctionError struct {
	Name string
}

func (e *UnknownFunctionError) Error() string {
	return fmt.Sprintf("engine: unknown function %q", e.Name)
}

// UnknownVariantError reports a pinned variant the function does not have.
type UnknownVariantError struct {
	Function string
	Variant  string
}

func (e *UnknownVariantError) Error() string {
	return fmt.Sprintf("engine: function %q has no variant %q", e.Function, e.Variant)
}

// NoVariantsError reports a function with no variant eligible for sampling.
type NoVariantsError struct {
	Function string
}

func (e *NoVariantsError) Error() string {
	return fmt.Sprintf("engine: function %q has no variant eligible for sampling", e.Function)
}

// AllVariantsFailedError reports that every sampled variant failed.
type AllVariantsFailedError struct {
	Function string
	Errors   map[string]error
}

func (e *AllVariantsFailedError) Error() string {
	names := make([]string, 0, len(e.Errors))
	for name := range e.Errors {
		names = append(names, name)
	}

	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Errors[name]))
	}

	return fmt.Sprintf("engine: all variants failed for function %q: %s", e.Function, strings.Join(parts, "; "))
}

// Unwrap exposes the per-variant errors to errors.Is and errors.As.
func (e *AllVariantsFailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Errors))
	for _, err := range e.Errors {
		errs = append(errs, err)
	}

	return errs
}

// InvalidRequestError reports a request the engine cannot run as given.
type InvalidRequestError struct {
	Message string
}

func (e *InvalidRequestError) Error() string {
	return "engine: invalid request: " + e.Message
}
