package modeladapter

import (
	"fmt"
	"os"
	"strings"
)

// Credentials are caller-supplied secrets for a single request, keyed by name.
type Credentials map[string]string

// CredentialLocation says where a provider finds its API key: "none",
// "dynamic::<name>" (from the request's Credentials) or "env::<VAR>".
type CredentialLocation string

const (
	CredentialNone CredentialLocation = "none"

	dynamicPrefix = "dynamic::"
	envPrefix     = "env::"
)

// DynamicCredential returns the location of the named request credential.
func DynamicCredential(name string) CredentialLocation {
	return CredentialLocation(dynamicPrefix + name)
}

// ParseCredentialLocation validates s. An empty string means none.
func ParseCredentialLocation(s string) (CredentialLocation, error) {
	switch {
	case s == "" || s == string(CredentialNone):
		return CredentialNone, nil
	case strings.HasPrefix(s, dynamicPrefix) && len(s) > len(dynamicPrefix):
		return CredentialLocation(s), nil
	case strings.HasPrefix(s, envPrefix) && len(s) > len(envPrefix):
		return CredentialLocation(s), nil
	default:
		return "", fmt.Errorf("modeladapter: invalid credential location %q", s)
	}
}

// Resolve looks up the key for provider. It returns "" for none and an
// [APIKeyMissingError] when a dynamic or env key is absent.
func (l CredentialLocation) Resolve(provider string, creds Credentials) (string, error) {
	if name, ok := strings.CutPrefix(string(l), dynamicPrefix); ok {
		key, ok := creds[name]
		if !ok {
			return "", &APIKeyMissingError{Provider: provider}
		}

		return key, nil
	}

	if name, ok := strings.CutPrefix(string(l), envPrefix); ok {
		key := os.Getenv(name)
		if key == "" {
			return "", &APIKeyMissingError{Provider: provider}
		}

		return key, nil
	}

	return "", nil
}
