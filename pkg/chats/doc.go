// Package chats provides the provider-agnostic content model for inference
// requests and responses.
//
// It is organized into sub-packages:
//   - [github.com/germanamz/relay/pkg/chats/role]: conversation roles (system, user, assistant)
//   - [github.com/germanamz/relay/pkg/chats/content]: input, request, output and streaming content
//   - [github.com/germanamz/relay/pkg/chats/message]: role-tagged input and request messages
//
// No provider or API code is included; chats is a foundation layer
// that adapters can build on.
package chats
