// Package providers holds the concrete backends that implement the
// capability interfaces in [github.com/germanamz/relay/pkg/modeladapter].
//
// Sub-packages:
//   - [github.com/germanamz/relay/pkg/providers/dummy]: deterministic in-process backend whose behavior is keyed on the model name
//
// Backends are registered with the engine by kind; see
// [github.com/germanamz/relay/pkg/engine.RegisterProvider].
package providers
