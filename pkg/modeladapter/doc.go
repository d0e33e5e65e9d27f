// Package modeladapter defines the capability contract every inference
// backend implements, together with the canonical request, response and
// streaming types that cross it.
//
// It contains:
//   - [Provider] plus the optional [Streamer], [BatchInferer] and [Embedder] capabilities
//   - [Stream], a pull-based chunk sequence with one-element lookahead
//   - [RateLimited] and [Retry] for throttling and backing off around providers
//   - [github.com/germanamz/relay/pkg/modeladapter/usage]: token usage and a thread-safe tracker
//   - [github.com/germanamz/relay/pkg/modeladapter/extra]: body and header overlays
//
// This package contains no provider-specific code; concrete backends live in
// separate packages that import modeladapter.
package modeladapter
