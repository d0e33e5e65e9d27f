// Package dummy provides a deterministic, in-process provider whose behavior
// is selected by its model name. It never touches the network and is used to
// exercise every edge case of the provider contract: empty output, zero
// usage, flaky failures, slow or broken streams and fragmented tool calls.
package dummy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/germanamz/relay/pkg/modeladapter"
	"github.com/germanamz/relay/pkg/modeladapter/usage"
)

// ProviderType is the kind name of the dummy provider.
const ProviderType = "dummy"

const (
	providerName = "Dummy"
	rawRequest   = "raw request"
)

var (
	_ modeladapter.Provider     = (*Provider)(nil)
	_ modeladapter.Streamer     = (*Provider)(nil)
	_ modeladapter.BatchInferer = (*Provider)(nil)
	_ modeladapter.Embedder     = (*Provider)(nil)
)

// Counters counts invocations per model name for flaky models. A single
// Counters may be shared by many providers; it is safe for concurrent use.
type Counters struct {
	mu     sync.Mutex
	counts map[string]uint64
}

// NewCounters creates an empty Counters.
func NewCounters() *Counters {
	return &Counters{counts: make(map[string]uint64)}
}

// Next increments and returns the counter for key, starting at 1.
func (c *Counters) Next(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counts[key]++

	return c.counts[key]
}

// Reset clears every counter.
func (c *Counters) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.counts)
}

// Provider is the dummy backend for a single model name.
type Provider struct {
	Model       string
	Credentials modeladapter.CredentialLocation
	Counters    *Counters

	// SlowDelay is how long the "slow" model waits before answering.
	SlowDelay time.Duration
	// SecondChunkDelay is how long "slow_second_chunk" stalls before chunk 1.
	SecondChunkDelay time.Duration
	// Throttle is the minimum gap between streamed chunks.
	Throttle time.Duration
}

// New creates a Provider for model. Only the "none" and "dynamic::<name>"
// credential locations are accepted. A nil counters gets a private Counters.
func New(model string, creds modeladapter.CredentialLocation, counters *Counters) (*Provider, error) {
	if creds == "" {
		creds = modeladapter.CredentialNone
	}

	if creds != modeladapter.CredentialNone && !strings.HasPrefix(string(creds), "dynamic::") {
		return nil, fmt.Errorf("dummy: invalid credential location %q for Dummy provider", creds)
	}

	if counters == nil {
		counters = NewCounters()
	}

	return &Provider{
		Model:            model,
		Credentials:      creds,
		Counters:         counters,
		SlowDelay:        5 * time.Second,
		SecondChunkDelay: 2 * time.Second,
		Throttle:         10 * time.Millisecond,
	}, nil
}

// ProviderType implements modeladapter.Provider.
func (p *Provider) ProviderType() string { return ProviderType }

// usage returns the usage reported for outputLen output blocks or chunks.
func (p *Provider) usage(outputLen int) usage.Usage {
	n := uint32(outputLen) //nolint:gosec // output sizes are tiny

	switch p.Model {
	case "input_tokens_zero":
		return usage.Usage{InputTokens: 0, OutputTokens: n}
	case "output_tokens_zero":
		return usage.Usage{InputTokens: 10, OutputTokens: 0}
	case "input_tokens_output_tokens_zero":
		return usage.Usage{}
	default:
		return usage.Usage{InputTokens: 10, OutputTokens: n}
	}
}

func (p *Provider) finishReason() modeladapter.FinishReason {
	if strings.Contains(p.Model, "tool") {
		return modeladapter.FinishReasonToolCall
	}

	return modeladapter.FinishReasonStop
}

func clientError(msg string) *modeladapter.ClientError {
	return &modeladapter.ClientError{
		Message:      msg,
		ProviderType: ProviderType,
		RawRequest:   rawRequest,
	}
}

// preflight applies the failure modes shared by every inference path: the
// slow delay, flaky counters and error models.
func (p *Provider) preflight(ctx context.Context) error {
	if p.Model == "slow" {
		if err := sleep(ctx, p.SlowDelay); err != nil {
			return err
		}
	}

	if strings.HasPrefix(p.Model, "flaky_") {
		if n := p.Counters.Next(p.Model); n%2 == 0 {
			return clientError(fmt.Sprintf("Flaky model '%s' failed on call number %d", p.Model, n))
		}
	}

	return p.errorModel()
}

func (p *Provider) errorModel() error {
	if strings.HasPrefix(p.Model, "error") {
		return clientError(fmt.Sprintf("Error sending request to Dummy provider for model '%s'.", p.Model))
	}

	return nil
}

// apiKey resolves the configured credential. It is "" for none.
func (p *Provider) apiKey(creds modeladapter.Credentials) (string, error) {
	return p.Credentials.Resolve(providerName, creds)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
