package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/relay/pkg/modeladapter"
)

const fixtureYAML = `
gateway:
  cache:
    size: 16
    ttl: 1m

models:
  good:
    routing: [dummy]
    providers:
      dummy: {kind: dummy, model: good}
  echo:
    routing: [dummy]
    providers:
      dummy: {kind: dummy, model: echo_request_messages}
  error:
    routing: [dummy]
    providers:
      dummy: {kind: dummy, model: error}
  json:
    routing: [dummy]
    providers:
      dummy: {kind: dummy, model: json}
  tool:
    routing: [dummy]
    providers:
      dummy: {kind: dummy, model: tool}
  batch_completed:
    routing: [dummy]
    providers:
      dummy: {kind: dummy, model: batch_completed}
  batch_pending:
    routing: [dummy]
    providers:
      dummy: {kind: dummy, model: batch_pending}

embedding_models:
  embed:
    routing: [dummy]
    providers:
      dummy: {kind: dummy, model: good}

tools:
  get_temperature:
    description: Get the current temperature in a given location
    parameters: tools/get_temperature.json
    strict: true

functions:
  basic_test:
    type: chat
    system_schema: schemas/system.json
    variants:
      test:
        type: chat_completion
        weight: 1
        model: good
        system_template: templates/system.txt
        max_tokens: 100
      echo:
        type: chat_completion
        weight: 0
        model: echo
        system_template: templates/system.txt
      error:
        type: chat_completion
        weight: 0
        model: error
        system_template: templates/system.txt
  fallback:
    type: chat
    variants:
      bad:
        type: chat_completion
        weight: 1
        model: error
      good:
        type: chat_completion
        weight: 1
        model: good
  always_fails:
    type: chat
    variants:
      bad:
        type: chat_completion
        model: error
  json_success:
    type: json
    output_schema: schemas/output.json
    variants:
      test:
        type: chat_completion
        model: json
  weather:
    type: chat
    tools: [get_temperature]
    tool_choice: auto
    variants:
      test:
        type: chat_completion
        model: tool
  batch:
    type: chat
    variants:
      completed:
        type: chat_completion
        weight: 1
        model: batch_completed
      pending:
        type: chat_completion
        weight: 0
        model: batch_pending
      offline:
        type: chat_completion
        weight: 0
        model: good
`

var fixtureFiles = map[string]string{
	"templates/system.txt": "You are a helpful and friendly assistant named {{ assistant_name }}",
	"schemas/system.json": `{
  "type": "object",
  "properties": {"assistant_name": {"type": "string"}},
  "required": ["assistant_name"]
}`,
	"schemas/output.json": `{
  "type": "object",
  "properties": {"answer": {"type": "string"}},
  "required": ["answer"]
}`,
	"tools/get_temperature.json": `{
  "type": "object",
  "properties": {
    "location": {"type": "string"},
    "units": {"type": "string", "enum": ["fahrenheit", "celsius"]}
  },
  "required": ["location"]
}`,
}

// writeFixture lays the fixture config and its files out in a temp dir and
// returns the path of the config file.
func writeFixture(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()

	for name, data := range fixtureFiles {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	}

	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixtureYAML), 0o600))

	return path
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()

	cfg, err := LoadConfig(writeFixture(t))
	require.NoError(t, err)

	eng, err := New(cfg, opts...)
	require.NoError(t, err)

	return eng
}

var errBatchNotFound = errors.New("batch not found")

type memBatchStore struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]modeladapter.BatchRequestRow
	outputs map[uuid.UUID][]modeladapter.BatchOutput
}

func newMemBatchStore() *memBatchStore {
	return &memBatchStore{
		rows:    make(map[uuid.UUID]modeladapter.BatchRequestRow),
		outputs: make(map[uuid.UUID][]modeladapter.BatchOutput),
	}
}

func (s *memBatchStore) Put(_ context.Context, row modeladapter.BatchRequestRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows[row.BatchID] = row

	return nil
}

func (s *memBatchStore) Get(_ context.Context, id uuid.UUID) (*modeladapter.BatchRequestRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return nil, errBatchNotFound
	}

	return &row, nil
}

func (s *memBatchStore) UpdateStatus(_ context.Context, id uuid.UUID, from, to modeladapter.BatchStatus, rawRequest, rawResponse string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return false, errBatchNotFound
	}

	if row.Status != from {
		return false, nil
	}

	row.Status = to
	row.RawRequest = rawRequest
	row.RawResponse = rawResponse
	s.rows[id] = row

	return true, nil
}

func (s *memBatchStore) PutOutputs(_ context.Context, id uuid.UUID, outputs []modeladapter.BatchOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outputs[id] = outputs

	return nil
}

func (s *memBatchStore) Outputs(_ context.Context, id uuid.UUID) ([]modeladapter.BatchOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.outputs[id], nil
}
