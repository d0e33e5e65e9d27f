package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/relay/pkg/chats/content"
	"github.com/germanamz/relay/pkg/chats/message"
	"github.com/germanamz/relay/pkg/chats/role"
	"github.com/germanamz/relay/pkg/function"
	"github.com/germanamz/relay/pkg/model"
	"github.com/germanamz/relay/pkg/modeladapter"
	"github.com/germanamz/relay/pkg/modeladapter/usage"
	"github.com/germanamz/relay/pkg/providers/dummy"
	"github.com/germanamz/relay/pkg/variant"
)

func basicInput() message.ResolvedInput {
	return message.ResolvedInput{
		System:   map[string]any{"assistant_name": "Dr. Mehta"},
		Messages: []message.Input{message.NewInputText(role.User, "What is the name of the capital city of Japan?")},
	}
}

func userInput(text string) message.ResolvedInput {
	return message.ResolvedInput{Messages: []message.Input{message.NewInputText(role.User, text)}}
}

func TestNew(t *testing.T) {
	eng := newTestEngine(t)

	assert.Equal(t,
		[]string{"always_fails", "basic_test", "batch", "fallback", "json_success", "weather"},
		eng.Functions(),
	)

	fn, err := eng.Function("weather")
	require.NoError(t, err)
	require.Len(t, fn.Config.Tools, 1)
	assert.Equal(t, "get_temperature", fn.Config.Tools[0].Name)
	assert.True(t, fn.Config.Tools[0].Strict)
	assert.JSONEq(t, fixtureFiles["tools/get_temperature.json"], string(fn.Config.Tools[0].Parameters))

	fn, err = eng.Function("basic_test")
	require.NoError(t, err)
	assert.NotNil(t, fn.Config.SystemSchema)
	assert.Equal(t, []string{"test"}, fn.candidates())

	_, err = eng.Function("nope")

	var unknown *UnknownFunctionError
	assert.ErrorAs(t, err, &unknown)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorContains(t, err, "at least one function is required")
}

func TestNew_MissingTemplate(t *testing.T) {
	path := writeFixture(t)
	require.NoError(t, os.Remove(filepath.Join(filepath.Dir(path), "templates", "system.txt")))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	_, err = New(cfg)
	assert.ErrorContains(t, err, `function "basic_test"`)
}

func TestNew_TemplateRequiredBySchema(t *testing.T) {
	cfg, err := LoadConfig(writeFixture(t))
	require.NoError(t, err)

	v := cfg.Functions["basic_test"].Variants["test"]
	v.SystemTemplate = ""
	cfg.Functions["basic_test"].Variants["test"] = v

	_, err = New(cfg)

	var cfgErr *variant.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "`functions.basic_test.variants.test.system_template`: template is required when schema is specified", cfgErr.Message)
}

func TestNew_UnknownProviderKind(t *testing.T) {
	cfg, err := LoadConfig(writeFixture(t))
	require.NoError(t, err)

	cfg.Models["good"].Providers["dummy"] = ProviderConfig{Kind: "carrier-pigeon"}

	_, err = New(cfg)
	assert.ErrorContains(t, err, `unknown provider kind "carrier-pigeon"`)
}

func TestEngine_Infer(t *testing.T) {
	eng := newTestEngine(t)

	resp, err := eng.Infer(context.Background(), &InferenceRequest{FunctionName: "basic_test", Input: basicInput()})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, resp.InferenceID)
	assert.Equal(t, "basic_test", resp.FunctionName)
	assert.Equal(t, "test", resp.VariantName)
	assert.Equal(t, "good", resp.ModelName)
	assert.Equal(t, "dummy", resp.ProviderName)
	assert.Equal(t, content.Outputs{content.Text{Text: dummy.InferResponseContent}}, resp.Content)
	assert.Nil(t, resp.Output)
	assert.Equal(t, usage.Usage{InputTokens: 10, OutputTokens: 1}, resp.Usage)
	assert.Equal(t, modeladapter.FinishReasonStop, resp.FinishReason)
	assert.False(t, resp.Cached)

	assert.Equal(t, map[string]usage.Usage{"good": {InputTokens: 10, OutputTokens: 1}}, eng.Usage())
}

func TestEngine_Infer_RendersTemplates(t *testing.T) {
	eng := newTestEngine(t)

	resp, err := eng.Infer(context.Background(), &InferenceRequest{
		FunctionName: "basic_test",
		VariantName:  "echo",
		Input:        basicInput(),
	})
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)

	var echoed struct {
		System   string            `json:"system"`
		Messages []message.Request `json:"messages"`
	}

	require.NoError(t, json.Unmarshal([]byte(resp.Content[0].(content.Text).Text), &echoed))
	assert.Equal(t, "You are a helpful and friendly assistant named Dr. Mehta", echoed.System)
	require.Len(t, echoed.Messages, 1)
	assert.Equal(t, "What is the name of the capital city of Japan?", echoed.Messages[0].TextContent())
}

func TestEngine_Infer_InvalidInput(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.Infer(context.Background(), &InferenceRequest{
		FunctionName: "basic_test",
		Input:        userInput("no system"),
	})

	var inputErr *function.InputValidationError
	require.ErrorAs(t, err, &inputErr)
	assert.Equal(t, -1, inputErr.Index)
}

func TestEngine_Infer_UnknownVariant(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.Infer(context.Background(), &InferenceRequest{
		FunctionName: "basic_test",
		VariantName:  "nope",
		Input:        basicInput(),
	})

	var unknown *UnknownVariantError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "nope", unknown.Variant)
}

func TestEngine_Infer_ZeroWeightOnlyWhenPinned(t *testing.T) {
	eng := newTestEngine(t, WithRand(rand.New(rand.NewPCG(1, 2))))

	for range 10 {
		resp, err := eng.Infer(context.Background(), &InferenceRequest{FunctionName: "basic_test", Input: basicInput()})
		require.NoError(t, err)
		assert.Equal(t, "test", resp.VariantName)
	}
}

func TestEngine_Infer_PinnedVariantError(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.Infer(context.Background(), &InferenceRequest{
		FunctionName: "basic_test",
		VariantName:  "error",
		Input:        basicInput(),
	})
	require.Error(t, err)

	var clientErr *modeladapter.ClientError
	assert.ErrorAs(t, err, &clientErr)

	var all *AllVariantsFailedError
	assert.False(t, errors.As(err, &all))
}

func TestEngine_Infer_FallsBackAcrossVariants(t *testing.T) {
	eng := newTestEngine(t)

	sub := eng.Events().Subscribe(64)
	defer eng.Events().Unsubscribe(sub)

	for seed := range uint64(8) {
		eng.rand = rand.New(rand.NewPCG(seed, seed))

		resp, err := eng.Infer(context.Background(), &InferenceRequest{FunctionName: "fallback", Input: userInput("hi")})
		require.NoError(t, err)
		assert.Equal(t, "good", resp.VariantName)
	}

	var kinds []EventKind
	timeout := time.After(time.Second)
	for {
		select {
		case e := <-sub.C:
			kinds = append(kinds, e.Kind)
		case <-timeout:
			goto done
		}
	}
done:
	assert.Contains(t, kinds, EventInferenceStart)
	assert.Contains(t, kinds, EventInferenceEnd)
}

func TestEngine_Infer_AllVariantsFailed(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.Infer(context.Background(), &InferenceRequest{FunctionName: "always_fails", Input: userInput("hi")})

	var all *AllVariantsFailedError
	require.ErrorAs(t, err, &all)
	assert.Equal(t, "always_fails", all.Function)
	assert.Contains(t, all.Errors, "bad")

	var clientErr *modeladapter.ClientError
	assert.ErrorAs(t, err, &clientErr)
}

func TestEngine_Infer_JSON(t *testing.T) {
	eng := newTestEngine(t)

	resp, err := eng.Infer(context.Background(), &InferenceRequest{FunctionName: "json_success", Input: userInput("Hi")})
	require.NoError(t, err)

	require.NotNil(t, resp.Output)
	assert.Nil(t, resp.Content)
	assert.Equal(t, dummy.JSONResponseRaw, resp.Output.Raw)
	assert.Equal(t, map[string]any{"answer": "Hello"}, resp.Output.Parsed)
}

func TestEngine_Infer_JSONDynamicSchemaMismatch(t *testing.T) {
	eng := newTestEngine(t)

	resp, err := eng.Infer(context.Background(), &InferenceRequest{
		FunctionName: "json_success",
		Input:        userInput("Hi"),
		OutputSchema: json.RawMessage(`{"type":"object","required":["response"]}`),
	})
	require.NoError(t, err)

	require.NotNil(t, resp.Output)
	assert.Equal(t, dummy.JSONResponseRaw, resp.Output.Raw)
	assert.Nil(t, resp.Output.Parsed)
}

func TestEngine_Infer_OutputSchemaOnChat(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.Infer(context.Background(), &InferenceRequest{
		FunctionName: "fallback",
		Input:        userInput("Hi"),
		OutputSchema: json.RawMessage(`{"type":"object"}`),
	})

	var invalid *InvalidRequestError
	assert.ErrorAs(t, err, &invalid)
}

func TestEngine_Infer_Tools(t *testing.T) {
	eng := newTestEngine(t)

	resp, err := eng.Infer(context.Background(), &InferenceRequest{FunctionName: "weather", Input: userInput("Weather in Brooklyn?")})
	require.NoError(t, err)

	assert.Equal(t, content.Outputs{content.ToolCall{ID: "0", Name: dummy.ToolName, Arguments: dummy.ToolArguments}}, resp.Content)
	assert.Equal(t, modeladapter.FinishReasonToolCall, resp.FinishReason)

	_, err = eng.Infer(context.Background(), &InferenceRequest{
		FunctionName: "weather",
		Input:        userInput("Weather in Brooklyn?"),
		ToolParams:   function.ToolParams{AllowedTools: []string{"get_humidity"}},
	})

	var invalid *InvalidRequestError
	assert.ErrorAs(t, err, &invalid)
}

func TestEngine_Infer_Cache(t *testing.T) {
	eng := newTestEngine(t)

	req := &InferenceRequest{
		FunctionName: "fallback",
		VariantName:  "good",
		Input:        userInput("cache me"),
		Cache:        CacheParams{Enabled: model.CacheOn},
	}

	first, err := eng.Infer(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := eng.Infer(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Content, second.Content)

	assert.Equal(t, usage.Usage{InputTokens: 10, OutputTokens: 1}, eng.Usage()["good"])
}

func TestEngine_InferStream(t *testing.T) {
	eng := newTestEngine(t)

	stream, err := eng.InferStream(context.Background(), &InferenceRequest{FunctionName: "basic_test", Input: basicInput()})
	require.NoError(t, err)
	defer func() { _ = stream.Close() }()

	assert.Equal(t, "test", stream.VariantName)
	assert.Equal(t, "good", stream.ModelName)

	var (
		text  strings.Builder
		final *StreamChunk
	)

	for {
		chunk, err := stream.Recv(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}

		require.NoError(t, err)
		assert.Equal(t, stream.InferenceID, chunk.InferenceID)

		for _, c := range chunk.Content {
			if tc, ok := c.(content.TextChunk); ok {
				text.WriteString(tc.Text)
			}
		}

		if chunk.Usage != nil {
			final = chunk
		}
	}

	assert.Equal(t, strings.Join(dummy.StreamingResponse, ""), text.String())
	require.NotNil(t, final)
	assert.Equal(t, usage.Usage{InputTokens: 10, OutputTokens: 16}, *final.Usage)
	assert.Equal(t, usage.Usage{InputTokens: 10, OutputTokens: 16}, eng.Usage()["good"])
}

func TestEngine_InferStream_PinnedError(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.InferStream(context.Background(), &InferenceRequest{
		FunctionName: "basic_test",
		VariantName:  "error",
		Input:        basicInput(),
	})

	var clientErr *modeladapter.ClientError
	assert.ErrorAs(t, err, &clientErr)
}

func TestEngine_Batch_NoStore(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.StartBatch(context.Background(), &BatchRequest{FunctionName: "batch", Inputs: []message.ResolvedInput{userInput("a")}})
	require.ErrorIs(t, err, ErrNoBatchStore)

	_, err = eng.PollBatch(context.Background(), uuid.New(), nil)
	require.ErrorIs(t, err, ErrNoBatchStore)
}

func TestEngine_Batch_Completed(t *testing.T) {
	store := newMemBatchStore()
	eng := newTestEngine(t, WithBatchStore(store))

	started, err := eng.StartBatch(context.Background(), &BatchRequest{
		FunctionName: "batch",
		Inputs:       []message.ResolvedInput{userInput("a"), userInput("b")},
	})
	require.NoError(t, err)

	assert.Equal(t, "completed", started.VariantName)
	assert.Equal(t, modeladapter.BatchStatusPending, started.Status)
	require.Len(t, started.InferenceIDs, 2)

	row, err := store.Get(context.Background(), started.BatchID)
	require.NoError(t, err)
	assert.Equal(t, "batch_completed", row.ModelName)
	assert.Equal(t, "dummy", row.ModelProviderName)
	assert.Equal(t, started.InferenceIDs, row.InferenceIDs)

	polled, err := eng.PollBatch(context.Background(), started.BatchID, nil)
	require.NoError(t, err)
	assert.Equal(t, modeladapter.BatchStatusCompleted, polled.Status)
	require.Len(t, polled.Outputs, 2)
	assert.Equal(t, started.InferenceIDs[0], polled.Outputs[0].ID)
	assert.Equal(t, started.InferenceIDs[1], polled.Outputs[1].ID)

	assert.Equal(t, usage.Usage{InputTokens: 20, OutputTokens: 2}, eng.Usage()["batch_completed"])

	again, err := eng.PollBatch(context.Background(), started.BatchID, nil)
	require.NoError(t, err)
	assert.Equal(t, polled.Outputs, again.Outputs)
	assert.Equal(t, usage.Usage{InputTokens: 20, OutputTokens: 2}, eng.Usage()["batch_completed"])
}

func TestEngine_Batch_Pending(t *testing.T) {
	store := newMemBatchStore()
	eng := newTestEngine(t, WithBatchStore(store))

	started, err := eng.StartBatch(context.Background(), &BatchRequest{
		FunctionName: "batch",
		VariantName:  "pending",
		Inputs:       []message.ResolvedInput{userInput("a")},
	})
	require.NoError(t, err)

	polled, err := eng.PollBatch(context.Background(), started.BatchID, nil)
	require.NoError(t, err)
	assert.Equal(t, modeladapter.BatchStatusPending, polled.Status)
	assert.Empty(t, polled.Outputs)

	_, err = eng.PollBatch(context.Background(), uuid.New(), nil)
	assert.ErrorIs(t, err, errBatchNotFound)
}

func TestEngine_Batch_PollUnsupported(t *testing.T) {
	store := newMemBatchStore()
	eng := newTestEngine(t, WithBatchStore(store))

	started, err := eng.StartBatch(context.Background(), &BatchRequest{
		FunctionName: "batch",
		VariantName:  "offline",
		Inputs:       []message.ResolvedInput{userInput("a")},
	})
	require.NoError(t, err)

	_, err = eng.PollBatch(context.Background(), started.BatchID, nil)

	var unsupported *modeladapter.UnsupportedError
	require.ErrorAs(t, err, &unsupported)

	row, err := store.Get(context.Background(), started.BatchID)
	require.NoError(t, err)
	assert.Equal(t, modeladapter.BatchStatusPending, row.Status)
}

// racingBatchStore completes every batch just before the engine records its
// own poll, as a concurrent poller would.
type racingBatchStore struct {
	*memBatchStore
}

func (s racingBatchStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to modeladapter.BatchStatus, rawRequest, rawResponse string) (bool, error) {
	if _, err := s.memBatchStore.UpdateStatus(ctx, id, from, to, "other", "other"); err != nil {
		return false, err
	}

	return s.memBatchStore.UpdateStatus(ctx, id, from, to, rawRequest, rawResponse)
}

func TestEngine_Batch_ConcurrentPollCountsUsageOnce(t *testing.T) {
	store := racingBatchStore{newMemBatchStore()}
	eng := newTestEngine(t, WithBatchStore(store))

	sub := eng.Events().Subscribe(16)
	defer eng.Events().Unsubscribe(sub)

	started, err := eng.StartBatch(context.Background(), &BatchRequest{
		FunctionName: "batch",
		Inputs:       []message.ResolvedInput{userInput("a")},
	})
	require.NoError(t, err)

	polled, err := eng.PollBatch(context.Background(), started.BatchID, nil)
	require.NoError(t, err)
	assert.Equal(t, modeladapter.BatchStatusCompleted, polled.Status)
	require.Len(t, polled.Outputs, 1)

	assert.Empty(t, eng.Usage()["batch_completed"])

	for len(sub.C) > 0 {
		ev := <-sub.C
		assert.NotEqual(t, EventBatchUpdated, ev.Kind)
	}

	row, err := store.Get(context.Background(), started.BatchID)
	require.NoError(t, err)
	assert.Equal(t, "other", row.RawRequest)
}

func TestEngine_Batch_InvalidRequest(t *testing.T) {
	eng := newTestEngine(t, WithBatchStore(newMemBatchStore()))

	_, err := eng.StartBatch(context.Background(), &BatchRequest{FunctionName: "batch"})

	var invalid *InvalidRequestError
	require.ErrorAs(t, err, &invalid)

	_, err = eng.StartBatch(context.Background(), &BatchRequest{
		FunctionName: "batch",
		Inputs:       []message.ResolvedInput{userInput("a")},
		Params:       []variant.Params{{}, {}},
	})
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Message, "1 inputs but 2 params")
}

func TestEngine_Embed(t *testing.T) {
	eng := newTestEngine(t)

	resp, err := eng.Embed(context.Background(), &EmbeddingRequest{ModelName: "embed", Input: "hello"})
	require.NoError(t, err)

	assert.Equal(t, "embed", resp.ModelName)
	assert.Equal(t, "hello", resp.Input)
	assert.Len(t, resp.Embedding, dummy.EmbeddingDimensions)
	assert.Equal(t, usage.Usage{InputTokens: 10, OutputTokens: 1}, eng.Usage()["embed"])

	_, err = eng.Embed(context.Background(), &EmbeddingRequest{ModelName: "nope", Input: "hello"})

	var unknown *model.UnknownModelError
	assert.ErrorAs(t, err, &unknown)
}
