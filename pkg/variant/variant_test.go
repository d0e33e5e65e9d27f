package variant_test

import (
	"context"
	"encoding/json"
	"testing"

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
	"github.com/germanamz/relay/pkg/schema"
	"github.com/germanamz/relay/pkg/variant"
)

// testModels builds a table with one single-provider model per dummy model
// name.
func testModels(t *testing.T, names ...string) *model.Table {
	t.Helper()

	counters := dummy.NewCounters()
	models := make(map[string]*model.Config, len(names))

	for _, name := range names {
		p, err := dummy.New(name, modeladapter.CredentialNone, counters)
		require.NoError(t, err)

		p.SlowDelay = 0
		p.SecondChunkDelay = 0
		p.Throttle = 0

		models[name] = &model.Config{
			Routing:   []string{name},
			Providers: map[string]modeladapter.Provider{name: p},
		}
	}

	table, err := model.NewTable(models)
	require.NoError(t, err)

	return table
}

func userInput(text string) message.ResolvedInput {
	return message.ResolvedInput{Messages: []message.Input{message.NewInputText(role.User, text)}}
}

func TestChatCompletion_Validate(t *testing.T) {
	engine := testTemplates(t)
	models := testModels(t, "good")

	withSchemas := &function.Config{
		Type:         modeladapter.FunctionTypeChat,
		SystemSchema: testSchema(t),
		UserSchema:   testSchema(t),
	}

	tests := []struct {
		name    string
		fn      *function.Config
		cc      variant.ChatCompletion
		wantErr string
	}{
		{name: "valid", fn: chatFunction(), cc: variant.ChatCompletion{Model: "good", Weight: ptr(1.0)}},
		{
			name: "valid with schemas",
			fn:   withSchemas,
			cc:   variant.ChatCompletion{Model: "good", Templates: variant.Templates{System: "system", User: "greeting_with_age"}},
		},
		{
			name:    "negative weight",
			fn:      chatFunction(),
			cc:      variant.ChatCompletion{Model: "good", Weight: ptr(-1.0)},
			wantErr: "`functions.f.variants.v`: `weight` must be non-negative",
		},
		{
			name:    "bad json mode",
			fn:      chatFunction(),
			cc:      variant.ChatCompletion{Model: "good", Defaults: variant.Params{JSONMode: "maybe"}},
			wantErr: "`functions.f.variants.v`: unknown `json_mode` \"maybe\"",
		},
		{
			name:    "missing system template",
			fn:      withSchemas,
			cc:      variant.ChatCompletion{Model: "good", Templates: variant.Templates{User: "greeting_with_age"}},
			wantErr: "`functions.f.variants.v.system_template`: template is required when schema is specified",
		},
		{
			name: "assistant template needs schema",
			fn:   chatFunction(),
			cc:   variant.ChatCompletion{Model: "good", Templates: variant.Templates{Assistant: "assistant"}},
			wantErr: "`functions.f.variants.v.assistant_template`: template needs variables: [reason] " +
				"but only `assistant_text` is allowed when template has no schema",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cc.Validate(tt.fn, models, engine, "f", "v")
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}

			var cfgErr *variant.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.wantErr, cfgErr.Message)
		})
	}

	t.Run("unknown model", func(t *testing.T) {
		cc := variant.ChatCompletion{Model: "nope"}

		var unknown *model.UnknownModelError
		assert.ErrorAs(t, cc.Validate(chatFunction(), models, engine, "f", "v"), &unknown)
	})
}

func TestChatCompletion_Infer(t *testing.T) {
	models := testModels(t, "good", "error", "echo_request_messages")
	ic := &variant.InferenceConfig{Templates: testTemplates(t), FunctionName: "f", VariantName: "v"}
	ctx := context.Background()

	t.Run("text", func(t *testing.T) {
		cc := &variant.ChatCompletion{Model: "good"}

		resp, err := cc.Infer(ctx, userInput("Hello"), models, chatFunction(), ic, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "good", resp.ModelName)
		assert.Equal(t, content.Outputs{content.Text{Text: dummy.InferResponseContent}}, resp.Output)
		assert.Equal(t, usage.Usage{InputTokens: 10, OutputTokens: 1}, resp.Usage)
		assert.Equal(t, modeladapter.FinishReasonStop, resp.FinishReason)
	})

	t.Run("templated request reaches the provider", func(t *testing.T) {
		cc := &variant.ChatCompletion{
			Model:     "echo_request_messages",
			Templates: variant.Templates{User: "user_text"},
		}
		in := message.ResolvedInput{
			System:   "Be brief.",
			Messages: []message.Input{message.NewInputText(role.User, "hi")},
		}

		resp, err := cc.Infer(ctx, in, models, chatFunction(), ic, nil, nil)
		require.NoError(t, err)
		require.Len(t, resp.Output, 1)

		var echoed struct {
			System   string            `json:"system"`
			Messages []message.Request `json:"messages"`
		}
		require.NoError(t, json.Unmarshal([]byte(resp.Output[0].(content.Text).Text), &echoed))
		assert.Equal(t, "Be brief.", echoed.System)
		require.Len(t, echoed.Messages, 1)
		assert.Equal(t, "User says: hi", echoed.Messages[0].TextContent())
	})

	t.Run("provider error", func(t *testing.T) {
		cc := &variant.ChatCompletion{Model: "error"}

		_, err := cc.Infer(ctx, userInput("Hello"), models, chatFunction(), ic, nil, nil)

		var exhausted *model.ProvidersExhaustedError
		require.ErrorAs(t, err, &exhausted)

		var clientErr *modeladapter.ClientError
		require.ErrorAs(t, err, &clientErr)
		assert.Equal(t, "Error sending request to Dummy provider for model 'error'.", clientErr.Message)
	})

	t.Run("unknown model", func(t *testing.T) {
		cc := &variant.ChatCompletion{Model: "nope"}

		_, err := cc.Infer(ctx, userInput("Hello"), models, chatFunction(), ic, nil, nil)

		var unknown *model.UnknownModelError
		assert.ErrorAs(t, err, &unknown)
	})
}

func TestChatCompletion_InferRetries(t *testing.T) {
	models := testModels(t, "flaky_model")
	cc := &variant.ChatCompletion{Model: "flaky_model", Retries: variant.RetryConfig{NumRetries: 1}}
	ic := &variant.InferenceConfig{}
	ctx := context.Background()

	// Odd calls succeed and even calls fail, so the second inference needs a
	// retry.
	_, err := cc.Infer(ctx, userInput("Hello"), models, chatFunction(), ic, nil, nil)
	require.NoError(t, err)

	_, err = cc.Infer(ctx, userInput("Hello"), models, chatFunction(), ic, nil, nil)
	require.NoError(t, err)
}

func TestChatCompletion_InferJSON(t *testing.T) {
	models := testModels(t, "json")
	fn := &function.Config{Type: modeladapter.FunctionTypeJSON}

	answer, err := schema.FromJSON([]byte(`{"type":"object","properties":{"answer":{"type":"string"}},"required":["answer"]}`))
	require.NoError(t, err)

	cc := &variant.ChatCompletion{Model: "json"}
	ic := &variant.InferenceConfig{DynamicOutputSchema: answer}

	resp, err := cc.Infer(context.Background(), userInput("Hello"), models, fn, ic, nil, nil)
	require.NoError(t, err)
	require.Len(t, resp.Output, 1)

	raw := resp.Output[0].(content.Text).Text
	assert.Equal(t, dummy.JSONResponseRaw, raw)

	parsed, err := function.ParseOutput(raw, answer)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"answer": "Hello"}, parsed)
}

func TestChatCompletion_InferStream(t *testing.T) {
	models := testModels(t, "good")
	cc := &variant.ChatCompletion{Model: "good"}
	ctx := context.Background()

	resp, err := cc.InferStream(ctx, userInput("Hello"), models, chatFunction(), &variant.InferenceConfig{}, nil, nil)
	require.NoError(t, err)
	defer resp.Stream.Close()

	chunks, err := resp.Stream.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, chunks, len(dummy.StreamingResponse)+1)

	output, terminal, err := modeladapter.CollectChunks(chunks)
	require.NoError(t, err)
	require.NotNil(t, terminal)
	assert.Equal(t, usage.Usage{InputTokens: 10, OutputTokens: 16}, *terminal.Usage)
	assert.Equal(t, modeladapter.FinishReasonStop, terminal.FinishReason)
	require.Len(t, output, 1)
	assert.Contains(t, output[0].(content.Text).Text, "golden retriever")
}

func TestChatCompletion_StartBatchInference(t *testing.T) {
	models := testModels(t, "good")
	cc := &variant.ChatCompletion{Model: "good", Defaults: variant.Params{Seed: ptr(uint32(7))}}
	ctx := context.Background()

	inputs := []message.ResolvedInput{userInput("a"), userInput("b")}
	configs := []*variant.InferenceConfig{{}, {}}

	start, err := cc.StartBatchInference(ctx, inputs, models, chatFunction(), configs, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, modeladapter.BatchStatusPending, start.Status)
	assert.Equal(t, "good", start.ProviderName)
	require.Len(t, start.Requests, 2)
	assert.Equal(t, "b", start.Requests[1].Messages[0].TextContent())
	require.Len(t, start.Params, 2)
	assert.Equal(t, uint32(7), *start.Params[0].Seed)

	_, err = cc.StartBatchInference(ctx, inputs, models, chatFunction(), configs[:1], nil, nil)
	assert.ErrorContains(t, err, "2 inputs but 1 inference configs")

	_, err = cc.StartBatchInference(ctx, nil, models, chatFunction(), nil, nil, nil)
	assert.ErrorContains(t, err, "no inputs")
}
