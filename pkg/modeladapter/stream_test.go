package modeladapter_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/germanamz/relay/pkg/chats/content"
	"github.com/germanamz/relay/pkg/modeladapter"
	"github.com/germanamz/relay/pkg/modeladapter/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textChunk(text string) *modeladapter.Chunk {
	return &modeladapter.Chunk{Content: content.Chunks{content.TextChunk{ID: "0", Text: text}}}
}

func TestStream_RecvUntilEOF(t *testing.T) {
	ctx := context.Background()
	s := modeladapter.StreamOf(textChunk("a"), textChunk("b"))

	c, err := s.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, textChunk("a"), c)

	c, err = s.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, textChunk("b"), c)

	_, err = s.Recv(ctx)
	assert.ErrorIs(t, err, io.EOF)

	_, err = s.Recv(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestStream_PeekDoesNotAdvance(t *testing.T) {
	ctx := context.Background()
	produced := 0
	s := modeladapter.NewStream(func(context.Context) (*modeladapter.Chunk, error) {
		produced++
		if produced > 2 {
			return nil, io.EOF
		}

		return textChunk("x"), nil
	}, nil)

	first, err := s.Peek(ctx)
	require.NoError(t, err)

	again, err := s.Peek(ctx)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, 1, produced)

	got, err := s.Recv(ctx)
	require.NoError(t, err)
	assert.Same(t, first, got)
	assert.Equal(t, 1, produced)

	chunks, err := s.Drain(ctx)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestStream_ErrorIsTerminal(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	i := 0
	s := modeladapter.NewStream(func(context.Context) (*modeladapter.Chunk, error) {
		i++
		if i == 2 {
			return nil, boom
		}

		return textChunk("x"), nil
	}, nil)

	chunks, err := s.Drain(ctx)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, chunks, 1)

	_, err = s.Recv(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 2, i)
}

func TestStream_PeekError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	s := modeladapter.NewStream(func(context.Context) (*modeladapter.Chunk, error) {
		return nil, boom
	}, nil)

	_, err := s.Peek(ctx)
	assert.ErrorIs(t, err, boom)

	_, err = s.Recv(ctx)
	assert.ErrorIs(t, err, boom)

	_, err = s.Recv(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestStream_CloseRunsHookOnce(t *testing.T) {
	closed := 0
	s := modeladapter.NewStream(func(context.Context) (*modeladapter.Chunk, error) {
		return textChunk("x"), nil
	}, func() { closed++ })

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, closed)

	_, err := s.Recv(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestStream_HookRunsAtEOF(t *testing.T) {
	closed := 0
	s := modeladapter.NewStream(func(context.Context) (*modeladapter.Chunk, error) {
		return nil, io.EOF
	}, func() { closed++ })

	_, err := s.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, closed)
}

func TestStream_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	s := modeladapter.NewStream(func(context.Context) (*modeladapter.Chunk, error) {
		called = true
		return textChunk("x"), nil
	}, nil)

	_, err := s.Recv(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestCollectChunks(t *testing.T) {
	u := usage.Usage{InputTokens: 10, OutputTokens: 2}
	chunks := []*modeladapter.Chunk{
		{Content: content.Chunks{content.ToolCallChunk{ID: "0", RawName: "get_temp", RawArguments: `{"a"`}}},
		{Content: content.Chunks{content.ToolCallChunk{ID: "0", RawName: "erature", RawArguments: `:1}`}}},
		{Usage: &u, FinishReason: modeladapter.FinishReasonToolCall},
	}

	out, terminal, err := modeladapter.CollectChunks(chunks)
	require.NoError(t, err)
	assert.Equal(t, content.Outputs{content.ToolCall{ID: "0", Name: "get_temperature", Arguments: `{"a":1}`}}, out)
	require.NotNil(t, terminal)
	assert.Equal(t, u, *terminal.Usage)
	assert.Equal(t, modeladapter.FinishReasonToolCall, terminal.FinishReason)
}
