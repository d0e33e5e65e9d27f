package dummy

import (
	"context"
	"io"
	"time"

	"github.com/germanamz/relay/pkg/chats/content"
	"github.com/germanamz/relay/pkg/modeladapter"
)

// Streaming fragments produced by the dummy provider.
var (
	StreamingThinking = []string{"hmmm", "hmmm"}
	StreamingResponse = []string{
		"Wally,", " the", " golden", " retriever,", " wagged", " his", " tail", " excitedly",
		" as", " he", " devoured", " a", " slice", " of", " cheese", " pizza.",
	}
	StreamingToolResponse = []string{`{"location"`, `:"Brooklyn"`, `,"units"`, `:"celsius`, `"}`}
	StreamingJSONResponse = []string{`{"name"`, `:"John"`, `,"age"`, `:30`, `}`}
)

// InferStream implements modeladapter.Streamer.
func (p *Provider) InferStream(ctx context.Context, _ *modeladapter.Request, creds modeladapter.Credentials) (*modeladapter.Stream, string, error) {
	if err := p.preflight(ctx); err != nil {
		return nil, "", err
	}

	if _, err := p.apiKey(creds); err != nil {
		return nil, "", err
	}

	switch p.Model {
	case "reasoner":
		return p.reasoningStream(StreamingThinking, StreamingResponse), rawRequest, nil
	case "json_reasoner":
		return p.reasoningStream(StreamingThinking, StreamingJSONResponse), rawRequest, nil
	case "json":
		return p.reasoningStream(nil, StreamingJSONResponse), rawRequest, nil
	case "tool", "tool_split_name":
		return p.toolStream(), rawRequest, nil
	default:
		return p.textStream(), rawRequest, nil
	}
}

func chunkLatency(i int) time.Duration {
	return time.Duration(50+10*(i+1)) * time.Millisecond
}

// emitter builds a stream over n content chunks followed by the terminal
// usage chunk. build returns the content chunk at index i.
func (p *Provider) emitter(n int, finish modeladapter.FinishReason, build func(ctx context.Context, i int) (*modeladapter.Chunk, error)) *modeladapter.Stream {
	created := time.Now().Unix()
	i := 0

	return modeladapter.NewStream(func(ctx context.Context) (*modeladapter.Chunk, error) {
		if i > n {
			return nil, io.EOF
		}

		if i > 0 {
			if err := sleep(ctx, p.Throttle); err != nil {
				return nil, err
			}
		}

		idx := i
		i++

		if idx == n {
			u := p.usage(n)

			return &modeladapter.Chunk{
				Created:      created,
				Content:      content.Chunks{},
				Usage:        &u,
				Latency:      time.Duration(50+10*n) * time.Millisecond,
				FinishReason: finish,
			}, nil
		}

		c, err := build(ctx, idx)
		if err != nil {
			return nil, err
		}

		c.Created = created
		c.Latency = chunkLatency(idx)

		return c, nil
	}, nil)
}

func (p *Provider) reasoningStream(thinking, response []string) *modeladapter.Stream {
	n := len(thinking) + len(response)

	return p.emitter(n, modeladapter.FinishReasonStop, func(_ context.Context, i int) (*modeladapter.Chunk, error) {
		if i < len(thinking) {
			return &modeladapter.Chunk{Content: content.Chunks{content.ThoughtChunk{ID: "0", Text: thinking[i]}}}, nil
		}

		return &modeladapter.Chunk{Content: content.Chunks{content.TextChunk{ID: "0", Text: response[i-len(thinking)]}}}, nil
	})
}

func (p *Provider) toolStream() *modeladapter.Stream {
	split := p.Model == "tool_split_name"

	return p.emitter(len(StreamingToolResponse), modeladapter.FinishReasonToolCall, func(_ context.Context, i int) (*modeladapter.Chunk, error) {
		var name string

		switch {
		case split && i == 0:
			name = "get_temp"
		case split && i == 1:
			name = "erature"
		case !split && i == 0:
			name = ToolName
		}

		frag := StreamingToolResponse[i]

		return &modeladapter.Chunk{
			Content:     content.Chunks{content.ToolCallChunk{ID: "0", RawName: name, RawArguments: frag}},
			RawResponse: frag,
		}, nil
	})
}

func (p *Provider) textStream() *modeladapter.Stream {
	errInStream := p.Model == "err_in_stream"
	slowSecond := p.Model == "slow_second_chunk"

	return p.emitter(len(StreamingResponse), modeladapter.FinishReasonStop, func(ctx context.Context, i int) (*modeladapter.Chunk, error) {
		if slowSecond && i == 1 {
			if err := sleep(ctx, p.SecondChunkDelay); err != nil {
				return nil, err
			}
		}

		if errInStream && i == 3 {
			return nil, clientError("Dummy error in stream")
		}

		frag := StreamingResponse[i]

		return &modeladapter.Chunk{
			Content:     content.Chunks{content.TextChunk{ID: "0", Text: frag}},
			RawResponse: frag,
		}, nil
	})
}
