package modeladapter

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/germanamz/relay/pkg/chats/content"
)

// Generator produces the next chunk of a stream. It returns io.EOF once the
// stream is exhausted.
type Generator func(ctx context.Context) (*Chunk, error)

// Stream is a lazy, finite, single-consumption sequence of chunks. Nothing is
// produced until the consumer asks for it, so a slow consumer slows the
// producer. A producer error is returned once and ends the stream.
//
// A Stream is not safe for concurrent use.
type Stream struct {
	next    Generator
	onClose func()

	peeked  *Chunk
	peekErr error
	hasPeek bool
	done    bool

	closeOnce sync.Once
}

// NewStream creates a stream pulling from next. onClose, if non-nil, runs
// exactly once when the stream ends or is closed.
func NewStream(next Generator, onClose func()) *Stream {
	return &Stream{next: next, onClose: onClose}
}

// StreamOf creates a stream that yields the given chunks in order.
func StreamOf(chunks ...*Chunk) *Stream {
	i := 0

	return NewStream(func(context.Context) (*Chunk, error) {
		if i >= len(chunks) {
			return nil, io.EOF
		}

		c := chunks[i]
		i++

		return c, nil
	}, nil)
}

// Recv returns the next chunk, or io.EOF when the stream is exhausted.
func (s *Stream) Recv(ctx context.Context) (*Chunk, error) {
	if s.hasPeek {
		c, err := s.peeked, s.peekErr
		s.peeked, s.peekErr, s.hasPeek = nil, nil, false

		return c, err
	}

	return s.fetch(ctx)
}

// Peek returns the next chunk without consuming it. Repeated calls return the
// same chunk until Recv is called.
func (s *Stream) Peek(ctx context.Context) (*Chunk, error) {
	if !s.hasPeek {
		s.peeked, s.peekErr = s.fetch(ctx)
		s.hasPeek = true
	}

	return s.peeked, s.peekErr
}

// Close releases the producer's resources. It is safe to call more than once.
func (s *Stream) Close() error {
	s.done = true
	s.closeOnce.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
	})

	return nil
}

func (s *Stream) fetch(ctx context.Context) (*Chunk, error) {
	if s.done {
		return nil, io.EOF
	}

	if err := ctx.Err(); err != nil {
		_ = s.Close()
		return nil, err
	}

	c, err := s.next(ctx)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	return c, nil
}

// Drain consumes the rest of the stream. It returns the chunks received before
// the stream ended together with the error that ended it, if any.
func (s *Stream) Drain(ctx context.Context) ([]*Chunk, error) {
	var chunks []*Chunk

	for {
		c, err := s.Recv(ctx)
		if errors.Is(err, io.EOF) {
			return chunks, nil
		}

		if err != nil {
			return chunks, err
		}

		chunks = append(chunks, c)
	}
}

// CollectChunks merges the content of streamed chunks into output blocks and
// returns the terminal chunk's usage and finish reason, if present.
func CollectChunks(chunks []*Chunk) (content.Outputs, *Chunk, error) {
	var (
		all      []content.Chunk
		terminal *Chunk
	)

	for _, c := range chunks {
		all = append(all, c.Content...)

		if c.Terminal() {
			terminal = c
		}
	}

	out, err := content.Collect(all)
	if err != nil {
		return nil, nil, err
	}

	return out, terminal, nil
}
