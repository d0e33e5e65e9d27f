package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/germanamz/relay/pkg/chats/content"
	"github.com/germanamz/relay/pkg/engine"
	"github.com/germanamz/relay/pkg/model"
	"github.com/germanamz/relay/pkg/server"
)

func validateCmd(args []string) error {
	var common commonFlags

	fs := newFlagSet("validate", "Load a configuration, its templates and schemas, and report any error.", &common)
	_ = fs.Parse(args)

	cfg, logger, err := setup(&common)
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg, engine.WithLogger(logger))
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "configuration OK: %d functions\n", len(eng.Functions()))

	return nil
}

func inferCmd(args []string) error {
	var common commonFlags

	fs := newFlagSet("infer", "Run a single inference and print the result as JSON.", &common)
	function := fs.String("function", "", "function to call (required)")
	variant := fs.String("variant", "", "pin a variant instead of sampling one")
	input := fs.String("input", "", "user text, or a JSON input object with system and messages")
	stream := fs.Bool("stream", false, "print text as it streams")
	cache := fs.String("cache", "", "cache mode: on, off, read_only or write_only")
	_ = fs.Parse(args)

	if *function == "" {
		fs.Usage()
		return errors.New("-function is required")
	}

	if !model.CacheMode(*cache).Valid() {
		return fmt.Errorf("unknown cache mode %q", *cache)
	}

	cfg, logger, err := setup(&common)
	if err != nil {
		return err
	}

	in, err := parseInput(*input)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eng, err := engine.New(cfg, engine.WithLogger(logger))
	if err != nil {
		return err
	}

	req := &engine.InferenceRequest{
		FunctionName: *function,
		VariantName:  *variant,
		Input:        in,
		Cache:        engine.CacheParams{Enabled: model.CacheMode(*cache)},
	}

	if *stream {
		return streamInference(ctx, os.Stdout, eng, req)
	}

	resp, err := eng.Infer(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(resp)
}

// streamInference writes text and tool argument fragments to w as they
// arrive, then the usage line.
func streamInference(ctx context.Context, w io.Writer, eng *engine.Engine, req *engine.InferenceRequest) error {
	stream, err := eng.InferStream(ctx, req)
	if err != nil {
		return err
	}

	defer func() { _ = stream.Close() }()

	for {
		chunk, err := stream.Recv(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return err
		}

		for _, c := range chunk.Content {
			switch c := c.(type) {
			case content.TextChunk:
				fmt.Fprint(w, c.Text)
			case content.ToolCallChunk:
				fmt.Fprint(w, c.RawArguments)
			}
		}

		if chunk.Usage != nil {
			fmt.Fprintf(w, "\n[variant=%s model=%s input_tokens=%d output_tokens=%d]\n",
				stream.VariantName, stream.ModelName, chunk.Usage.InputTokens, chunk.Usage.OutputTokens)
		}
	}
}

func serveCmd(args []string) error {
	var common commonFlags

	fs := newFlagSet("serve", "Serve the HTTP API until interrupted.", &common)
	addr := fs.String("addr", "", "listen address (default: gateway.bind or 127.0.0.1:3000)")
	pollInterval := fs.Duration("poll-interval", time.Minute, "how often pending batches are polled (0 disables)")
	_ = fs.Parse(args)

	cfg, logger, err := setup(&common)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := []engine.Option{engine.WithLogger(logger)}

	store, err := openBatchStore(ctx, cfg)
	if err != nil {
		return err
	}

	if store != nil {
		defer func() { _ = store.Close() }()

		opts = append(opts, engine.WithBatchStore(store))
	}

	eng, err := engine.New(cfg, opts...)
	if err != nil {
		return err
	}

	startEventLog(ctx, logger, eng.Events())

	if store != nil && *pollInterval > 0 {
		go newBatchPoller(logger, eng, store).run(ctx, *pollInterval)
	}

	srvCfg := server.DefaultConfig()
	if cfg.Gateway.Bind != "" {
		srvCfg.Addr = cfg.Gateway.Bind
	}

	if *addr != "" {
		srvCfg.Addr = *addr
	}

	return server.New(eng, srvCfg, logger).Serve(ctx)
}
