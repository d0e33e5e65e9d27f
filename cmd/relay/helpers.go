package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/germanamz/relay/pkg/batchstore"
	"github.com/germanamz/relay/pkg/chats/message"
	"github.com/germanamz/relay/pkg/chats/role"
	"github.com/germanamz/relay/pkg/engine"
)

// loadDotEnv loads environment variables from path. A missing file is not an
// error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return err
}

// resolveConfigPath picks the explicit path, else config/relay.yaml when it
// exists, else relay.yaml.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}

	nested := filepath.Join("config", "relay.yaml")
	if _, err := os.Stat(nested); err == nil {
		return nested
	}

	return "relay.yaml"
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// setup loads the environment and configuration named by the common flags.
func setup(c *commonFlags) (engine.Config, *slog.Logger, error) {
	if err := loadDotEnv(c.envFile); err != nil {
		return engine.Config{}, nil, err
	}

	logger := newLogger(os.Stderr, c.verbose)
	slog.SetDefault(logger)

	cfg, err := engine.LoadConfig(resolveConfigPath(c.config))
	if err != nil {
		return engine.Config{}, nil, err
	}

	return cfg, logger, nil
}

// openBatchStore opens the configured batch store, or returns nil when batch
// inference is disabled.
func openBatchStore(ctx context.Context, cfg engine.Config) (*batchstore.Store, error) {
	path := cfg.Gateway.BatchStore
	if path == "" {
		return nil, nil
	}

	if path != batchstore.Memory {
		path = cfg.Path(path)
	}

	return batchstore.Open(ctx, path)
}

// parseInput reads an inference input. A JSON object is decoded as a full
// input; anything else becomes a single user text message.
func parseInput(raw string) (message.ResolvedInput, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return message.ResolvedInput{
			Messages: []message.Input{message.NewInputText(role.User, raw)},
		}, nil
	}

	var in message.ResolvedInput
	if err := json.Unmarshal([]byte(trimmed), &in); err != nil {
		return message.ResolvedInput{}, fmt.Errorf("parse input: %w", err)
	}

	return in, nil
}
