// Package batchstore persists batch inference rows and their outputs in
// SQLite so batches survive restarts between polls.
package batchstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/germanamz/relay/pkg/chats/content"
	"github.com/germanamz/relay/pkg/engine"
	"github.com/germanamz/relay/pkg/modeladapter"
	"github.com/germanamz/relay/pkg/modeladapter/usage"
)

// Memory is the path of a private in-memory database.
const Memory = ":memory:"

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when no batch has the requested ID.
var ErrNotFound = errors.New("batchstore: batch not found")

var _ engine.BatchStore = (*Store)(nil)

// Store is a SQLite-backed engine.BatchStore.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and applies pending
// migrations. The parent directory must exist.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != Memory {
		dir := filepath.Dir(path)
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("batchstore: open %q: %w", path, err)
		}
	}

	dsn := path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(ON)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("batchstore: open %q: %w", path, err)
	}

	// Every connection to :memory: is its own database.
	if path == Memory {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("batchstore: ping %q: %w", path, err)
	}

	if err := migrateUp(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put inserts a new batch row.
func (s *Store) Put(ctx context.Context, row modeladapter.BatchRequestRow) error {
	ids, err := json.Marshal(row.InferenceIDs)
	if err != nil {
		return fmt.Errorf("batchstore: encode inference ids: %w", err)
	}

	errs, err := json.Marshal(row.Errors)
	if err != nil {
		return fmt.Errorf("batchstore: encode errors: %w", err)
	}

	params := string(row.BatchParams)
	if params == "" {
		params = "null"
	}

	created := row.CreatedAt
	if created.IsZero() {
		created = s.now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO batch_requests (
			batch_id, batch_params, function_name, variant_name, model_name,
			model_provider_name, inference_ids, status, raw_request, raw_response,
			errors, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.BatchID.String(), params, row.FunctionName, row.VariantName, row.ModelName,
		row.ModelProviderName, string(ids), string(row.Status), row.RawRequest, row.RawResponse,
		string(errs), formatTime(created), formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("batchstore: insert batch %s: %w", row.BatchID, err)
	}

	return nil
}

// Get returns the batch row with the given ID or ErrNotFound.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*modeladapter.BatchRequestRow, error) {
	var (
		row                       modeladapter.BatchRequestRow
		batchID, params, ids      string
		status, errs, createdText string
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT batch_id, batch_params, function_name, variant_name, model_name,
		       model_provider_name, inference_ids, status, raw_request, raw_response,
		       errors, created_at
		FROM batch_requests WHERE batch_id = ?`, id.String(),
	).Scan(
		&batchID, &params, &row.FunctionName, &row.VariantName, &row.ModelName,
		&row.ModelProviderName, &ids, &status, &row.RawRequest, &row.RawResponse,
		&errs, &createdText,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("batchstore: get batch %s: %w", id, err)
	}

	if row.BatchID, err = uuid.Parse(batchID); err != nil {
		return nil, fmt.Errorf("batchstore: batch %s: %w", id, err)
	}

	if params != "null" {
		row.BatchParams = json.RawMessage(params)
	}

	if err := json.Unmarshal([]byte(ids), &row.InferenceIDs); err != nil {
		return nil, fmt.Errorf("batchstore: batch %s: decode inference ids: %w", id, err)
	}

	if err := json.Unmarshal([]byte(errs), &row.Errors); err != nil {
		return nil, fmt.Errorf("batchstore: batch %s: decode errors: %w", id, err)
	}

	if row.CreatedAt, err = time.Parse(timeLayout, createdText); err != nil {
		return nil, fmt.Errorf("batchstore: batch %s: decode created_at: %w", id, err)
	}

	row.Status = modeladapter.BatchStatus(status)

	return &row, nil
}

// UpdateStatus records the outcome of a poll. The row is only written while
// its status is still from; otherwise UpdateStatus reports false.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, from, to modeladapter.BatchStatus, rawRequest, rawResponse string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE batch_requests
		SET status = ?, raw_request = ?, raw_response = ?, updated_at = ?
		WHERE batch_id = ? AND status = ?`,
		string(to), rawRequest, rawResponse, formatTime(s.now()), id.String(), string(from),
	)
	if err != nil {
		return false, fmt.Errorf("batchstore: update batch %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("batchstore: update batch %s: %w", id, err)
	}

	if n > 0 {
		return true, nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM batch_requests WHERE batch_id = ?`, id.String()).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err != nil {
		return false, fmt.Errorf("batchstore: update batch %s: %w", id, err)
	}

	return false, nil
}

// PutOutputs stores a completed batch's outputs in order. Existing outputs of
// the batch are replaced.
func (s *Store) PutOutputs(ctx context.Context, id uuid.UUID, outputs []modeladapter.BatchOutput) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("batchstore: put outputs %s: %w", id, err)
	}

	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM batch_outputs WHERE batch_id = ?", id.String()); err != nil {
		return fmt.Errorf("batchstore: put outputs %s: %w", id, err)
	}

	for i, o := range outputs {
		data, err := json.Marshal(o.Output)
		if err != nil {
			return fmt.Errorf("batchstore: encode output %s: %w", o.ID, err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO batch_outputs (
				inference_id, batch_id, position, output, raw_response,
				input_tokens, output_tokens, finish_reason
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			o.ID.String(), id.String(), i, string(data), o.RawResponse,
			o.Usage.InputTokens, o.Usage.OutputTokens, string(o.FinishReason),
		); err != nil {
			return fmt.Errorf("batchstore: insert output %s: %w", o.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("batchstore: put outputs %s: %w", id, err)
	}

	return nil
}

// Outputs returns a batch's stored outputs in the order they were put.
func (s *Store) Outputs(ctx context.Context, id uuid.UUID) ([]modeladapter.BatchOutput, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT inference_id, output, raw_response, input_tokens, output_tokens, finish_reason
		FROM batch_outputs WHERE batch_id = ? ORDER BY position`, id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("batchstore: outputs %s: %w", id, err)
	}
	defer rows.Close()

	var outputs []modeladapter.BatchOutput

	for rows.Next() {
		var (
			o            modeladapter.BatchOutput
			iid, data    string
			in, out      uint32
			finishReason string
		)

		if err := rows.Scan(&iid, &data, &o.RawResponse, &in, &out, &finishReason); err != nil {
			return nil, fmt.Errorf("batchstore: outputs %s: %w", id, err)
		}

		if o.ID, err = uuid.Parse(iid); err != nil {
			return nil, fmt.Errorf("batchstore: outputs %s: %w", id, err)
		}

		var decoded content.Outputs
		if err := json.Unmarshal([]byte(data), &decoded); err != nil {
			return nil, fmt.Errorf("batchstore: decode output %s: %w", iid, err)
		}

		o.Output = decoded
		o.Usage = usage.Usage{InputTokens: in, OutputTokens: out}
		o.FinishReason = modeladapter.FinishReason(finishReason)

		outputs = append(outputs, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("batchstore: outputs %s: %w", id, err)
	}

	return outputs, nil
}

// Pending returns the IDs of batches that are still pending, oldest first.
func (s *Store) Pending(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT batch_id FROM batch_requests WHERE status = ? ORDER BY created_at",
		string(modeladapter.BatchStatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("batchstore: pending: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID

	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("batchstore: pending: %w", err)
		}

		id, err := uuid.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("batchstore: pending: %w", err)
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
