package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/germanamz/relay/pkg/chats/message"
	"github.com/germanamz/relay/pkg/function"
	"github.com/germanamz/relay/pkg/modeladapter"
	"github.com/germanamz/relay/pkg/variant"
)

// BatchStore persists batch rows and their outputs between polls.
type BatchStore interface {
	Put(ctx context.Context, row modeladapter.BatchRequestRow) error
	Get(ctx context.Context, id uuid.UUID) (*modeladapter.BatchRequestRow, error)
	// UpdateStatus moves a batch from status from to status to. It reports
	// false without writing when the batch is no longer in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to modeladapter.BatchStatus, rawRequest, rawResponse string) (bool, error)
	PutOutputs(ctx context.Context, id uuid.UUID, outputs []modeladapter.BatchOutput) error
	Outputs(ctx context.Context, id uuid.UUID) ([]modeladapter.BatchOutput, error)
}

// BatchRequest asks for a batch of inferences of one function. Every input
// runs on the same variant.
type BatchRequest struct {
	FunctionName string                  `json:"function_name"`
	VariantName  string                  `json:"variant_name,omitempty"`
	Inputs       []message.ResolvedInput `json:"inputs"`
	// Params are matched to Inputs by index and may be omitted.
	Params []variant.Params `json:"params,omitempty"`
	function.ToolParams
	OutputSchema json.RawMessage          `json:"output_schema,omitempty"`
	Credentials  modeladapter.Credentials `json:"credentials,omitempty"`
}

// BatchResponse describes a started batch.
type BatchResponse struct {
	BatchID      uuid.UUID                `json:"batch_id"`
	InferenceIDs []uuid.UUID              `json:"inference_ids"`
	FunctionName string                   `json:"function_name"`
	VariantName  string                   `json:"variant_name"`
	Status       modeladapter.BatchStatus `json:"status"`
}

// BatchStatusResponse is the result of polling a batch. Outputs is set once
// the batch has completed.
type BatchStatusResponse struct {
	BatchID      uuid.UUID                  `json:"batch_id"`
	FunctionName string                     `json:"function_name"`
	VariantName  string                     `json:"variant_name"`
	Status       modeladapter.BatchStatus   `json:"status"`
	Outputs      []modeladapter.BatchOutput `json:"outputs,omitempty"`
}

// StartBatch prepares every input and starts a provider batch, recording its
// row in the batch store.
func (e *Engine) StartBatch(ctx context.Context, req *BatchRequest) (*BatchResponse, error) {
	if e.batches == nil {
		return nil, ErrNoBatchStore
	}

	if len(req.Inputs) == 0 {
		return nil, &InvalidRequestError{Message: "batch has no inputs"}
	}

	if req.Params != nil && len(req.Params) != len(req.Inputs) {
		return nil, &InvalidRequestError{Message: fmt.Sprintf("batch has %d inputs but %d params", len(req.Inputs), len(req.Params))}
	}

	c, err := e.resolve(&InferenceRequest{
		FunctionName: req.FunctionName,
		VariantName:  req.VariantName,
		Input:        req.Inputs[0],
		ToolParams:   req.ToolParams,
		OutputSchema: req.OutputSchema,
		Credentials:  req.Credentials,
	})
	if err != nil {
		return nil, err
	}

	for i, in := range req.Inputs[1:] {
		if err := c.fn.Config.ValidateInput(in); err != nil {
			return nil, fmt.Errorf("engine: batch input %d: %w", i+1, err)
		}
	}

	return tryVariants(ctx, e, c, func(name string) (*BatchResponse, error) {
		return e.startBatchVariant(ctx, c, req, name)
	})
}

func (e *Engine) startBatchVariant(ctx context.Context, c *call, req *BatchRequest, name string) (*BatchResponse, error) {
	configs := make([]*variant.InferenceConfig, len(req.Inputs))
	for i := range configs {
		configs[i] = c.inferenceConfig(e, name)
	}

	var params []variant.Params
	if req.Params != nil {
		params = make([]variant.Params, len(req.Params))
		copy(params, req.Params)
	}

	start, err := c.fn.Variants[name].StartBatchInference(ctx, req.Inputs, e.models, c.fn.Config, configs, req.Credentials, params)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(req.Inputs))
	for i := range ids {
		ids[i] = uuid.Must(uuid.NewV7())
	}

	row := modeladapter.BatchRequestRow{
		BatchID:           start.BatchID,
		BatchParams:       start.BatchParams,
		FunctionName:      c.fn.Name,
		VariantName:       name,
		ModelName:         start.ModelName,
		ModelProviderName: start.ProviderName,
		InferenceIDs:      ids,
		Status:            start.Status,
		RawRequest:        start.RawRequest,
		RawResponse:       start.RawResponse,
		Errors:            start.Errors,
		CreatedAt:         time.Now().UTC(),
	}

	if err := e.batches.Put(ctx, row); err != nil {
		return nil, fmt.Errorf("engine: store batch: %w", err)
	}

	e.logger.Info("batch started",
		"function", c.fn.Name,
		"variant", name,
		"model", start.ModelName,
		"provider", start.ProviderName,
		"batch_id", start.BatchID,
		"size", len(ids),
	)
	e.events.Publish(Event{
		Kind:      EventBatchStarted,
		Function:  c.fn.Name,
		Variant:   name,
		Timestamp: time.Now(),
		Data:      row,
	})

	return &BatchResponse{
		BatchID:      start.BatchID,
		InferenceIDs: ids,
		FunctionName: c.fn.Name,
		VariantName:  name,
		Status:       start.Status,
	}, nil
}

// PollBatch reports a batch's status, polling its provider while the batch is
// pending. Completed outputs are stored so later polls never reach the
// provider.
func (e *Engine) PollBatch(ctx context.Context, id uuid.UUID, creds modeladapter.Credentials) (*BatchStatusResponse, error) {
	if e.batches == nil {
		return nil, ErrNoBatchStore
	}

	row, err := e.batches.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	out := &BatchStatusResponse{
		BatchID:      row.BatchID,
		FunctionName: row.FunctionName,
		VariantName:  row.VariantName,
		Status:       row.Status,
	}

	if row.Status.Terminal() {
		if row.Status == modeladapter.BatchStatusCompleted {
			if out.Outputs, err = e.batches.Outputs(ctx, id); err != nil {
				return nil, err
			}
		}

		return out, nil
	}

	m, err := e.models.Get(row.ModelName)
	if err != nil {
		return nil, err
	}

	resp, err := m.PollBatchInference(ctx, *row, creds)
	if err != nil {
		return nil, err
	}

	if !row.Status.CanTransition(resp.Status) {
		return nil, fmt.Errorf("engine: batch %s: invalid transition from %s to %s", id, row.Status, resp.Status)
	}

	if resp.Status == modeladapter.BatchStatusCompleted {
		outputs := make([]modeladapter.BatchOutput, 0, len(row.InferenceIDs))

		for _, iid := range row.InferenceIDs {
			o, ok := resp.Outputs[iid]
			if !ok {
				return nil, fmt.Errorf("engine: batch %s: missing output for inference %s", id, iid)
			}

			outputs = append(outputs, o)
		}

		if err := e.batches.PutOutputs(ctx, id, outputs); err != nil {
			return nil, fmt.Errorf("engine: store batch outputs: %w", err)
		}

		out.Outputs = outputs
	}

	updated, err := e.batches.UpdateStatus(ctx, id, row.Status, resp.Status, resp.RawRequest, resp.RawResponse)
	if err != nil {
		return nil, fmt.Errorf("engine: update batch: %w", err)
	}

	out.Status = resp.Status

	// A concurrent poll already recorded this transition.
	if !updated {
		return out, nil
	}

	if resp.Status == modeladapter.BatchStatusCompleted {
		for _, o := range out.Outputs {
			e.usage.Add(row.ModelName, o.Usage)
		}
	}

	if resp.Status != row.Status {
		e.logger.Info("batch updated", "batch_id", id, "status", resp.Status)
		e.events.Publish(Event{
			Kind:      EventBatchUpdated,
			Function:  row.FunctionName,
			Variant:   row.VariantName,
			Timestamp: time.Now(),
			Data:      resp.Status,
		})
	}

	return out, nil
}
