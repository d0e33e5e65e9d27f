package dummy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/germanamz/relay/pkg/chats/content"
	"github.com/germanamz/relay/pkg/modeladapter"
)

// StartBatchInference implements modeladapter.BatchInferer. Every batch starts
// pending.
func (p *Provider) StartBatchInference(_ context.Context, reqs []*modeladapter.Request, creds modeladapter.Credentials) (*modeladapter.StartBatchResponse, error) {
	if err := p.errorModel(); err != nil {
		return nil, err
	}

	if _, err := p.apiKey(creds); err != nil {
		return nil, err
	}

	fileID := uuid.Must(uuid.NewV7())
	batchID := uuid.Must(uuid.NewV7())

	params, err := json.Marshal(map[string]uuid.UUID{"file_id": fileID, "batch_id": batchID})
	if err != nil {
		return nil, fmt.Errorf("dummy: encode batch params: %w", err)
	}

	raws := make([]string, len(reqs))
	for i := range raws {
		raws[i] = "raw_request"
	}

	return &modeladapter.StartBatchResponse{
		BatchID:     batchID,
		BatchParams: params,
		Status:      modeladapter.BatchStatusPending,
		RawRequests: raws,
		RawRequest:  rawRequest,
		RawResponse: "raw response",
	}, nil
}

// PollBatchInference implements modeladapter.BatchInferer. Only the
// batch_pending, batch_completed and batch_failed models can be polled; every
// other model reports batch polling as unsupported.
func (p *Provider) PollBatchInference(_ context.Context, row modeladapter.BatchRequestRow, _ modeladapter.Credentials) (*modeladapter.PollBatchResponse, error) {
	resp := &modeladapter.PollBatchResponse{RawRequest: rawRequest, RawResponse: "raw response"}

	switch p.Model {
	case "batch_pending":
		resp.Status = modeladapter.BatchStatusPending
	case "batch_failed":
		resp.Status = modeladapter.BatchStatusFailed
	case "batch_completed":
		resp.Status = modeladapter.BatchStatusCompleted
		resp.Outputs = make(map[uuid.UUID]modeladapter.BatchOutput, len(row.InferenceIDs))

		for _, id := range row.InferenceIDs {
			resp.Outputs[id] = modeladapter.BatchOutput{
				ID:           id,
				Output:       content.Outputs{content.Text{Text: InferResponseContent}},
				RawResponse:  InferResponseRaw,
				Usage:        p.usage(1),
				FinishReason: modeladapter.FinishReasonStop,
			}
		}
	default:
		return nil, &modeladapter.UnsupportedError{Operation: "batch inference", ProviderType: providerName}
	}

	return resp, nil
}
