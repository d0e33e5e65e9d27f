package modeladapter

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/germanamz/relay/pkg/chats/content"
	"github.com/germanamz/relay/pkg/modeladapter/usage"
)

// BatchStatus is the state of an asynchronous batch.
type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "pending"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusFailed    BatchStatus = "failed"
)

// Terminal reports whether no further transitions are possible from s.
func (s BatchStatus) Terminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed
}

// CanTransition reports whether a poll may move a batch from s to next.
// Pending may stay pending or finish; finished batches never change.
func (s BatchStatus) CanTransition(next BatchStatus) bool {
	if s != BatchStatusPending {
		return false
	}

	switch next {
	case BatchStatusPending, BatchStatusCompleted, BatchStatusFailed:
		return true
	}

	return false
}

// StartBatchResponse is returned when a provider accepts a batch.
type StartBatchResponse struct {
	BatchID     uuid.UUID         `json:"batch_id"`
	BatchParams json.RawMessage   `json:"batch_params"`
	Status      BatchStatus       `json:"status"`
	RawRequests []string          `json:"raw_requests"`
	RawRequest  string            `json:"raw_request"`
	RawResponse string            `json:"raw_response"`
	Errors      []json.RawMessage `json:"errors,omitempty"`
}

// BatchRequestRow holds everything needed to poll a batch. Polling is
// stateless: the row is the only state a provider sees.
type BatchRequestRow struct {
	BatchID           uuid.UUID         `json:"batch_id"`
	BatchParams       json.RawMessage   `json:"batch_params"`
	FunctionName      string            `json:"function_name"`
	VariantName       string            `json:"variant_name"`
	ModelName         string            `json:"model_name"`
	ModelProviderName string            `json:"model_provider_name"`
	InferenceIDs      []uuid.UUID       `json:"inference_ids"`
	Status            BatchStatus       `json:"status"`
	RawRequest        string            `json:"raw_request"`
	RawResponse       string            `json:"raw_response"`
	Errors            []json.RawMessage `json:"errors,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// BatchOutput is the result of one inference within a completed batch.
type BatchOutput struct {
	ID           uuid.UUID       `json:"id"`
	Output       content.Outputs `json:"output"`
	RawResponse  string          `json:"raw_response"`
	Usage        usage.Usage     `json:"usage"`
	FinishReason FinishReason    `json:"finish_reason,omitempty"`
}

// PollBatchResponse is the result of polling a batch. Outputs is only set
// when Status is completed, keyed by inference ID.
type PollBatchResponse struct {
	Status      BatchStatus               `json:"status"`
	RawRequest  string                    `json:"raw_request"`
	RawResponse string                    `json:"raw_response"`
	Outputs     map[uuid.UUID]BatchOutput `json:"outputs,omitempty"`
}
