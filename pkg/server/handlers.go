package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/germanamz/relay/pkg/engine"
	"github.com/germanamz/relay/pkg/modeladapter"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 8 << 20

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}

	return true
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) functions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"functions": s.gateway.Functions()})
}

func (s *Server) usage(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.gateway.Usage())
}

func (s *Server) infer(w http.ResponseWriter, r *http.Request) {
	var req engine.InferenceRequest
	if !decode(w, r, &req) {
		return
	}

	resp, err := s.gateway.Infer(r.Context(), &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// streamFrame is a WebSocket message other than a chunk.
type streamFrame struct {
	Done   bool   `json:"done,omitempty"`
	Error  string `json:"error,omitempty"`
	Status int    `json:"status,omitempty"`
}

// inferStream upgrades to a WebSocket, reads one InferenceRequest and writes
// every chunk as a JSON message, then a final {"done":true} frame.
func (s *Server) inferStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	defer func() { _ = conn.CloseNow() }()

	var req engine.InferenceRequest
	if err := wsjson.Read(r.Context(), conn, &req); err != nil {
		_ = wsjson.Write(r.Context(), conn, streamFrame{Error: "invalid request: " + err.Error(), Status: http.StatusBadRequest})
		_ = conn.Close(websocket.StatusUnsupportedData, "invalid request")

		return
	}

	ctx := conn.CloseRead(r.Context())

	stream, err := s.gateway.InferStream(ctx, &req)
	if err != nil {
		_ = wsjson.Write(ctx, conn, streamFrame{Error: err.Error(), Status: statusFor(err)})
		_ = conn.Close(websocket.StatusNormalClosure, "")

		return
	}

	defer func() { _ = stream.Close() }()

	for {
		chunk, err := stream.Recv(ctx)
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			_ = wsjson.Write(ctx, conn, streamFrame{Error: err.Error(), Status: statusFor(err)})
			_ = conn.Close(websocket.StatusInternalError, "inference failed")

			return
		}

		if err := wsjson.Write(ctx, conn, chunk); err != nil {
			s.logger.Warn("websocket write failed", "inference_id", stream.InferenceID, "error", err)
			return
		}
	}

	if err := wsjson.Write(ctx, conn, streamFrame{Done: true}); err != nil {
		return
	}

	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) startBatch(w http.ResponseWriter, r *http.Request) {
	var req engine.BatchRequest
	if !decode(w, r, &req) {
		return
	}

	resp, err := s.gateway.StartBatch(r.Context(), &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, resp)
}

// pollRequest is the optional body of POST /batch/{id}.
type pollRequest struct {
	Credentials modeladapter.Credentials `json:"credentials"`
}

func (s *Server) pollBatch(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid batch id")
		return
	}

	var req pollRequest
	if r.Method == http.MethodPost && !decode(w, r, &req) {
		return
	}

	resp, err := s.gateway.PollBatch(r.Context(), id, req.Credentials)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) embed(w http.ResponseWriter, r *http.Request) {
	var req engine.EmbeddingRequest
	if !decode(w, r, &req) {
		return
	}

	resp, err := s.gateway.Embed(r.Context(), &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
