package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/dlplabs/proof-service/internal/domain/file"
	"github.com/dlplabs/proof-service/internal/httputil"
	"github.com/dlplabs/proof-service/internal/pipeline"
	"github.com/dlplabs/proof-service/internal/storage"
)

// transitionResponse reports a record's state after a stage transition.
type transitionResponse struct {
	FileID    uint64      `json:"fileId"`
	Status    file.Status `json:"status"`
	ProofTxn  string      `json:"proofTxn,omitempty"`
	RelayURL  string      `json:"relayUrl,omitempty"`
	IsOnchain bool        `json:"isOnchain"`
	Failure   string      `json:"failureReason,omitempty"`
}

func toTransitionResponse(rec file.Record) transitionResponse {
	return transitionResponse{
		FileID:    rec.BlockchainFileID,
		Status:    rec.Status,
		ProofTxn:  rec.ProofTxn,
		RelayURL:  rec.RelayURL,
		IsOnchain: rec.IsOnchain,
		Failure:   rec.FailureReason,
	}
}

func fileID(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["fileId"], 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	id, ok := fileID(r)
	if !ok {
		httputil.BadRequest(w, "fileId must be a positive integer")
		return
	}

	rec, err := s.files.GetFileByBlockchainID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		httputil.NotFound(w, "file not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTransitionResponse(rec))
}

// handleGetProof serves the verbose proof document. This is the endpoint the
// on-chain metadata's proof URL points at.
func (s *Server) handleGetProof(w http.ResponseWriter, r *http.Request) {
	id, ok := fileID(r)
	if !ok {
		httputil.BadRequest(w, "fileId must be a positive integer")
		return
	}

	rec, err := s.files.GetFileByBlockchainID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		httputil.NotFound(w, "file not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err.Error())
		return
	}
	if len(rec.VerboseProof) == 0 {
		httputil.NotFound(w, "no proof generated for file")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rec.VerboseProof)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	id, ok := fileID(r)
	if !ok {
		httputil.BadRequest(w, "fileId must be a positive integer")
		return
	}

	rec, err := s.orc.Generate(r.Context(), id)
	if errors.Is(err, pipeline.ErrAlreadySubmitted) {
		httputil.WriteJSON(w, http.StatusOK, toTransitionResponse(rec))
		return
	}
	if err != nil {
		httputil.InternalError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTransitionResponse(rec))
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, ok := fileID(r)
	if !ok {
		httputil.BadRequest(w, "fileId must be a positive integer")
		return
	}

	rec, err := s.orc.Submit(r.Context(), id)
	switch {
	case errors.Is(err, pipeline.ErrAlreadySubmitted):
		// Idempotent short-circuit, not a failure.
		httputil.WriteJSON(w, http.StatusOK, toTransitionResponse(rec))
	case errors.Is(err, storage.ErrNotFound):
		httputil.NotFound(w, "file not found")
	case errors.Is(err, pipeline.ErrNoProof):
		httputil.WriteError(w, http.StatusConflict, "no proof stored for file")
	case err != nil:
		httputil.InternalError(w, err.Error())
	default:
		httputil.WriteJSON(w, http.StatusOK, toTransitionResponse(rec))
	}
}

func (s *Server) handlePollStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := fileID(r)
	if !ok {
		httputil.BadRequest(w, "fileId must be a positive integer")
		return
	}

	rec, err := s.orc.PollStatus(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httputil.NotFound(w, "file not found")
	case errors.Is(err, pipeline.ErrNoRelayTask):
		httputil.WriteError(w, http.StatusConflict, "no relay task recorded for file")
	case err != nil:
		httputil.InternalError(w, err.Error())
	default:
		httputil.WriteJSON(w, http.StatusOK, toTransitionResponse(rec))
	}
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PublicIDs []string `json:"publicIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}
	if len(req.PublicIDs) == 0 {
		httputil.BadRequest(w, "publicIds required")
		return
	}

	results := s.syncer.SyncAccounts(r.Context(), req.PublicIDs)

	type syncResult struct {
		PublicID string `json:"publicId"`
		Ingested int    `json:"ingested"`
		Error    string `json:"error,omitempty"`
	}
	out := make([]syncResult, len(results))
	for i, res := range results {
		out[i] = syncResult{PublicID: res.PublicID, Ingested: res.Ingested}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"results": out})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":     "ok",
		"uptime_s":   int64(time.Since(s.start).Seconds()),
		"goroutines": runtime.NumGoroutine(),
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			health["rss_bytes"] = mem.RSS
		}
		if cpu, err := proc.CPUPercent(); err == nil {
			health["cpu_percent"] = cpu
		}
	}

	httputil.WriteJSON(w, http.StatusOK, health)
}
