package broker

import (
	"encoding/json"
	"net/http"

	"github.com/neuralnoy/lokutor-workers/internal/observability"
)

type lockRequest struct {
	AppID           string `json:"app_id"`
	EstimatedTokens int    `json:"estimated_tokens"`
}

type commitRequest struct {
	AppID            string `json:"app_id"`
	RequestID        string `json:"request_id"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

type releaseRequest struct {
	AppID     string `json:"app_id"`
	RequestID string `json:"request_id"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

// Handler returns an http.Handler exposing the broker's four operations as
// JSON endpoints, for deployments that run the broker as a standalone
// service shared by several worker processes.
func (b *Broker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /lock", b.handleLock)
	mux.HandleFunc("POST /commit", b.handleCommit)
	mux.HandleFunc("POST /release", b.handleRelease)
	mux.HandleFunc("GET /status", b.handleStatus)
	return mux
}

func (b *Broker) handleLock(w http.ResponseWriter, r *http.Request) {
	var req lockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid lock request body", http.StatusBadRequest)
		return
	}
	res := b.Lock(req.AppID, req.EstimatedTokens)
	if !res.Allowed {
		observability.LoggerWithTrace(r.Context()).Info().
			Str("app_id", req.AppID).
			Int("estimated_tokens", req.EstimatedTokens).
			Str("reason", res.Reason).
			Float64("reset_seconds", res.ResetSeconds).
			Msg("token lock denied")
	}
	writeJSON(w, res)
}

func (b *Broker) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid commit request body", http.StatusBadRequest)
		return
	}
	ok := b.Commit(req.AppID, req.RequestID, req.PromptTokens, req.CompletionTokens)
	writeJSON(w, okResponse{OK: ok})
}

func (b *Broker) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid release request body", http.StatusBadRequest)
		return
	}
	ok := b.Release(req.AppID, req.RequestID)
	writeJSON(w, okResponse{OK: ok})
}

func (b *Broker) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, b.Status())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
