package serve

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ormasoftchile/blueprint/pkg/kernel/mode"
	"github.com/ormasoftchile/blueprint/pkg/orchestrator"
	"github.com/ormasoftchile/blueprint/pkg/store"
)

// maxRequestBody bounds a POST /execute body.
const maxRequestBody = 4 << 20

// HTTPOptions configures the delegated-execution endpoint.
type HTTPOptions struct {
	Token  string // when set, requests must carry it as a bearer token
	Logger *zap.SugaredLogger

	// Service, when set, also exposes stored blueprints and run records.
	Service *orchestrator.Service
}

// NewHandler returns the HTTP surface of a delegated-execution endpoint:
//
//	POST /execute  {runId, blueprint, variables} → RunResult
//	GET  /healthz
//
// With a Service configured it also serves:
//
//	POST /orgs/{org}/blueprints/{id}/runs  {variables} → RunRecord
//	GET  /runs/{id}                        → RunRecord
//	POST /runs/{id}/cancel
//
// Runs that fail still answer 200; the failure is in the result body.
func NewHandler(run RunFunc, opts HTTPOptions) http.Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	h := &httpHandler{run: run, token: opts.Token, log: log, svc: opts.Service}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute", h.execute)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.svc != nil {
		mux.HandleFunc("POST /orgs/{org}/blueprints/{id}/runs", h.submit)
		mux.HandleFunc("GET /runs/{id}", h.getRun)
		mux.HandleFunc("POST /runs/{id}/cancel", h.cancelRun)
	}
	return mux
}

type httpHandler struct {
	run   RunFunc
	token string
	log   *zap.SugaredLogger
	svc   *orchestrator.Service
}

func (h *httpHandler) authorized(r *http.Request) bool {
	if h.token == "" {
		return true
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) == 1
}

func (h *httpHandler) execute(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
		return
	}

	var req mode.DelegatedRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Blueprint == nil {
		writeError(w, http.StatusBadRequest, errors.New("blueprint is required"))
		return
	}
	if req.RunID != "" && !mode.ValidRunID(req.RunID) {
		writeError(w, http.StatusBadRequest, mode.ErrInvalidRunID)
		return
	}

	// Blueprint content is not validated here: an unknown tile kind must
	// fail at its step, as it would in a direct run.
	log := h.log.With("run_id", req.RunID, "blueprint", req.Blueprint.Name)
	log.Infow("delegated run accepted")
	result := h.run(r.Context(), mode.Request{RunID: req.RunID, Blueprint: req.Blueprint, Vars: req.Variables})
	log.Infow("delegated run finished", "success", result.Success, "duration_ms", result.Duration)
	writeJSON(w, http.StatusOK, result)
}

// SubmitRequest is the body of a run submission.
type SubmitRequest struct {
	Variables map[string]any `json:"variables,omitempty"`
}

func (h *httpHandler) submit(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
		return
	}
	var req SubmitRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	// Workflow runs outlive the request.
	rec, err := h.svc.Execute(context.WithoutCancel(r.Context()), r.PathValue("org"), r.PathValue("id"), req.Variables)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	status := http.StatusOK
	if !rec.Status.Terminal() {
		status = http.StatusAccepted
	}
	writeJSON(w, status, rec)
}

func (h *httpHandler) getRun(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
		return
	}
	rec, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *httpHandler) cancelRun(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
		return
	}
	if err := h.svc.Cancel(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrNotCancellable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
