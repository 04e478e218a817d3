package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/dropbox_exporter/internal/downloader"
	"github.com/italolelis/dropbox_exporter/internal/logctx"
	"github.com/italolelis/dropbox_exporter/internal/storage"
)

const defaultRunsLimit = 20

// StatusProvider exposes the state of the running export.
type StatusProvider interface {
	Status() downloader.Status
}

type RunResponse struct {
	RunID       string `json:"run_id"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Account     string `json:"account,omitempty"`
	Status      string `json:"status"`
	Total       int    `json:"total"`
	Downloaded  int    `json:"downloaded"`
	Skipped     int    `json:"skipped"`
	Failed      int    `json:"failed"`
	Bytes       int64  `json:"bytes"`
	StartedAt   string `json:"started_at"`
	FinishedAt  string `json:"finished_at,omitempty"`
	Error       string `json:"error,omitempty"`
}

type FileResponse struct {
	RemotePath string `json:"remote_path"`
	LocalPath  string `json:"local_path"`
	Status     string `json:"status"`
	Size       int64  `json:"size"`
	Error      string `json:"error,omitempty"`
	RecordedAt string `json:"recorded_at"`
}

// StatusHandler serves the export status and the export journal.
type StatusHandler struct {
	status   StatusProvider
	journal  storage.ExportReadRepository
	username string
	password string
}

// NewStatusHandler creates the status handler. journal may be nil, in which
// case the journal endpoints are not mounted. Basic auth is enforced when
// username is set.
func NewStatusHandler(status StatusProvider, journal storage.ExportReadRepository, username, password string) *StatusHandler {
	return &StatusHandler{
		status:   status,
		journal:  journal,
		username: username,
		password: password,
	}
}

func (h *StatusHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", h.HandleHealth)

	r.Group(func(r chi.Router) {
		if h.username != "" {
			r.Use(h.basicAuthMiddleware)
		}

		r.Get("/status", h.HandleStatus)

		if h.journal != nil {
			r.Get("/runs", h.HandleRuns)
			r.Get("/runs/{runID}", h.HandleRun)
			r.Get("/runs/{runID}/files", h.HandleRunFiles)
		}
	})

	return r
}

func (h *StatusHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleStatus reports the state of the export of this process.
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.status.Status())
}

// HandleRuns lists the most recent journaled runs.
func (h *StatusHandler) HandleRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)

			return
		}

		limit = n
	}

	runs, err := h.journal.GetRuns(limit)
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to read runs", "err", err)
		http.Error(w, "failed to read runs", http.StatusInternalServerError)

		return
	}

	resp := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, toRunResponse(run))
	}

	writeJSON(w, r, http.StatusOK, resp)
}

func (h *StatusHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.journal.GetRun(chi.URLParam(r, "runID"))
	if err != nil {
		h.journalError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusOK, toRunResponse(run))
}

// HandleRunFiles lists the journaled file outcomes of a run.
func (h *StatusHandler) HandleRunFiles(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if _, err := h.journal.GetRun(runID); err != nil {
		h.journalError(w, r, err)

		return
	}

	files, err := h.journal.GetFiles(runID)
	if err != nil {
		h.journalError(w, r, err)

		return
	}

	resp := make([]FileResponse, 0, len(files))
	for _, f := range files {
		resp = append(resp, FileResponse{
			RemotePath: f.RemotePath,
			LocalPath:  f.LocalPath,
			Status:     f.Status,
			Size:       f.Size,
			Error:      f.Error,
			RecordedAt: f.RecordedAt,
		})
	}

	writeJSON(w, r, http.StatusOK, resp)
}

func (h *StatusHandler) journalError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrRunNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)

		return
	}

	logctx.LoggerFromContext(r.Context()).Error("failed to read journal", "err", err)
	http.Error(w, "failed to read journal", http.StatusInternalServerError)
}

func (h *StatusHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func toRunResponse(run storage.RunRecord) RunResponse {
	return RunResponse{
		RunID:       run.RunID,
		Source:      run.Source,
		Destination: run.Destination,
		Account:     run.Account,
		Status:      run.Status,
		Total:       run.Total,
		Downloaded:  run.Downloaded,
		Skipped:     run.Skipped,
		Failed:      run.Failed,
		Bytes:       run.Bytes,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		Error:       run.Error,
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}
