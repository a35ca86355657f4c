// Package control exposes the local process control surface over HTTP.
//
// The server binds to loopback and is consumed by the listctl CLI: start or
// stop one account's worker, inspect worker status, and trigger a scheduling
// run. It carries no authentication; do not bind it to a public interface.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"listsync/internal/scheduler"
	"listsync/internal/store"
	"listsync/internal/supervisor"
	"listsync/pkg/api"
)

// Server wires the supervisor and scheduler to HTTP handlers.
type Server struct {
	sup      *supervisor.Supervisor
	sched    *scheduler.Scheduler
	accounts store.AccountStore
	log      *slog.Logger
	http     *http.Server
}

// New builds the control server for the given listen address.
func New(addr string, sup *supervisor.Supervisor, sched *scheduler.Scheduler, accounts store.AccountStore, log *slog.Logger) *Server {
	s := &Server{sup: sup, sched: sched, accounts: accounts, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /accounts/{id}/start", s.handleStart)
	mux.HandleFunc("POST /accounts/{id}/stop", s.handleStop)
	mux.HandleFunc("POST /schedule", s.handleSchedule)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving the control API.
func (s *Server) ListenAndServe() error {
	s.log.Info("control API listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler returns the route handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	statuses := s.sup.Status()

	resp := api.StatusResponse{Workers: make([]api.WorkerStatus, 0, len(statuses))}
	for _, st := range statuses {
		resp.Workers = append(resp.Workers, api.WorkerStatus{
			AccountID: st.AccountID,
			PID:       st.PID,
			State:     string(st.State),
			Restarts:  st.Restarts,
			StartedAt: st.StartedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")

	err := s.sup.Start(r.Context(), accountID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, supervisor.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "already_running", err)
	case errors.Is(err, supervisor.ErrLocked):
		writeError(w, http.StatusConflict, "locked", err)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown_account", err)
	default:
		s.log.Error("start failed", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "", err)
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := s.sup.Stop(ctx, accountID); err != nil {
		// Operators must be able to tell "no such worker" from a worker
		// that refused to drain.
		if errors.Is(err, supervisor.ErrNoWorker) {
			writeError(w, http.StatusNotFound, "unknown_worker", err)
			return
		}
		s.log.Error("stop failed", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "stop_failed", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req api.ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if req.AccountID == "" || len(req.ItemIDs) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request",
			fmt.Errorf("account_id and item_ids are required"))
		return
	}

	account, err := s.accounts.GetAccount(r.Context(), req.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown_account", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "", err)
		return
	}

	res, err := s.sched.Schedule(r.Context(), account, req.ItemIDs, req.Priority)
	if err != nil {
		s.log.Error("scheduling run failed", "account_id", req.AccountID, "error", err)
		writeError(w, http.StatusInternalServerError, "", err)
		return
	}

	writeJSON(w, http.StatusOK, api.ScheduleResponse{
		Scheduled: res.Scheduled,
		Skipped:   res.Skipped,
		Deferred:  res.Deferred,
		DaysUsed:  res.DaysUsed,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, api.ErrorResponse{Error: err.Error(), Code: code})
}
