// Package rest exposes an engine's client operations over HTTP. It is an
// optional surface: the engine stays fully usable in-process without it.
package rest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/braidflow/braid/pkg/api"
)

// Server serves the engine API:
//
//	GET  /workflows
//	GET  /workflows/{name}
//	POST /workflows/{name}/runs       body {"input": ...}; ?wait=true blocks
//	GET  /runs                        ?workflow=...&status=...
//	GET  /runs/{id}
//	POST /runs/{id}/resume            body {"stepId": ..., "contextData": ...}
//	POST /runs/{id}/cancel
//	GET  /runs/{id}/watch             Server-Sent Events, one event per record
type Server struct {
	eng    api.Engine
	logger *slog.Logger
}

// NewHandler creates an HTTP handler for the engine. If logger is nil,
// slog.Default() is used.
func NewHandler(eng api.Engine, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{eng: eng, logger: logger}

	r := chi.NewRouter()
	r.Get("/workflows", s.listWorkflows)
	r.Get("/workflows/{name}", s.getWorkflow)
	r.Post("/workflows/{name}/runs", s.startRun)
	r.Get("/runs", s.listRuns)
	r.Get("/runs/{id}", s.runState)
	r.Post("/runs/{id}/resume", s.resume)
	r.Post("/runs/{id}/cancel", s.cancel)
	r.Get("/runs/{id}/watch", s.watch)
	return r
}

// workflowView is the serializable shape of a definition; executors and
// conditions are Go values and stay out of the wire format.
type workflowView struct {
	Name  string     `json:"name"`
	Steps []stepView `json:"steps"`
	Edges []edgeView `json:"edges"`
}

type stepView struct {
	ID      string `json:"id"`
	Guarded bool   `json:"guarded,omitempty"`
}

type edgeView struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"`
	Mode string `json:"mode,omitempty"`
}

func viewOf(def api.WorkflowDefinition) workflowView {
	v := workflowView{Name: def.Name}
	for _, s := range def.Steps {
		v.Steps = append(v.Steps, stepView{ID: s.ID, Guarded: s.When != nil})
	}
	for _, e := range def.Edges {
		ev := edgeView{From: e.From, To: e.To, Kind: string(e.Kind)}
		if e.Loop != nil {
			ev.Mode = string(e.Loop.Mode)
		}
		v.Edges = append(v.Edges, ev)
	}
	return v
}

func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.eng.ListWorkflows(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, summaries)
}

func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	def, err := s.eng.GetWorkflow(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, viewOf(def))
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Input any `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	name := chi.URLParam(r, "name")

	if r.URL.Query().Get("wait") == "true" {
		result, err := s.eng.Execute(r.Context(), name, body.Input)
		if err != nil && result == nil {
			s.fail(w, err)
			return
		}
		s.respond(w, http.StatusOK, result)
		return
	}

	runID, err := s.eng.Start(r.Context(), name, body.Input)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusAccepted, map[string]string{"runId": runID})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	opts := api.RunListOptions{
		Workflow: r.URL.Query().Get("workflow"),
		Status:   api.RunStatus(r.URL.Query().Get("status")),
	}
	runs, err := s.eng.ListRuns(r.Context(), opts)
	if err != nil {
		s.fail(w, err)
		return
	}
	if runs == nil {
		runs = []*api.RunResult{}
	}
	s.respond(w, http.StatusOK, runs)
}

func (s *Server) runState(w http.ResponseWriter, r *http.Request) {
	result, err := s.eng.RunState(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, result)
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StepID      string `json:"stepId"`
		ContextData any    `json:"contextData"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.eng.Resume(r.Context(), api.ResumeRequest{
		RunID:       chi.URLParam(r, "id"),
		StepID:      body.StepID,
		ContextData: body.ContextData,
	})
	if err != nil && result == nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, result)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// watch streams the run's transition records as Server-Sent Events. The
// response ends when the run reaches a terminal state or the client
// disconnects.
func (s *Server) watch(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	records, err := s.eng.Watch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for rec := range records {
		if _, err := w.Write([]byte("data: ")); err != nil {
			return
		}
		if err := enc.Encode(rec); err != nil {
			s.logger.Warn("watch: encode record", "error", err)
			return
		}
		// Encoder already wrote one newline; SSE events end with a blank line.
		if _, err := w.Write([]byte("\n")); err != nil {
			return
		}
		flusher.Flush()
	}
}

func (s *Server) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

// fail maps the engine's typed errors onto HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var defErr *api.DefinitionError
	var notFound *api.RunNotFoundError
	var notSuspended *api.StepNotSuspendedError
	switch {
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &notSuspended):
		status = http.StatusConflict
	case errors.As(err, &defErr):
		status = http.StatusNotFound
	}
	s.respond(w, status, map[string]string{"error": err.Error()})
}
