package dispatch

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/mergegate/mergegate/store"
)

// Server exposes the webhook endpoint and a small read API over the run
// history. It does not execute anything itself; that is the dispatcher's job.
type Server struct {
	dispatcher *Dispatcher
	store      *store.Store
	secret     string
	log        *logrus.Entry
}

// NewServer wires the HTTP surface around a dispatcher
func NewServer(d *Dispatcher, st *store.Store, webhookSecret string, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{dispatcher: d, store: st, secret: webhookSecret, log: log}
}

// Router builds the chi router for the server
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/webhook", s.handleWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Get("/workflows", s.handleListWorkflows)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Get("/runs/{id}/jobs/{job}/log", s.handleJobLog)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWebhook receives forge events. Only pull_request events with a
// qualifying action dispatch runs; everything else is acknowledged and
// dropped.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 5<<20))
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	if !VerifySignature(s.secret, body, r.Header.Get("X-Hub-Signature-256")) {
		s.log.Warn("webhook signature mismatch")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	if eventType != "pull_request" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "unsupported event type"})
		return
	}

	ev, err := ParsePullRequestEvent(body, r.Header.Get("X-GitHub-Delivery"))
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if ev == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "unsupported action"})
		return
	}

	started := s.dispatcher.HandleEvent(ev)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "dispatched",
		"runs":   started,
	})
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	type wfInfo struct {
		Name string   `json:"name"`
		Jobs []string `json:"jobs"`
	}
	var out []wfInfo
	for _, wf := range s.dispatcher.Workflows() {
		out = append(out, wfInfo{Name: wf.Name, Jobs: wf.JobIDs()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.List()
	if err != nil {
		http.Error(w, "failed to read run history", http.StatusInternalServerError)
		return
	}

	// Most recent first
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// In-flight runs are served live, completed ones from the journal
	if run, ok := s.dispatcher.Run(id); ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"id":       run.ID,
			"workflow": run.Workflow.Name,
			"status":   run.Status(),
			"jobs":     run.Results(),
		})
		return
	}

	rec, err := s.store.Get(id)
	if err != nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleJobLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := chi.URLParam(r, "job")

	data, err := s.store.ReadJobLog(id, job)
	if err != nil {
		http.Error(w, "log not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
