package dispatch

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mergegate/mergegate/models"
	"github.com/mergegate/mergegate/store"
)

func newTestServer(t *testing.T, secret string) (*Server, *store.Store) {
	t.Helper()
	d, st := newDispatcher(t, ciWorkflow("ci", "true"))
	return NewServer(d, st, secret, quietLog()), st
}

func postWebhook(t *testing.T, srv *Server, eventType, signature string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", eventType)
	req.Header.Set("X-GitHub-Delivery", "delivery-1")
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestWebhookDispatchesRun(t *testing.T) {
	srv, st := newTestServer(t, "")

	w := postWebhook(t, srv, "pull_request", "", webhookBody("opened", 3))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body)
	}

	var resp struct {
		Status string   `json:"status"`
		Runs   []string `json:"runs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "dispatched" || len(resp.Runs) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}

	rec := waitPersisted(t, st, resp.Runs[0])
	if rec.Status != models.StatusSuccess {
		t.Fatalf("expected success, got %s", rec.Status)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	srv, st := newTestServer(t, "s3cret")

	body := webhookBody("opened", 3)
	w := postWebhook(t, srv, "pull_request", "sha256=deadbeef", body)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	w = postWebhook(t, srv, "pull_request", signBody("s3cret", body), body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 with valid signature, got %d", w.Code)
	}

	var resp struct {
		Runs []string `json:"runs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	for _, id := range resp.Runs {
		waitPersisted(t, st, id)
	}
}

func TestWebhookIgnoresOtherEventTypes(t *testing.T) {
	srv, _ := newTestServer(t, "")

	w := postWebhook(t, srv, "push", "", []byte(`{}`))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "ignored") {
		t.Fatalf("expected ignored response, got %s", w.Body)
	}
}

func TestWebhookIgnoresClosedAction(t *testing.T) {
	srv, _ := newTestServer(t, "")

	w := postWebhook(t, srv, "pull_request", "", webhookBody("closed", 3))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ignored") {
		t.Fatalf("expected ignored response, got %d: %s", w.Code, w.Body)
	}
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	srv, _ := newTestServer(t, "")

	w := postWebhook(t, srv, "pull_request", "", []byte("{broken"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestListWorkflows(t *testing.T) {
	srv, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/api/workflows", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out []struct {
		Name string   `json:"name"`
		Jobs []string `json:"jobs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Name != "ci" || len(out[0].Jobs) != 1 {
		t.Fatalf("unexpected workflows %+v", out)
	}
}

func TestGetRunFromJournal(t *testing.T) {
	srv, st := newTestServer(t, "")

	err := st.Append(store.RunRecord{
		ID:       "run-1",
		Workflow: "ci",
		Status:   models.StatusFailure,
		Jobs: map[string]store.JobRecord{
			"build": {Status: models.StatusFailure, Error: "exit 1"},
		},
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/runs/run-1", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var rec store.RunRecord
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Status != models.StatusFailure || rec.Jobs["build"].Error != "exit 1" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestGetRunNotFound(t *testing.T) {
	srv, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/api/runs/nope", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestJobLogEndpoint(t *testing.T) {
	srv, st := newTestServer(t, "")

	lw, err := st.OpenJobLog("run-1", "build")
	if err != nil {
		t.Fatal(err)
	}
	lw.Write([]byte("--- step: compile\n"))
	lw.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/runs/run-1/jobs/build/log", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "compile") {
		t.Fatalf("unexpected log body %q", w.Body)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/runs/run-1/jobs/missing/log", nil)
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing log, got %d", w.Code)
	}
}

func TestGetRunInFlight(t *testing.T) {
	wf := ciWorkflow("ci", "sleep 10")
	d, st := newDispatcher(t, wf)
	srv := NewServer(d, st, "", quietLog())

	run, err := d.Trigger(wf, prTrigger(1))
	if err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	defer func() {
		run.Cancel()
		run.Wait()
		waitPersisted(t, st, run.ID)
	}()

	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+run.ID, nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Status models.Status `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != models.StatusRunning {
		t.Fatalf("in-flight run reported %q, want %q", resp.Status, models.StatusRunning)
	}
}
