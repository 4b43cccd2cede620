package forge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/mergegate/mergegate/models"
)

func TestListChangedFilesPaginates(t *testing.T) {
	// Two full pages plus a short final one
	total := perPage*2 + 17

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/octo/widget/pulls/9/files" {
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))

		start := (page - 1) * perPage
		var batch []map[string]string
		for i := start; i < total && i < start+perPage; i++ {
			batch = append(batch, map[string]string{"filename": fmt.Sprintf("file-%d", i)})
		}
		json.NewEncoder(w).Encode(batch)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	files, err := c.ListChangedFiles(context.Background(), "octo", "widget", 9)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(files) != total {
		t.Fatalf("expected %d files, got %d", total, len(files))
	}
	if files[0] != "file-0" || files[total-1] != fmt.Sprintf("file-%d", total-1) {
		t.Fatalf("unexpected page stitching: first=%s last=%s", files[0], files[total-1])
	}
}

func TestListLabels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected auth header %q", got)
		}
		if got := r.Header.Get("Accept"); got != "application/vnd.github+json" {
			t.Errorf("unexpected accept header %q", got)
		}
		fmt.Fprint(w, `[{"name":"bug"},{"name":"no changelog"}]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	labels, err := c.ListLabels(context.Background(), "octo", "widget", 9)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(labels) != 2 || labels[1] != "no changelog" {
		t.Fatalf("unexpected labels %v", labels)
	}
}

func TestUnauthorizedIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bad")
	_, err := c.ListLabels(context.Background(), "octo", "widget", 9)

	var authErr *models.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if authErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", authErr.StatusCode)
	}
}

func TestUnreachableForgeIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens anymore

	c := NewClient(srv.URL, "tok")
	c.http.RetryMax = 0

	_, err := c.ListChangedFiles(context.Background(), "octo", "widget", 9)
	var authErr *models.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if authErr.StatusCode != 0 {
		t.Fatalf("unreachable forge must carry no status code, got %d", authErr.StatusCode)
	}
}

func TestCreateStatus(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if r.URL.Path != "/repos/octo/widget/statuses/abc123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	err := c.CreateStatus(context.Background(), "octo", "widget", "abc123",
		StatusFailure, "ci/test", "2 steps failed")
	if err != nil {
		t.Fatalf("create status failed: %v", err)
	}

	if got["state"] != "failure" || got["context"] != "ci/test" || got["description"] != "2 steps failed" {
		t.Fatalf("unexpected payload %v", got)
	}
}

func TestCreateStatusTruncatesDescription(t *testing.T) {
	var desc string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		json.NewDecoder(r.Body).Decode(&payload)
		desc = payload["description"]
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}

	c := NewClient(srv.URL, "tok")
	if err := c.CreateStatus(context.Background(), "o", "r", "sha", StatusSuccess, "ctx", string(long)); err != nil {
		t.Fatal(err)
	}
	if len(desc) != 140 {
		t.Fatalf("expected description capped at 140 chars, got %d", len(desc))
	}
}

func TestCreateStatusTruncationKeepsRunesIntact(t *testing.T) {
	var desc string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		json.NewDecoder(r.Body).Decode(&payload)
		desc = payload["description"]
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	// 100 two-byte runes, so a byte cut at 137 would land mid-rune
	long := strings.Repeat("é", 100)

	c := NewClient(srv.URL, "tok")
	if err := c.CreateStatus(context.Background(), "o", "r", "sha", StatusFailure, "ctx", long); err != nil {
		t.Fatal(err)
	}
	if len(desc) > 140 {
		t.Fatalf("expected description capped at 140 bytes, got %d", len(desc))
	}
	if !utf8.ValidString(desc) {
		t.Fatalf("truncated description is not valid UTF-8: %q", desc)
	}
	if !strings.HasSuffix(desc, "...") {
		t.Fatalf("expected truncation marker, got %q", desc)
	}
}
