// Package forge talks to the GitHub-compatible hosting platform: pull
// request metadata for the checks that need it, and commit statuses to
// surface job outcomes on the PR.
package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/mergegate/mergegate/models"
)

// DefaultBaseURL is the public GitHub REST endpoint
const DefaultBaseURL = "https://api.github.com"

const perPage = 100

// Client is a minimal REST client scoped to what the orchestrator needs
type Client struct {
	baseURL string
	token   string
	http    *retryablehttp.Client
}

// NewClient creates a client for the given API base URL. An empty baseURL
// selects the public GitHub endpoint.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    rc,
	}
}

// SetLogger routes retry logging through logrus
func (c *Client) SetLogger(log *logrus.Entry) {
	c.http.Logger = log
}

// ListChangedFiles returns the filenames modified by a pull request.
// Results are paginated by the forge; all pages are fetched.
func (c *Client) ListChangedFiles(ctx context.Context, owner, repo string, number int) ([]string, error) {
	var files []string
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/repos/%s/%s/pulls/%d/files?per_page=%d&page=%d",
			c.baseURL, owner, repo, number, perPage, page)

		var batch []struct {
			Filename string `json:"filename"`
		}
		if err := c.getJSON(ctx, "list pull request files", url, &batch); err != nil {
			return nil, err
		}

		for _, f := range batch {
			files = append(files, f.Filename)
		}
		if len(batch) < perPage {
			return files, nil
		}
	}
}

// ListLabels returns the label names attached to a pull request
func (c *Client) ListLabels(ctx context.Context, owner, repo string, number int) ([]string, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/issues/%d/labels?per_page=%d",
		c.baseURL, owner, repo, number, perPage)

	var batch []struct {
		Name string `json:"name"`
	}
	if err := c.getJSON(ctx, "list pull request labels", url, &batch); err != nil {
		return nil, err
	}

	labels := make([]string, 0, len(batch))
	for _, l := range batch {
		labels = append(labels, l.Name)
	}
	return labels, nil
}

// StatusState is a commit status outcome as the forge understands it
type StatusState string

const (
	StatusPending StatusState = "pending"
	StatusSuccess StatusState = "success"
	StatusFailure StatusState = "failure"
	StatusError   StatusState = "error"
)

// CreateStatus posts a commit status for a job on the PR head SHA.
// This is how run outcomes become merge-gating checks.
func (c *Client) CreateStatus(ctx context.Context, owner, repo, sha string, state StatusState, statusContext, description string) error {
	url := fmt.Sprintf("%s/repos/%s/%s/statuses/%s", c.baseURL, owner, repo, sha)

	payload, err := json.Marshal(map[string]string{
		"state":       string(state),
		"context":     statusContext,
		"description": truncate(description, 140),
	})
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &models.AuthError{Operation: "create commit status", Err: err}
	}
	defer resp.Body.Close()

	return c.checkResponse("create commit status", resp)
}

func (c *Client) getJSON(ctx context.Context, operation, url string, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		// The forge could not be reached at all: an infrastructure failure,
		// not a check failure.
		return &models.AuthError{Operation: operation, Err: err}
	}
	defer resp.Body.Close()

	if err := c.checkResponse(operation, resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) checkResponse(operation string, resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &models.AuthError{Operation: operation, StatusCode: resp.StatusCode}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s failed with status %d: %s", operation, resp.StatusCode, string(body))
	}
}

func (c *Client) setHeaders(req *retryablehttp.Request) {
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back up to a rune boundary so a multi-byte character is never split
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
