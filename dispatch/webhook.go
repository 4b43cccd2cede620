package dispatch

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mergegate/mergegate/models"
)

// acceptedActions are the pull_request actions that qualify as trigger
// events. Everything else (closed, assigned, ...) is ignored.
var acceptedActions = map[string]bool{
	"opened":      true,
	"synchronize": true,
	"reopened":    true,
	"labeled":     true,
	"unlabeled":   true,
}

// pullRequestPayload is the subset of the forge webhook body we consume
type pullRequestPayload struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Head struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		} `json:"head"`
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
		Labels []struct {
			Name string `json:"name"`
		} `json:"labels"`
	} `json:"pull_request"`
	Repository struct {
		Name     string `json:"name"`
		CloneURL string `json:"clone_url"`
		Owner    struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
}

// ParsePullRequestEvent converts a pull_request webhook body into an Event.
// Returns (nil, nil) for actions that do not qualify.
func ParsePullRequestEvent(body []byte, deliveryID string) (*models.Event, error) {
	var payload pullRequestPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse pull_request payload: %w", err)
	}

	if !acceptedActions[payload.Action] {
		return nil, nil
	}

	labels := make([]string, 0, len(payload.PullRequest.Labels))
	for _, l := range payload.PullRequest.Labels {
		labels = append(labels, l.Name)
	}

	return &models.Event{
		Kind:       models.EventPullRequest,
		Action:     payload.Action,
		DeliveryID: deliveryID,
		Owner:      payload.Repository.Owner.Login,
		Repo:       payload.Repository.Name,
		Number:     payload.Number,
		BaseBranch: payload.PullRequest.Base.Ref,
		HeadBranch: payload.PullRequest.Head.Ref,
		HeadSHA:    payload.PullRequest.Head.SHA,
		CloneURL:   payload.Repository.CloneURL,
		Labels:     labels,
		// ChangedFiles deliberately left nil: the webhook payload does not
		// carry the file list, steps that need it ask the forge
		ReceivedAt: time.Now(),
	}, nil
}

// VerifySignature checks the X-Hub-Signature-256 header against the shared
// webhook secret. An empty secret disables verification.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" {
		return true
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
