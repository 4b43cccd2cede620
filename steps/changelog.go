package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/mergegate/mergegate/forge"
	"github.com/mergegate/mergegate/models"
	"github.com/mergegate/mergegate/workflow"
)

// ChangelogStep verifies the pull request modified the designated changelog
// file. A PR carrying the exemption label passes unconditionally. The check
// uses labels and changed files from the event payload when present and asks
// the forge otherwise, which requires a token.
//
// Failure modes are distinct: a missing changelog is a check failure
// (ChangelogMissingError); a rejected token or unreachable forge is an
// infrastructure failure (AuthError).
type ChangelogStep struct {
	file        string
	exemptLabel string
	token       any
	apiURL      any
}

func (s *ChangelogStep) Execute(ctx context.Context, sc *models.StepContext) error {
	ev := sc.Event
	if ev == nil || ev.Kind != models.EventPullRequest {
		return fmt.Errorf("changelog step requires a pull_request event")
	}

	labels := ev.Labels
	files := ev.ChangedFiles

	if labels == nil || files == nil {
		client, err := s.client(sc)
		if err != nil {
			return err
		}
		if labels == nil {
			labels, err = client.ListLabels(ctx, ev.Owner, ev.Repo, ev.Number)
			if err != nil {
				return err
			}
		}
		if files == nil {
			files, err = client.ListChangedFiles(ctx, ev.Owner, ev.Repo, ev.Number)
			if err != nil {
				return err
			}
		}
	}

	for _, l := range labels {
		if strings.EqualFold(l, s.exemptLabel) {
			sc.Log.WithField("label", s.exemptLabel).Info("changelog check exempted by label")
			fmt.Fprintf(sc.LogWriter, "changelog check skipped: label %q present\n", s.exemptLabel)
			return nil
		}
	}

	for _, f := range files {
		if f == s.file {
			fmt.Fprintf(sc.LogWriter, "changelog check passed: %s modified\n", s.file)
			return nil
		}
	}

	return &models.ChangelogMissingError{File: s.file, ExemptLabel: s.exemptLabel}
}

func (s *ChangelogStep) client(sc *models.StepContext) (*forge.Client, error) {
	ec := exprContext(sc)

	token, err := workflow.ResolveString(s.token, ec)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve token: %w", err)
	}
	if token == "" {
		token = sc.Secrets["GITHUB_TOKEN"]
	}

	apiURL, err := workflow.ResolveString(s.apiURL, ec)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve api-url: %w", err)
	}

	client := forge.NewClient(apiURL, token)
	client.SetLogger(sc.Log)
	return client, nil
}

func init() {
	Register("changelog", func(with map[string]any) (Step, error) {
		file, _ := with["file"].(string)
		if file == "" {
			file = "CHANGELOG.md"
		}

		exemptLabel, _ := with["exempt-label"].(string)
		if exemptLabel == "" {
			exemptLabel = "no changelog"
		}

		return &ChangelogStep{
			file:        file,
			exemptLabel: exemptLabel,
			token:       with["token"],
			apiURL:      with["api-url"],
		}, nil
	})
}
