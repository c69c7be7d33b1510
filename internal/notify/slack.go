package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hamed0406/pipewatch/internal/domain"
)

type Slack struct {
	Webhook string
	Client  *http.Client
	// LinkURL, when set, adds a button pointing at the dashboard or API.
	LinkURL string
}

func NewSlack(webhook string) *Slack {
	if webhook == "" {
		return nil
	}
	return &Slack{
		Webhook: webhook,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// HTTPError is a non-2xx answer from a webhook endpoint.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string { return fmt.Sprintf("webhook returned %d", e.StatusCode) }

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackElement struct {
	Type string    `json:"type"`
	Text slackText `json:"text"`
	URL  string    `json:"url"`
}

type slackBlock struct {
	Type     string         `json:"type"`
	Text     *slackText     `json:"text,omitempty"`
	Fields   []slackText    `json:"fields,omitempty"`
	Elements []slackElement `json:"elements,omitempty"`
}

type slackPayload struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks,omitempty"`
}

func (s *Slack) Send(ctx context.Context, msg Message) error {
	if s == nil || s.Webhook == "" {
		return errors.New("slack disabled")
	}
	body, err := json.Marshal(s.payload(msg))
	if err != nil {
		return fmt.Errorf("slack payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Webhook, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return &HTTPError{StatusCode: resp.StatusCode}
	}
	return nil
}

func (s *Slack) payload(msg Message) slackPayload {
	p := slackPayload{Text: msg.Title}
	p.Blocks = append(p.Blocks, slackBlock{
		Type: "header",
		Text: &slackText{Type: "plain_text", Text: emoji(msg) + " " + msg.Title},
	})

	switch {
	case msg.Health != nil:
		rep := msg.Health
		fields := []slackText{
			mrkdwn("*Status:* " + string(rep.OverallStatus)),
			mrkdwn("*Generated:* " + rep.GeneratedAt.Format(time.RFC3339)),
		}
		if msg.Previous != "" {
			fields = append(fields, mrkdwn("*Previous:* "+string(msg.Previous)))
		}
		p.Blocks = append(p.Blocks, slackBlock{Type: "section", Fields: fields})
		if probs := Problems(*rep); len(probs) > 0 {
			p.Blocks = append(p.Blocks, slackBlock{
				Type: "section",
				Text: &slackText{Type: "mrkdwn", Text: "*Details:*\n```" + strings.Join(probs, "\n") + "```"},
			})
		}
	case msg.Backup != nil:
		rep := msg.Backup
		p.Blocks = append(p.Blocks, slackBlock{Type: "section", Fields: []slackText{
			mrkdwn("*Run:* " + string(rep.RunID)),
			mrkdwn(fmt.Sprintf("*Artifacts:* %d", len(rep.Artifacts))),
			mrkdwn(fmt.Sprintf("*Failed:* %d", len(rep.Failed()))),
		}})
		var lines []string
		for _, a := range rep.Artifacts {
			lines = append(lines, artifactLine(a))
		}
		if len(lines) > 0 {
			p.Blocks = append(p.Blocks, slackBlock{
				Type: "section",
				Text: &slackText{Type: "mrkdwn", Text: "```" + strings.Join(lines, "\n") + "```"},
			})
		}
	case msg.Summary != nil:
		sm := msg.Summary
		p.Blocks = append(p.Blocks, slackBlock{Type: "section", Fields: []slackText{
			mrkdwn(fmt.Sprintf("*Healthy Runs:* %d/%d", sm.HealthyRuns, sm.HealthRuns)),
			mrkdwn(fmt.Sprintf("*Failed Backups:* %d/%d", sm.FailedBackupRuns, sm.BackupRuns)),
			mrkdwn(fmt.Sprintf("*Data Freshness:* %.1fh", sm.MaxHoursBehind)),
			mrkdwn("*Latest Status:* " + string(sm.LatestStatus)),
		}})
		if len(sm.TopIssues) > 0 {
			p.Blocks = append(p.Blocks, slackBlock{
				Type: "section",
				Text: &slackText{Type: "mrkdwn", Text: "*Top issues:*\n• " + strings.Join(sm.TopIssues, "\n• ")},
			})
		}
	}

	if s.LinkURL != "" {
		p.Blocks = append(p.Blocks, slackBlock{Type: "actions", Elements: []slackElement{{
			Type: "button",
			Text: slackText{Type: "plain_text", Text: "Open report"},
			URL:  s.LinkURL,
		}}})
	}
	return p
}

func mrkdwn(s string) slackText { return slackText{Type: "mrkdwn", Text: s} }

func artifactLine(a domain.BackupArtifact) string {
	line := "ok   " + a.Category
	if !a.Succeeded {
		line = "FAIL " + a.Category + ": " + a.Error
	}
	if a.RemoteUploaded != nil && !*a.RemoteUploaded {
		line += " (relay failed: " + a.RemoteError + ")"
	}
	return line
}

func emoji(msg Message) string {
	switch {
	case msg.Health != nil && msg.Health.OverallStatus == domain.StatusHealthy:
		return "🟢"
	case msg.Health != nil && msg.Health.OverallStatus == domain.StatusDegraded:
		return "🟠"
	case msg.Health != nil:
		return "🔴"
	case msg.Backup != nil && !msg.Backup.OverallSucceeded:
		return "🚨"
	case msg.Backup != nil:
		return "💾"
	default:
		return "📈"
	}
}
