package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"outreach-sync-engine/internal/syncjob/domain"
)

// CallbackPayload is the body POSTed to a job's callback URL on terminal state.
type CallbackPayload struct {
	JobID      string          `json:"job_id"`
	Status     string          `json:"status"`
	Error      string          `json:"error,omitempty"`
	Summary    *domain.Summary `json:"summary,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// WebhookNotifier POSTs a completion callback to the URL the job was
// submitted with. Jobs without a callback URL are skipped; non-terminal
// lifecycle events are not delivered over webhooks.
type WebhookNotifier struct {
	// DefaultURL is used when a job carries no callback URL of its own.
	DefaultURL string
	httpClient *http.Client
}

// NewWebhookNotifier returns a webhook notifier. defaultURL may be empty.
func NewWebhookNotifier(defaultURL string) *WebhookNotifier {
	return &WebhookNotifier{
		DefaultURL: defaultURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// JobEvent delivers the callback for terminal events.
func (n *WebhookNotifier) JobEvent(ctx context.Context, job *domain.Job, event string) error {
	if n == nil || job == nil || !job.Status.IsTerminal() {
		return nil
	}
	url := job.CallbackURL
	if url == "" {
		url = n.DefaultURL
	}
	if url == "" {
		return nil
	}

	payload, err := json.Marshal(CallbackPayload{
		JobID:      job.ID,
		Status:     string(job.Status),
		Error:      job.Error,
		Summary:    job.Summary,
		FinishedAt: job.FinishedAt,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned %s", resp.Status)
	}
	return nil
}
