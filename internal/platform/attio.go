package platform

import (
	"context"
	"time"

	leaddomain "outreach-sync-engine/internal/lead/domain"
)

// AttioConnector is the bidirectional CRM sink: qualified leads are upserted
// as person records (matched on email, so replays are harmless) and scoring
// milestones land on the record timeline as notes.
type AttioConnector struct {
	client *apiClient
}

// NewAttioConnector returns a connector for the Attio CRM API.
func NewAttioConnector(baseURL, apiKey string, limiter Limiter) *AttioConnector {
	return &AttioConnector{
		client: newAPIClient("attio", baseURL, "Authorization", "Bearer "+apiKey, limiter),
	}
}

func (c *AttioConnector) Name() string { return "attio" }

// WithLimiter returns a copy of the connector bound to the given limiter.
func (c *AttioConnector) WithLimiter(l Limiter) Connector {
	return &AttioConnector{client: c.client.withLimiter(l)}
}

type attioPerson struct {
	ID     string `json:"id"`
	Values struct {
		EmailAddresses []struct {
			EmailAddress string `json:"email_address"`
		} `json:"email_addresses"`
		Name        string    `json:"name"`
		CompanyName string    `json:"company_name"`
		JobTitle    string    `json:"job_title"`
		CreatedAt   time.Time `json:"created_at"`
	} `json:"values"`
}

type attioQueryPage struct {
	Data       []attioPerson `json:"data"`
	NextCursor string        `json:"next_cursor"`
}

type attioQueryRequest struct {
	Limit         int    `json:"limit"`
	Cursor        string `json:"cursor,omitempty"`
	CreatedAfter  string `json:"created_after,omitempty"`
	CreatedBefore string `json:"created_before,omitempty"`
}

// FetchUsers returns one page of CRM person records created inside the window.
func (c *AttioConnector) FetchUsers(ctx context.Context, w Window, cursor string, limit int) ([]User, string, bool, error) {
	req := attioQueryRequest{
		Limit:         limit,
		Cursor:        cursor,
		CreatedAfter:  w.Start.UTC().Format(time.RFC3339),
		CreatedBefore: w.End.UTC().Format(time.RFC3339),
	}
	var page attioQueryPage
	if err := c.client.postJSON(ctx, "/objects/people/records/query", req, &page); err != nil {
		return nil, "", false, err
	}
	users := make([]User, 0, len(page.Data))
	for _, p := range page.Data {
		if len(p.Values.EmailAddresses) == 0 {
			continue
		}
		users = append(users, User{
			Email:   p.Values.EmailAddresses[0].EmailAddress,
			Name:    p.Values.Name,
			Company: p.Values.CompanyName,
			Title:   p.Values.JobTitle,
		})
	}
	return users, page.NextCursor, page.NextCursor != "", nil
}

// FetchEvents returns no records; the CRM does not expose engagement events.
func (c *AttioConnector) FetchEvents(ctx context.Context, w Window, cursor string, limit int) ([]Event, string, bool, error) {
	return nil, "", false, nil
}

// UpsertUser writes the lead as a person record, matched on email address so
// the operation is idempotent.
func (c *AttioConnector) UpsertUser(ctx context.Context, lead *leaddomain.Lead) error {
	body := map[string]any{
		"data": map[string]any{
			"values": map[string]any{
				"email_addresses": []map[string]any{{"email_address": lead.Email}},
				"name":            lead.Name,
				"company_name":    lead.Company,
				"job_title":       lead.Title,
				"lead_score":      lead.LeadScore,
				"lead_grade":      lead.Grade,
			},
		},
	}
	return c.client.putJSON(ctx, "/objects/people/records?matching_attribute=email_addresses", body, nil)
}

// Notify writes a timeline note on the person record.
func (c *AttioConnector) Notify(ctx context.Context, entry TimelineEntry) error {
	body := map[string]any{
		"data": map[string]any{
			"parent_object": "people",
			"matching_attribute": map[string]any{
				"email_addresses": entry.Email,
			},
			"title":      entry.Title,
			"format":     "plaintext",
			"content":    entry.Body,
			"created_at": entry.OccurredAt.UTC().Format(time.RFC3339),
		},
	}
	return c.client.postJSON(ctx, "/notes", body, nil)
}

// Ping checks API reachability and auth.
func (c *AttioConnector) Ping(ctx context.Context) error {
	return c.client.getJSON(ctx, "/self", nil, nil)
}
