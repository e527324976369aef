package platform

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"

	leaddomain "outreach-sync-engine/internal/lead/domain"
)

// ErrNotSupported is returned for operations a platform does not offer.
var ErrNotSupported = errors.New("operation not supported by platform")

// InstantlyConnector reads campaign leads and email events from the Instantly
// API (cursor-paginated, bearer auth).
type InstantlyConnector struct {
	client *apiClient
}

// NewInstantlyConnector returns a connector for the Instantly API.
func NewInstantlyConnector(baseURL, apiKey string, limiter Limiter) *InstantlyConnector {
	return &InstantlyConnector{
		client: newAPIClient("instantly", baseURL, "Authorization", "Bearer "+apiKey, limiter),
	}
}

func (c *InstantlyConnector) Name() string { return "instantly" }

// WithLimiter returns a copy of the connector bound to the given limiter.
func (c *InstantlyConnector) WithLimiter(l Limiter) Connector {
	return &InstantlyConnector{client: c.client.withLimiter(l)}
}

type instantlyLead struct {
	Email        string `json:"email"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	CompanyName  string `json:"company_name"`
	JobTitle     string `json:"job_title"`
	CampaignName string `json:"campaign_name"`
}

type instantlyLeadPage struct {
	Items             []instantlyLead `json:"items"`
	NextStartingAfter string          `json:"next_starting_after"`
}

// FetchUsers returns one page of campaign leads created inside the window.
func (c *InstantlyConnector) FetchUsers(ctx context.Context, w Window, cursor string, limit int) ([]User, string, bool, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("created_after", w.Start.UTC().Format(time.RFC3339))
	q.Set("created_before", w.End.UTC().Format(time.RFC3339))
	if cursor != "" {
		q.Set("starting_after", cursor)
	}
	var page instantlyLeadPage
	if err := c.client.getJSON(ctx, "/leads", q, &page); err != nil {
		return nil, "", false, err
	}
	users := make([]User, 0, len(page.Items))
	for _, it := range page.Items {
		name := it.FirstName
		if it.LastName != "" {
			if name != "" {
				name += " "
			}
			name += it.LastName
		}
		users = append(users, User{
			Email:    it.Email,
			Name:     name,
			Company:  it.CompanyName,
			Title:    it.JobTitle,
			Campaign: it.CampaignName,
		})
	}
	return users, page.NextStartingAfter, page.NextStartingAfter != "", nil
}

type instantlyEvent struct {
	ID           string         `json:"id"`
	EventType    string         `json:"event_type"`
	LeadEmail    string         `json:"lead_email"`
	CampaignName string         `json:"campaign_name"`
	Timestamp    time.Time      `json:"timestamp"`
	Payload      map[string]any `json:"payload"`
}

type instantlyEventPage struct {
	Items             []instantlyEvent `json:"items"`
	NextStartingAfter string           `json:"next_starting_after"`
}

// instantlyEventTypes maps Instantly event names to canonical event types.
var instantlyEventTypes = map[string]string{
	"email_opened":      "email_open",
	"link_clicked":      "email_click",
	"reply_received":    "email_reply",
	"lead_unsubscribed": "unsubscribe",
}

// FetchEvents returns one page of email engagement events inside the window.
func (c *InstantlyConnector) FetchEvents(ctx context.Context, w Window, cursor string, limit int) ([]Event, string, bool, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("occurred_after", w.Start.UTC().Format(time.RFC3339))
	q.Set("occurred_before", w.End.UTC().Format(time.RFC3339))
	if cursor != "" {
		q.Set("starting_after", cursor)
	}
	var page instantlyEventPage
	if err := c.client.getJSON(ctx, "/emails/events", q, &page); err != nil {
		return nil, "", false, err
	}
	events := make([]Event, 0, len(page.Items))
	for _, it := range page.Items {
		typ, ok := instantlyEventTypes[it.EventType]
		if !ok {
			typ = it.EventType
		}
		events = append(events, Event{
			ExternalID: it.ID,
			Type:       typ,
			Email:      it.LeadEmail,
			Campaign:   it.CampaignName,
			OccurredAt: it.Timestamp,
			Metadata:   it.Payload,
		})
	}
	return events, page.NextStartingAfter, page.NextStartingAfter != "", nil
}

// UpsertUser adds or updates a campaign lead by email.
func (c *InstantlyConnector) UpsertUser(ctx context.Context, lead *leaddomain.Lead) error {
	body := map[string]any{
		"email":        lead.Email,
		"first_name":   lead.Name,
		"company_name": lead.Company,
	}
	return c.client.postJSON(ctx, "/leads", body, nil)
}

// Notify is not supported; Instantly has no timeline surface.
func (c *InstantlyConnector) Notify(ctx context.Context, entry TimelineEntry) error {
	return Fatalf("instantly notify", "%v", ErrNotSupported)
}

// Ping checks API reachability and auth.
func (c *InstantlyConnector) Ping(ctx context.Context) error {
	q := url.Values{}
	q.Set("limit", "1")
	return c.client.getJSON(ctx, "/campaigns", q, nil)
}
