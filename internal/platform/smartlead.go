package platform

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	leaddomain "outreach-sync-engine/internal/lead/domain"
)

// SmartleadConnector reads campaign leads and email statistics from the
// Smartlead API. Smartlead paginates by offset and authenticates with an
// api_key query parameter.
type SmartleadConnector struct {
	client *apiClient
	apiKey string
}

// NewSmartleadConnector returns a connector for the Smartlead API.
func NewSmartleadConnector(baseURL, apiKey string, limiter Limiter) *SmartleadConnector {
	return &SmartleadConnector{
		client: newAPIClient("smartlead", baseURL, "", "", limiter),
		apiKey: apiKey,
	}
}

func (c *SmartleadConnector) Name() string { return "smartlead" }

// WithLimiter returns a copy of the connector bound to the given limiter.
func (c *SmartleadConnector) WithLimiter(l Limiter) Connector {
	return &SmartleadConnector{client: c.client.withLimiter(l), apiKey: c.apiKey}
}

func (c *SmartleadConnector) query(w Window, cursor string, limit int) (url.Values, int) {
	offset := 0
	if cursor != "" {
		if n, err := strconv.Atoi(cursor); err == nil && n > 0 {
			offset = n
		}
	}
	q := url.Values{}
	q.Set("api_key", c.apiKey)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("start_date", w.Start.UTC().Format(time.RFC3339))
	q.Set("end_date", w.End.UTC().Format(time.RFC3339))
	return q, offset
}

type smartleadLead struct {
	Email        string `json:"email"`
	Name         string `json:"name"`
	Company      string `json:"company"`
	Designation  string `json:"designation"`
	CampaignName string `json:"campaign_name"`
}

type smartleadLeadPage struct {
	Data  []smartleadLead `json:"data"`
	Total int             `json:"total"`
}

// FetchUsers returns one offset page of campaign leads inside the window.
func (c *SmartleadConnector) FetchUsers(ctx context.Context, w Window, cursor string, limit int) ([]User, string, bool, error) {
	q, offset := c.query(w, cursor, limit)
	var page smartleadLeadPage
	if err := c.client.getJSON(ctx, "/leads", q, &page); err != nil {
		return nil, "", false, err
	}
	users := make([]User, 0, len(page.Data))
	for _, it := range page.Data {
		users = append(users, User{
			Email:    it.Email,
			Name:     it.Name,
			Company:  it.Company,
			Title:    it.Designation,
			Campaign: it.CampaignName,
		})
	}
	next := offset + len(page.Data)
	hasMore := next < page.Total && len(page.Data) > 0
	return users, strconv.Itoa(next), hasMore, nil
}

type smartleadEvent struct {
	StatsID      string         `json:"stats_id"`
	EventType    string         `json:"event_type"`
	LeadEmail    string         `json:"lead_email"`
	CampaignName string         `json:"campaign_name"`
	EventTime    time.Time      `json:"event_time"`
	Metadata     map[string]any `json:"metadata"`
}

type smartleadEventPage struct {
	Data  []smartleadEvent `json:"data"`
	Total int              `json:"total"`
}

// smartleadEventTypes maps Smartlead event names to canonical event types.
var smartleadEventTypes = map[string]string{
	"EMAIL_OPEN":        "email_open",
	"EMAIL_CLICK":       "email_click",
	"EMAIL_REPLY":       "email_reply",
	"LEAD_UNSUBSCRIBED": "unsubscribe",
}

// FetchEvents returns one offset page of engagement events inside the window.
func (c *SmartleadConnector) FetchEvents(ctx context.Context, w Window, cursor string, limit int) ([]Event, string, bool, error) {
	q, offset := c.query(w, cursor, limit)
	var page smartleadEventPage
	if err := c.client.getJSON(ctx, "/campaigns/statistics", q, &page); err != nil {
		return nil, "", false, err
	}
	events := make([]Event, 0, len(page.Data))
	for _, it := range page.Data {
		typ, ok := smartleadEventTypes[it.EventType]
		if !ok {
			typ = it.EventType
		}
		events = append(events, Event{
			ExternalID: it.StatsID,
			Type:       typ,
			Email:      it.LeadEmail,
			Campaign:   it.CampaignName,
			OccurredAt: it.EventTime,
			Metadata:   it.Metadata,
		})
	}
	next := offset + len(page.Data)
	hasMore := next < page.Total && len(page.Data) > 0
	return events, strconv.Itoa(next), hasMore, nil
}

// UpsertUser adds the lead to Smartlead's global lead list.
func (c *SmartleadConnector) UpsertUser(ctx context.Context, lead *leaddomain.Lead) error {
	body := map[string]any{
		"email":   lead.Email,
		"name":    lead.Name,
		"company": lead.Company,
	}
	q := url.Values{}
	q.Set("api_key", c.apiKey)
	return c.client.doJSON(ctx, http.MethodPost, "/leads", q, body, nil)
}

// Notify is not supported; Smartlead has no timeline surface.
func (c *SmartleadConnector) Notify(ctx context.Context, entry TimelineEntry) error {
	return Fatalf("smartlead notify", "%v", ErrNotSupported)
}

// Ping checks API reachability and auth.
func (c *SmartleadConnector) Ping(ctx context.Context) error {
	q := url.Values{}
	q.Set("api_key", c.apiKey)
	q.Set("limit", "1")
	return c.client.getJSON(ctx, "/campaigns", q, nil)
}
