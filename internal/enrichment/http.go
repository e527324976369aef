package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	leaddomain "outreach-sync-engine/internal/lead/domain"
)

// HTTPSource queries an enrichment provider over HTTP: GET {base}/enrich?email=...
// returning {"data": {...}, "confidence": 0.87}. All configured providers
// (the AI service and the firmographic APIs) speak this shape.
type HTTPSource struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPSource returns an HTTP enrichment source.
func NewHTTPSource(name, baseURL, apiKey string) *HTTPSource {
	return &HTTPSource{
		name:       name,
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *HTTPSource) Name() string { return s.name }

type enrichResponse struct {
	Data       map[string]any `json:"data"`
	Confidence float64        `json:"confidence"`
}

// Enrich fetches the firmographic payload for the lead's email and company.
func (s *HTTPSource) Enrich(ctx context.Context, lead *leaddomain.Lead) (map[string]any, float64, error) {
	q := url.Values{}
	q.Set("email", lead.Email)
	if lead.Company != "" {
		q.Set("company", lead.Company)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/enrich?"+q.Encode(), nil)
	if err != nil {
		return nil, 0, err
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		// Unknown contact is a miss, not a failure.
		return nil, 0, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, 0, fmt.Errorf("%s returned %s", s.name, resp.Status)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	var out enrichResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, 0, fmt.Errorf("%s: malformed response: %w", s.name, err)
	}
	return out.Data, out.Confidence, nil
}
