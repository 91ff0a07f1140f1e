package offerlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Offerline HTTP API client.
type Client struct {
	BaseURL string
	// Session is the auth service session id, sent as SessionCookie.
	Session       string
	SessionCookie string
	HTTPClient    *http.Client
	Timeout       time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, session string) *Client {
	return &Client{
		BaseURL:       baseURL,
		Session:       session,
		SessionCookie: "sessionid",
		Timeout:       60 * time.Second,
	}
}

// Offer is one offer as listed in a catalog.
type Offer struct {
	OfferID            string   `json:"offer_id"`
	ConnectorID        string   `json:"connector_id"`
	CatalogTitle       string   `json:"catalog_title"`
	CatalogDescription string   `json:"catalog_description"`
	Title              string   `json:"offer_title"`
	Description        string   `json:"offer_description"`
	Keywords           []string `json:"offer_keywords"`
	Publisher          string   `json:"offer_publisher"`
	URL                string   `json:"offer_url"`
}

// Failure is a connector endpoint or catalog the listing skipped.
type Failure struct {
	ConnectorID string `json:"connector_id"`
	URL         string `json:"url"`
	Error       string `json:"error"`
}

// OfferListing is the response of Offers.
type OfferListing struct {
	Offers      []Offer        `json:"offers"`
	Failures    []Failure      `json:"failures"`
	Skipped     map[string]int `json:"skipped"`
	BrokerError string         `json:"broker_error,omitempty"`
}

// Extras are provider UI fields of an offer.
type Extras struct {
	Status       string         `json:"status"`
	DataModel    any            `json:"data_model,omitempty"`
	PurposeOfUse any            `json:"purpose_of_use,omitempty"`
	Raw          map[string]any `json:"raw,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// OfferDetail is the response of Offer.
type OfferDetail struct {
	OfferID       string         `json:"offer_id"`
	OfferURL      string         `json:"offer_url"`
	Title         string         `json:"title"`
	Offer         map[string]any `json:"offer"`
	PolicyRaw     string         `json:"policy_raw"`
	PolicySummary string         `json:"policy_summary"`
	Extras        Extras         `json:"extras"`
}

// Step is one completed consumption stage.
type Step struct {
	Stage    string        `json:"stage"`
	Label    string        `json:"label"`
	Status   string        `json:"status"`
	Message  string        `json:"message"`
	Duration time.Duration `json:"duration_ns"`
}

// Artifact summarizes the fetched data.
type Artifact struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	Preview     string `json:"preview"`
}

// Consumption is the response of Consume.
type Consumption struct {
	RunID        string   `json:"run_id"`
	OfferID      string   `json:"offer_id"`
	OfferTitle   string   `json:"offer_title"`
	CatalogURL   string   `json:"catalog_url"`
	Action       string   `json:"action"`
	ArtifactID   string   `json:"artifact_id"`
	AgreementURL string   `json:"agreement_url"`
	ArtifactURL  string   `json:"artifact_url"`
	Artifact     Artifact `json:"artifact"`
	Steps        []Step   `json:"steps"`
}

// Profile is the response of Profile.
type Profile struct {
	Enforced bool           `json:"enforced"`
	UserID   string         `json:"user_id"`
	Profile  map[string]any `json:"profile"`
}

// StageEvent is one journal entry.
type StageEvent struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	RunID      string `json:"run_id"`
	OfferID    string `json:"offer_id"`
	Stage      string `json:"stage"`
	Outcome    string `json:"outcome"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// APIError wraps non-2xx responses. Code, Message and Details are filled
// from the error envelope when the body carries one.
type APIError struct {
	StatusCode int
	Body       string
	Code       string
	Message    string
	Details    map[string]any
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Stage returns the failed stage of a consumption error, if any.
func (e *APIError) Stage() string {
	s, _ := e.Details["stage"].(string)
	return s
}

// Offers lists the offers of every reachable connector.
func (c *Client) Offers(ctx context.Context) (OfferListing, error) {
	var resp OfferListing
	err := c.do(ctx, http.MethodGet, "api/offers", &resp)
	return resp, err
}

// Offer returns one offer with its policy and provider extras.
func (c *Client) Offer(ctx context.Context, offerID string) (OfferDetail, error) {
	var resp OfferDetail
	err := c.do(ctx, http.MethodGet, "api/offers/"+url.PathEscape(offerID), &resp)
	return resp, err
}

// Consume runs the consumption pipeline for offerID.
func (c *Client) Consume(ctx context.Context, offerID string) (Consumption, error) {
	var resp Consumption
	err := c.do(ctx, http.MethodPost, "api/offers/"+url.PathEscape(offerID)+"/consume", &resp)
	return resp, err
}

// Profile returns the caller's identity.
func (c *Client) Profile(ctx context.Context) (Profile, error) {
	var resp Profile
	err := c.do(ctx, http.MethodGet, "api/auth/profile", &resp)
	return resp, err
}

// Runs returns recent journal entries, optionally for one run.
func (c *Client) Runs(ctx context.Context, limit int, runID string) ([]StageEvent, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if runID != "" {
		q.Set("run_id", runID)
	}
	endpoint := "api/runs"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []StageEvent `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(nil))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.Session != "" {
		name := c.SessionCookie
		if name == "" {
			name = "sessionid"
		}
		req.AddCookie(&http.Cookie{Name: name, Value: c.Session})
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
