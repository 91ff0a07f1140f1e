package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"offerline/internal/httpclient"
)

// DefaultExtrasTimeout bounds each provider UI extras request.
const DefaultExtrasTimeout = 10 * time.Second

const (
	noPolicy             = "No policy provided."
	defaultPolicySummary = "Review and agree to the provider's license/policy terms before consuming the offer."
)

var (
	policyKeys  = []string{"policy", "usagePolicy", "contract", "license"}
	summaryKeys = []string{"policy_summary", "policySummary", "policyDescription"}
)

// OfferDetail is a single offer as the connector returns it, plus the policy
// text shown before consumption.
type OfferDetail struct {
	Raw           map[string]any `json:"offer"`
	OfferURL      string         `json:"offer_url"`
	OfferID       string         `json:"offer_id"`
	PolicyRaw     string         `json:"policy_raw"`
	PolicySummary string         `json:"policy_summary"`
}

// Title returns the offer title, if any.
func (d OfferDetail) Title() string {
	s, _ := d.Raw["title"].(string)
	return s
}

// Client reads offer details from the connector and optional extras from the
// provider UI.
type Client struct {
	// HTTP talks to the connector with the connector credentials.
	HTTP *httpclient.Client
	// UI talks to the provider UI with its own credentials and timeout.
	UI         *httpclient.Client
	PublicBase string
	// UIBases are tried in order; see Bases.
	UIBases []string
	Logger  *log.Logger
}

func (c *Client) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

// OfferURL is the connector URL of offerID. The id may arrive URL-escaped.
func (c *Client) OfferURL(offerID string) string {
	raw, err := url.PathUnescape(offerID)
	if err != nil {
		raw = offerID
	}
	return strings.TrimRight(c.PublicBase, "/") + "/api/offers/" + raw
}

// GetOffer fetches one offer from the connector.
func (c *Client) GetOffer(ctx context.Context, offerID string) (*OfferDetail, error) {
	u := c.OfferURL(offerID)
	res, err := c.HTTP.GetJSON(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("fetch offer %s: %w", offerID, err)
	}
	if err := res.CheckStatus(); err != nil {
		return nil, fmt.Errorf("fetch offer %s: %w", offerID, err)
	}
	var offer map[string]any
	if err := res.DecodeJSON(&offer); err != nil {
		return nil, fmt.Errorf("fetch offer %s: %w", offerID, err)
	}
	if offer == nil {
		offer = map[string]any{}
	}
	return &OfferDetail{
		Raw:           offer,
		OfferURL:      u,
		OfferID:       offerID,
		PolicyRaw:     policyRaw(offer),
		PolicySummary: policySummary(offer),
	}, nil
}

func policyRaw(offer map[string]any) string {
	for _, k := range policyKeys {
		switch v := offer[k].(type) {
		case nil:
			continue
		case string:
			if v == "" {
				continue
			}
			return v
		case bool:
			if !v {
				continue
			}
			return "true"
		case float64:
			if v == 0 {
				continue
			}
			return fmt.Sprint(v)
		case map[string]any:
			if len(v) == 0 {
				continue
			}
			return indentJSON(v)
		case []any:
			if len(v) == 0 {
				continue
			}
			return indentJSON(v)
		default:
			return fmt.Sprint(v)
		}
	}
	return noPolicy
}

func indentJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func policySummary(offer map[string]any) string {
	for _, k := range summaryKeys {
		if s, ok := offer[k].(string); ok && s != "" {
			return s
		}
	}
	return defaultPolicySummary
}

// ExtrasStatus is the outcome of an extras lookup.
type ExtrasStatus string

const (
	ExtrasOK       ExtrasStatus = "ok"
	ExtrasNotFound ExtrasStatus = "not_found"
	ExtrasError    ExtrasStatus = "error"
	ExtrasDisabled ExtrasStatus = "disabled"
)

// Extras carries the provider UI fields that the connector does not model.
type Extras struct {
	Status       ExtrasStatus   `json:"status"`
	DataModel    any            `json:"data_model,omitempty"`
	PurposeOfUse any            `json:"purpose_of_use,omitempty"`
	Raw          map[string]any `json:"raw,omitempty"`
	URL          string         `json:"url,omitempty"`
	BaseURL      string         `json:"base_url,omitempty"`
	Error        string         `json:"error,omitempty"`
	Reason       string         `json:"reason,omitempty"`
}

// Bases returns the provider UI bases to try: the configured one alone, or
// else the connector public base and, when it ends in /connector, the host
// root. Empty and repeated entries are dropped.
func Bases(configured, publicBase string) []string {
	var bases []string
	if c := strings.TrimSpace(configured); c != "" {
		bases = append(bases, strings.TrimRight(c, "/"))
	} else if trimmed := strings.TrimRight(strings.TrimSpace(publicBase), "/"); trimmed != "" {
		bases = append(bases, trimmed)
		if host, ok := strings.CutSuffix(trimmed, "/connector"); ok && host != "" {
			bases = append(bases, strings.TrimRight(host, "/"))
		}
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(bases))
	for _, b := range bases {
		if b == "" || seen[b] {
			continue
		}
		seen[b] = true
		out = append(out, b)
	}
	return out
}

// Extras looks up the provider UI extras of offerID. It never fails: the
// outcome is reported in Extras.Status.
func (c *Client) Extras(ctx context.Context, offerID string) Extras {
	if len(c.UIBases) == 0 {
		return Extras{Status: ExtrasDisabled, Reason: "provider UI base not configured"}
	}
	raw, err := url.PathUnescape(offerID)
	if err != nil {
		raw = offerID
	}
	var last *Extras
	for _, base := range c.UIBases {
		res := c.extrasAt(ctx, base, raw)
		if res.Status == ExtrasOK || res.Status == ExtrasNotFound {
			return res
		}
		last = &res
	}
	if last != nil {
		return *last
	}
	return Extras{Status: ExtrasError, Error: "provider extras request failed"}
}

func (c *Client) extrasAt(ctx context.Context, base, offerID string) Extras {
	paths := []string{
		base + "/api/offers/" + offerID + "/extras/",
		base + "/provide/api/offers/" + offerID + "/extras/",
	}
	var errs []Extras
	for _, p := range paths {
		res := c.fetchExtras(ctx, p, base, offerID)
		if res.Status == ExtrasError {
			errs = append(errs, res)
			continue
		}
		return res
	}
	return errs[len(errs)-1]
}

func (c *Client) fetchExtras(ctx context.Context, extrasURL, base, offerID string) Extras {
	client := c.UI
	if client == nil {
		client = httpclient.New(httpclient.Options{Timeout: DefaultExtrasTimeout})
	}
	res, err := client.GetJSON(ctx, extrasURL)
	if err != nil {
		c.logger().Printf("provider: extras request failed offer=%s url=%s err=%v", offerID, extrasURL, err)
		return Extras{Status: ExtrasError, Error: err.Error(), URL: extrasURL, BaseURL: base}
	}
	if res.StatusCode == http.StatusNotFound {
		return Extras{Status: ExtrasNotFound, URL: extrasURL, BaseURL: base}
	}
	if res.StatusCode != http.StatusOK {
		c.logger().Printf("provider: extras unexpected status offer=%s url=%s status=%d body=%q",
			offerID, extrasURL, res.StatusCode, truncate(res.Text(), 200))
		return Extras{Status: ExtrasError, Error: fmt.Sprintf("Unexpected status %d", res.StatusCode), URL: extrasURL, BaseURL: base}
	}
	body := strings.TrimSpace(res.Text())
	if body == "" {
		return Extras{Status: ExtrasNotFound, URL: extrasURL, BaseURL: base}
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		c.logger().Printf("provider: extras invalid json offer=%s url=%s err=%v body=%q",
			offerID, extrasURL, err, truncate(body, 150))
		return Extras{Status: ExtrasError, Error: "Invalid JSON payload", URL: extrasURL, BaseURL: base}
	}
	return Extras{
		Status:       ExtrasOK,
		DataModel:    payload["data_model"],
		PurposeOfUse: payload["purpose_of_use"],
		Raw:          payload,
		URL:          extrasURL,
		BaseURL:      base,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
