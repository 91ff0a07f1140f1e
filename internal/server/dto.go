package server

import (
	"offerline/internal/app"
	"offerline/internal/authgw"
	"offerline/internal/broker"
	"offerline/internal/catalog"
	"offerline/internal/consume"
	"offerline/internal/events"
	"offerline/internal/provider"
)

// previewBytes bounds the artifact preview in consume responses.
const previewBytes = 500

// Response payloads

type ProfileResponse struct {
	Enforced bool           `json:"enforced"`
	UserID   string         `json:"user_id,omitempty"`
	Profile  authgw.Profile `json:"profile"`
}

type ConnectorsResponse struct {
	Outcome    string                       `json:"outcome" enum:"graph,empty,raw"`
	Connectors []broker.ConnectorDescriptor `json:"connectors"`
	// Result is the broker answer as received.
	Result any `json:"result"`
}

type OffersResponse struct {
	Offers   []catalog.OfferSummary `json:"offers"`
	Failures []catalog.Failure      `json:"failures"`
	// Skipped counts skipped endpoints and catalogs per connector id.
	Skipped     map[string]int `json:"skipped"`
	BrokerError string         `json:"broker_error,omitempty"`
}

type OfferDetailResponse struct {
	OfferID       string          `json:"offer_id"`
	OfferURL      string          `json:"offer_url"`
	Title         string          `json:"title,omitempty"`
	Offer         map[string]any  `json:"offer"`
	PolicyRaw     string          `json:"policy_raw"`
	PolicySummary string          `json:"policy_summary"`
	Extras        provider.Extras `json:"extras"`
}

type ArtifactResponse struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type,omitempty"`
	Size        int    `json:"size"`
	Preview     string `json:"preview"`
}

type ConsumeResponse struct {
	RunID        string               `json:"run_id"`
	OfferID      string               `json:"offer_id"`
	OfferTitle   string               `json:"offer_title,omitempty"`
	CatalogURL   string               `json:"catalog_url"`
	Action       string               `json:"action"`
	ArtifactID   string               `json:"artifact_id"`
	AgreementURL string               `json:"agreement_url"`
	ArtifactURL  string               `json:"artifact_url"`
	Artifact     ArtifactResponse     `json:"artifact"`
	Steps        []consume.StepReport `json:"steps"`
}

type RunsResponse struct {
	Items []events.Event `json:"items"`
}

func offersResponse(res app.Offers) OffersResponse {
	out := OffersResponse{
		Offers:   res.Listing.Offers,
		Failures: res.Listing.Failures,
		Skipped:  map[string]int{},
	}
	if out.Offers == nil {
		out.Offers = []catalog.OfferSummary{}
	}
	if out.Failures == nil {
		out.Failures = []catalog.Failure{}
	}
	for _, f := range out.Failures {
		out.Skipped[f.ConnectorID]++
	}
	if res.Broker.Failed() {
		out.BrokerError = res.Broker.Error
	}
	return out
}

func offerDetailResponse(d *provider.OfferDetail, extras provider.Extras) OfferDetailResponse {
	return OfferDetailResponse{
		OfferID:       d.OfferID,
		OfferURL:      d.OfferURL,
		Title:         d.Title(),
		Offer:         d.Raw,
		PolicyRaw:     d.PolicyRaw,
		PolicySummary: d.PolicySummary,
		Extras:        extras,
	}
}

func consumeResponse(res *consume.Result) ConsumeResponse {
	out := ConsumeResponse{
		RunID:        res.RunID,
		OfferID:      res.OfferID,
		CatalogURL:   res.CatalogURL,
		Action:       res.Action,
		ArtifactID:   res.ArtifactID,
		AgreementURL: res.AgreementURL,
		ArtifactURL:  res.ArtifactURL,
		Steps:        res.Steps,
	}
	if title, ok := res.Offer["title"].(string); ok {
		out.OfferTitle = title
	}
	if a := res.Artifact; a != nil {
		out.Artifact = ArtifactResponse{
			StatusCode:  a.StatusCode,
			ContentType: a.ContentType(),
			Size:        len(a.Body),
			Preview:     a.Preview(previewBytes),
		}
	}
	if out.Steps == nil {
		out.Steps = []consume.StepReport{}
	}
	return out
}
