package catalog

import (
	"context"
	"log"
	"strings"

	"offerline/internal/broker"
	"offerline/internal/ids"
	"offerline/internal/paging"
)

// DefaultProxyPrefix is the path under which connectors are published when
// they sit behind the shared reverse proxy.
const DefaultProxyPrefix = "/connector"

// CatalogSummary is one catalog of a connector.
type CatalogSummary struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	OffersURL   string `json:"offers_url"`
}

// OfferSummary is one offer as listed in a catalog.
type OfferSummary struct {
	ConnectorID        string   `json:"connector_id"`
	CatalogTitle       string   `json:"catalog_title"`
	CatalogDescription string   `json:"catalog_description"`
	Title              string   `json:"offer_title"`
	Description        string   `json:"offer_description"`
	Keywords           []string `json:"offer_keywords"`
	Publisher          string   `json:"offer_publisher"`
	SelfURL            string   `json:"offer_url"`
	OfferID            string   `json:"offer_id"`
}

// Failure records a connector or catalog that was skipped.
type Failure struct {
	ConnectorID string `json:"connector_id"`
	URL         string `json:"url"`
	Error       string `json:"error"`
}

// Listing is the aggregated result of a walk.
type Listing struct {
	Offers   []OfferSummary `json:"offers"`
	Failures []Failure      `json:"failures,omitempty"`
}

// Walker enumerates offers of connectors.
type Walker struct {
	Fetcher     paging.Fetcher
	ProxyPrefix string
	Logger      *log.Logger
}

func (w Walker) logger() *log.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return log.Default()
}

func (w Walker) proxyPrefix() string {
	if w.ProxyPrefix == "" {
		return DefaultProxyPrefix
	}
	return "/" + strings.Trim(w.ProxyPrefix, "/")
}

// ListAllOffers walks every catalog of every connector. A failing connector
// endpoint or catalog is recorded and skipped; the rest are still listed.
func (w Walker) ListAllOffers(ctx context.Context, connectors []broker.ConnectorDescriptor) Listing {
	listing := Listing{Offers: []OfferSummary{}}
	for _, conn := range connectors {
		for _, ep := range CandidateEndpoints(conn) {
			catalogsURL := CatalogsURL(ep)
			catalogs, err := w.Catalogs(ctx, catalogsURL)
			if err != nil {
				w.skip(&listing, conn.ID, catalogsURL, err)
				continue
			}
			for _, cat := range catalogs {
				offers, err := w.Offers(ctx, conn.ID, cat)
				if err != nil {
					w.skip(&listing, conn.ID, cat.OffersURL, err)
					continue
				}
				listing.Offers = append(listing.Offers, offers...)
			}
		}
	}
	return listing
}

// Catalogs pages through a connector's /api/catalogs collection.
func (w Walker) Catalogs(ctx context.Context, catalogsURL string) ([]CatalogSummary, error) {
	items, err := paging.FetchAllAs[ids.Resource](ctx, w.Fetcher, catalogsURL, "catalogs")
	if err != nil {
		return nil, err
	}
	out := make([]CatalogSummary, 0, len(items))
	for _, item := range items {
		out = append(out, CatalogSummary{
			Title:       item.Title,
			Description: item.Description,
			OffersURL:   w.OffersURL(item.Links.Href("offers")),
		})
	}
	return out, nil
}

// Offers pages through a catalog's offers collection.
func (w Walker) Offers(ctx context.Context, connectorID string, cat CatalogSummary) ([]OfferSummary, error) {
	items, err := paging.FetchAllAs[ids.Resource](ctx, w.Fetcher, cat.OffersURL, "resources")
	if err != nil {
		return nil, err
	}
	out := make([]OfferSummary, 0, len(items))
	for _, item := range items {
		self := item.Links.Href("self")
		keywords := item.Keywords
		if keywords == nil {
			keywords = []string{}
		}
		out = append(out, OfferSummary{
			ConnectorID:        connectorID,
			CatalogTitle:       cat.Title,
			CatalogDescription: cat.Description,
			Title:              item.Title,
			Description:        item.Description,
			Keywords:           keywords,
			Publisher:          item.Publisher,
			SelfURL:            self,
			OfferID:            ids.LastSegment(self),
		})
	}
	return out, nil
}

// OffersURL drops the template suffix of a catalog's offers link and routes
// /api/catalogs/ links through the proxy prefix unless already under it.
func (w Walker) OffersURL(href string) string {
	u := ids.CutTemplate(href)
	prefix := w.proxyPrefix()
	if !strings.Contains(u, prefix+"/") && strings.Contains(u, "/api/catalogs/") {
		u = strings.Replace(u, "/api/catalogs/", prefix+"/api/catalogs/", 1)
	}
	return u
}

func (w Walker) skip(l *Listing, connectorID, url string, err error) {
	w.logger().Printf("catalog: skipping connector=%s url=%s err=%v", connectorID, url, err)
	l.Failures = append(l.Failures, Failure{ConnectorID: connectorID, URL: url, Error: err.Error()})
}

// CandidateEndpoints returns the connector's sameAs aliases, or its id when
// it has none.
func CandidateEndpoints(conn broker.ConnectorDescriptor) []string {
	if len(conn.SameAs) > 0 {
		return conn.SameAs
	}
	if conn.ID == "" {
		return nil
	}
	return []string{conn.ID}
}

// CatalogsURL appends /api/catalogs to an endpoint unless it already ends so.
func CatalogsURL(endpoint string) string {
	ep := strings.TrimRight(endpoint, "/")
	if strings.HasSuffix(ep, "/api/catalogs") {
		return ep
	}
	return ep + "/api/catalogs"
}
