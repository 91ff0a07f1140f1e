package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offerline/internal/broker"
	"offerline/internal/config"
	"offerline/internal/consume"
)

// connector fakes a consumer connector that relays broker queries and
// serves one catalog with one consumable offer.
func connector(t *testing.T, brokerStatus int) *httptest.Server {
	t.Helper()
	var ts *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/api/ids/query", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(brokerStatus)
		fmt.Fprintf(w, `{"@graph":[{"@id":"%s","title":"Local"}]}`, ts.URL)
	})
	mux.HandleFunc("/api/catalogs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"_embedded":{"catalogs":[{"title":"Logistics","_links":{"offers":{"href":"%s/connector/api/catalogs/c1/offers{?page,size}"}}}]},"page":{"totalPages":1,"number":0}}`, ts.URL)
	})
	mux.HandleFunc("/connector/api/catalogs/c1/offers", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"_embedded":{"resources":[{"title":"Emissions","_links":{"self":{"href":"%s/api/offers/off-1"}}}]},"page":{"totalPages":1,"number":0}}`, ts.URL)
	})
	mux.HandleFunc("/api/offers/off-1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"title":"Emissions","_links":{"catalogs":{"href":"https://internal/api/offers/off-1/catalogs{?page,size}"}}}`)
	})
	mux.HandleFunc("/api/offers/off-1/catalogs/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"_embedded":{"catalogs":[{"_links":{"self":{"href":"https://internal/api/catalogs/c1"}}}]}}`)
	})
	mux.HandleFunc("/api/ids/description", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ids:offeredResource":[{
			"ids:contractOffer":[{"ids:permission":[{"ids:action":[{"@id":"https://w3id.org/idsa/code/USE"}]}]}],
			"ids:representation":[{"ids:instance":[{"@id":"https://internal/api/artifacts/a1"}]}]}]}`)
	})
	mux.HandleFunc("/api/ids/contract", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"_links":{"artifacts":{"href":"https://internal/api/agreements/ag1/artifacts{?page,size}"}}}`)
	})
	mux.HandleFunc("/api/agreements/ag1/artifacts/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"_embedded":{"artifacts":[{"_links":{"data":{"href":"https://internal/api/artifacts/a1/data"}}}]}}`)
	})
	mux.HandleFunc("/api/artifacts/a1/data", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "hello")
	})
	ts = httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func newApp(t *testing.T, base string, journal bool) *App {
	t.Helper()
	cfg := config.Default()
	cfg.Connector.Base = base
	cfg.AuthService.Enforce = false
	cfg.Journal.Enabled = journal
	cfg.Normalize()
	require.NoError(t, cfg.Validate())
	a, err := New(context.Background(), cfg, log.New(io.Discard, "", 0), Options{MemoryJournal: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestListOffers(t *testing.T) {
	ts := connector(t, http.StatusOK)
	a := newApp(t, ts.URL, false)

	res := a.ListOffers(context.Background())
	assert.Equal(t, broker.OutcomeGraph, res.Broker.Outcome)
	require.Len(t, res.Listing.Offers, 1)
	assert.Equal(t, "Emissions", res.Listing.Offers[0].Title)
	assert.Equal(t, "off-1", res.Listing.Offers[0].OfferID)
	assert.Empty(t, res.Listing.Failures)
}

func TestListOffersBrokerFailure(t *testing.T) {
	ts := connector(t, http.StatusBadGateway)
	a := newApp(t, ts.URL, false)

	res := a.ListOffers(context.Background())
	assert.True(t, res.Broker.Failed())
	assert.Equal(t, http.StatusBadGateway, res.Broker.StatusCode)
	assert.NotNil(t, res.Listing.Offers)
	assert.Empty(t, res.Listing.Offers)
}

func TestConsumeRecordsJournal(t *testing.T) {
	ts := connector(t, http.StatusOK)
	a := newApp(t, ts.URL, true)

	res, err := a.Consume(context.Background(), "off-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Artifact.Preview(500))

	evts, err := a.RecentEvents(context.Background(), 10, res.RunID)
	require.NoError(t, err)
	require.Len(t, evts, len(consume.Stages))
	assert.Equal(t, string(consume.StageData), evts[0].Stage)
	for _, e := range evts {
		assert.Equal(t, "ok", e.Outcome)
		assert.Equal(t, "off-1", e.OfferID)
	}

	runs, err := a.RecentRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].RunID)
	assert.Equal(t, len(consume.Stages), runs[0].Stages)
	assert.Empty(t, runs[0].FailedStage)
}

func TestRecentEventsWithoutJournal(t *testing.T) {
	a := newApp(t, "https://connector.example/", false)
	_, err := a.RecentEvents(context.Background(), 5, "")
	assert.ErrorIs(t, err, ErrJournalDisabled)
	_, err = a.RecentRuns(context.Background(), 5)
	assert.ErrorIs(t, err, ErrJournalDisabled)
}

func TestResolveOfferURL(t *testing.T) {
	a := newApp(t, "https://connector.example/connector", false)
	assert.Equal(t, "https://connector.example/connector/api/offers/abc", a.ResolveOfferURL(" abc "))
	assert.Equal(t, "http://other/api/offers/x", a.ResolveOfferURL("http://other/api/offers/x"))
}
