package provider

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offerline/internal/httpclient"
)

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func TestGetOffer(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.URL.Path == "/connector/api/offers/gone" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, `{"title":"Emissions","usagePolicy":{"@type":"ids:Permission"},"policySummary":"Use within the EU."}`)
	}))
	defer ts.Close()

	c := &Client{HTTP: httpclient.New(httpclient.Options{}), PublicBase: ts.URL + "/connector/"}

	d, err := c.GetOffer(context.Background(), "urn%3Aoffer-1")
	require.NoError(t, err)
	assert.Equal(t, "/connector/api/offers/urn:offer-1", gotPath)
	assert.Equal(t, ts.URL+"/connector/api/offers/urn:offer-1", d.OfferURL)
	assert.Equal(t, "urn%3Aoffer-1", d.OfferID)
	assert.Equal(t, "Emissions", d.Title())
	assert.Equal(t, "{\n  \"@type\": \"ids:Permission\"\n}", d.PolicyRaw)
	assert.Equal(t, "Use within the EU.", d.PolicySummary)

	_, err = c.GetOffer(context.Background(), "gone")
	var se *httpclient.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
}

func TestPolicyText(t *testing.T) {
	assert.Equal(t, "CC-BY-4.0", policyRaw(map[string]any{"policy": "", "license": "CC-BY-4.0"}))
	assert.Equal(t, noPolicy, policyRaw(map[string]any{}))
	assert.Equal(t, "CC0", policyRaw(map[string]any{"policy": map[string]any{}, "usagePolicy": []any{}, "contract": false, "license": "CC0"}))
	assert.Equal(t, noPolicy, policyRaw(map[string]any{"policy": 0.0, "license": nil}))
	assert.Equal(t, "{\n  \"use\": \"any\"\n}", policyRaw(map[string]any{"policy": map[string]any{"use": "any"}}))
	assert.Equal(t, defaultPolicySummary, policySummary(map[string]any{"policy_summary": ""}))
	assert.Equal(t, "s", policySummary(map[string]any{"policyDescription": "s"}))
}

func TestBases(t *testing.T) {
	assert.Equal(t, []string{"https://ui.example"}, Bases("https://ui.example/", "https://host/connector/"))
	assert.Equal(t, []string{"https://host/connector", "https://host"}, Bases("", "https://host/connector/"))
	assert.Equal(t, []string{"https://host"}, Bases("", "https://host"))
	assert.Empty(t, Bases("", ""))
}

func TestExtras(t *testing.T) {
	t.Run("disabled without bases", func(t *testing.T) {
		c := &Client{}
		assert.Equal(t, ExtrasDisabled, c.Extras(context.Background(), "x").Status)
	})

	t.Run("falls back to the provide path", func(t *testing.T) {
		var auth string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/api/offers/o1/extras/":
				w.WriteHeader(http.StatusInternalServerError)
			case "/provide/api/offers/o1/extras/":
				auth = r.Header.Get("Authorization")
				_, _ = io.WriteString(w, `{"data_model":"DCAT","purpose_of_use":"research"}`)
			}
		}))
		defer ts.Close()

		c := &Client{UI: httpclient.New(httpclient.Options{Authorization: "Token ui"}), UIBases: []string{ts.URL}, Logger: quiet()}
		ex := c.Extras(context.Background(), "o1")
		require.Equal(t, ExtrasOK, ex.Status)
		assert.Equal(t, "DCAT", ex.DataModel)
		assert.Equal(t, "research", ex.PurposeOfUse)
		assert.Equal(t, ts.URL+"/provide/api/offers/o1/extras/", ex.URL)
		assert.Equal(t, ts.URL, ex.BaseURL)
		assert.Equal(t, "Token ui", auth)
	})

	t.Run("not found stops the search", func(t *testing.T) {
		calls := 0
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusNotFound)
		}))
		defer ts.Close()

		c := &Client{UI: httpclient.New(httpclient.Options{}), UIBases: []string{ts.URL, ts.URL + "/other"}, Logger: quiet()}
		ex := c.Extras(context.Background(), "o1")
		assert.Equal(t, ExtrasNotFound, ex.Status)
		assert.Equal(t, 1, calls)
	})

	t.Run("empty body is not found", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "  \n")
		}))
		defer ts.Close()

		c := &Client{UI: httpclient.New(httpclient.Options{}), UIBases: []string{ts.URL}, Logger: quiet()}
		assert.Equal(t, ExtrasNotFound, c.Extras(context.Background(), "o1").Status)
	})

	t.Run("last error wins", func(t *testing.T) {
		bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer bad.Close()
		invalid := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "<html>")
		}))
		defer invalid.Close()

		c := &Client{UI: httpclient.New(httpclient.Options{}), UIBases: []string{bad.URL, invalid.URL}, Logger: quiet()}
		ex := c.Extras(context.Background(), "o1")
		assert.Equal(t, ExtrasError, ex.Status)
		assert.Equal(t, "Invalid JSON payload", ex.Error)
		assert.Equal(t, invalid.URL+"/provide/api/offers/o1/extras/", ex.URL)
	})
}
