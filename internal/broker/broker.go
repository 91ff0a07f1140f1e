package broker

import (
	"context"
	"encoding/json"
	"log"
	"net/url"
	"strings"

	"offerline/internal/httpclient"
)

// NotFoundReason is the IDS rejection code a broker sends for an empty index.
const NotFoundReason = "https://w3id.org/idsa/code/NOT_FOUND"

// DefaultQueryPath is the connector endpoint that relays queries to a broker.
const DefaultQueryPath = "api/ids/query"

// ConnectorQuery lists every indexed connector with its endpoints and catalogs.
const ConnectorQuery = `PREFIX ids:   <https://w3id.org/idsa/core/>
PREFIX idsc:  <https://w3id.org/idsa/code/>
PREFIX owl:   <http://www.w3.org/2002/07/owl#>
PREFIX jsonld:<http://www.w3.org/ns/json-ld>

CONSTRUCT {
  ?connector ids:title           ?title.
  ?connector ids:description     ?description.
  ?connector ids:accessURL       ?accessURL.
  ?connector owl:sameAs          ?same.
  ?connector ids:maintainer      ?maintainer.
  ?connector ids:resourceCatalog ?connectorCatalog.
}
WHERE {
  ?connector ids:title              ?title.
  ?connector ids:description        ?description.
  ?connector ids:hasDefaultEndpoint ?endpoint.
  ?endpoint  ids:accessURL          ?accessURL.
  ?connector ids:maintainer         ?maintainer.
  OPTIONAL {
    ?connector ids:resourceCatalog  ?brokerCatalog.
    ?brokerCatalog owl:sameAs       ?connectorCatalog.
  }
  OPTIONAL { ?connector owl:sameAs  ?same. }
}
`

// Client posts the connector query to a broker through the local connector.
type Client struct {
	HTTP *httpclient.Client
	// Endpoint is the absolute query URL, e.g. https://host/connector/api/ids/query.
	Endpoint string
	// Recipient identifies the broker the connector forwards to.
	Recipient string
	Logger    *log.Logger
}

func (c Client) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

// GetAllConnectors runs ConnectorQuery. It never returns an error: failures
// come back as a GraphResult with OutcomeError.
func (c Client) GetAllConnectors(ctx context.Context) GraphResult {
	res, err := c.HTTP.Post(ctx, c.Endpoint, url.Values{"recipient": {c.Recipient}}, "application/octet-stream", []byte(ConnectorQuery))
	if err != nil {
		c.logger().Printf("broker: query failed endpoint=%s recipient=%s err=%v", c.Endpoint, c.Recipient, err)
		return errorResult("Failed to fetch connectors from the broker: "+err.Error(), 0, "")
	}
	return c.interpret(res)
}

func (c Client) interpret(res *httpclient.Response) GraphResult {
	if !res.OK() {
		if res.StatusCode == 417 && isEmptyIndex(res.Body) {
			c.logger().Printf("broker: index empty recipient=%s", c.Recipient)
			return emptyResult()
		}
		c.logger().Printf("broker: error status=%d body=%s", res.StatusCode, truncate(res.Text(), 500))
		return errorResult("Broker returned error", res.StatusCode, res.Text())
	}
	var payload any
	if err := json.Unmarshal(res.Body, &payload); err != nil {
		return GraphResult{Outcome: OutcomeRaw, Graph: []json.RawMessage{}, Raw: res.Text()}
	}
	return GraphResult{Outcome: OutcomeGraph, Graph: graphEntries(payload), Payload: json.RawMessage(res.Body)}
}

func isEmptyIndex(body []byte) bool {
	var payload struct {
		Details struct {
			Reason struct {
				ID string `json:"@id"`
			} `json:"reason"`
		} `json:"details"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}
	return payload.Details.Reason.ID == NotFoundReason
}

// graphEntries flattens {"@graph": [...]}, a single node, or a bare list.
func graphEntries(payload any) []json.RawMessage {
	var nodes []any
	switch t := payload.(type) {
	case map[string]any:
		if g, ok := t["@graph"]; ok {
			if list, ok := g.([]any); ok {
				nodes = list
			} else if g != nil {
				nodes = []any{g}
			}
		} else {
			nodes = []any{t}
		}
	case []any:
		nodes = t
	}
	out := make([]json.RawMessage, 0, len(nodes))
	for _, n := range nodes {
		b, err := json.Marshal(n)
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
