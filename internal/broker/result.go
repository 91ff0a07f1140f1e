package broker

import (
	"encoding/json"
	"fmt"
)

// Outcome tags a GraphResult.
type Outcome int

const (
	OutcomeGraph Outcome = iota
	// OutcomeEmpty is an empty broker index; a success, not an error.
	OutcomeEmpty
	// OutcomeRaw is a 2xx answer that was not JSON.
	OutcomeRaw
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeGraph:
		return "graph"
	case OutcomeEmpty:
		return "empty"
	case OutcomeRaw:
		return "raw"
	case OutcomeError:
		return "error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// GraphResult is the value returned by every broker query.
type GraphResult struct {
	Outcome Outcome
	// Graph is the normalized node list; Payload is the answer as received.
	Graph      []json.RawMessage
	Payload    json.RawMessage
	Raw        string
	Error      string
	StatusCode int
	Body       string
}

func emptyResult() GraphResult {
	return GraphResult{Outcome: OutcomeEmpty, Graph: []json.RawMessage{}}
}

func errorResult(msg string, status int, body string) GraphResult {
	return GraphResult{Outcome: OutcomeError, Error: msg, StatusCode: status, Body: body}
}

// Failed reports an OutcomeError result.
func (r GraphResult) Failed() bool { return r.Outcome == OutcomeError }

// MarshalJSON renders the broker JSON answer verbatim, {"@graph": [...]}
// with "raw" for empty or non-JSON answers, or {"error", "status_code",
// "body"} on failure.
func (r GraphResult) MarshalJSON() ([]byte, error) {
	if r.Outcome == OutcomeError {
		return json.Marshal(struct {
			Error      string `json:"error"`
			StatusCode int    `json:"status_code,omitempty"`
			Body       string `json:"body,omitempty"`
		}{r.Error, r.StatusCode, r.Body})
	}
	if r.Outcome == OutcomeGraph && len(r.Payload) > 0 {
		return r.Payload, nil
	}
	graph := r.Graph
	if graph == nil {
		graph = []json.RawMessage{}
	}
	return json.Marshal(struct {
		Graph []json.RawMessage `json:"@graph"`
		Raw   string            `json:"raw,omitempty"`
	}{graph, r.Raw})
}

// Connectors decodes every graph node into a descriptor. Nodes without an
// @id are skipped.
func (r GraphResult) Connectors() []ConnectorDescriptor {
	out := make([]ConnectorDescriptor, 0, len(r.Graph))
	for _, node := range r.Graph {
		var m map[string]any
		if err := json.Unmarshal(node, &m); err != nil {
			continue
		}
		d := descriptorFromNode(m)
		if d.ID == "" {
			continue
		}
		out = append(out, d)
	}
	return out
}
