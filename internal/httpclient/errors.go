package httpclient

import "fmt"

// NetworkError wraps connect, timeout and DNS failures.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// StatusError is a non-2xx response nobody special-cased.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.URL, e.StatusCode)
}

// MalformedError is a body that is not JSON or lacks an expected key or index.
type MalformedError struct {
	URL    string
	Reason string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed response from %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed response from %s: %s", e.URL, e.Reason)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Missing builds a MalformedError for an absent key path.
func Missing(url, path string) *MalformedError {
	return &MalformedError{URL: url, Reason: "missing " + path}
}
