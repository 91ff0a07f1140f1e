// Package paging walks HAL-style paged collections ("_embedded" + "page").
package paging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"offerline/internal/httpclient"
	"offerline/internal/ids"
)

// DefaultPageSize is used when a Fetcher has no explicit size.
const DefaultPageSize = 30

// maxPages bounds a walk against a server that never reports a last page.
const maxPages = 10000

// Fetcher pages through collections with one client.
type Fetcher struct {
	Client   *httpclient.Client
	PageSize int
}

// FetchAll requests baseURL?page=n&size=PageSize from n=0 and accumulates
// _embedded[key] across pages. It stops once page.number >= totalPages-1, or
// after the first page when page metadata is absent. Any failed page fails the
// whole walk and nothing accumulated so far is returned.
func (f Fetcher) FetchAll(ctx context.Context, baseURL, key string) ([]json.RawMessage, error) {
	size := f.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	base := strings.TrimRight(baseURL, "/")
	var items []json.RawMessage
	for n := 0; n < maxPages; n++ {
		res, err := f.Client.GetJSON(ctx, ids.WithPage(base, n, size))
		if err != nil {
			return nil, err
		}
		if err := res.CheckStatus(); err != nil {
			return nil, err
		}
		var page ids.Page
		if err := res.DecodeJSON(&page); err != nil {
			return nil, err
		}
		items = append(items, page.Embedded[key]...)
		if page.Page == nil || page.Page.Last() {
			return nonNil(items), nil
		}
	}
	return nil, fmt.Errorf("paging %s: no last page after %d pages", base, maxPages)
}

// FetchAllAs is FetchAll with each item decoded into T.
func FetchAllAs[T any](ctx context.Context, f Fetcher, baseURL, key string) ([]T, error) {
	raw, err := f.FetchAll(ctx, baseURL, key)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raw))
	for i, item := range raw {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			return nil, &httpclient.MalformedError{URL: baseURL, Reason: fmt.Sprintf("%s[%d]", key, i), Err: err}
		}
		out = append(out, v)
	}
	return out, nil
}

func nonNil(items []json.RawMessage) []json.RawMessage {
	if items == nil {
		return []json.RawMessage{}
	}
	return items
}
