package paging

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offerline/internal/httpclient"
)

// pagedServer serves totalPages pages of perPage items under key.
func pagedServer(t *testing.T, key string, perPage []int, failPage int) (*httptest.Server, *[]int) {
	t.Helper()
	var mu sync.Mutex
	var seen []int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.Atoi(r.URL.Query().Get("page"))
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
		if n == failPage {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		items := ""
		for i := 0; i < perPage[n]; i++ {
			if i > 0 {
				items += ","
			}
			items += fmt.Sprintf(`{"title":"p%d-i%d"}`, n, i)
		}
		w.Header().Set("Content-Type", "application/hal+json")
		fmt.Fprintf(w, `{"_embedded":{%q:[%s]},"page":{"size":30,"totalElements":0,"totalPages":%d,"number":%d}}`, key, items, len(perPage), n)
	}))
	t.Cleanup(ts.Close)
	return ts, &seen
}

func TestFetchAll(t *testing.T) {
	t.Run("accumulates every page in order", func(t *testing.T) {
		ts, seen := pagedServer(t, "catalogs", []int{2, 3, 1}, -1)
		f := Fetcher{Client: httpclient.New(httpclient.Options{})}

		items, err := f.FetchAll(context.Background(), ts.URL+"/api/catalogs/", "catalogs")
		require.NoError(t, err)
		assert.Len(t, items, 6)
		assert.Equal(t, []int{0, 1, 2}, *seen)
		assert.JSONEq(t, `{"title":"p0-i0"}`, string(items[0]))
		assert.JSONEq(t, `{"title":"p2-i0"}`, string(items[5]))
	})

	t.Run("failed page discards accumulation", func(t *testing.T) {
		ts, _ := pagedServer(t, "resources", []int{2, 2, 2}, 1)
		f := Fetcher{Client: httpclient.New(httpclient.Options{})}

		items, err := f.FetchAll(context.Background(), ts.URL, "resources")
		require.Error(t, err)
		assert.Nil(t, items)
		var se *httpclient.StatusError
		assert.ErrorAs(t, err, &se)
	})

	t.Run("missing page metadata is a single page", func(t *testing.T) {
		calls := 0
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			assert.Equal(t, "7", r.URL.Query().Get("size"))
			_, _ = w.Write([]byte(`{"_embedded":{"resources":[{"title":"only"}]}}`))
		}))
		defer ts.Close()
		f := Fetcher{Client: httpclient.New(httpclient.Options{}), PageSize: 7}

		items, err := f.FetchAll(context.Background(), ts.URL, "resources")
		require.NoError(t, err)
		assert.Len(t, items, 1)
		assert.Equal(t, 1, calls)
	})

	t.Run("absent key is an empty page", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"page":{"totalPages":1,"number":0}}`))
		}))
		defer ts.Close()
		f := Fetcher{Client: httpclient.New(httpclient.Options{})}

		items, err := f.FetchAll(context.Background(), ts.URL, "catalogs")
		require.NoError(t, err)
		assert.NotNil(t, items)
		assert.Empty(t, items)
	})

	t.Run("invalid body fails", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>login</html>`))
		}))
		defer ts.Close()
		f := Fetcher{Client: httpclient.New(httpclient.Options{})}

		_, err := f.FetchAll(context.Background(), ts.URL, "catalogs")
		var me *httpclient.MalformedError
		assert.ErrorAs(t, err, &me)
	})
}

func TestFetchAllAs(t *testing.T) {
	ts, _ := pagedServer(t, "catalogs", []int{1, 1}, -1)
	f := Fetcher{Client: httpclient.New(httpclient.Options{})}

	type item struct {
		Title string `json:"title"`
	}
	items, err := FetchAllAs[item](context.Background(), f, ts.URL, "catalogs")
	require.NoError(t, err)
	assert.Equal(t, []item{{"p0-i0"}, {"p1-i0"}}, items)
}
