package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebaseTemplated(t *testing.T) {
	t.Run("keeps unsubstituted placeholder", func(t *testing.T) {
		got, err := RebaseTemplated("https://host/connector/", "/api/catalogs/{catalogId}{?page,size}")
		require.NoError(t, err)
		assert.Equal(t, "https://host/connector/api/catalogs/{catalogId}", got)
	})

	t.Run("drops foreign host", func(t *testing.T) {
		got, err := RebaseTemplated("https://host/connector/", "http://10.0.0.7:8080/api/artifacts/a1/data")
		require.NoError(t, err)
		assert.Equal(t, "https://host/connector/api/artifacts/a1/data", got)
	})

	t.Run("keeps percent escapes", func(t *testing.T) {
		got, err := RebaseTemplated("https://host/connector/", "http://internal/api/offers/a%2Fb/catalogs{?page,size}")
		require.NoError(t, err)
		assert.Equal(t, "https://host/connector/api/offers/a%2Fb/catalogs", got)
	})
}

func TestStripTemplate(t *testing.T) {
	assert.Equal(t, "https://c/api/offers/1/catalogs", StripTemplate("https://c/api/offers/1/catalogs{?page,size}"))
	// greedy: everything between the first '{' and the last '}' goes
	assert.Equal(t, "/api/catalogs/", StripTemplate("/api/catalogs/{catalogId}{?page,size}"))
	assert.Equal(t, "/a/b", StripTemplate("/a/b"))
}

func TestStripTrailingTemplate(t *testing.T) {
	assert.Equal(t, "/api/catalogs/{catalogId}", StripTrailingTemplate("/api/catalogs/{catalogId}{?page,size}"))
	assert.Equal(t, "/api/catalogs/x", StripTrailingTemplate("/api/catalogs/x"))
}

func TestCutTemplate(t *testing.T) {
	assert.Equal(t, "/api/agreements/9/artifacts", CutTemplate("/api/agreements/9/artifacts{?page,size}"))
	assert.Equal(t, "/plain", CutTemplate("/plain"))
}

func TestAbsolute(t *testing.T) {
	base := "https://host/connector/"
	assert.Equal(t, "https://host/connector/api/agreements/1/artifacts", Absolute(base, "/api/agreements/1/artifacts"))
	assert.Equal(t, "https://other/api/x", Absolute(base, "https://other/api/x"))
	assert.Equal(t, "https://host/connector/api/x", Absolute(base, "api/x"))
}

func TestNormalizeBase(t *testing.T) {
	assert.Equal(t, "https://h/connector/", NormalizeBase("https://h/connector"))
	assert.Equal(t, "https://h/connector/", NormalizeBase(" https://h/connector/// "))
	assert.Equal(t, "", NormalizeBase(""))
}

func TestWithPage(t *testing.T) {
	assert.Equal(t, "https://h/api/catalogs?page=2&size=30", WithPage("https://h/api/catalogs", 2, 30))
	assert.Equal(t, "https://h/x?a=1&page=0&size=10", WithPage("https://h/x?a=1", 0, 10))
}

func TestLastSegment(t *testing.T) {
	assert.Equal(t, "abc123", LastSegment("https://x/api/offers/abc123"))
	assert.Equal(t, "abc123", LastSegment("https://x/api/offers/abc123/"))
	assert.Equal(t, "abc123", LastSegment("abc123"))
}

func TestParseDescription(t *testing.T) {
	t.Run("prefixed keys", func(t *testing.T) {
		d, err := ParseDescription([]byte(`{
			"ids:offeredResource": [{
				"ids:contractOffer": [{"ids:permission": [{"ids:action": [{"@id": "https://w3id.org/idsa/code/USE"}]}]}],
				"ids:representation": [{"ids:instance": [{"@id": "https://c/api/artifacts/a1"}]}]
			}]
		}`))
		require.NoError(t, err)
		action, ok := d.Action()
		require.True(t, ok)
		assert.Equal(t, "https://w3id.org/idsa/code/USE", action)
		artifact, ok := d.Artifact()
		require.True(t, ok)
		assert.Equal(t, "https://c/api/artifacts/a1", artifact)
	})

	t.Run("compacted keys", func(t *testing.T) {
		d, err := ParseDescription([]byte(`{"offeredResource":[{"contractOffer":[{"permission":[{"action":[{"@id":"read"}]}]}],"representation":[{"instance":[]}]}]}`))
		require.NoError(t, err)
		_, ok := d.Action()
		assert.True(t, ok)
		_, ok = d.Artifact()
		assert.False(t, ok)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := ParseDescription([]byte("<html>"))
		assert.Error(t, err)
	})
}
