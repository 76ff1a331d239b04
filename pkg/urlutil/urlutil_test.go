package urlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripQuery(t *testing.T) {
	assert.Equal(t, "/a/b", StripQuery("/a/b?x=1&y=2"))
	assert.Equal(t, "/a/b", StripQuery("/a/b"))
	assert.Equal(t, "", StripQuery("?x"))
}

func TestRemoveScheme(t *testing.T) {
	assert.Equal(t, "ex.com/a", RemoveScheme("http://ex.com/a"))
	assert.Equal(t, "ex.com/a", RemoveScheme("https://ex.com/a"))
	assert.Equal(t, "ex.com/a", RemoveScheme("ex.com/a"))
}

func TestEscapePageURL(t *testing.T) {
	assert.Equal(t, "ex.com", EscapePageURL("http://www.ex.com/"))
	assert.Equal(t, "ex.com/page", EscapePageURL("https://ex.com/page///"))
	assert.Equal(t, "ex.com", EscapePageURL("ex.com"))
}

func TestExtractHostname(t *testing.T) {
	assert.Equal(t, "ex.com", ExtractHostname("http://ex.com/a/b"))
	assert.Equal(t, "cdn.ex.com", ExtractHostname("https://cdn.ex.com"))
	assert.Equal(t, "ex.com", ExtractHostname("ex.com/a"))
}

func TestStripHostname(t *testing.T) {
	// Relative reference: the absolute URL is reduced to its path.
	assert.Equal(t, "/a/b", StripHostname("http://ex.com/a/b", "/x"))
	assert.Equal(t, "/a/b", StripHostname("https://www.ex.com/a/b", "/x"))
	// Both absolute with the same scheme: untouched.
	assert.Equal(t, "http://ex.com/a", StripHostname("http://ex.com/a", "http://ex.com/b"))
	// Already a path.
	assert.Equal(t, "/a", StripHostname("/a", "/b"))
}

func TestLastPathSegment(t *testing.T) {
	assert.Equal(t, "v123.js", LastPathSegment("/cdn/assets/v123.js"))
	assert.Equal(t, "v123.js", LastPathSegment("/cdn/v123.js;param=1"))
	assert.Equal(t, "plain", LastPathSegment("plain"))
	assert.Equal(t, "", LastPathSegment("/dir/"))
}

func TestCommonPrefixLen(t *testing.T) {
	assert.Equal(t, 4, CommonPrefixLen("/a/bcd", "/a/bxy"))
	assert.Equal(t, 0, CommonPrefixLen("abc", "xyz"))
	assert.Equal(t, 3, CommonPrefixLen("abc", "abcdef"))
}
