// Package urlutil provides URL normalization helpers shared by the recorder,
// the serializer, and the replay matcher.
//
// The request-order table, the prefetch set and the serializer compare
// "escaped" URLs: scheme stripped, leading "www." stripped, trailing slashes
// stripped. The replay matcher instead compares hostname-stripped paths
// (StripHostname, StripQuery, LastPathSegment).
package urlutil

import "strings"

const (
	schemeHTTP  = "http://"
	schemeHTTPS = "https://"
	wwwPrefix   = "www."
)

// StripQuery returns the URL up to (not including) the first '?'.
func StripQuery(url string) string {
	if idx := strings.Index(url, "?"); idx >= 0 {
		return url[:idx]
	}
	return url
}

// RemoveScheme strips a leading http:// or https:// prefix.
func RemoveScheme(url string) string {
	if strings.HasPrefix(url, schemeHTTPS) {
		return url[len(schemeHTTPS):]
	}
	if strings.HasPrefix(url, schemeHTTP) {
		return url[len(schemeHTTP):]
	}
	return url
}

// RemoveTrailingSlash strips all trailing '/' characters.
func RemoveTrailingSlash(url string) string {
	return strings.TrimRight(url, "/")
}

// StripWWW strips a leading "www." prefix.
func StripWWW(url string) string {
	return strings.TrimPrefix(url, wwwPrefix)
}

// ExtractHostname returns the hostname portion of an absolute URL, without
// scheme or path.
func ExtractHostname(url string) string {
	rest := RemoveScheme(url)
	if idx := strings.Index(rest, "/"); idx >= 0 {
		return rest[:idx]
	}
	return rest
}

// StripHostname reduces url to its path when the reference path is relative.
// When both url and reference are absolute with the same scheme (both
// http:// or both https://) the URL is returned untouched, so absolute-form
// records compare against absolute-form requests; with differing schemes url
// is reduced to its path.
func StripHostname(url, reference string) string {
	bothHTTP := strings.HasPrefix(url, schemeHTTP) && strings.HasPrefix(reference, schemeHTTP)
	bothHTTPS := strings.HasPrefix(url, schemeHTTPS) && strings.HasPrefix(reference, schemeHTTPS)
	if bothHTTP || bothHTTPS {
		return url
	}

	rest := StripWWW(RemoveScheme(url))
	if idx := strings.Index(rest, "/"); idx >= 0 {
		return rest[idx:]
	}
	return rest
}

// EscapePageURL normalizes a page URL for equality comparison against the
// configured main page: scheme removed, "www." removed, trailing slashes
// removed.
func EscapePageURL(pageURL string) string {
	return RemoveTrailingSlash(StripWWW(RemoveScheme(pageURL)))
}

// LastPathSegment returns the final '/'-separated token of a URL path,
// truncated at the first ';'.
func LastPathSegment(url string) string {
	seg := url
	if idx := strings.LastIndex(seg, "/"); idx >= 0 {
		seg = seg[idx+1:]
	}
	if idx := strings.Index(seg, ";"); idx >= 0 {
		seg = seg[:idx]
	}
	return seg
}

// CommonPrefixLen returns the length of the longest common prefix of a and b.
func CommonPrefixLen(a, b string) int {
	max := len(a)
	if len(b) < max {
		max = len(b)
	}
	for i := 0; i < max; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return max
}
