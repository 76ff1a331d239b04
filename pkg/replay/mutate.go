package replay

import (
	"strings"

	"github.com/paivaspol/mahimahi/pkg/config"
	"github.com/paivaspol/mahimahi/pkg/httpmsg"
	"github.com/paivaspol/mahimahi/pkg/urlutil"
)

// Replay always wins over cache validation, so every stored cache header is
// stripped before the policy below reinstates one.
var cacheHeaders = []string{
	"Cache-Control",
	"Expires",
	"Last-Modified",
	"Date",
	"Age",
	"Etag",
	"kp-eealive",
	"Pragma",
}

// Security headers removed so replayed pages load their (rewritten)
// subresources without policy interference.
var scrubbedHeaders = []string{
	"Content-Security-Policy",
	"X-XSS-Protection",
	"allowedHeaders",
	"Access-Control-Allow-Headers",
}

// applyCachePolicy strips stored cache headers, then allows an hour of
// caching for explicitly whitelisted resources and forbids storage for
// everything else.
func applyCachePolicy(resp *httpmsg.Message, host, path string, cachable *config.CachableResources) {
	for _, name := range cacheHeaders {
		resp.RemoveHeader(name)
	}
	if cachable.Has(host + path) {
		resp.AddHeader("Cache-Control", "max-age=3600")
	} else {
		resp.AddHeader("Cache-Control", "no-store")
	}
}

// scrubSecurityHeaders removes policy headers and opens up CORS.
func scrubSecurityHeaders(resp *httpmsg.Message) {
	for _, name := range scrubbedHeaders {
		resp.RemoveHeader(name)
	}
	resp.AddHeader("Access-Control-Allow-Headers", "*")
	if !resp.HasHeader("Access-Control-Allow-Origin") {
		resp.AddHeader("Access-Control-Allow-Origin", "*")
	}
}

const resourceListDelimiter = "|$de|"

// applyDependencyPush attaches the push-configuration headers for the
// children of the incoming URL: preload Link entries for high-priority
// Document/Script/Stylesheet children (nopush for cross-host ones), and the
// x-systemname-semi-important / x-systemname-unimportant lists carrying the
// remaining non-XHR children.
func applyDependencyPush(resp *httpmsg.Message, deps *config.Dependencies, requestURL, loadingPage string) {
	if deps.Empty() {
		return
	}
	children := deps.ChildrenOf(requestURL)
	if len(children) == 0 {
		return
	}

	var linkResources []string
	var semiImportant []string
	var unimportant []string

	for _, child := range children {
		if child.Type == "XHR" {
			continue
		}
		preloadType := child.Type == "Document" || child.Type == "Script" || child.Type == "Stylesheet"
		if config.IsPreloadPriority(child.Priority) && preloadType {
			entry := "<" + child.URL + ">;rel=preload" + config.PreloadAsAttribute(child.Type)
			childHost := urlutil.StripWWW(urlutil.ExtractHostname(child.URL))
			if childHost != loadingPage {
				entry += ";nopush"
			}
			linkResources = append(linkResources, entry)
			continue
		}
		listed := child.URL + ";" + child.Type
		if config.IsPreloadPriority(child.Priority) {
			semiImportant = append(semiImportant, listed)
		} else {
			unimportant = append(unimportant, listed)
		}
	}

	if len(linkResources) > 0 {
		resp.AddHeader("Link", strings.Join(linkResources, ", "))
	}
	if len(semiImportant) > 0 {
		resp.AddHeader("x-systemname-semi-important", strings.Join(semiImportant, resourceListDelimiter))
	}
	if len(unimportant) > 0 {
		resp.AddHeader("x-systemname-unimportant", strings.Join(unimportant, resourceListDelimiter))
	}
}
