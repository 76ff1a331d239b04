package replay

import (
	"bytes"
	"strings"

	"github.com/paivaspol/mahimahi/pkg/httpmsg"
	"github.com/paivaspol/mahimahi/pkg/record"
	"github.com/paivaspol/mahimahi/pkg/urlutil"
)

// callbackParam extracts the JSONP callback identifier from a request
// target's query string: the "callback" parameter, or "callbackPubmine" as
// the site-specific fallback.
func callbackParam(target string) string {
	idx := strings.Index(target, "?")
	if idx < 0 {
		return ""
	}
	query := target[idx+1:]
	for _, pair := range strings.Split(query, "&") {
		if v, ok := strings.CutPrefix(pair, "callback="); ok && v != "" {
			return v
		}
	}
	for _, pair := range strings.Split(query, "&") {
		if v, ok := strings.CutPrefix(pair, "callbackPubmine="); ok && v != "" {
			return v
		}
	}
	return ""
}

// rewriteJSONP substitutes the stored callback identifier with the incoming
// one inside the decoded stored body, re-encodes, and installs the result as
// the response body. A no-op when either side has no callback parameter or
// the identifiers already agree.
func rewriteJSONP(incoming *IncomingRequest, rec *record.RequestResponse, resp *httpmsg.Message) error {
	incomingCb := callbackParam(incoming.URI)
	if incomingCb == "" {
		return nil
	}
	storedCb := callbackParam(savedTarget(rec))
	if storedCb == "" || storedCb == incomingCb {
		return nil
	}
	// Chunk framing in the stored body cannot be decoded in place.
	if strings.Contains(strings.ToLower(resp.GetHeader("Transfer-Encoding")), "chunked") {
		return nil
	}

	encoding := strings.ToLower(resp.GetHeader("Content-Encoding"))
	decoded, err := decodeBody(resp.Body, encoding)
	if err != nil {
		return err
	}

	rewritten := bytes.ReplaceAll(decoded, []byte(storedCb), []byte(incomingCb))
	encoded, err := encodeBody(rewritten, encoding)
	if err != nil {
		return err
	}
	resp.SetBody(encoded)
	return nil
}

// fullURL reconstructs the absolute URL of the incoming request, used for
// the think-time lookup and the dependency table.
func fullURL(incoming *IncomingRequest, rec *record.RequestResponse) string {
	scheme := "http://"
	if incoming.HTTPS {
		scheme = "https://"
	}
	host := incoming.Host
	if host == "" {
		host = urlutil.ExtractHostname(rec.Request.GetHeader("Host"))
	}
	return scheme + host + incoming.URI
}
