package replay

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/paivaspol/mahimahi/pkg/config"
	"github.com/paivaspol/mahimahi/pkg/constants"
	"github.com/paivaspol/mahimahi/pkg/record"
	"github.com/paivaspol/mahimahi/pkg/urlutil"
)

// IncomingRequest is the CGI description of the request being replayed.
type IncomingRequest struct {
	Method   string
	URI      string
	Protocol string
	Host     string // "" when the client sent no Host header
	HasHost  bool
	HTTPS    bool
}

// RequestLine reconstructs the request line for diagnostics.
func (r *IncomingRequest) RequestLine() string {
	return r.Method + " " + r.URI + " " + r.Protocol
}

// Matcher selects the best stored record for an incoming request.
//
// Tier-1 candidates share the incoming request's exact path (query
// stripped) and are scored by longest-common-prefix over the full URL.
// Tier-2 is consulted only while Tier-1 is empty: records sharing the last
// path segment are scored by bounded edit distance (or last-token common
// prefix, per calibration). Ties break toward directory-iteration order.
type Matcher struct {
	records []*record.RequestResponse
	cal     config.Calibration
	log     *logrus.Entry
}

// NewMatcher wraps a loaded recording directory.
func NewMatcher(records []*record.RequestResponse, cal config.Calibration, log *logrus.Entry) *Matcher {
	return &Matcher{records: records, cal: cal, log: log}
}

// savedTarget extracts the request-target from a stored request line.
func savedTarget(rec *record.RequestResponse) string {
	fields := strings.SplitN(rec.Request.FirstLine, " ", 3)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

// hostMatches applies the Host filter: a record matches when neither side
// has a Host header, or both do and the values are byte-equal.
func hostMatches(incoming *IncomingRequest, rec *record.RequestResponse) bool {
	savedHost := rec.Request.GetHeader("Host")
	savedHas := rec.Request.HasHeader("Host")
	if !incoming.HasHost && !savedHas {
		return true
	}
	if incoming.HasHost && savedHas {
		return incoming.Host == savedHost
	}
	return false
}

// Match returns the chosen record, or nil when nothing scores.
func (m *Matcher) Match(incoming *IncomingRequest) *record.RequestResponse {
	wantScheme := record.SchemeHTTP
	if incoming.HTTPS {
		wantScheme = record.SchemeHTTPS
	}

	bestScore := 0
	var bestMatch *record.RequestResponse

	bestDistance := 0
	bestEditScore := 0
	var bestEditMatch *record.RequestResponse

	for _, rec := range m.records {
		if rec.Scheme != wantScheme {
			continue
		}
		if !hostMatches(incoming, rec) {
			continue
		}

		savedURL := savedTarget(rec)
		reqURL := urlutil.StripHostname(incoming.URI, savedURL)
		reqQ := urlutil.StripQuery(reqURL)
		savedQ := urlutil.StripQuery(savedURL)

		if reqQ == savedQ {
			if score := urlutil.CommonPrefixLen(savedURL, reqURL); score > bestScore {
				bestScore = score
				bestMatch = rec
			}
			continue
		}

		if bestScore > 0 {
			continue
		}
		if urlutil.LastPathSegment(reqQ) != urlutil.LastPathSegment(savedQ) {
			continue
		}

		switch m.cal.Tier2Strategy {
		case config.Tier2LastTokenPrefix:
			score := urlutil.CommonPrefixLen(
				urlutil.LastPathSegment(reqQ), urlutil.LastPathSegment(savedQ))
			if score > bestEditScore {
				bestEditScore = score
				bestEditMatch = rec
			}
		default:
			dist := sift4(reqURL, savedURL, constants.Sift4MaxOffset, constants.Sift4MaxDistance)
			if bestEditMatch == nil || dist < bestDistance {
				bestDistance = dist
				bestEditMatch = rec
			}
		}
	}

	if bestScore > 0 && m.cal.CheckRedirect && redirectInvalid(bestMatch) {
		m.log.WithField("uri", incoming.URI).Debug("discarded redirect self-match")
		bestScore = 0
		bestMatch = nil
	}

	if bestScore > 0 {
		m.log.WithFields(logrus.Fields{
			"uri":   incoming.URI,
			"score": bestScore,
		}).Debug("tier-1 match")
		return bestMatch
	}
	if bestEditMatch != nil {
		m.log.WithFields(logrus.Fields{
			"uri":      incoming.URI,
			"distance": bestDistance,
		}).Debug("tier-2 match")
		return bestEditMatch
	}
	return nil
}

// redirectInvalid reports whether a matched 301/302 merely redirects the
// request to itself: Location path equal to the request path on the same
// host. Such a match would loop the client instead of serving content.
func redirectInvalid(rec *record.RequestResponse) bool {
	fields := strings.SplitN(rec.Response.FirstLine, " ", 3)
	if len(fields) < 2 {
		return false
	}
	status := fields[1]
	if status != "301" && status != "302" {
		return false
	}
	if !rec.Response.HasHeader("Location") {
		return false
	}

	target := savedTarget(rec)
	location := rec.Response.GetHeader("Location")
	path := urlutil.StripHostname(location, target)
	host := urlutil.ExtractHostname(location)
	return path == target && host == rec.Request.GetHeader("Host")
}
