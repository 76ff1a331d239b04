package httpmsg

import (
	"strings"

	"github.com/paivaspol/mahimahi/pkg/errors"
)

// Request is a parsed HTTP request. After admission to the serializer it
// additionally carries the assigned request id.
type Request struct {
	Message

	// requestID is assigned by the serializer on admission; -1 until then.
	requestID int
}

// NewRequest constructs a Request with an unassigned request id.
func NewRequest() *Request {
	return &Request{requestID: -1}
}

// SetRequestID records the id assigned by the serializer.
func (r *Request) SetRequestID(id int) {
	r.requestID = id
}

// RequestID returns the assigned request id, or -1 before admission.
func (r *Request) RequestID() int {
	return r.requestID
}

// Method returns the request method token.
func (r *Request) Method() string {
	if idx := strings.Index(r.FirstLine, " "); idx > 0 {
		return r.FirstLine[:idx]
	}
	return ""
}

// IsHead reports whether this is a HEAD request. Responses to HEAD requests
// carry no body regardless of their headers.
func (r *Request) IsHead() bool {
	return r.Method() == "HEAD"
}

// URL returns the request-target from the request line, prefixed with the
// Host header when the target is in origin form. This is the URL the
// serializer and recorder key on.
func (r *Request) URL() string {
	target := r.Target()
	if strings.HasPrefix(target, "/") {
		return r.GetHeader("Host") + target
	}
	return target
}

// Target returns the raw request-target (second token of the request line).
func (r *Request) Target() string {
	fields := strings.SplitN(r.FirstLine, " ", 3)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

// ValidateRequestLine checks that a request line has the METHOD TARGET
// VERSION shape. A malformed first line is fatal to the connection.
func ValidateRequestLine(line string) error {
	fields := strings.Split(line, " ")
	if len(fields) != 3 {
		return errors.NewParseError("malformed request line: "+line, nil)
	}
	if !strings.HasPrefix(fields[2], "HTTP/") {
		return errors.NewParseError("malformed HTTP version in request line: "+line, nil)
	}
	return nil
}
