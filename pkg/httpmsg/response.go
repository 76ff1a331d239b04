package httpmsg

import (
	"strconv"
	"strings"

	"github.com/paivaspol/mahimahi/pkg/errors"
)

// Response is a parsed HTTP response together with the request that elicited
// it. The request pointer is required to apply the HEAD and status-code body
// rules and to recover the URL at emission time.
type Response struct {
	Message

	request *Request
}

// SetRequest attaches the completed request this response answers.
func (r *Response) SetRequest(req *Request) {
	r.request = req
}

// Request returns the request this response answers, or nil when the
// response framer has not yet been handed one.
func (r *Response) Request() *Request {
	return r.request
}

// StatusCode returns the numeric status code from the status line, or 0 when
// the line is malformed.
func (r *Response) StatusCode() int {
	fields := strings.SplitN(r.FirstLine, " ", 3)
	if len(fields) < 2 {
		return 0
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0
	}
	return code
}

// StatusCodeBodyless reports whether the status code forbids a message body
// (RFC 7230: 1xx, 204, 304).
func StatusCodeBodyless(code int) bool {
	return (code >= 100 && code < 200) || code == 204 || code == 304
}

// ValidateStatusLine checks that a status line has the VERSION CODE shape.
func ValidateStatusLine(line string) error {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 2 {
		return errors.NewParseError("malformed status line: "+line, nil)
	}
	if !strings.HasPrefix(fields[0], "HTTP/") {
		return errors.NewParseError("malformed HTTP version in status line: "+line, nil)
	}
	if _, err := strconv.Atoi(fields[1]); err != nil {
		return errors.NewParseError("malformed status code in status line: "+line, err)
	}
	return nil
}
