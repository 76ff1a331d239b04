// Package httpmsg models parsed HTTP/1.x messages.
//
// A message is a request-line or status-line, an ordered list of headers,
// and a body byte string. Header order is preserved exactly as received so
// that re-serialization reproduces the original message; lookups are
// case-insensitive per RFC 7230.
package httpmsg

import (
	"bytes"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/paivaspol/mahimahi/pkg/errors"
)

// CRLF is the HTTP line terminator.
const CRLF = "\r\n"

// Header is a single (name, value) header field.
type Header struct {
	Name  string
	Value string
}

// ParseHeaderLine splits a raw header line at the first ':' into a Header.
// The value has surrounding whitespace trimmed; the name keeps the sender's
// casing.
func ParseHeaderLine(line string) (Header, error) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return Header{}, errors.NewParseError("header line missing colon: "+line, nil)
	}
	name := strings.TrimSpace(line[:idx])
	if !httpguts.ValidHeaderFieldName(name) {
		return Header{}, errors.NewParseError("invalid header field name: "+name, nil)
	}
	value := strings.TrimSpace(line[idx+1:])
	if !httpguts.ValidHeaderFieldValue(value) {
		return Header{}, errors.NewParseError("invalid header field value for "+name, nil)
	}
	return Header{Name: name, Value: value}, nil
}

// Message is the common representation of a parsed request or response.
// Immutable after parse except for the explicit header mutators below.
type Message struct {
	FirstLine string
	Headers   []Header
	Body      []byte
}

// HasHeader reports whether a header with the given name exists.
// Name comparison is case-insensitive.
func (m *Message) HasHeader(name string) bool {
	for i := range m.Headers {
		if strings.EqualFold(m.Headers[i].Name, name) {
			return true
		}
	}
	return false
}

// GetHeader returns the value of the first header with the given name, or ""
// when absent.
func (m *Message) GetHeader(name string) string {
	for i := range m.Headers {
		if strings.EqualFold(m.Headers[i].Name, name) {
			return m.Headers[i].Value
		}
	}
	return ""
}

// AddHeader appends a header to the end of the header list.
func (m *Message) AddHeader(name, value string) {
	m.Headers = append(m.Headers, Header{Name: name, Value: value})
}

// AddHeaderLine parses a raw "Name: value" line and appends it.
func (m *Message) AddHeaderLine(line string) error {
	h, err := ParseHeaderLine(line)
	if err != nil {
		return err
	}
	m.Headers = append(m.Headers, h)
	return nil
}

// RemoveHeader deletes every header with the given name.
func (m *Message) RemoveHeader(name string) {
	kept := m.Headers[:0]
	for _, h := range m.Headers {
		if !strings.EqualFold(h.Name, name) {
			kept = append(kept, h)
		}
	}
	m.Headers = kept
}

// SetHeader replaces the first header with the given name, preserving its
// position, or appends it when absent.
func (m *Message) SetHeader(name, value string) {
	for i := range m.Headers {
		if strings.EqualFold(m.Headers[i].Name, name) {
			m.Headers[i].Value = value
			return
		}
	}
	m.AddHeader(name, value)
}

// SetBody replaces the body and rewrites Content-Length to match.
func (m *Message) SetBody(body []byte) {
	m.Body = body
	m.SetHeader("Content-Length", strconv.Itoa(len(body)))
}

// Serialize renders the message back to wire form: first line, headers in
// their original order, a blank line, then the body bytes.
func (m *Message) Serialize() []byte {
	var buf bytes.Buffer
	buf.WriteString(m.FirstLine)
	buf.WriteString(CRLF)
	for _, h := range m.Headers {
		buf.WriteString(h.Name)
		buf.WriteString(": ")
		buf.WriteString(h.Value)
		buf.WriteString(CRLF)
	}
	buf.WriteString(CRLF)
	buf.Write(m.Body)
	return buf.Bytes()
}
