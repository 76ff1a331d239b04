// Package record reads and writes stored request-response pairs.
//
// The wire format is the mahimahi protobuf record layout, encoded and
// decoded directly with protowire:
//
//	RequestResponse: scheme(1) ip(2) port(3) request(4) response(5)
//	HTTPMessage:     first_line(1) header(2, repeated) body(3)
//	HTTPHeader:      key(1) value(2)
//
// One record is persisted per file under the recording directory.
package record

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/paivaspol/mahimahi/pkg/errors"
	"github.com/paivaspol/mahimahi/pkg/httpmsg"
)

// Scheme tags the transport the record was captured on.
type Scheme int32

const (
	// SchemeHTTP marks a plaintext capture.
	SchemeHTTP Scheme = 1
	// SchemeHTTPS marks a TLS capture.
	SchemeHTTPS Scheme = 2
)

// Field numbers of the RequestResponse message.
const (
	fieldScheme   = 1
	fieldIP       = 2
	fieldPort     = 3
	fieldRequest  = 4
	fieldResponse = 5
)

// Field numbers of the embedded HTTPMessage and HTTPHeader messages.
const (
	fieldFirstLine = 1
	fieldHeader    = 2
	fieldBody      = 3

	fieldHeaderKey   = 1
	fieldHeaderValue = 2
)

// RequestResponse is one stored request-response pair. Read-only after
// creation.
type RequestResponse struct {
	Scheme   Scheme
	IP       string
	Port     uint32
	Request  httpmsg.Message
	Response httpmsg.Message
}

// Marshal serializes the record to the protobuf wire format.
func (r *RequestResponse) Marshal() []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldScheme, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(r.Scheme))
	if r.IP != "" {
		buf = protowire.AppendTag(buf, fieldIP, protowire.BytesType)
		buf = protowire.AppendBytes(buf, []byte(r.IP))
	}
	if r.Port != 0 {
		buf = protowire.AppendTag(buf, fieldPort, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(r.Port))
	}
	buf = protowire.AppendTag(buf, fieldRequest, protowire.BytesType)
	buf = protowire.AppendBytes(buf, marshalMessage(&r.Request))
	buf = protowire.AppendTag(buf, fieldResponse, protowire.BytesType)
	buf = protowire.AppendBytes(buf, marshalMessage(&r.Response))
	return buf
}

func marshalMessage(m *httpmsg.Message) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldFirstLine, protowire.BytesType)
	buf = protowire.AppendBytes(buf, []byte(m.FirstLine))
	for _, h := range m.Headers {
		var hdr []byte
		hdr = protowire.AppendTag(hdr, fieldHeaderKey, protowire.BytesType)
		hdr = protowire.AppendBytes(hdr, []byte(h.Name))
		hdr = protowire.AppendTag(hdr, fieldHeaderValue, protowire.BytesType)
		hdr = protowire.AppendBytes(hdr, []byte(h.Value))

		buf = protowire.AppendTag(buf, fieldHeader, protowire.BytesType)
		buf = protowire.AppendBytes(buf, hdr)
	}
	buf = protowire.AppendTag(buf, fieldBody, protowire.BytesType)
	buf = protowire.AppendBytes(buf, m.Body)
	return buf
}

// Unmarshal deserializes a record from the protobuf wire format.
func (r *RequestResponse) Unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return errors.NewParseError("invalid record: bad field tag", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldScheme && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return errors.NewParseError("invalid record: bad scheme", protowire.ParseError(n))
			}
			r.Scheme = Scheme(v)
			data = data[n:]
		case num == fieldIP && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return errors.NewParseError("invalid record: bad ip", protowire.ParseError(n))
			}
			r.IP = string(v)
			data = data[n:]
		case num == fieldPort && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return errors.NewParseError("invalid record: bad port", protowire.ParseError(n))
			}
			r.Port = uint32(v)
			data = data[n:]
		case num == fieldRequest && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return errors.NewParseError("invalid record: bad request", protowire.ParseError(n))
			}
			if err := unmarshalMessage(v, &r.Request); err != nil {
				return err
			}
			data = data[n:]
		case num == fieldResponse && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return errors.NewParseError("invalid record: bad response", protowire.ParseError(n))
			}
			if err := unmarshalMessage(v, &r.Response); err != nil {
				return err
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return errors.NewParseError("invalid record: bad field value", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}

func unmarshalMessage(data []byte, m *httpmsg.Message) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return errors.NewParseError("invalid record message: bad field tag", protowire.ParseError(n))
		}
		data = data[n:]

		if typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return errors.NewParseError("invalid record message: bad field value", protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}

		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return errors.NewParseError("invalid record message: bad bytes field", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldFirstLine:
			m.FirstLine = string(v)
		case fieldHeader:
			h, err := unmarshalHeader(v)
			if err != nil {
				return err
			}
			m.Headers = append(m.Headers, h)
		case fieldBody:
			m.Body = append([]byte(nil), v...)
		}
	}
	return nil
}

func unmarshalHeader(data []byte) (httpmsg.Header, error) {
	var h httpmsg.Header
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return h, errors.NewParseError("invalid record header: bad field tag", protowire.ParseError(n))
		}
		data = data[n:]

		v, n := protowire.ConsumeBytes(data)
		if n < 0 || typ != protowire.BytesType {
			return h, errors.NewParseError("invalid record header: bad bytes field", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldHeaderKey:
			h.Name = string(v)
		case fieldHeaderValue:
			h.Value = string(v)
		}
	}
	return h, nil
}
