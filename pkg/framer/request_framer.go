package framer

import (
	"github.com/paivaspol/mahimahi/pkg/constants"
	"github.com/paivaspol/mahimahi/pkg/errors"
	"github.com/paivaspol/mahimahi/pkg/httpmsg"
)

// RequestFramer incrementally parses a stream of HTTP requests.
type RequestFramer struct {
	buf         []byte
	state       parseState
	cur         *httpmsg.Request
	headerBytes int
	body        bodyReader
	queue       []*httpmsg.Request
}

// NewRequestFramer returns an empty request framer.
func NewRequestFramer() *RequestFramer {
	return &RequestFramer{}
}

// Parse consumes a buffer of bytes read from the client. Completed requests
// accumulate on the framer's queue. A malformed first line or header is
// fatal to the connection.
func (f *RequestFramer) Parse(data []byte) error {
	f.buf = append(f.buf, data...)

	for {
		switch f.state {
		case stateFirstLinePending:
			line, n, ok := cutLine(f.buf)
			if !ok {
				return nil
			}
			f.buf = compact(f.buf, n)
			if line == "" {
				// Robustness per RFC 7230 §3.5: ignore empty
				// lines before the request line.
				continue
			}
			if err := httpmsg.ValidateRequestLine(line); err != nil {
				return err
			}
			f.cur = httpmsg.NewRequest()
			f.cur.FirstLine = line
			f.headerBytes = 0
			f.state = stateHeadersPending

		case stateHeadersPending:
			line, n, ok := cutLine(f.buf)
			if !ok {
				return nil
			}
			f.buf = compact(f.buf, n)
			f.headerBytes += n
			if f.headerBytes > constants.MaxHeaderBytes {
				return errors.NewParseError("request headers exceed maximum size", nil)
			}
			if line == "" {
				if err := f.body.initFromHeaders(
					f.cur.GetHeader("Transfer-Encoding"),
					f.cur.GetHeader("Content-Length"),
					false,
				); err != nil {
					return err
				}
				f.state = stateBodyPending
				continue
			}
			if err := f.cur.AddHeaderLine(line); err != nil {
				return err
			}

		case stateBodyPending:
			n, done, err := f.body.consume(f.buf)
			f.buf = compact(f.buf, n)
			if err != nil {
				return err
			}
			if !done {
				return nil
			}
			f.cur.Body = f.body.data
			f.queue = append(f.queue, f.cur)
			f.cur = nil
			f.body.reset()
			f.state = stateFirstLinePending
		}
	}
}

// FinishEOF finalizes the stream at client close. EOF between messages is
// clean; EOF inside a message is a parse error (request bodies are always
// length-delimited).
func (f *RequestFramer) FinishEOF() error {
	if f.state == stateFirstLinePending {
		return nil
	}
	if f.state == stateHeadersPending {
		return errors.NewParseError("EOF in the middle of request headers", nil)
	}
	return errors.NewParseError("EOF in the middle of a request body", nil)
}

// Empty reports whether no completed request is queued.
func (f *RequestFramer) Empty() bool {
	return len(f.queue) == 0
}

// Front returns the oldest completed request without removing it.
func (f *RequestFramer) Front() *httpmsg.Request {
	return f.queue[0]
}

// Pop removes the oldest completed request.
func (f *RequestFramer) Pop() {
	f.queue = f.queue[1:]
}
