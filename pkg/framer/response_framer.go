package framer

import (
	"github.com/paivaspol/mahimahi/pkg/constants"
	"github.com/paivaspol/mahimahi/pkg/errors"
	"github.com/paivaspol/mahimahi/pkg/httpmsg"
)

// ResponseFramer incrementally parses a stream of HTTP responses.
//
// Responses can only be finalized once the request that elicited them is
// known, so callers must invoke NewRequestArrived with each completed
// request in the order the requests were written upstream.
type ResponseFramer struct {
	buf         []byte
	state       parseState
	cur         *httpmsg.Response
	headerBytes int
	body        bodyReader
	queue       []*httpmsg.Response
	pending     []*httpmsg.Request
}

// NewResponseFramer returns an empty response framer.
func NewResponseFramer() *ResponseFramer {
	return &ResponseFramer{}
}

// NewRequestArrived hands the framer the next completed request. Requests
// pair with responses first-in first-out.
func (f *ResponseFramer) NewRequestArrived(req *httpmsg.Request) {
	f.pending = append(f.pending, req)
}

// Parse consumes a buffer of bytes read from the origin. Completed responses
// accumulate on the framer's queue.
func (f *ResponseFramer) Parse(data []byte) error {
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
				continue
			}
			if err := httpmsg.ValidateStatusLine(line); err != nil {
				return err
			}
			f.cur = &httpmsg.Response{}
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
				return errors.NewParseError("response headers exceed maximum size", nil)
			}
			if line == "" {
				if err := f.startBody(); err != nil {
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
			f.finalize()
		}
	}
}

// startBody pairs the response with its request and selects the body rule:
// HEAD responses and 1xx/204/304 have no body; then chunked; then
// Content-Length; else the body runs until the origin closes.
func (f *ResponseFramer) startBody() error {
	if len(f.pending) == 0 {
		return errors.NewInternalError("response arrived before its request")
	}
	req := f.pending[0]
	f.pending = f.pending[1:]
	f.cur.SetRequest(req)

	if req.IsHead() || httpmsg.StatusCodeBodyless(f.cur.StatusCode()) {
		f.body.initNone()
		return nil
	}
	return f.body.initFromHeaders(
		f.cur.GetHeader("Transfer-Encoding"),
		f.cur.GetHeader("Content-Length"),
		true,
	)
}

func (f *ResponseFramer) finalize() {
	f.cur.Body = f.body.data
	f.queue = append(f.queue, f.cur)
	f.cur = nil
	f.body.reset()
	f.state = stateFirstLinePending
}

// FinishEOF finalizes the stream at origin close. An EOF-terminated body in
// progress completes; EOF anywhere else inside a message is fatal.
func (f *ResponseFramer) FinishEOF() error {
	switch f.state {
	case stateFirstLinePending:
		return nil
	case stateHeadersPending:
		return errors.NewParseError("EOF in the middle of response headers", nil)
	default:
		if err := f.body.finishEOF(); err != nil {
			return err
		}
		f.finalize()
		return nil
	}
}

// Empty reports whether no completed response is queued.
func (f *ResponseFramer) Empty() bool {
	return len(f.queue) == 0
}

// Front returns the oldest completed response without removing it.
func (f *ResponseFramer) Front() *httpmsg.Response {
	return f.queue[0]
}

// Pop removes the oldest completed response.
func (f *ResponseFramer) Pop() {
	f.queue = f.queue[1:]
}
