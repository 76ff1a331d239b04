// Package framer implements incremental parsing of framed HTTP/1.x streams.
//
// Two stateful sinks are provided: RequestFramer for the client-to-origin
// direction and ResponseFramer for the origin-to-client direction. Each
// consumes arbitrary-size byte buffers and produces an ordered queue of
// completed messages, drained with Front/Pop.
//
// A ResponseFramer must be handed each completed request, in order, via
// NewRequestArrived before the corresponding response completes; the request
// supplies the HEAD and status-code body rules from RFC 7230.
package framer

import (
	"bytes"
	"strings"

	"github.com/paivaspol/mahimahi/pkg/constants"
)

// parseState tracks which section of the current message is pending.
type parseState int

const (
	stateFirstLinePending parseState = iota
	stateHeadersPending
	stateBodyPending
)

// cutLine extracts one header-section line from buf. Returns the line
// without its terminator, the number of bytes consumed, and whether a full
// line was available. Bare-LF terminators are tolerated.
func cutLine(buf []byte) (string, int, bool) {
	idx := bytes.IndexByte(buf, '\n')
	if idx < 0 {
		return "", 0, false
	}
	line := string(buf[:idx])
	line = strings.TrimSuffix(line, "\r")
	return line, idx + 1, true
}

// compact drops the consumed prefix of buf once it grows past the read chunk
// size, so long-lived connections do not pin their whole history.
func compact(buf []byte, used int) []byte {
	if used == 0 {
		return buf
	}
	if used == len(buf) {
		return buf[:0]
	}
	if used > constants.ReadChunkSize {
		return append([]byte(nil), buf[used:]...)
	}
	return buf[used:]
}
