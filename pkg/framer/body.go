package framer

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/paivaspol/mahimahi/pkg/constants"
	"github.com/paivaspol/mahimahi/pkg/errors"
)

// bodyMode describes how the end of a message body is determined.
type bodyMode int

const (
	// bodyNone means the message has no body.
	bodyNone bodyMode = iota
	// bodyLength means the body is Content-Length delimited.
	bodyLength
	// bodyChunked means the body uses chunked transfer coding.
	bodyChunked
	// bodyUntilEOF means the body runs until the peer closes the
	// connection. Responses only.
	bodyUntilEOF
)

// chunkPhase tracks progress through a chunked body.
type chunkPhase int

const (
	chunkSize chunkPhase = iota
	chunkData
	chunkDataCRLF
	chunkTrailer
)

// bodyReader incrementally consumes body bytes for one message.
//
// Chunked bodies keep their framing: the accumulated bytes include the size
// lines, the chunk CRLFs, and the trailer section, so re-serializing the
// message reproduces the wire bytes exactly.
type bodyReader struct {
	mode      bodyMode
	remaining int64
	phase     chunkPhase
	data      []byte
}

func (b *bodyReader) reset() {
	*b = bodyReader{}
}

// initFromHeaders configures the reader from Transfer-Encoding and
// Content-Length. forResponse selects the read-until-EOF fallback; requests
// without a length have no body.
func (b *bodyReader) initFromHeaders(transferEncoding, contentLength string, forResponse bool) error {
	b.data = nil
	b.phase = chunkSize

	if strings.Contains(strings.ToLower(transferEncoding), "chunked") {
		b.mode = bodyChunked
		return nil
	}
	if contentLength != "" {
		length, err := strconv.ParseInt(strings.TrimSpace(contentLength), 10, 64)
		if err != nil {
			return errors.NewParseError("invalid Content-Length", err)
		}
		if length < 0 {
			return errors.NewParseError("negative Content-Length", nil)
		}
		if length > constants.MaxContentLength {
			return errors.NewParseError("Content-Length too large", nil)
		}
		b.mode = bodyLength
		b.remaining = length
		return nil
	}
	if forResponse {
		b.mode = bodyUntilEOF
		return nil
	}
	b.mode = bodyNone
	return nil
}

// initNone configures a bodyless message (HEAD responses, 1xx/204/304).
func (b *bodyReader) initNone() {
	b.data = nil
	b.mode = bodyNone
}

// consume takes bytes from buf and returns how many were used and whether
// the body is complete. bodyUntilEOF never completes here; finishEOF does.
func (b *bodyReader) consume(buf []byte) (int, bool, error) {
	switch b.mode {
	case bodyNone:
		return 0, true, nil
	case bodyLength:
		n := int64(len(buf))
		if n > b.remaining {
			n = b.remaining
		}
		b.data = append(b.data, buf[:n]...)
		b.remaining -= n
		return int(n), b.remaining == 0, nil
	case bodyUntilEOF:
		b.data = append(b.data, buf...)
		return len(buf), false, nil
	case bodyChunked:
		return b.consumeChunked(buf)
	}
	return 0, false, errors.NewInternalError("bodyReader used before init")
}

// consumeChunked advances the chunked state machine over buf, preserving the
// consumed bytes verbatim.
func (b *bodyReader) consumeChunked(buf []byte) (int, bool, error) {
	used := 0
	for used < len(buf) {
		switch b.phase {
		case chunkSize:
			idx := bytes.IndexByte(buf[used:], '\n')
			if idx < 0 {
				return used, false, nil
			}
			line := buf[used : used+idx+1]
			sizeToken := strings.TrimRight(string(line), "\r\n")
			if semi := strings.Index(sizeToken, ";"); semi >= 0 {
				sizeToken = sizeToken[:semi]
			}
			size, err := strconv.ParseInt(strings.TrimSpace(sizeToken), 16, 64)
			if err != nil {
				return used, false, errors.NewParseError("invalid chunk size", err)
			}
			b.data = append(b.data, line...)
			used += idx + 1
			if size == 0 {
				b.phase = chunkTrailer
			} else {
				b.remaining = size
				b.phase = chunkData
			}
		case chunkData:
			n := int64(len(buf) - used)
			if n > b.remaining {
				n = b.remaining
			}
			b.data = append(b.data, buf[used:used+int(n)]...)
			used += int(n)
			b.remaining -= n
			if b.remaining == 0 {
				b.phase = chunkDataCRLF
			}
			if used == len(buf) && b.phase == chunkData {
				return used, false, nil
			}
		case chunkDataCRLF:
			idx := bytes.IndexByte(buf[used:], '\n')
			if idx < 0 {
				return used, false, nil
			}
			b.data = append(b.data, buf[used:used+idx+1]...)
			used += idx + 1
			b.phase = chunkSize
		case chunkTrailer:
			idx := bytes.IndexByte(buf[used:], '\n')
			if idx < 0 {
				return used, false, nil
			}
			line := buf[used : used+idx+1]
			b.data = append(b.data, line...)
			used += idx + 1
			if len(strings.TrimRight(string(line), "\r\n")) == 0 {
				return used, true, nil
			}
		}
	}
	return used, false, nil
}

// finishEOF finalizes the body at peer close. Only an EOF-terminated body may
// legally end this way; EOF with a known length outstanding is fatal.
func (b *bodyReader) finishEOF() error {
	switch b.mode {
	case bodyUntilEOF:
		return nil
	case bodyNone:
		return nil
	default:
		return errors.NewParseError("EOF in the middle of a delimited body", nil)
	}
}
