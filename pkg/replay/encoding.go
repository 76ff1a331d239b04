package replay

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/paivaspol/mahimahi/pkg/buffer"
	"github.com/paivaspol/mahimahi/pkg/constants"
	"github.com/paivaspol/mahimahi/pkg/errors"
)

// decodeBody decompresses a stored body according to its content-encoding.
// The decoded payload goes through a spill buffer so a pathological stored
// body cannot pin its expansion in memory.
func decodeBody(body []byte, encoding string) ([]byte, error) {
	var reader io.Reader
	switch encoding {
	case "", "identity":
		return body, nil
	case "gzip":
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, errors.NewIOError("opening gzip body", err)
		}
		defer gz.Close()
		reader = gz
	case "deflate":
		// HTTP deflate is zlib-wrapped, but raw-deflate servers are
		// common enough that a failed zlib header falls back.
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			fr := flate.NewReader(bytes.NewReader(body))
			defer fr.Close()
			reader = fr
		} else {
			defer zr.Close()
			reader = zr
		}
	case "br":
		reader = brotli.NewReader(bytes.NewReader(body))
	default:
		return nil, errors.NewParseError("unsupported content-encoding: "+encoding, nil)
	}

	spill := buffer.New(constants.DefaultBodyMemLimit)
	defer spill.Close()
	if _, err := io.Copy(spill, reader); err != nil {
		return nil, errors.NewIOError("decoding body", err)
	}
	return spill.ReadAll()
}

// encodeBody re-applies the stored content-encoding to a rewritten payload.
func encodeBody(body []byte, encoding string) ([]byte, error) {
	switch encoding {
	case "", "identity":
		return body, nil
	case "gzip":
		var out bytes.Buffer
		gz := gzip.NewWriter(&out)
		if _, err := gz.Write(body); err != nil {
			return nil, errors.NewIOError("gzip-encoding body", err)
		}
		if err := gz.Close(); err != nil {
			return nil, errors.NewIOError("gzip-encoding body", err)
		}
		return out.Bytes(), nil
	case "deflate":
		var out bytes.Buffer
		zw := zlib.NewWriter(&out)
		if _, err := zw.Write(body); err != nil {
			return nil, errors.NewIOError("deflate-encoding body", err)
		}
		if err := zw.Close(); err != nil {
			return nil, errors.NewIOError("deflate-encoding body", err)
		}
		return out.Bytes(), nil
	case "br":
		var out bytes.Buffer
		bw := brotli.NewWriter(&out)
		if _, err := bw.Write(body); err != nil {
			return nil, errors.NewIOError("brotli-encoding body", err)
		}
		if err := bw.Close(); err != nil {
			return nil, errors.NewIOError("brotli-encoding body", err)
		}
		return out.Bytes(), nil
	default:
		return nil, errors.NewParseError("unsupported content-encoding: "+encoding, nil)
	}
}
