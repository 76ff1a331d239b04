// Package mahimahi provides the record-and-replay HTTP(S) proxy core of a
// network emulation shell for mobile web page loads.
//
// Record mode intercepts a browser's traffic inside an isolated network
// namespace, ferries it upstream, serializes response emission against a
// reference request order, and persists each exchange. Replay mode selects
// the best stored response for an incoming request from a directory of
// records.
package mahimahi

import (
	"github.com/paivaspol/mahimahi/pkg/config"
	"github.com/paivaspol/mahimahi/pkg/errors"
	"github.com/paivaspol/mahimahi/pkg/framer"
	"github.com/paivaspol/mahimahi/pkg/httpmsg"
	"github.com/paivaspol/mahimahi/pkg/proxy"
	"github.com/paivaspol/mahimahi/pkg/record"
	"github.com/paivaspol/mahimahi/pkg/replay"
	"github.com/paivaspol/mahimahi/pkg/serializer"
)

// Re-export key types for easier usage
type (
	// Request is a parsed HTTP request.
	Request = httpmsg.Request

	// Response is a parsed HTTP response.
	Response = httpmsg.Response

	// RequestFramer incrementally parses a request stream.
	RequestFramer = framer.RequestFramer

	// ResponseFramer incrementally parses a response stream.
	ResponseFramer = framer.ResponseFramer

	// Serializer orders response emission across connections.
	Serializer = serializer.Serializer

	// Proxy is the intercepting record-mode proxy.
	Proxy = proxy.Proxy

	// RequestResponse is one stored exchange.
	RequestResponse = record.RequestResponse

	// BackingStore persists completed exchanges.
	BackingStore = record.BackingStore

	// Calibration carries the policy toggles.
	Calibration = config.Calibration

	// Error is the structured error type shared by all packages.
	Error = errors.Error
)

// Re-export error kinds for convenience
const (
	KindParse    = errors.KindParse
	KindIO       = errors.KindIO
	KindTLS      = errors.KindTLS
	KindConfig   = errors.KindConfig
	KindNoMatch  = errors.KindNoMatch
	KindInternal = errors.KindInternal
)

// NewProxy opens the record-mode proxy listener.
func NewProxy(cfg proxy.Config) (*Proxy, error) {
	return proxy.New(cfg)
}

// NewSerializer constructs the cross-connection response serializer.
var NewSerializer = serializer.New

// NewReplayServer constructs the environment-driven replay server.
var NewReplayServer = replay.NewServer
