// Package timing provides performance measurement for proxied exchanges.
package timing

import "time"

// Metrics captures timing information for one proxied connection.
// Recorded in the per-URL emission log lines that the offline analysis
// consumes.
type Metrics struct {
	// TCPConnect is the time spent establishing the upstream connection
	TCPConnect time.Duration `json:"tcp_connect"`

	// TLSHandshake is the time spent in TLS handshakes (0 for plain HTTP)
	TLSHandshake time.Duration `json:"tls_handshake"`
}

// Timer helps measure connection timings.
type Timer struct {
	tcpStart time.Time
	tcpEnd   time.Time
	tlsStart time.Time
	tlsEnd   time.Time
}

// NewTimer creates a new timing measurement session.
func NewTimer() *Timer {
	return &Timer{}
}

// StartTCP marks the beginning of the upstream TCP connect.
func (t *Timer) StartTCP() { t.tcpStart = time.Now() }

// EndTCP marks the end of the upstream TCP connect.
func (t *Timer) EndTCP() { t.tcpEnd = time.Now() }

// StartTLS marks the beginning of a TLS handshake.
func (t *Timer) StartTLS() { t.tlsStart = time.Now() }

// EndTLS marks the end of a TLS handshake.
func (t *Timer) EndTLS() { t.tlsEnd = time.Now() }

// Metrics returns the calculated connection metrics.
func (t *Timer) Metrics() Metrics {
	var m Metrics
	if !t.tcpStart.IsZero() && !t.tcpEnd.IsZero() {
		m.TCPConnect = t.tcpEnd.Sub(t.tcpStart)
	}
	if !t.tlsStart.IsZero() && !t.tlsEnd.IsZero() {
		m.TLSHandshake = t.tlsEnd.Sub(t.tlsStart)
	}
	return m
}

// EpochMillis renders an instant the way the emission log expects it.
func EpochMillis(t time.Time) int64 {
	return t.UnixMilli()
}
