// Package proxy implements the intercepting record-mode HTTP(S) proxy.
//
// The listener receives connections DNAT'd to it by the surrounding
// container, recovers each connection's original destination, opens an
// upstream connection there, and ferries framed HTTP in both directions.
// Port-443 traffic is TLS-intercepted on both sides. Response emission is
// gated by the shared serializer; every completed exchange is persisted to
// the backing store.
package proxy

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/paivaspol/mahimahi/pkg/constants"
	"github.com/paivaspol/mahimahi/pkg/errors"
	"github.com/paivaspol/mahimahi/pkg/record"
	"github.com/paivaspol/mahimahi/pkg/serializer"
	"github.com/paivaspol/mahimahi/pkg/timing"
)

var proxyLog = logrus.WithField("source", "proxy")

// SetLogger replaces the package logger.
func SetLogger(entry *logrus.Entry) {
	proxyLog = entry
}

// Config assembles a Proxy's collaborators.
type Config struct {
	// ListenAddr is the address the DNAT rules point at.
	ListenAddr string

	// Serializer gates response emission across all connections.
	Serializer *serializer.Serializer

	// Store receives every completed exchange.
	Store record.BackingStore

	// ServerTLS is the downstream (client-facing) TLS configuration used
	// for port-443 interception.
	ServerTLS *tls.Config

	// ClientTLS is the upstream (origin-facing) TLS configuration.
	ClientTLS *tls.Config
}

// Proxy is the intercepting proxy. One listener; one goroutine per accepted
// connection.
type Proxy struct {
	cfg      Config
	listener net.Listener
	log      *logrus.Entry
}

// New opens the listener. The proxy does not accept until Run.
func New(cfg Config) (*Proxy, error) {
	if cfg.Serializer == nil {
		return nil, errors.NewInternalError("proxy requires a serializer")
	}
	if cfg.Store == nil {
		cfg.Store = record.NoopStore{}
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, errors.NewIOError("opening proxy listener", err)
	}
	return &Proxy{
		cfg:      cfg,
		listener: listener,
		log:      proxyLog,
	}, nil
}

// Addr returns the bound listener address.
func (p *Proxy) Addr() net.Addr {
	return p.listener.Addr()
}

// Run accepts connections until the context is canceled. Per-connection
// failures are fatal to that connection only; the listener keeps going.
func (p *Proxy) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		p.listener.Close()
	}()

	for {
		clientConn, err := p.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.NewIOError("accepting connection", err)
		}
		go p.handleTCP(clientConn.(*net.TCPConn))
	}
}

// handleTCP resolves the original destination, connects upstream, upgrades
// both sides to TLS for port 443, and runs the ferry loop.
func (p *Proxy) handleTCP(client *net.TCPConn) {
	log := p.log.WithField("client", client.RemoteAddr().String())

	ip, port, err := originalDestination(client)
	if err != nil {
		log.WithError(err).Error("could not resolve original destination")
		client.Close()
		return
	}
	addr := net.JoinHostPort(ip, strconv.Itoa(int(port)))
	log = log.WithField("origin", addr)

	timer := timing.NewTimer()
	timer.StartTCP()
	origin, err := net.DialTimeout("tcp", addr, constants.DefaultConnTimeout)
	timer.EndTCP()
	if err != nil {
		log.WithError(err).Error("could not connect to origin")
		client.Close()
		return
	}

	scheme := record.SchemeHTTP
	var clientSide net.Conn = client
	var originSide net.Conn = origin

	if port == 443 {
		scheme = record.SchemeHTTPS

		if p.cfg.ServerTLS == nil || p.cfg.ClientTLS == nil {
			log.Error("TLS interception not configured; dropping port-443 connection")
			origin.Close()
			client.Close()
			return
		}

		timer.StartTLS()
		tlsOrigin := tls.Client(origin, p.cfg.ClientTLS)
		if err := tlsOrigin.Handshake(); err != nil {
			log.WithError(errors.NewTLSError(addr, err)).Error("upstream TLS handshake failed")
			origin.Close()
			client.Close()
			return
		}

		tlsClient := tls.Server(client, p.cfg.ServerTLS)
		if err := tlsClient.Handshake(); err != nil {
			log.WithError(errors.NewTLSError(client.RemoteAddr().String(), err)).Error("downstream TLS handshake failed")
			tlsOrigin.Close()
			client.Close()
			return
		}
		timer.EndTLS()

		clientSide, originSide = tlsClient, tlsOrigin
	}

	c := newConn(p.cfg, clientSide, originSide, scheme, ip, uint32(port), timer.Metrics(), log)
	if err := c.run(); err != nil {
		log.WithError(err).Debug("connection finished with error")
	}
}
