// Package tlsconfig provides helpers for the proxy's TLS interception.
//
// Port-443 connections are wrapped on both sides: the downstream side
// performs a server handshake with the pre-provisioned certificate, and the
// upstream side performs a client handshake verified against a provided
// trust store. No certificates are issued here; the CA material is assumed
// to exist.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/paivaspol/mahimahi/pkg/errors"
)

// NewServerConfig builds the downstream (client-facing) TLS configuration
// from a pre-provisioned certificate and key.
func NewServerConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, errors.NewTLSError("", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		NextProtos:   []string{"http/1.1"},
	}, nil
}

// NewClientConfig builds the upstream (origin-facing) TLS configuration.
//
// The original destination is known only as an address, so hostname
// verification is impossible; the peer chain is still verified against the
// trust store. caFile may be empty to use the system roots.
func NewClientConfig(caFile string) (*tls.Config, error) {
	var roots *x509.CertPool
	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, errors.NewIOError("reading CA certificate", err)
		}
		roots = x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pem) {
			return nil, errors.NewTLSError("", errors.NewParseError("no certificates in CA file", nil))
		}
	} else {
		var err error
		roots, err = x509.SystemCertPool()
		if err != nil {
			return nil, errors.NewTLSError("", err)
		}
	}

	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		NextProtos: []string{"http/1.1"},

		// Chain verification without hostname verification: standard
		// verification is disabled and replaced with an explicit
		// chain check against the trust store.
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: chainVerifier(roots),
	}
	return cfg, nil
}

// chainVerifier verifies the presented chain against roots, skipping the
// DNS-name check.
func chainVerifier(roots *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.NewTLSError("", errors.NewParseError("no peer certificates", nil))
		}
		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return errors.NewTLSError("", err)
			}
			certs = append(certs, cert)
		}

		intermediates := x509.NewCertPool()
		for _, cert := range certs[1:] {
			intermediates.AddCert(cert)
		}
		_, err := certs[0].Verify(x509.VerifyOptions{
			Roots:         roots,
			Intermediates: intermediates,
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		})
		if err != nil {
			return errors.NewTLSError("", err)
		}
		return nil
	}
}
