package tlsconfig

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeCertPair writes a self-signed CA and a server certificate it signed,
// returning (caFile, certFile, keyFile, serverDER).
func makeCertPair(t *testing.T) (string, string, string, []byte) {
	t.Helper()
	dir := t.TempDir()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "mahimahi test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	require.NoError(t, err)
	caCert, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	serverKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	serverTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"example.com"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	serverDER, err := x509.CreateCertificate(rand.Reader, serverTemplate, caCert, &serverKey.PublicKey, caKey)
	require.NoError(t, err)

	caFile := filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(caFile,
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caDER}), 0o644))

	certFile := filepath.Join(dir, "server.pem")
	require.NoError(t, os.WriteFile(certFile,
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: serverDER}), 0o644))

	keyDER, err := x509.MarshalECPrivateKey(serverKey)
	require.NoError(t, err)
	keyFile := filepath.Join(dir, "server.key")
	require.NoError(t, os.WriteFile(keyFile,
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o644))

	return caFile, certFile, keyFile, serverDER
}

func TestNewServerConfig(t *testing.T) {
	_, certFile, keyFile, _ := makeCertPair(t)
	cfg, err := NewServerConfig(certFile, keyFile)
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, []string{"http/1.1"}, cfg.NextProtos)
}

func TestNewServerConfigMissingAssets(t *testing.T) {
	_, err := NewServerConfig("/nonexistent/cert", "/nonexistent/key")
	assert.Error(t, err)
}

func TestClientConfigVerifiesChainWithoutHostname(t *testing.T) {
	caFile, _, _, serverDER := makeCertPair(t)
	cfg, err := NewClientConfig(caFile)
	require.NoError(t, err)
	require.NotNil(t, cfg.VerifyPeerCertificate)

	// A chain signed by the trust store passes even though no hostname
	// is checked.
	assert.NoError(t, cfg.VerifyPeerCertificate([][]byte{serverDER}, nil))
}

func TestClientConfigRejectsUntrustedChain(t *testing.T) {
	caFile, _, _, _ := makeCertPair(t)
	_, _, _, otherDER := makeCertPair(t)

	cfg, err := NewClientConfig(caFile)
	require.NoError(t, err)
	assert.Error(t, cfg.VerifyPeerCertificate([][]byte{otherDER}, nil),
		"a chain from a different CA must not verify")
	assert.Error(t, cfg.VerifyPeerCertificate(nil, nil))
}
