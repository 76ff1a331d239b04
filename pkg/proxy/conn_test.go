package proxy

import (
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paivaspol/mahimahi/pkg/config"
	"github.com/paivaspol/mahimahi/pkg/httpmsg"
	"github.com/paivaspol/mahimahi/pkg/record"
	"github.com/paivaspol/mahimahi/pkg/serializer"
	"github.com/paivaspol/mahimahi/pkg/timing"
)

// captureStore collects saved exchanges for assertions.
type captureStore struct {
	mu    sync.Mutex
	saved []*httpmsg.Response
}

func (s *captureStore) Save(resp *httpmsg.Response, _ record.Scheme, _ string, _ uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, resp)
	return nil
}

func (s *captureStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}

func emptyOrder(t *testing.T) *config.RequestOrder {
	t.Helper()
	path := t.TempDir() + "/order"
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	order, err := config.LoadRequestOrder(path)
	require.NoError(t, err)
	return order
}

func readExactly(t *testing.T, r io.Reader, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	_, err := io.ReadFull(r, buf)
	require.NoError(t, err)
	return buf
}

func TestConnFerriesRequestAndResponse(t *testing.T) {
	clientConn, clientPeer := net.Pipe()
	originConn, originPeer := net.Pipe()

	store := &captureStore{}
	ser := serializer.New(serializer.Config{
		Order:   emptyOrder(t),
		PageURL: "ex.com",
	}, testLogger())
	cfg := Config{Serializer: ser, Store: store}

	c := newConn(cfg, clientConn, originConn, record.SchemeHTTP, "10.0.0.1", 80, timing.Metrics{}, testLogger())
	done := make(chan error, 1)
	go func() { done <- c.run() }()

	request := "GET /a HTTP/1.1\r\nHost: ex.com\r\n\r\n"
	_, err := clientPeer.Write([]byte(request))
	require.NoError(t, err)

	// The framed request is forwarded upstream byte-for-byte.
	forwarded := readExactly(t, originPeer, len(request))
	assert.Equal(t, request, string(forwarded))

	response := "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"
	_, err = originPeer.Write([]byte(response))
	require.NoError(t, err)

	// The gated response comes back to the client.
	received := readExactly(t, clientPeer, len(response))
	assert.Equal(t, response, string(received))

	// Origin close tears the connection down and the exchange was saved.
	originPeer.Close()
	clientPeer.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not tear down")
	}
	assert.Equal(t, 1, store.count())
	assert.Equal(t, "GET /a HTTP/1.1", store.saved[0].Request().FirstLine)
}

func TestConnParseErrorIsFatal(t *testing.T) {
	clientConn, clientPeer := net.Pipe()
	originConn, originPeer := net.Pipe()
	defer originPeer.Close()

	ser := serializer.New(serializer.Config{
		Order:   emptyOrder(t),
		PageURL: "ex.com",
	}, testLogger())
	cfg := Config{Serializer: ser, Store: record.NoopStore{}}

	c := newConn(cfg, clientConn, originConn, record.SchemeHTTP, "10.0.0.1", 80, timing.Metrics{}, testLogger())
	done := make(chan error, 1)
	go func() { done <- c.run() }()

	_, err := clientPeer.Write([]byte("THIS IS NOT HTTP\r\n"))
	require.NoError(t, err)

	select {
	case runErr := <-done:
		require.Error(t, runErr)
	case <-time.After(2 * time.Second):
		t.Fatal("malformed request did not tear the connection down")
	}
}
