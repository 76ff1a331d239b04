package proxy

import (
	goerrors "errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/paivaspol/mahimahi/pkg/constants"
	"github.com/paivaspol/mahimahi/pkg/errors"
	"github.com/paivaspol/mahimahi/pkg/framer"
	"github.com/paivaspol/mahimahi/pkg/httpmsg"
	"github.com/paivaspol/mahimahi/pkg/record"
	"github.com/paivaspol/mahimahi/pkg/timing"
)

// halfCloser is satisfied by *net.TCPConn and *tls.Conn; it lets one
// direction drain while the other has already finished.
type halfCloser interface {
	CloseWrite() error
}

// conn ferries framed HTTP between one client connection and its origin.
//
// Two goroutines run per connection: the request direction (client read,
// admit, origin write) and the response direction (origin read, serializer
// gate, client write, record). The response framer's pending-request queue
// is shared between them and guarded by mu.
type conn struct {
	cfg    Config
	client net.Conn
	origin net.Conn

	scheme record.Scheme
	ip     string
	port   uint32

	// metrics carries the connect and handshake timings measured before
	// the ferry started; logged with every emission for this connection.
	metrics timing.Metrics

	mu    sync.Mutex
	reqF  *framer.RequestFramer
	respF *framer.ResponseFramer

	// admitted tracks URLs admitted to the serializer whose responses
	// have not been emitted yet; withdrawn on teardown so a dead
	// connection can never gate live ones.
	admitted map[string]struct{}

	log *logrus.Entry
}

func newConn(cfg Config, client, origin net.Conn, scheme record.Scheme, ip string, port uint32, metrics timing.Metrics, log *logrus.Entry) *conn {
	return &conn{
		cfg:      cfg,
		client:   client,
		origin:   origin,
		scheme:   scheme,
		ip:       ip,
		port:     port,
		metrics:  metrics,
		reqF:     framer.NewRequestFramer(),
		respF:    framer.NewResponseFramer(),
		admitted: make(map[string]struct{}),
		log:      log,
	}
}

// run drives both directions to completion and tears the connection down
// along every exit path. Any framer or socket error is fatal to this
// connection only.
//
// A clean client EOF does not cancel the response direction: its half-close
// is propagated upstream and pending responses drain. Everything else ending
// either direction closes both sockets, which unblocks the other direction's
// outstanding I/O.
func (c *conn) run() error {
	reqErrCh := make(chan error, 1)
	respErrCh := make(chan error, 1)
	go func() { reqErrCh <- c.requestLoop() }()
	go func() { respErrCh <- c.responseLoop() }()

	var reqErr, respErr error
	for i := 0; i < 2; i++ {
		select {
		case reqErr = <-reqErrCh:
			reqErrCh = nil
			if reqErr != nil {
				c.client.Close()
				c.origin.Close()
			}
		case respErr = <-respErrCh:
			respErrCh = nil
			c.client.Close()
			c.origin.Close()
		}
	}

	c.cancelAdmitted()

	var result *multierror.Error
	if respErr != nil && !teardownNoise(respErr) {
		result = multierror.Append(result, respErr)
	}
	if reqErr != nil && !teardownNoise(reqErr) {
		result = multierror.Append(result, reqErr)
	}
	return result.ErrorOrNil()
}

// teardownNoise filters the errors the losing direction reports once the
// winning direction has already closed both sockets.
func teardownNoise(err error) bool {
	return goerrors.Is(err, net.ErrClosed) || goerrors.Is(err, io.ErrClosedPipe)
}

// requestLoop reads from the client, frames requests, admits each one to
// the serializer, and forwards it upstream.
func (c *conn) requestLoop() error {
	buf := make([]byte, constants.ReadChunkSize)
	for {
		n, readErr := c.client.Read(buf)
		if n > 0 {
			c.mu.Lock()
			err := c.reqF.Parse(buf[:n])
			c.mu.Unlock()
			if err != nil {
				return err
			}
			if err := c.drainRequests(); err != nil {
				return err
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				c.mu.Lock()
				err := c.reqF.FinishEOF()
				c.mu.Unlock()
				if err != nil {
					return err
				}
				// Propagate the half-close so the origin can
				// finish any EOF-terminated response.
				if hc, ok := c.origin.(halfCloser); ok {
					hc.CloseWrite()
				}
				return nil
			}
			return errors.NewIOError("reading from client", readErr)
		}
	}
}

func (c *conn) drainRequests() error {
	for {
		c.mu.Lock()
		if c.reqF.Empty() {
			c.mu.Unlock()
			return nil
		}
		req := c.reqF.Front()
		c.reqF.Pop()

		url := req.URL()
		req.SetRequestID(c.cfg.Serializer.Admit(url))
		c.admitted[url] = struct{}{}
		c.respF.NewRequestArrived(req)
		c.mu.Unlock()

		if err := writeAll(c.origin, req.Serialize()); err != nil {
			return errors.NewIOError("writing request to origin", err)
		}
	}
}

// responseLoop reads from the origin, frames responses, and emits each one
// through the serializer gate before recording it.
func (c *conn) responseLoop() error {
	buf := make([]byte, constants.ReadChunkSize)
	for {
		n, readErr := c.origin.Read(buf)
		if n > 0 {
			c.mu.Lock()
			err := c.respF.Parse(buf[:n])
			c.mu.Unlock()
			if err != nil {
				return err
			}
			if err := c.drainResponses(); err != nil {
				return err
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				c.mu.Lock()
				err := c.respF.FinishEOF()
				c.mu.Unlock()
				if err != nil {
					return err
				}
				return c.drainResponses()
			}
			return errors.NewIOError("reading from origin", readErr)
		}
	}
}

func (c *conn) drainResponses() error {
	for {
		c.mu.Lock()
		if c.respF.Empty() {
			c.mu.Unlock()
			return nil
		}
		resp := c.respF.Front()
		c.respF.Pop()
		c.mu.Unlock()

		if err := c.emit(resp); err != nil {
			return err
		}
	}
}

// emit waits for the serializer's permission, writes the response to the
// client, and persists the exchange. The main-document response gets the
// synthesized preload header before its bytes are rendered.
func (c *conn) emit(resp *httpmsg.Response) error {
	url := resp.Request().URL()
	ticket := c.cfg.Serializer.RegisterResponse(url)

	if ticket.MainPage() {
		if link := c.cfg.Serializer.MainPageLinkHeader(); link != "" {
			resp.AddHeader("Link", link)
		}
	}

	ticket.Wait()
	defer ticket.Done()

	start := time.Now()
	err := writeAll(c.client, resp.Serialize())
	end := time.Now()

	c.log.WithFields(logrus.Fields{
		"url":           url,
		"req_id":        ticket.RequestID(),
		"start":         timing.EpochMillis(start),
		"end":           timing.EpochMillis(end),
		"tcp_connect":   c.metrics.TCPConnect,
		"tls_handshake": c.metrics.TLSHandshake,
	}).Info("emitted response")

	c.mu.Lock()
	delete(c.admitted, url)
	c.mu.Unlock()

	if err != nil {
		return errors.NewIOError("writing response to client", err)
	}

	if err := c.cfg.Store.Save(resp, c.scheme, c.ip, c.port); err != nil {
		return err
	}
	return nil
}

// cancelAdmitted withdraws any request this connection admitted but never
// emitted, releasing serializer waiters blocked behind them.
func (c *conn) cancelAdmitted() {
	c.mu.Lock()
	urls := make([]string, 0, len(c.admitted))
	for url := range c.admitted {
		urls = append(urls, url)
	}
	c.admitted = make(map[string]struct{})
	c.mu.Unlock()

	for _, url := range urls {
		c.cfg.Serializer.Cancel(url)
	}
}

func writeAll(w io.Writer, data []byte) error {
	written := 0
	for written < len(data) {
		n, err := w.Write(data[written:])
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}
