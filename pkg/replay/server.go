// Package replay serves recorded responses to CGI-described requests.
//
// The replay server runs once per request: the web server front end supplies
// the request through environment variables, and the chosen stored response
// is written, mutated, to stdout. Matching is a pure function of the
// recording directory and the request, with ties broken by
// directory-iteration order, so repeated invocations agree.
package replay

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/paivaspol/mahimahi/pkg/config"
	"github.com/paivaspol/mahimahi/pkg/errors"
	"github.com/paivaspol/mahimahi/pkg/httpmsg"
	"github.com/paivaspol/mahimahi/pkg/record"
	"github.com/paivaspol/mahimahi/pkg/urlutil"
)

var replayLog = logrus.WithField("source", "replay")

// SetLogger replaces the package logger.
func SetLogger(entry *logrus.Entry) {
	replayLog = entry
}

// Server answers one replay request from the environment.
type Server struct {
	log *logrus.Entry

	// sleep is swappable for tests.
	sleep func(time.Duration)
}

// NewServer constructs a replay server.
func NewServer() *Server {
	return &Server{log: replayLog, sleep: time.Sleep}
}

// Env names consumed by the replay server.
const (
	EnvChdir          = "MAHIMAHI_CHDIR"
	EnvRecordPath     = "MAHIMAHI_RECORD_PATH"
	EnvLoadingPage    = "LOADING_PAGE"
	EnvDependencyFile = "DEPENDENCY_FILE"
	EnvRequestURI     = "REQUEST_URI"
	EnvRequestMethod  = "REQUEST_METHOD"
	EnvProtocol       = "SERVER_PROTOCOL"
	EnvHost           = "HTTP_HOST"
	EnvHTTPS          = "HTTPS"
	EnvCacheEnabled   = "CACHE_ENABLED_FILE"
	EnvThinkTimeFile  = "THINK_TIME_FILE"
	EnvCalibration    = "MAHIMAHI_CALIBRATION"
)

// Run handles the request described by the environment and writes a full
// HTTP/1.1 response to out. A failed match is rendered as a 404 and every
// other failure as a 500, so the front end always receives a well-formed
// response; the error is also returned for the exit status.
func (s *Server) Run(out io.Writer) error {
	if err := s.serve(out); err != nil {
		switch errors.GetKind(err) {
		case errors.KindNoMatch:
			writeNotFound(out)
		default:
			writeServerError(out, err)
		}
		return err
	}
	return nil
}

func (s *Server) serve(out io.Writer) error {
	workingDir, err := config.SafeGetenv(EnvChdir)
	if err != nil {
		return err
	}
	recordPath, err := config.SafeGetenv(EnvRecordPath)
	if err != nil {
		return err
	}
	uri, err := config.SafeGetenv(EnvRequestURI)
	if err != nil {
		return err
	}
	method, err := config.SafeGetenv(EnvRequestMethod)
	if err != nil {
		return err
	}
	protocol, err := config.SafeGetenv(EnvProtocol)
	if err != nil {
		return err
	}

	if err := os.Chdir(workingDir); err != nil {
		return errors.NewIOError("changing to working directory", err)
	}

	host, hasHost := os.LookupEnv(EnvHost)
	_, isHTTPS := os.LookupEnv(EnvHTTPS)
	incoming := &IncomingRequest{
		Method:   method,
		URI:      uri,
		Protocol: protocol,
		Host:     host,
		HasHost:  hasHost,
		HTTPS:    isHTTPS,
	}

	cal, err := config.LoadCalibration(os.Getenv(EnvCalibration))
	if err != nil {
		return err
	}

	records, _, err := record.LoadDirectory(recordPath)
	if err != nil {
		return err
	}

	matcher := NewMatcher(records, cal, s.log)
	chosen := matcher.Match(incoming)
	if chosen == nil {
		return errors.NewNoMatchError(incoming.RequestLine())
	}

	resp := chosen.Response // mutate a copy; records stay read-only
	resp.Headers = append([]httpmsg.Header(nil), chosen.Response.Headers...)

	if err := rewriteJSONP(incoming, chosen, &resp); err != nil {
		return err
	}

	cachable := loadCachable(os.Getenv(EnvCacheEnabled))
	applyCachePolicy(&resp, chosen.Request.GetHeader("Host"), uri, cachable)
	scrubSecurityHeaders(&resp)

	loadingPage := os.Getenv(EnvLoadingPage)
	if depFile := os.Getenv(EnvDependencyFile); depFile != "" && depFile != "None" {
		deps, err := config.LoadDependencies(depFile)
		if err != nil {
			return err
		}
		applyDependencyPush(&resp, deps, fullURL(incoming, chosen), loadingPage)
	}

	s.applyThinkTime(os.Getenv(EnvThinkTimeFile), fullURL(incoming, chosen))

	if _, err := out.Write(resp.Serialize()); err != nil {
		return errors.NewIOError("writing response", err)
	}

	s.log.WithFields(logrus.Fields{
		"uri":   uri,
		"saved": urlutil.StripQuery(chosen.Request.FirstLine),
	}).Debug("served replayed response")
	return nil
}

// loadCachable tolerates a missing file: the whitelist is optional and its
// absence means nothing is cachable.
func loadCachable(path string) *config.CachableResources {
	if path == "" {
		return nil
	}
	return config.LoadCachableResources(path)
}

// applyThinkTime stalls emission by the recorded server think time, when
// one is configured for the URL.
func (s *Server) applyThinkTime(path, url string) {
	if path == "" {
		return
	}
	times, err := config.LoadThinkTimes(path)
	if err != nil {
		s.log.WithError(err).Warn("ignoring unreadable think-time file")
		return
	}
	if ms, ok := times.Millis(url); ok && ms > 0 {
		s.sleep(time.Duration(ms) * time.Millisecond)
	}
}

const notFoundBody = "replayserver: could not find a match."

func writeNotFound(out io.Writer) {
	fmt.Fprintf(out, "HTTP/1.1 404 Not Found%s", httpmsg.CRLF)
	fmt.Fprintf(out, "Content-Type: text/plain%s", httpmsg.CRLF)
	fmt.Fprintf(out, "Content-Length: %s%s", strconv.Itoa(len(notFoundBody)), httpmsg.CRLF)
	fmt.Fprintf(out, "Cache-Control: max-age=60%s%s", httpmsg.CRLF, httpmsg.CRLF)
	fmt.Fprintf(out, "%s%s", notFoundBody, httpmsg.CRLF)
}

func writeServerError(out io.Writer, err error) {
	fmt.Fprintf(out, "HTTP/1.1 500 Internal Server Error%s", httpmsg.CRLF)
	fmt.Fprintf(out, "Content-Type: text/plain%s%s", httpmsg.CRLF, httpmsg.CRLF)
	fmt.Fprintf(out, "mm-webreplay received an error:%s%s", httpmsg.CRLF, httpmsg.CRLF)
	fmt.Fprintf(out, "%v%s", err, httpmsg.CRLF)
}
