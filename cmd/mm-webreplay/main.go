// Command mm-webreplay answers one CGI-described request from a directory
// of recorded exchanges.
//
// It takes no arguments; the web server front end configures it entirely
// through environment variables (MAHIMAHI_RECORD_PATH, REQUEST_URI, ...)
// and receives a full HTTP/1.1 response on stdout. Failures still produce a
// well-formed HTTP error response.
package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/paivaspol/mahimahi/pkg/replay"
)

func main() {
	// stdout carries the HTTP response; all logging goes to stderr.
	logrus.SetOutput(os.Stderr)

	if err := replay.NewServer().Run(os.Stdout); err != nil {
		logrus.WithError(err).Error("mm-webreplay failed")
		os.Exit(1)
	}
}
