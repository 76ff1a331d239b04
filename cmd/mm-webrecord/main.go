// Command mm-webrecord runs the intercepting record-mode proxy.
//
// Usage: mm-webrecord <recording-dir> <prefetch-urls-file> <request-order-file> <page-url>
//
// The surrounding container DNATs the shell's TCP traffic to the proxy
// listener; every completed exchange is persisted to the recording
// directory while response emission is serialized against the reference
// request order. Runs until killed.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/paivaspol/mahimahi/pkg/config"
	"github.com/paivaspol/mahimahi/pkg/proxy"
	"github.com/paivaspol/mahimahi/pkg/record"
	"github.com/paivaspol/mahimahi/pkg/serializer"
	"github.com/paivaspol/mahimahi/pkg/tlsconfig"
)

func main() {
	app := cli.NewApp()
	app.Name = "mm-webrecord"
	app.Usage = "record web page loads through a serializing intercepting proxy"
	app.ArgsUsage = "<recording-dir> <prefetch-urls-file> <request-order-file> <page-url>"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "listen",
			Usage: "listener address the DNAT rules point at",
			Value: "0.0.0.0:3128",
		},
		cli.StringFlag{
			Name:   "calibration",
			Usage:  "TOML calibration file with policy toggles and TLS asset paths",
			EnvVar: "MAHIMAHI_CALIBRATION",
		},
		cli.BoolFlag{
			Name:  "noop-store",
			Usage: "serialize without persisting records",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "enable debug logging",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("mm-webrecord failed")
	}
}

func run(c *cli.Context) error {
	if c.NArg() < 4 {
		return cli.NewExitError(
			"Usage: mm-webrecord [directory] [prefetch-urls-filename] [request-order-filename] [page-url]", 1)
	}
	if c.Bool("debug") {
		logrus.SetLevel(logrus.DebugLevel)
	}
	log := logrus.WithField("source", "mm-webrecord")

	directory := c.Args().Get(0)
	if directory == "" {
		return cli.NewExitError("directory name must be non-empty", 1)
	}
	if !strings.HasSuffix(directory, "/") {
		directory += "/"
	}

	cal, err := config.LoadCalibration(c.String("calibration"))
	if err != nil {
		return err
	}

	prefetch, err := config.LoadPrefetch(c.Args().Get(1))
	if err != nil {
		return err
	}
	order, err := config.LoadRequestOrder(c.Args().Get(2))
	if err != nil {
		return err
	}
	pageURL := c.Args().Get(3)

	ser := serializer.New(serializer.Config{
		Order:            order,
		Prefetch:         prefetch,
		PageURL:          pageURL,
		DemotePrefetched: cal.DemotePrefetched,
	}, logrus.WithField("source", "serializer"))

	var store record.BackingStore = record.NoopStore{}
	if !c.Bool("noop-store") {
		store, err = record.NewDiskStore(directory, logrus.WithField("source", "record"))
		if err != nil {
			return err
		}
	}

	cfg := proxy.Config{
		ListenAddr: c.String("listen"),
		Serializer: ser,
		Store:      store,
	}
	if cal.TLSCertFile != "" && cal.TLSKeyFile != "" {
		cfg.ServerTLS, err = tlsconfig.NewServerConfig(cal.TLSCertFile, cal.TLSKeyFile)
		if err != nil {
			return err
		}
		cfg.ClientTLS, err = tlsconfig.NewClientConfig(cal.CACertFile)
		if err != nil {
			return err
		}
	}

	p, err := proxy.New(cfg)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"listen": p.Addr().String(),
		"page":   pageURL,
	}).Info("recording")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return p.Run(ctx)
}
