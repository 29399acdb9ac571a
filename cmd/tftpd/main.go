package main

import (
	"net"
	"net/http"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/go-tftp/tftpd/internal/config"
	"github.com/go-tftp/tftpd/internal/metrics"
	"github.com/go-tftp/tftpd/internal/privdrop"
	"github.com/go-tftp/tftpd/internal/server"
)

var (
	cfgFile string
	cfg     = config.Default()
)

func main() {
	root := &cobra.Command{
		Use:           "tftpd",
		Short:         "RFC 1350 TFTP server with chroot and privilege drop",
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.Flags()
	f.StringVar(&cfgFile, "config", "", "YAML configuration file")
	f.StringVar(&cfg.Bind, "bind", cfg.Bind, "address to listen on")
	f.IntVar(&cfg.Port, "port", cfg.Port, "UDP port to listen on")
	f.StringVar(&cfg.User, "user", cfg.User, "user to drop privileges to after binding")
	f.StringVar(&cfg.Directory, "directory", cfg.Directory, "base directory files are served from")
	f.BoolVar(&cfg.ReadOnly, "read-only", cfg.ReadOnly, "reject all write requests")
	f.BoolVar(&cfg.Overwrite, "overwrite", cfg.Overwrite, "allow uploads to replace existing files")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve Prometheus metrics on this address")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Error("tftpd exiting")
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		// Flags given on the command line win over the file.
		overrideFromFlags(cmd, &loaded)
		cfg = loaded
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return errors.Wrapf(err, "log level %q", cfg.LogLevel)
	}
	log := logrus.StandardLogger()
	log.SetLevel(level)

	conn, err := net.ListenPacket("udp", cfg.Addr())
	if err != nil {
		return errors.Wrapf(err, "bind %s", cfg.Addr())
	}
	defer conn.Close()
	log.WithField("addr", conn.LocalAddr().String()).Info("listening")

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.WithError(err).Error("metrics listener failed")
			}
		}()
		log.WithField("addr", cfg.MetricsAddr).Info("serving metrics")
	}

	// Confinement happens between bind and serve, so the socket keeps its
	// privileged port while file access is already restricted.
	switch {
	case cfg.User != "":
		root := cfg.Directory
		if root == "" {
			root = "."
		}
		if err := privdrop.Drop(cfg.User, root); err != nil {
			return errors.Wrap(err, "drop privileges")
		}
		log.WithFields(logrus.Fields{"user": cfg.User, "root": root}).Info("privileges dropped")
	case cfg.Directory != "":
		if err := os.Chdir(cfg.Directory); err != nil {
			return errors.Wrapf(err, "chdir %s", cfg.Directory)
		}
	}

	srv := server.New(conn, server.Options{
		ReadOnly:  cfg.ReadOnly,
		Overwrite: cfg.Overwrite,
		Logger:    log,
	})
	return srv.Serve()
}

// overrideFromFlags copies every flag the user set explicitly over the
// file-loaded configuration.
func overrideFromFlags(cmd *cobra.Command, loaded *config.Config) {
	flagged := cfg
	for name, dst := range map[string]func(){
		"bind":         func() { loaded.Bind = flagged.Bind },
		"port":         func() { loaded.Port = flagged.Port },
		"user":         func() { loaded.User = flagged.User },
		"directory":    func() { loaded.Directory = flagged.Directory },
		"read-only":    func() { loaded.ReadOnly = flagged.ReadOnly },
		"overwrite":    func() { loaded.Overwrite = flagged.Overwrite },
		"metrics-addr": func() { loaded.MetricsAddr = flagged.MetricsAddr },
		"log-level":    func() { loaded.LogLevel = flagged.LogLevel },
	} {
		if cmd.Flags().Changed(name) {
			dst()
		}
	}
}
