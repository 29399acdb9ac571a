package main

// A tiny companion client. It mostly exists to poke at a running server
// without installing a system tftp client; the end-to-end tests use the same
// code through internal/client.

import (
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/go-tftp/tftpd/internal/client"
)

var (
	output  string
	timeout time.Duration
)

func main() {
	root := &cobra.Command{
		Use:          "tftp-get <server:port> <filename>",
		Short:        "fetch a single file from a TFTP server",
		Args:         cobra.ExactArgs(2),
		RunE:         run,
		SilenceUsage: true,
	}
	root.Flags().StringVarP(&output, "output", "o", "", "output path (default: basename of the remote file)")
	root.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "per-packet receive timeout")

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Error("transfer failed")
		os.Exit(1)
	}
}

func run(_ *cobra.Command, args []string) error {
	server, filename := args[0], args[1]
	if output == "" {
		output = filepath.Base(filename)
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	defer f.Close()

	c := client.Client{Server: server, Timeout: timeout}
	n, err := c.Fetch(filename, f)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"file": output, "bytes": n}).Info("fetched")
	return f.Close()
}
