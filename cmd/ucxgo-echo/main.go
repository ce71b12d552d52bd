// Command ucxgo-echo is a minimal demo of the engine: listen accepts
// connections and echoes every iomsg back to its sender; connect dials a
// listener, sends one iomsg, and prints whatever comes back.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgPath string
	logger  = logrus.StandardLogger()
)

func main() {
	root := &cobra.Command{
		Use:   "ucxgo-echo",
		Short: "demo client/server for the ucxgo connection engine",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a TOML config file")

	root.AddCommand(newListenCmd())
	root.AddCommand(newConnectCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func configureLogging(level string) {
	if level == "" {
		return
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logger.WithField("level", level).Warn("ucxgo-echo: unrecognized log level, leaving default")
		return
	}
	logger.SetLevel(lvl)
}
