package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ucxgo/ucxgo/provider"
	"github.com/ucxgo/ucxgo/provider/memfabric"
	"github.com/ucxgo/ucxgo/ucxgo"
)

func newListenCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "accept connections and echo every iomsg back to its sender",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return fmt.Errorf("ucxgo-echo: load config: %w", err)
			}
			configureLogging(cfg.Logging.Level)
			if addr == "" {
				addr = cfg.Listen.Addr
			}
			if addr == "" {
				addr = "0.0.0.0:9700"
			}
			return runListen(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "address to listen on (default 0.0.0.0:9700)")
	return cmd
}

func runListen(addr string) error {
	fab := memfabric.New(memfabric.Config{})

	hooks := ucxgo.Hooks{
		OnAccepted: func(e *ucxgo.Engine, req provider.ConnRequest) {
			c, err := e.Accept(req, func(status ucxgo.Status) {
				if status != ucxgo.StatusOK {
					logger.WithField("remote", req.RemoteAddr()).WithField("status", status).Warn("ucxgo-echo: handshake failed")
					return
				}
				logger.WithField("remote", req.RemoteAddr()).Info("ucxgo-echo: peer established")
			})
			if err != nil {
				logger.WithError(err).Warn("ucxgo-echo: accept failed")
			}
			_ = c
		},
		OnError: func(e *ucxgo.Engine, c *ucxgo.Connection) {
			logger.WithField("conn", c.String()).WithField("status", c.Status()).Warn("ucxgo-echo: connection failed")
		},
		OnIOMsg: func(e *ucxgo.Engine, c *ucxgo.Connection, buf []byte) {
			echoed := append([]byte(nil), buf...)
			e.SendIOMsg(c, echoed, func(status ucxgo.Status) {
				if status != ucxgo.StatusOK {
					logger.WithField("conn", c.String()).WithField("status", status).Warn("ucxgo-echo: echo send failed")
				}
			})
		},
	}

	e, err := ucxgo.NewEngine(fab, ucxgo.Config{Logger: logger}, hooks)
	if err != nil {
		return fmt.Errorf("ucxgo-echo: new engine: %w", err)
	}
	defer e.Close()

	boundAddr, err := e.Listen(addr)
	if err != nil {
		return fmt.Errorf("ucxgo-echo: listen %s: %w", addr, err)
	}
	logger.WithField("addr", boundAddr).Info("ucxgo-echo: listening")

	runLoop(e)
	return nil
}

// runLoop drives the engine's cooperative progress model forever: a busy
// spin while there is work, a short backoff while idle. The engine has
// no internal goroutine of its own, so something has to call Progress.
func runLoop(e *ucxgo.Engine) {
	for {
		if !e.Progress() {
			time.Sleep(time.Millisecond)
		}
	}
}
