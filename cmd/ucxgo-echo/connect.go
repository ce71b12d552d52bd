package main

import (
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"github.com/spf13/cobra"

	"github.com/ucxgo/ucxgo/provider/memfabric"
	"github.com/ucxgo/ucxgo/ucxgo"
)

const maxConnectAttempts = 8

func newConnectCmd() *cobra.Command {
	var addr, message string
	var timeoutSeconds int

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "dial a listener, send one iomsg, print the echo",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return fmt.Errorf("ucxgo-echo: load config: %w", err)
			}
			configureLogging(cfg.Logging.Level)
			if addr == "" {
				addr = cfg.Connect.Addr
			}
			if addr == "" {
				return fmt.Errorf("ucxgo-echo: --addr or config connect.addr is required")
			}
			timeout := time.Duration(timeoutSeconds) * time.Second
			if timeout <= 0 {
				timeout = cfg.Connect.timeout()
			}
			return runConnect(addr, message, timeout)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "address to connect to")
	cmd.Flags().StringVar(&message, "message", "hello from ucxgo-echo", "iomsg payload to send")
	cmd.Flags().IntVar(&timeoutSeconds, "timeout-seconds", 0, "handshake timeout in seconds")
	return cmd
}

func runConnect(addr, message string, timeout time.Duration) error {
	fab := memfabric.New(memfabric.Config{})

	replied := make(chan struct{})
	hooks := ucxgo.Hooks{
		OnIOMsg: func(e *ucxgo.Engine, c *ucxgo.Connection, buf []byte) {
			logger.WithField("conn", c.String()).WithField("reply", string(buf)).Info("ucxgo-echo: received echo")
			close(replied)
		},
	}

	engineCfg := ucxgo.Config{Logger: logger}
	if timeout > 0 {
		engineCfg.ConnectTimeout = timeout
	}
	e, err := ucxgo.NewEngine(fab, engineCfg, hooks)
	if err != nil {
		return fmt.Errorf("ucxgo-echo: new engine: %w", err)
	}
	defer e.Close()

	conn, err := connectWithBackoff(e, addr)
	if err != nil {
		return err
	}

	e.SendIOMsg(conn, []byte(message), func(status ucxgo.Status) {
		if status != ucxgo.StatusOK {
			logger.WithField("status", status).Warn("ucxgo-echo: send failed")
		}
	})

	for {
		e.Progress()
		select {
		case <-replied:
			return nil
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

// connectWithBackoff retries a failed handshake with jittered backoff,
// mirroring the reconnect loop rpc.Node.HandleConnState runs after a
// provider drops a peer.
func connectWithBackoff(e *ucxgo.Engine, addr string) (*ucxgo.Connection, error) {
	b := &backoff.Backoff{
		Factor: 1.25,
		Jitter: true,
		Min:    250 * time.Millisecond,
		Max:    2 * time.Second,
	}

	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		established := make(chan ucxgo.Status, 1)
		conn, err := e.Connect(addr, func(status ucxgo.Status) { established <- status })
		if err != nil {
			return nil, fmt.Errorf("ucxgo-echo: connect %s: %w", addr, err)
		}

		var status ucxgo.Status
		for done := false; !done; {
			e.Progress()
			select {
			case status = <-established:
				done = true
			default:
				time.Sleep(time.Millisecond)
			}
		}
		if status == ucxgo.StatusOK {
			return conn, nil
		}

		wait := b.Duration()
		logger.WithField("addr", addr).WithField("status", status).WithField("attempt", attempt).
			Warnf("ucxgo-echo: handshake failed, retrying in %s", wait)
		time.Sleep(wait)
	}

	return nil, fmt.Errorf("ucxgo-echo: giving up connecting to %s after %d attempts", addr, maxConnectAttempts)
}
