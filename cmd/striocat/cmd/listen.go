package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/strio-net/strio"
	"github.com/strio-net/strio/config"
	"github.com/strio-net/strio/reactor"
	"github.com/strio-net/strio/tcp"
)

var listenCmd = &cobra.Command{
	Use:   "listen [address]",
	Short: "Accept one TCP connection and bridge it to stdio",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runListen,
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, level := newLogger(cfg)

	addr, err := pickAddr(cfg, args)
	if err != nil {
		return err
	}

	r, err := reactor.New(reactor.WithLogger(logger))
	if err != nil {
		return err
	}
	defer r.Close()

	connC := make(chan *strio.Conn, 1)
	acc, err := tcp.Listen(r, addr, cfg.Args(), func(c *strio.Conn) {
		select {
		case connC <- c:
		default:
			// Already bridging a connection; drop extras.
			c.Free()
		}
	}, tcp.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := acc.Startup(); err != nil {
		return err
	}
	defer acc.Free()

	if addrs, err := acc.ListenAddrs(); err == nil {
		for _, a := range addrs {
			logger.Info("listening", "laddr", a.String())
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	select {
	case <-ctx.Done():
		return nil
	case c := <-connC:
		if raddr, err := c.RemoteAddrString(); err == nil {
			logger.Info("accepted", "raddr", raddr)
		}
		acc.SetAcceptCallbackEnable(false)
		if rel := startReloader(logger, cfg, func(old, cur *config.Tool) {
			applyLive(logger, level, c, old, cur)
		}); rel != nil {
			defer rel.Close()
		}
		pump(ctx, logger, c)
		c.Free()
	}
	return nil
}
