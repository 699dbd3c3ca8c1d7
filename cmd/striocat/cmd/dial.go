package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/strio-net/strio/config"
	"github.com/strio-net/strio/reactor"
	"github.com/strio-net/strio/tcp"
)

var dialCmd = &cobra.Command{
	Use:   "dial [address]",
	Short: "Connect to a TCP endpoint and bridge it to stdio",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDial,
}

func runDial(cmd *cobra.Command, args []string) error {
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

	c, err := tcp.Dial(r, addr, cfg.Args())
	if err != nil {
		return err
	}

	openErr := make(chan error, 1)
	if err := c.Open(func(err error) { openErr <- err }); err != nil {
		return err
	}
	if err := <-openErr; err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}

	raddr, _ := c.RemoteAddrString()
	logger.Info("connected", "raddr", raddr)

	if rel := startReloader(logger, cfg, func(old, cur *config.Tool) {
		applyLive(logger, level, c, old, cur)
	}); rel != nil {
		defer rel.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	pump(ctx, logger, c)

	closed := make(chan struct{})
	if err := c.Close(func() { close(closed) }); err == nil {
		<-closed
	}
	c.Free()
	return nil
}
