package cmd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/strio-net/strio"
)

// writeAll pushes p through the endpoint, waiting for write readiness on
// every would-block condition.
func writeAll(c *strio.Conn, p []byte) error {
	ready := make(chan struct{}, 1)
	c.SetWriteReadyHandler(func() {
		c.SetWriteEnable(false)
		select {
		case ready <- struct{}{}:
		default:
		}
	})
	for len(p) > 0 {
		n, err := c.Write(p, nil)
		if err != nil {
			return err
		}
		if n == 0 {
			c.SetWriteEnable(true)
			<-ready
			continue
		}
		p = p[n:]
	}
	return nil
}

// pump bridges the endpoint and stdio until either side ends: endpoint
// reads go to stdout (urgent records to stderr), stdin goes to the
// endpoint. Returns when the stream ends or ctx is cancelled.
func pump(ctx context.Context, logger *slog.Logger, c *strio.Conn) {
	done := make(chan struct{})
	c.SetReadHandler(func(err error, data []byte, aux []string) {
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Error("read error", "err", err)
			}
			select {
			case done <- struct{}{}:
			default:
			}
			return
		}
		out := os.Stdout
		for _, tag := range aux {
			if tag == "oob" {
				out = os.Stderr
			}
		}
		out.Write(data)
	})
	c.SetReadEnable(true)

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if werr := writeAll(c, buf[:n]); werr != nil {
					logger.Error("write error", "err", werr)
					break
				}
			}
			if err != nil {
				break
			}
		}
		select {
		case done <- struct{}{}:
		default:
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}
