package distributor

import (
	"context"
	"net"
	"strconv"

	"golang.org/x/sync/errgroup"
)

// Run binds the server and runs its ingest loop, scavenger, and (if
// configured) metrics/debug HTTP server concurrently until ctx is
// cancelled, then shuts everything down and returns. This mirrors
// pkg/atlas/server.go's Run(ctx) entry point: one function that owns the
// full lifecycle of a running instance.
func (s *Server) Run(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(s.cfg.ListenAddr, strconv.Itoa(int(s.cfg.ListenPort))))
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.Serve(conn)
		if err == ErrClosed {
			return nil
		}
		return err
	})
	g.Go(func() error {
		s.RunScavenger(ctx)
		return nil
	})
	if s.cfg.MetricsAddr != "" {
		g.Go(func() error {
			return s.ServeMetricsAndDebug(ctx, s.cfg.MetricsAddr)
		})
	}

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	return g.Wait()
}
