package distributor

import (
	"context"
	"time"

	"github.com/nat-lab/distributor/pkg/wire"
)

// RunScavenger periodically sweeps the registry for clients that have gone
// quiet, sending a keepalive probe and evicting clients that have not been
// heard from for cfg.Keepalive x cfg.Retries. It runs until ctx is
// cancelled, following pkg/atlas/server.go's ticker-driven background
// reaper goroutine pattern. The thresholds are spec.md's
// DIST_UDP_KEEPALIVE/DIST_UDP_RETRIES; the sweep runs every
// cfg.ScavengePeriod (1s if unset) rather than sleeping for the full
// keepalive interval, so that eviction latency doesn't depend on when in
// the interval a client went silent.
func (s *Server) RunScavenger(ctx context.Context) {
	period := s.cfg.ScavengePeriod
	if period <= 0 {
		period = time.Second
	}
	t := time.NewTicker(period)
	defer t.Stop()

	log := s.log.With().Str("worker", "scavenger").Logger()
	log.Debug().Msg("scavenger started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("scavenger stopped")
			return
		case <-t.C:
			s.sweep()
		}
	}
}

// sweep implements spec.md §4.6's periodic liveness check: for each
// client, age_seen = now-last_seen and age_sent = now-last_sent. A client
// whose age_seen has reached KEEPALIVE x RETRIES is dead and is evicted;
// otherwise, if both age_seen and age_sent have reached KEEPALIVE, a fresh
// probe is sent (age_sent is also checked so a client that was just sent a
// data frame isn't probed redundantly).
func (s *Server) sweep() {
	if s.reg == nil || s.sw == nil {
		return
	}
	now := s.now()
	for _, c := range s.reg.Snapshot() {
		ageSeen := c.Age(now)

		if ageSeen >= s.cfg.Keepalive*time.Duration(s.cfg.Retries) {
			s.log.Info().Uint64("port", uint64(c.Port)).Dur("age", ageSeen).Msg("evicting unresponsive client")
			s.sw.Unplug(c.Port)
			s.reg.Unregister(c.Port)
			continue
		}

		if ageSeen >= s.cfg.Keepalive && c.AgeSent(now) >= s.cfg.Keepalive {
			c.NoteKeepaliveSent()
			s.sendControl(c.Port, wire.KeepaliveRequest)
		}
	}
}
