package distributor

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"

	"github.com/VictoriaMetrics/metrics"
)

// WritePrometheus writes the server's Prometheus text metrics to w,
// following pkg/nspkt/listener.go's WritePrometheus convention of
// explicit per-counter lines for the hot-path atomic counters, plus the
// dynamic NetCounter sets.
func (s *Server) WritePrometheus(w io.Writer) {
	fmt.Fprintln(w, `distributor_rx_datagrams_total`, s.rxCount.Load())
	fmt.Fprintln(w, `distributor_rx_bytes_total`, s.rxBytes.Load())
	fmt.Fprintln(w, `distributor_rx_malformed_total`, s.rxMalformed.Load())
	for i, c := range s.rxByType {
		fmt.Fprintf(w, "distributor_rx_type_total{type=\"%d\"} %d\n", i, c.Load())
	}
	if s.reg != nil {
		fmt.Fprintln(w, `distributor_clients_registered`, s.reg.Len())
	}
	metrics.WritePrometheus(w, false)
	s.metricsSet.WritePrometheus(w)
}

// ServeMetricsAndDebug serves /metrics and /debug/frames on addr until ctx
// is cancelled, mirroring pkg/atlas/server.go's serveRest pattern of a
// small dedicated http.Server for operational endpoints.
func (s *Server) ServeMetricsAndDebug(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.WritePrometheus(w)
	})
	mux.Handle("/debug/frames", s.debugFramesHandler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errc:
		return err
	}
}

// debugFramesHandler serves a live Server-Sent-Events feed of forwarding
// decisions, adapted from pkg/nspkt/monitor.go's DebugMonitorHandler (same
// registered-channel, non-blocking-send fan-out; a forwarding-decision
// event replaces that handler's MonitorPacket).
func (s *Server) debugFramesHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")

		c := make(chan FrameEvent, 64)
		s.monMu.Lock()
		s.mon[c] = struct{}{}
		s.monMu.Unlock()
		defer func() {
			s.monMu.Lock()
			delete(s.mon, c)
			s.monMu.Unlock()
		}()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-c:
				fmt.Fprintf(w, "data: %s\n\n", html.EscapeString(fmt.Sprintf(
					"%s net=%d src=%d %s %s",
					ev.Time.Format("15:04:05.000"), ev.Net, ev.Src, ev.Action, ev.Detail,
				)))
				flusher.Flush()
			}
		}
	})
}
