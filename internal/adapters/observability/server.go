package observability

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes /metrics and /healthz on its own listener.
type MetricsServer struct {
	srv *http.Server
	log *slog.Logger
}

func NewMetricsServer(addr string, gatherer prometheus.Gatherer, logger *slog.Logger) *MetricsServer {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &MetricsServer{
		srv: &http.Server{Addr: addr, Handler: mux},
		log: logger,
	}
}

func (m *MetricsServer) Handler() http.Handler { return m.srv.Handler }

// Start binds the listener synchronously and serves in the background.
func (m *MetricsServer) Start() error {
	ln, err := net.Listen("tcp", m.srv.Addr)
	if err != nil {
		return err
	}
	go func() {
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error("metrics server exited", slog.Any("err", err))
		}
	}()
	return nil
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	if err := m.srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
