package prometheus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/3rs4lg4d0/txrelay/relay"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the gathered metrics on /metrics in the Prometheus text
// format.
type Server struct {
	addr   string
	srv    *http.Server
	ln     net.Listener
	logger relay.Logger
}

var _ relay.Exposer = (*Server)(nil)
var _ relay.Loggable = (*Server)(nil)

func NewServer(addr string, gatherers ...prometheus.Gatherer) *Server {
	if len(gatherers) == 0 {
		panic("at least one gatherer is mandatory")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.Gatherers(gatherers), promhttp.HandlerOpts{}))
	return &Server{
		addr: addr,
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: &relay.NopLogger{},
	}
}

func (s *Server) SetLogger(l relay.Logger) {
	s.logger = l
}

// Start binds the listener synchronously and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.logger.Info(fmt.Sprintf("serving metrics on %s/metrics", ln.Addr()))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", err)
		}
	}()
	return nil
}

// Addr returns the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
