package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// AdminServer exposes metrics and status over HTTP.
type AdminServer struct {
	address  string
	listener net.Listener
	server   *http.Server
	mux      *http.ServeMux
	routes   map[string]*Route
}

func NewAdminServer(address string) *AdminServer {

	mux := http.NewServeMux()

	return &AdminServer{
		address: address,
		mux:     mux,
		routes:  make(map[string]*Route),
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func (s *AdminServer) createRoute(name string, prefix string) (*Route, error) {

	route := NewRoute(s, prefix)

	err := s.registerRoute(name, route)
	if err != nil {
		return nil, err
	}

	return route, nil
}

func (s *AdminServer) registerRoute(name string, route *Route) error {

	if _, ok := s.routes[name]; ok {
		return fmt.Errorf("route \"%s\" exists already", name)
	}

	s.routes[name] = route

	return nil
}

// Addr returns the bound address once started.
func (s *AdminServer) Addr() string {

	if s.listener == nil {
		return s.address
	}

	return s.listener.Addr().String()
}

func (s *AdminServer) Start() error {

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("admin server: %w", err)
	}
	s.listener = listener

	logger.Info("Admin server listening", zap.String("address", s.Addr()))

	go func() {
		err := s.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Admin server stopped", zap.Error(err))
		}
	}()

	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
