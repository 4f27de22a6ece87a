// Package transport exposes the command and telemetry channels over
// websockets.
package transport

import (
	"context"
	"net"
	"net/http"
	"sync"

	"codeberg.org/mutker/picarctl/internal/errors"
	"codeberg.org/mutker/picarctl/internal/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// Handler consumes one raw inbound command.
type Handler interface {
	HandleMessage(ctx context.Context, data []byte) error
}

// Server accepts control connections on ControlAddr and telemetry
// subscribers on TelemetryAddr. When both addresses are equal a single
// listener serves both paths.
type Server struct {
	cfg      Config
	handler  Handler
	hub      *Hub
	logger   logger.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	controls map[uuid.UUID]*websocket.Conn
	ctx      context.Context
}

func NewServer(cfg Config, handler Handler, log logger.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Server{
		cfg:     cfg,
		handler: handler,
		hub:     NewHub(cfg, log),
		logger:  log,
		upgrader: websocket.Upgrader{
			// Operator consoles are served from other origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		controls: make(map[uuid.UUID]*websocket.Conn),
		ctx:      context.Background(),
	}, nil
}

// Hub is the telemetry sink fed by the publisher.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ControlHandler upgrades a request to a command stream.
func (s *Server) ControlHandler() http.Handler {
	return http.HandlerFunc(s.serveControl)
}

// TelemetryHandler upgrades a request to a telemetry subscription.
func (s *Server) TelemetryHandler() http.Handler {
	return http.HandlerFunc(s.serveTelemetry)
}

func (s *Server) serveControl(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WarnWithCode(errors.New().Wrap(ErrUpgrade, err)).Str("remote", r.RemoteAddr).Msg("Control upgrade failed")
		return
	}
	conn.SetReadLimit(s.cfg.MaxMessage)

	id := uuid.New()
	ctx := s.track(id, conn)
	defer s.untrack(id)

	s.logger.Info().Str("client", id.String()).Str("remote", r.RemoteAddr).Msg("Control client connected")
	defer s.logger.Info().Str("client", id.String()).Msg("Control client disconnected")

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		// Rejected commands are logged by the handler; the stream stays open.
		_ = s.handler.HandleMessage(ctx, data)
	}
}

func (s *Server) serveTelemetry(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WarnWithCode(errors.New().Wrap(ErrUpgrade, err)).Str("remote", r.RemoteAddr).Msg("Telemetry upgrade failed")
		return
	}

	c := s.hub.add(conn)
	if c == nil {
		conn.Close()
		return
	}
	s.logger.Info().Str("client", c.id.String()).Str("remote", r.RemoteAddr).Msg("Telemetry client connected")

	// Drain reads so close frames and pings are processed.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.hub.remove(c)
	s.logger.Info().Str("client", c.id.String()).Msg("Telemetry client disconnected")
}

func (s *Server) track(id uuid.UUID, conn *websocket.Conn) context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.controls[id] = conn

	return s.ctx
}

func (s *Server) untrack(id uuid.UUID) {
	s.mu.Lock()
	conn, ok := s.controls[id]
	delete(s.controls, id)
	s.mu.Unlock()

	if ok {
		conn.Close()
	}
}

func (s *Server) closeControls() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conn := range s.controls {
		conn.Close()
	}
}

// mux returns the routes for a listener serving control, telemetry or both.
func (s *Server) mux(control, telemetry bool) *http.ServeMux {
	mux := http.NewServeMux()
	if control {
		mux.Handle("/control", s.ControlHandler())
	}
	if telemetry {
		mux.Handle("/telemetry", s.TelemetryHandler())
	}
	// Single-purpose listeners also answer on the root path.
	switch {
	case control && !telemetry:
		mux.Handle("/", s.ControlHandler())
	case telemetry && !control:
		mux.Handle("/", s.TelemetryHandler())
	}

	return mux
}

// Listen binds the configured addresses. Run serves on them.
func (s *Server) Listen() ([]net.Listener, error) {
	errFactory := errors.New()

	addrs := []string{s.cfg.ControlAddr}
	if s.cfg.TelemetryAddr != s.cfg.ControlAddr {
		addrs = append(addrs, s.cfg.TelemetryAddr)
	}

	listeners := make([]net.Listener, 0, len(addrs))
	for _, addr := range addrs {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return nil, errFactory.WithData(ErrListen, struct {
				Addr  string
				Error string
			}{
				Addr:  addr,
				Error: err.Error(),
			})
		}
		listeners = append(listeners, ln)
	}

	return listeners, nil
}

// Run serves until ctx is done, then closes every connection. Listeners
// come from Listen; the first serves control and the last serves telemetry.
func (s *Server) Run(ctx context.Context, listeners []net.Listener) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	servers := make([]*http.Server, len(listeners))
	for i, ln := range listeners {
		control := i == 0
		telemetry := i == len(listeners)-1
		servers[i] = &http.Server{
			Handler:           s.mux(control, telemetry),
			ReadHeaderTimeout: s.cfg.WriteTimeout,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}
		s.logger.Info().
			Str("addr", ln.Addr().String()).
			Bool("control", control).
			Bool("telemetry", telemetry).
			Msg("Websocket server listening")
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range servers {
		srv, ln := servers[i], listeners[i]
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.New().Wrap(ErrListen, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()

		s.hub.Close()
		s.closeControls()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		s.logger.Info().Msg("Websocket server stopped")

		return errors.Join(errs...)
	})

	return g.Wait()
}
