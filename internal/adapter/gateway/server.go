// Package gateway serves stored run results over HTTP and streams live
// simulation events over a websocket.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"formation-flying/internal/adapter/store"
	"formation-flying/internal/domain"
	"formation-flying/internal/infra/middleware"
	"formation-flying/internal/usecase/metrics"
)

// RunStore is the read side of the result store.
type RunStore interface {
	GetRun(ctx context.Context, id string) (*store.Run, error)
	ListRuns(ctx context.Context, f store.ListFilter) ([]*store.Run, error)
	FlightResults(ctx context.Context, runID string) ([]metrics.FlightResult, error)
	Series(ctx context.Context, runID string) ([]store.TickTotals, error)
}

// RPCHandler handles a single stream request.
type RPCHandler func(ctx context.Context, cc *clientConn, payload json.RawMessage) (json.RawMessage, error)

// ErrUnknownMethod is returned to stream clients calling an unregistered method.
var ErrUnknownMethod = errors.New("gateway: unknown method")

// clientConn tracks a single WebSocket connection.
type clientConn struct {
	client    string
	ws        *websocket.Conn
	sendCh    chan Frame
	done      chan struct{}
	closeOnce sync.Once

	filterMu sync.RWMutex
	filter   map[domain.EventType]bool // nil forwards everything
}

func (cc *clientConn) wants(t domain.EventType) bool {
	cc.filterMu.RLock()
	defer cc.filterMu.RUnlock()
	return cc.filter == nil || cc.filter[t]
}

// Options configures a Server.
type Options struct {
	Addr           string
	RateLimit      float64
	Burst          int
	AllowedOrigins []string
	Auth           Authenticator
	// SendBuffer is the per-client outbound queue length.
	SendBuffer int
}

// Server is the results API and live event stream.
type Server struct {
	bus     domain.EventBus
	store   RunStore
	opts    Options
	logger  *slog.Logger
	stats   *Stats
	started time.Time

	clients   sync.Map // connID (uint64) -> *clientConn
	nextID    atomic.Uint64
	unsubAll  func()
	httpSrv   *http.Server
	boundAddr atomic.Value // string
	stopOnce  sync.Once
	stopErr   error

	handlersMu sync.RWMutex
	handlers   map[string]RPCHandler
}

// NewServer creates a gateway. bus may be nil when no simulation runs in
// the process; store may be nil when results are not persisted.
func NewServer(bus domain.EventBus, runs RunStore, opts Options, logger *slog.Logger) *Server {
	if opts.Auth == nil {
		opts.Auth = NewTokenAuth(nil)
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		bus:      bus,
		store:    runs,
		opts:     opts,
		logger:   logger,
		stats:    NewStats(),
		started:  time.Now(),
		handlers: make(map[string]RPCHandler),
	}
	s.RegisterHandler("ping", func(context.Context, *clientConn, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`"pong"`), nil
	})
	s.RegisterHandler("subscribe", subscribeHandler)
	return s
}

// RegisterHandler adds a stream request handler for method.
func (s *Server) RegisterHandler(method string, h RPCHandler) {
	s.handlersMu.Lock()
	s.handlers[method] = h
	s.handlersMu.Unlock()
}

// Stats exposes the live counters.
func (s *Server) Stats() *Stats { return s.stats }

// Handler builds the HTTP routes. ctx bounds the rate limiter sweeper.
func (s *Server) Handler(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestLogger(s.logger),
		middleware.SecurityHeaders,
		middleware.CORS(s.opts.AllowedOrigins),
		middleware.RateLimit(ctx, middleware.RateLimitConfig{PerSecond: s.opts.RateLimit, Burst: s.opts.Burst}),
	)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Get("/runs/{id}/flights", s.handleFlights)
		r.Get("/runs/{id}/series", s.handleSeries)
		r.Get("/ws", s.handleUpgrade)
	})
	return r
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.httpSrv = &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if s.bus != nil {
		s.unsubAll = s.bus.SubscribeAll(s.forward)
	}
	// Published last: Stop may run as soon as the address is visible.
	s.boundAddr.Store(listener.Addr().String())

	s.logger.Info("gateway started", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// forward counts an event and queues it for every interested client.
func (s *Server) forward(_ context.Context, event domain.Event) {
	s.stats.Observe(event)
	frame, err := eventFrame(event)
	if err != nil {
		return
	}
	s.clients.Range(func(_, value any) bool {
		cc := value.(*clientConn)
		if !cc.wants(event.Type) {
			return true
		}
		select {
		case cc.sendCh <- frame:
		default:
			s.stats.dropped.Add(1)
		}
		return true
	})
}

// Stop gracefully shuts down the gateway server. Later calls return the
// first result.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		if s.unsubAll != nil {
			s.unsubAll()
		}

		s.clients.Range(func(key, value any) bool {
			cc := value.(*clientConn)
			cc.closeOnce.Do(func() { close(cc.done) })
			cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
			s.clients.Delete(key)
			return true
		})

		if s.httpSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			s.stopErr = s.httpSrv.Shutdown(shutdownCtx)
		}
	})
	return s.stopErr
}

// BoundAddr returns the address the server bound to. Empty before Start.
func (s *Server) BoundAddr() string {
	addr, _ := s.boundAddr.Load().(string)
	return addr
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: append([]string{"localhost", "localhost:*", "127.0.0.1", "127.0.0.1:*", "[::1]", "[::1]:*"},
			s.opts.AllowedOrigins...),
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	connID := s.nextID.Add(1)
	cc := &clientConn{
		client: clientFrom(r.Context()),
		ws:     ws,
		sendCh: make(chan Frame, s.opts.SendBuffer),
		done:   make(chan struct{}),
	}
	s.clients.Store(connID, cc)
	s.stats.clients.Add(1)
	s.logger.Info("stream client connected", "conn_id", connID, "client", cc.client)

	go s.writeLoop(cc)
	s.readLoop(r.Context(), cc)

	cc.closeOnce.Do(func() { close(cc.done) })
	s.clients.Delete(connID)
	s.stats.clients.Add(-1)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("stream client disconnected", "conn_id", connID)
}

func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		var frame Frame
		if err := wsjson.Read(ctx, cc.ws, &frame); err != nil {
			return
		}
		if frame.Type != FrameTypeRequest {
			continue
		}
		s.dispatch(ctx, cc, frame)
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, cc.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) dispatch(ctx context.Context, cc *clientConn, req Frame) {
	s.handlersMu.RLock()
	h, ok := s.handlers[req.Method]
	s.handlersMu.RUnlock()

	resp := Frame{Type: FrameTypeResponse, ID: req.ID}
	if !ok {
		resp.Error = fmt.Sprintf("%v: %q", ErrUnknownMethod, req.Method)
	} else if result, err := h(ctx, cc, req.Payload); err != nil {
		resp.Error = err.Error()
	} else {
		resp.Payload = result
	}

	select {
	case cc.sendCh <- resp:
	default:
		s.logger.Warn("dropped response for slow stream client", "frame_id", req.ID)
	}
}

type subscribeRequest struct {
	Types []domain.EventType `json:"types"`
}

// subscribeHandler restricts the events forwarded to the caller. An empty
// list restores the full stream.
func subscribeHandler(_ context.Context, cc *clientConn, payload json.RawMessage) (json.RawMessage, error) {
	var req subscribeRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
	}
	cc.filterMu.Lock()
	if len(req.Types) == 0 {
		cc.filter = nil
	} else {
		cc.filter = make(map[domain.EventType]bool, len(req.Types))
		for _, t := range req.Types {
			cc.filter[t] = true
		}
	}
	cc.filterMu.Unlock()
	return json.Marshal(map[string]int{"types": len(req.Types)})
}
