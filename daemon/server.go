package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/avillela/seekd/search"
)

// HandlerFunc serves one RPC method. Params arrive as raw JSON; the
// returned value is marshaled into the response.
type HandlerFunc func(params json.RawMessage) (any, error)

// Server accepts connections on the daemon socket and dispatches
// requests to registered handlers. Each connection gets its own
// goroutine; blocking calls block only their own connection.
type Server struct {
	listener net.Listener
	logger   *slog.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	wg       sync.WaitGroup
	closing  chan struct{}
	stopOnce sync.Once

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

func NewServer(listener net.Listener, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		listener: listener,
		logger:   logger,
		handlers: make(map[string]HandlerFunc),
		closing:  make(chan struct{}),
		conns:    make(map[net.Conn]struct{}),
	}
}

// Handle registers a method.
func (srv *Server) Handle(method string, fn HandlerFunc) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.handlers[method] = fn
}

// Serve accepts connections until the listener closes.
func (srv *Server) Serve() error {
	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			select {
			case <-srv.closing:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		srv.trackConn(conn)
		srv.wg.Add(1)
		go func() {
			defer srv.wg.Done()
			defer srv.untrackConn(conn)
			srv.serveConn(conn)
		}()
	}
}

func (srv *Server) trackConn(conn net.Conn) {
	srv.connMu.Lock()
	srv.conns[conn] = struct{}{}
	srv.connMu.Unlock()

	// A connection accepted while Close was sweeping the map would be
	// missed by the sweep; close it here instead.
	select {
	case <-srv.closing:
		_ = conn.Close()
	default:
	}
}

func (srv *Server) untrackConn(conn net.Conn) {
	srv.connMu.Lock()
	delete(srv.conns, conn)
	srv.connMu.Unlock()
}

// Close stops accepting, disconnects active clients, and waits for
// their goroutines. Closing the connections is what unblocks serveConn
// goroutines parked in a read on an idle connection.
func (srv *Server) Close() error {
	var err error
	srv.stopOnce.Do(func() {
		close(srv.closing)
		err = srv.listener.Close()

		srv.connMu.Lock()
		for conn := range srv.conns {
			_ = conn.Close()
		}
		srv.connMu.Unlock()
	})
	srv.wg.Wait()
	return err
}

func (srv *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	encoder := json.NewEncoder(conn)

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				srv.logger.Debug("connection read failed", "error", err)
			}
			return
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = encoder.Encode(Response{Error: "malformed request: " + err.Error()})
			continue
		}

		resp := srv.dispatch(req)
		if err := encoder.Encode(resp); err != nil {
			srv.logger.Debug("connection write failed", "error", err)
			return
		}
	}
}

func (srv *Server) dispatch(req Request) Response {
	srv.mu.RLock()
	fn, ok := srv.handlers[req.Method]
	srv.mu.RUnlock()

	if !ok {
		return Response{Error: "unknown method: " + req.Method}
	}

	result, err := fn(req.Params)
	if err != nil {
		return Response{Error: err.Error()}
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return Response{Error: "failed to encode result: " + err.Error()}
	}
	return Response{OK: true, Result: payload}
}

// RegisterHandlers wires the full RPC surface of a Service onto a
// server.
func RegisterHandlers(srv *Server, svc *Service) {
	queryHandler := func(mode search.Mode) HandlerFunc {
		return func(params json.RawMessage) (any, error) {
			var p QueryParams
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, err
			}
			m := mode
			if p.Mode != "" {
				m = search.Mode(p.Mode)
			}
			return svc.Query(context.Background(), p.Path, p.Text, search.Options{Mode: m, Limit: p.Limit})
		}
	}

	srv.Handle("query", queryHandler(search.ModeSemantic))
	srv.Handle("query_fulltext", queryHandler(search.ModeFulltext))
	srv.Handle("query_hybrid", queryHandler(search.ModeHybrid))

	srv.Handle("reindex", func(params json.RawMessage) (any, error) {
		var p PathParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		status, err := svc.Reindex(p.Path)
		if err != nil {
			return nil, err
		}
		return TaskResult{Status: status}, nil
	})

	srv.Handle("clean", func(params json.RawMessage) (any, error) {
		var p PathParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		status, err := svc.Clean(context.Background(), p.Path)
		if err != nil {
			return nil, err
		}
		return TaskResult{Status: status}, nil
	})
	srv.Handle("clear_data", func(params json.RawMessage) (any, error) {
		var p PathParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		status, err := svc.Clean(context.Background(), p.Path)
		if err != nil {
			return nil, err
		}
		return TaskResult{Status: status}, nil
	})

	srv.Handle("status", func(params json.RawMessage) (any, error) {
		var p PathParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return svc.Status(context.Background(), p.Path)
	})

	srv.Handle("watch_start", func(params json.RawMessage) (any, error) {
		var p PathParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		status, err := svc.WatchStart(p.Path)
		if err != nil {
			return nil, err
		}
		return TaskResult{Status: status}, nil
	})
	srv.Handle("watch_stop", func(params json.RawMessage) (any, error) {
		var p PathParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return svc.WatchStop(p.Path), nil
	})
	srv.Handle("watch_status", func(params json.RawMessage) (any, error) {
		return svc.WatchStatus(), nil
	})

	srv.Handle("get_status", func(params json.RawMessage) (any, error) {
		return svc.GetStatus(), nil
	})
	srv.Handle("clear_cache", func(params json.RawMessage) (any, error) {
		return TaskResult{Status: svc.ClearCache()}, nil
	})
	srv.Handle("ping", func(params json.RawMessage) (any, error) {
		return TaskResult{Status: svc.Ping()}, nil
	})
	srv.Handle("shutdown", func(params json.RawMessage) (any, error) {
		go svc.Shutdown()
		return TaskResult{Status: StatusOK}, nil
	})
}
