// Package rpc is the JSON-over-TCP call layer operators and services use to
// reach the indexer (IndexService.*) and the searcher (SearchService.*).
//
// Each connection carries newline-delimited JSON requests answered in
// order. Failures travel back as a message plus the HTTP status the error
// maps to, so both sides share one error taxonomy.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/errors"
)

// ErrUnknownMethod is returned for a method the server does not register.
var ErrUnknownMethod = errors.New("unknown rpc method")

// HandlerFunc serves one method. params is the raw JSON sent by the caller
// and may be empty.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

type Request struct {
	Method    string          `json:"method"`
	ID        string          `json:"id"`
	Params    json.RawMessage `json:"params,omitempty"`
	TimeoutMs int64           `json:"timeout_ms,omitempty"`
}

type Response struct {
	ID     string          `json:"id"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
	Status int             `json:"status,omitempty"`
}

// Handle registers fn under method, decoding params into Req. Unknown
// fields are rejected; empty params leave Req at its zero value.
func Handle[Req, Resp any](s *Server, method string, fn func(context.Context, Req) (Resp, error)) {
	s.Register(method, func(ctx context.Context, params json.RawMessage) (any, error) {
		var req Req
		if len(bytes.TrimSpace(params)) > 0 && !bytes.Equal(bytes.TrimSpace(params), []byte("null")) {
			dec := json.NewDecoder(bytes.NewReader(params))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&req); err != nil {
				return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid params for %s: %v", method, err)
			}
		}
		return fn(ctx, req)
	})
}

type Server struct {
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	listener net.Listener
	conns    map[net.Conn]struct{}
	stopped  bool
	wg       sync.WaitGroup
}

func NewServer() *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		logger:   slog.Default().With("component", "rpc"),
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[string]HandlerFunc),
		conns:    make(map[net.Conn]struct{}),
	}
}

func (s *Server) Register(method string, fn HandlerFunc) {
	s.mu.Lock()
	s.handlers[method] = fn
	s.mu.Unlock()
}

// Methods returns the number of registered methods.
func (s *Server) Methods() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

// ServeListener accepts connections until Stop. It returns nil after Stop
// and the accept error otherwise.
func (s *Server) ServeListener(ln net.Listener) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("rpc accept: %w", err)
		}
		backoff = 0
		if !s.track(conn) {
			conn.Close()
			return nil
		}
		go s.serveConn(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) serveConn(conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.wg.Done()
	}()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		if err := enc.Encode(s.call(req)); err != nil {
			s.logger.Warn("writing rpc response", "method", req.Method, "error", err)
			return
		}
	}
}

func (s *Server) call(req Request) Response {
	s.mu.Lock()
	fn, ok := s.handlers[req.Method]
	s.mu.Unlock()
	if !ok {
		return Response{ID: req.ID, Error: fmt.Sprintf("%v: %s", ErrUnknownMethod, req.Method), Status: http.StatusNotImplemented}
	}

	ctx, cancel := s.ctx, context.CancelFunc(func() {})
	if req.TimeoutMs > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
	}
	defer cancel()

	start := time.Now()
	out, err := fn(ctx, req.Params)
	s.logger.Debug("rpc call", "method", req.Method, "id", req.ID, "duration_ms", time.Since(start).Milliseconds(), "error", err)
	if err != nil {
		return Response{ID: req.ID, Error: apperrors.Message(err), Status: apperrors.HTTPStatusCode(err)}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return Response{ID: req.ID, Error: "encoding result: " + err.Error(), Status: http.StatusInternalServerError}
	}
	return Response{ID: req.ID, Data: data}
}

// Stop closes the listener and every open connection, cancels in-flight
// calls and waits for connection goroutines to exit.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
