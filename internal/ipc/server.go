package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

const (
	// maxRequestBytes bounds one request line; say/music commands carry at
	// most a couple of short args.
	maxRequestBytes     = 4096
	defaultConnDeadline = 2 * time.Second
)

// Handler processes one control request.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// Server answers one JSON request per unix-socket connection.
type Server struct {
	Handler Handler
	Logger  *slog.Logger
	// ConnDeadline bounds reading the request and writing the reply. Zero
	// means two seconds.
	ConnDeadline time.Duration
}

// Serve runs a Server with default settings.
func Serve(ctx context.Context, listener net.Listener, handler Handler) error {
	return (&Server{Handler: handler}).Serve(ctx, listener)
}

// Serve accepts clients until ctx is cancelled or listener is closed. It
// waits for in-flight connections before returning.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if s.Handler == nil {
		return errors.New("ipc server requires a handler")
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	deadline := s.ConnDeadline
	if deadline <= 0 {
		deadline = defaultConnDeadline
	}

	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept control connection: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			_ = conn.SetReadDeadline(time.Now().Add(deadline))
			resp, req := s.serveConn(ctx, conn, logger)
			_ = conn.SetWriteDeadline(time.Now().Add(deadline))
			if err := json.NewEncoder(conn).Encode(resp); err != nil {
				logger.Debug("control reply failed", "command", req.Command, "error", err.Error())
			}
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn, logger *slog.Logger) (resp Response, req Request) {
	req, err := readRequest(conn)
	if err != nil {
		return Response{OK: false, Error: err.Error()}, req
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("control handler panic", "command", req.Command, "panic", fmt.Sprint(recovered))
			resp = Response{OK: false, Error: fmt.Sprintf("%s: internal error", req.Command)}
		}
	}()

	logger.Debug("control request", "command", req.Command, "args", req.Args)
	return s.Handler.Handle(ctx, req), req
}

func readRequest(r io.Reader) (Request, error) {
	line, err := bufio.NewReader(io.LimitReader(r, maxRequestBytes)).ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) >= maxRequestBytes {
			return Request{}, fmt.Errorf("read request: longer than %d bytes", maxRequestBytes)
		}
		return Request{}, fmt.Errorf("read request: %w", err)
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	req.Command = strings.TrimSpace(req.Command)
	if req.Command == "" {
		return Request{}, errors.New("decode request: missing command")
	}
	return req, nil
}
