// Package ipc is the daemon's control channel: one JSON request and one JSON
// response per unix-socket connection.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/sourcegraph/conc"
)

// requestTimeout bounds how long a client may take to send its request.
const requestTimeout = 2 * time.Second

// Handler answers one control request.
type Handler interface {
	Handle(context.Context, Request) Response
}

type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// Serve answers clients until ctx is cancelled or the listener closes, then
// waits for in-flight connections. A closed listener is a clean exit.
func Serve(ctx context.Context, listener net.Listener, handler Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()

	var conns conc.WaitGroup
	defer conns.Wait()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept control connection: %w", err)
		}
		conns.Go(func() {
			defer conn.Close()
			answer(ctx, conn, handler, logger)
		})
	}
}

func answer(ctx context.Context, conn net.Conn, handler Handler, logger *slog.Logger) {
	_ = conn.SetReadDeadline(time.Now().Add(requestTimeout))

	var req Request
	resp := func() Response {
		if err := json.NewDecoder(conn).Decode(&req); err != nil {
			logger.Debug("control request rejected", "error", err.Error())
			return Response{Error: fmt.Sprintf("decode request: %v", err)}
		}
		return handler.Handle(ctx, req)
	}()

	logger.Debug("control request answered", "command", req.Command, "ok", resp.OK)
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		logger.Debug("control response write failed", "command", req.Command, "error", err.Error())
	}
}
