package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
	"time"
)

// ErrNoDaemon means nothing is listening on the control socket.
var ErrNoDaemon = errors.New("no hotcap daemon listening")

// Send performs one request/response exchange. The whole exchange, dial
// included, is bounded by timeout.
func Send(ctx context.Context, path string, req Request, timeout time.Duration) (Response, error) {
	if strings.TrimSpace(req.Command) == "" {
		return Response{}, errors.New("ipc request has no command")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		if unreachable(err) {
			return Response{}, fmt.Errorf("%w: %w", ErrNoDaemon, err)
		}
		return Response{}, fmt.Errorf("dial %s: %w", path, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
			return Response{}, fmt.Errorf("decode response: %w", err)
		case errors.Is(err, io.EOF):
			return Response{}, fmt.Errorf("read response: %w", io.ErrUnexpectedEOF)
		default:
			return Response{}, fmt.Errorf("read response: %w", err)
		}
	}
	return resp, nil
}

// Probe reports whether a daemon answers on path. An owner that accepts but
// never answers is an error, not a stale socket.
func Probe(ctx context.Context, path string, timeout time.Duration) (bool, error) {
	_, err := Send(ctx, path, Request{Command: CommandStatus}, timeout)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNoDaemon):
		return false, nil
	default:
		return false, fmt.Errorf("probe socket: %w", err)
	}
}

// unreachable covers a missing socket file and a file nobody listens on.
func unreachable(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED)
}
