package capture

import "context"

// Sink is the ring buffer a session forwards audio into.
//
// Append must not block indefinitely. Flush may run concurrently with Append;
// the sink is responsible for keeping its ring consistent.
type Sink interface {
	Append(chunk []byte)
	Flush(ctx context.Context, windowSeconds uint16, path string) error
	Close() error
}

// SinkOpener acquires a Sink sized for one config.
type SinkOpener interface {
	Open(cfg Config) (Sink, error)
}

// SinkOpenerFunc adapts a function to the SinkOpener interface.
type SinkOpenerFunc func(Config) (Sink, error)

func (f SinkOpenerFunc) Open(cfg Config) (Sink, error) {
	return f(cfg)
}
