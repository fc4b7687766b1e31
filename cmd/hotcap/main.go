// Command hotcap keeps a rolling audio buffer and captures it on demand.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rbright/hotcap/internal/app"
)

func main() {
	// SIGTERM and Ctrl-C both let "hotcap run" drain and release the device.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := app.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
