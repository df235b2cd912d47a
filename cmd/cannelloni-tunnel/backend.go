package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/cannelloni-tunnel/internal/can"
)

// initBackend selects the local CAN backend, starts its RX loop (pushing
// every frame read from the bus into push, the tunnel's outbound path),
// and returns the frame sender the tunnel uses for its inbound path
// (UDP -> local CAN) plus a cleanup function.
func initBackend(ctx context.Context, cfg *appConfig, push func(can.Frame) error, l *slog.Logger, wg *sync.WaitGroup) (func(can.Frame) error, func(), error) {
	switch cfg.backend {
	case "serial":
		return initSerialBackend(ctx, cfg, push, l, wg)
	case "socketcan":
		return initSocketCANBackend(ctx, cfg, push, l, wg)
	default:
		return nil, func() {}, fmt.Errorf("unknown backend %q (use serial|socketcan)", cfg.backend)
	}
}
