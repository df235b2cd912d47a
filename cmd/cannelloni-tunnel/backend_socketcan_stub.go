//go:build !linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/cannelloni-tunnel/internal/can"
)

// Placeholder so non-linux builds compile; raw AF_CAN sockets are Linux-only.
func initSocketCANBackend(ctx context.Context, cfg *appConfig, push func(can.Frame) error, l *slog.Logger, wg *sync.WaitGroup) (func(can.Frame) error, func(), error) {
	return nil, func() {}, fmt.Errorf("socketcan backend unsupported on this platform")
}
