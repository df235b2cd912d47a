//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/cannelloni-tunnel/internal/can"
	"github.com/kstaniek/cannelloni-tunnel/internal/metrics"
	"github.com/kstaniek/cannelloni-tunnel/internal/socketcan"
)

// openSocketCANDevice is a hook for tests (overridden in unit tests).
var openSocketCANDevice = func(iface string) (socketcan.Dev, error) { return socketcan.Open(iface) }

// initSocketCANBackend opens the SocketCAN interface and launches its RX
// loop, which pushes every local frame into push for outbound tunneling.
func initSocketCANBackend(ctx context.Context, cfg *appConfig, push func(can.Frame) error, l *slog.Logger, wg *sync.WaitGroup) (func(can.Frame) error, func(), error) {
	dev, err := openSocketCANDevice(cfg.canIf)
	if err != nil {
		return nil, func() {}, fmt.Errorf("socketcan open %s: %w", cfg.canIf, err)
	}
	l.Info("socketcan_open", "if", cfg.canIf)
	tw := socketcan.NewTXWriter(ctx, dev, txQueueSize)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("socketcan_rx_end")
		backoff := rxBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			var fr can.Frame
			if err := dev.ReadFrame(&fr); err != nil {
				if ctx.Err() != nil {
					return
				}
				metrics.IncError(metrics.ErrSocketCANRead)
				l.Warn("socketcan_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff *= 2
				if backoff > rxBackoffMax {
					backoff = rxBackoffMax
				}
				continue
			}
			metrics.IncSocketCANRx()
			if err := push(fr); err != nil {
				l.Debug("tunnel_push_dropped", "error", err, "can_id", fmt.Sprintf("0x%X", fr.CANID))
			}
			backoff = rxBackoffMin
		}
	}()
	return tw.SendFrame, func() { _ = dev.Close(); tw.Close() }, nil
}
