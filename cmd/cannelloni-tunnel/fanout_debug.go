package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kstaniek/cannelloni-tunnel/internal/fanout"
)

// startFanoutDebugTap wires a drop-on-full fanout into the endpoint and logs
// every frame it delivers, for -debug-fanout. It returns the Fanout to pass
// to endpoint.WithFanout, or nil if debugFanout is off.
func startFanoutDebugTap(ctx context.Context, enabled bool, l *slog.Logger, wg *sync.WaitGroup) *fanout.Fanout {
	if !enabled {
		return nil
	}
	fan := fanout.New()
	tap := fanout.NewTap(64)
	fan.Add(tap)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer fan.Remove(tap)
		for {
			select {
			case <-ctx.Done():
				return
			case <-tap.Closed:
				return
			case fr := <-tap.Out:
				l.Debug("fanout_tap_frame", "can_id", fr.ID(), "len", fr.EffectiveLen())
			}
		}
	}()
	return fan
}
