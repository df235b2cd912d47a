package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/kstaniek/cannelloni-tunnel/internal/can"
	"github.com/kstaniek/cannelloni-tunnel/internal/metrics"
	"github.com/kstaniek/cannelloni-tunnel/internal/serial"
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// openSerialPort is a hook for tests (overridden in unit tests).
var openSerialPort = serial.Open

// initSerialBackend opens the serial port and launches its RX loop, which
// pushes every decoded local frame into push for outbound tunneling.
func initSerialBackend(ctx context.Context, cfg *appConfig, push func(can.Frame) error, l *slog.Logger, wg *sync.WaitGroup) (func(can.Frame) error, func(), error) {
	sp, err := openSerialPort(cfg.serialDev, cfg.baud, cfg.serialReadTO)
	if err != nil {
		return nil, func() {}, fmt.Errorf("open serial: %w", err)
	}
	l.Info("serial_open", "device", cfg.serialDev, "baud", cfg.baud)
	serCodec := serial.Codec{}
	w := serial.NewTXWriter(ctx, sp, serCodec, txQueueSize)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("serial_rx_end")
		buf := make([]byte, serialReadBufSize)
		acc := bytes.NewBuffer(nil)
		backoff := rxBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			n, err := sp.Read(buf)
			if n > 0 {
				acc.Write(buf[:n])
				_ = serCodec.DecodeStream(acc, func(fr can.Frame) {
					if perr := push(fr); perr != nil {
						l.Debug("tunnel_push_dropped", "error", perr, "can_id", fmt.Sprintf("0x%X", fr.CANID))
					}
				})
				if acc.Len() == 0 && cap(acc.Bytes()) > largeBufferReclaimThreshold {
					acc = bytes.NewBuffer(nil)
				}
				backoff = rxBackoffMin
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				var perr *os.PathError
				if errors.As(err, &perr) {
					return
				}
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					continue
				}
				metrics.IncError(metrics.ErrSerialRead)
				l.Warn("serial_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff *= 2
				if backoff > rxBackoffMax {
					backoff = rxBackoffMax
				}
			}
		}
	}()
	return w.SendFrame, func() { _ = sp.Close(); w.Close() }, nil
}
