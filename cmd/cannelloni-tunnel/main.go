package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/cannelloni-tunnel/internal/codec"
	"github.com/kstaniek/cannelloni-tunnel/internal/endpoint"
	"github.com/kstaniek/cannelloni-tunnel/internal/metrics"
	"github.com/kstaniek/cannelloni-tunnel/internal/timeouttable"
	"github.com/kstaniek/cannelloni-tunnel/internal/transport"
)

func microseconds(us int) time.Duration { return time.Duration(us) * time.Microsecond }

// Helper implementations moved to dedicated files: version.go, config.go,
// logger.go, metrics_logger.go, mdns.go, backend*.go.

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("cannelloni-tunnel %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	kind, err := codec.ParseKind(cfg.codec)
	if err != nil {
		l.Error("codec_config_error", "error", err)
		return
	}
	var filter codec.FilterRule
	if fid, ferr := strconv.ParseUint(strings.TrimPrefix(cfg.filterID, "0x"), 16, 32); ferr == nil {
		filter.ID = uint32(fid)
	}
	if fmask, ferr := strconv.ParseUint(strings.TrimPrefix(cfg.filterMask, "0x"), 16, 32); ferr == nil {
		filter.Mask = uint32(fmask)
	}
	timeoutTable, err := timeouttable.Parse(cfg.timeoutTable)
	if err != nil {
		l.Error("timeout_table_config_error", "error", err)
		return
	}

	fan := startFanoutDebugTap(ctx, cfg.debugFanout, l, &wg)

	ep := endpoint.New(
		endpoint.WithListenAddr(cfg.listenAddr),
		endpoint.WithRemoteAddr(cfg.remoteAddr),
		endpoint.WithAddressFamily(cfg.addrFamily),
		endpoint.WithCodecKind(kind),
		endpoint.WithFilterRule(filter),
		endpoint.WithSortFrames(cfg.sortFrames),
		endpoint.WithCheckPeer(cfg.checkPeer),
		endpoint.WithLinkMTU(cfg.linkMTU),
		endpoint.WithBaseTimeout(microseconds(cfg.baseTimeoutUS)),
		endpoint.WithTimeoutTable(timeoutTable),
		endpoint.WithPoolSize(cfg.poolInitial, cfg.poolGrowBy),
		endpoint.WithLogger(l),
		endpoint.WithDebugOptions(endpoint.DebugOptions{
			UDP: cfg.debugUDP, CAN: cfg.debugCAN, Buffer: cfg.debugBuffer, Timer: cfg.debugTimer,
		}),
		endpoint.WithFanout(fan),
	)

	push := ep.PushFrame
	sendFunc, cleanup, berr := initBackend(ctx, cfg, push, l, &wg)
	if berr != nil {
		l.Error("backend_init_error", "error", berr)
		return
	}
	if sendFunc != nil {
		ep.SetSink(transport.SinkFunc(sendFunc))
	}

	go func() {
		if err := ep.Serve(ctx); err != nil {
			l.Error("udp_endpoint_error", "error", err)
			cancel()
		}
	}()

	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-ep.Ready():
		case <-ctx.Done():
			return
		}
		addr := ep.LocalAddr()
		var portNum int
		if addr != nil {
			if _, p, err := net.SplitHostPort(addr.String()); err == nil {
				if pn, perr := strconv.Atoi(p); perr == nil {
					portNum = pn
				}
			}
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, portNum)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", portNum)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-ep.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	cleanup()
	wg.Wait()
}
