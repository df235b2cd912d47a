// Package endpoint wires the frame pool (C3), flush dispatcher (C4), peer
// gate (C5), and a wire codec into one running UDP tunnel half, mirroring
// the shape of one cannelloni UDPThread: it owns exactly one UDP socket, one
// remembered remote peer, and one local CAN-side sink.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/cannelloni-tunnel/internal/can"
	"github.com/kstaniek/cannelloni-tunnel/internal/codec"
	"github.com/kstaniek/cannelloni-tunnel/internal/dispatch"
	"github.com/kstaniek/cannelloni-tunnel/internal/fanout"
	"github.com/kstaniek/cannelloni-tunnel/internal/flush"
	"github.com/kstaniek/cannelloni-tunnel/internal/logging"
	"github.com/kstaniek/cannelloni-tunnel/internal/metrics"
	"github.com/kstaniek/cannelloni-tunnel/internal/peergate"
	"github.com/kstaniek/cannelloni-tunnel/internal/pool"
	"github.com/kstaniek/cannelloni-tunnel/internal/timeouttable"
	"github.com/kstaniek/cannelloni-tunnel/internal/transport"
)

// DebugOptions mirrors cannelloni's -d argument: independent toggles for
// which subsystems log at verbose level.
type DebugOptions struct {
	UDP    bool
	CAN    bool
	Buffer bool
	Timer  bool
}

const (
	defaultBaseTimeout = 100 * time.Millisecond
	defaultLinkMTU     = 1500
	defaultPoolInitial = 32
	defaultPoolGrowBy  = 16
)

// Endpoint is one bidirectional CAN-over-UDP tunnel half: it reads
// datagrams from one remote peer and decodes them onto a local CAN sink,
// and it accepts local CAN frames via PushFrame, batches them, and flushes
// them back to that same peer.
type Endpoint struct {
	mu sync.RWMutex

	listenAddr string
	remoteAddr string
	family     string // "udp", "udp4", "udp6"

	codecKind  codec.Kind
	filterRule codec.FilterRule
	sortFrames bool
	checkPeer  bool

	linkMTU      int
	baseTimeout  time.Duration
	timeoutTable *timeouttable.Table
	frameFilter  func(*can.Frame) bool

	sink   transport.FrameSink
	fan    *fanout.Fanout
	logger *slog.Logger
	debug  DebugOptions

	poolInitial int
	poolGrowBy  int

	readyOnce sync.Once
	readyCh   chan struct{}
	errCh     chan error
	lastErrMu sync.Mutex
	lastErr   error

	conn       *net.UDPConn
	peerAddr   *net.UDPAddr
	frames     *pool.Pool
	timer      *flush.Timer
	codecImpl  codec.Codec
	dispatcher *dispatch.Dispatcher
	gate       *peergate.Gate

	wg sync.WaitGroup

	rxDatagrams atomic.Uint64
	txDatagrams atomic.Uint64
	rxFrames    atomic.Uint64
	txFrames    atomic.Uint64
	peerDrops   atomic.Uint64
}

// Option configures an Endpoint before Serve is called.
type Option func(*Endpoint)

// New builds an Endpoint with the given options applied over the defaults:
// native codec, base flush timeout of 100ms, link MTU of 1500, address
// family "udp".
func New(opts ...Option) *Endpoint {
	e := &Endpoint{
		family:      "udp",
		codecKind:   codec.Native,
		baseTimeout: defaultBaseTimeout,
		linkMTU:     defaultLinkMTU,
		poolInitial: defaultPoolInitial,
		poolGrowBy:  defaultPoolGrowBy,
		readyCh:     make(chan struct{}),
		errCh:       make(chan error, 1),
		logger:      logging.L(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.listenAddr == "" {
		e.listenAddr = ":0"
	}
	return e
}

func WithListenAddr(a string) Option { return func(e *Endpoint) { e.listenAddr = a } }
func WithRemoteAddr(a string) Option { return func(e *Endpoint) { e.remoteAddr = a } }
func WithAddressFamily(f string) Option {
	return func(e *Endpoint) {
		if f != "" {
			e.family = f
		}
	}
}
func WithCodecKind(k codec.Kind) Option        { return func(e *Endpoint) { e.codecKind = k } }
func WithFilterRule(r codec.FilterRule) Option { return func(e *Endpoint) { e.filterRule = r } }
func WithSortFrames(b bool) Option             { return func(e *Endpoint) { e.sortFrames = b } }
func WithCheckPeer(b bool) Option              { return func(e *Endpoint) { e.checkPeer = b } }
func WithLinkMTU(n int) Option {
	return func(e *Endpoint) {
		if n > 0 {
			e.linkMTU = n
		}
	}
}
func WithBaseTimeout(d time.Duration) Option {
	return func(e *Endpoint) {
		if d > 0 {
			e.baseTimeout = d
		}
	}
}
func WithTimeoutTable(t *timeouttable.Table) Option {
	return func(e *Endpoint) { e.timeoutTable = t }
}
func WithInboundFrameFilter(fn func(*can.Frame) bool) Option {
	return func(e *Endpoint) { e.frameFilter = fn }
}
func WithSink(s transport.FrameSink) Option { return func(e *Endpoint) { e.sink = s } }
func WithFanout(f *fanout.Fanout) Option    { return func(e *Endpoint) { e.fan = f } }
func WithLogger(l *slog.Logger) Option {
	return func(e *Endpoint) {
		if l != nil {
			e.logger = l
		}
	}
}
func WithDebugOptions(d DebugOptions) Option { return func(e *Endpoint) { e.debug = d } }
func WithPoolSize(initial, growBy int) Option {
	return func(e *Endpoint) {
		if initial > 0 {
			e.poolInitial = initial
		}
		if growBy > 0 {
			e.poolGrowBy = growBy
		}
	}
}

// SetSink assigns (or replaces) the local CAN sink for inbound frames. It
// may be called before Serve, e.g. once the backend device has been opened
// and its TXWriter is available.
func (e *Endpoint) SetSink(s transport.FrameSink) {
	e.mu.Lock()
	e.sink = s
	e.mu.Unlock()
}

func (e *Endpoint) Ready() <-chan struct{} { return e.readyCh }
func (e *Endpoint) Errors() <-chan error   { return e.errCh }

func (e *Endpoint) setError(err error) {
	if err == nil {
		return
	}
	e.lastErrMu.Lock()
	e.lastErr = err
	e.lastErrMu.Unlock()
	select {
	case e.errCh <- err:
	default:
	}
}

func (e *Endpoint) LastError() error {
	e.lastErrMu.Lock()
	defer e.lastErrMu.Unlock()
	return e.lastErr
}

// LocalAddr reports the bound UDP address; valid only after Serve has
// started listening.
func (e *Endpoint) LocalAddr() net.Addr {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.conn == nil {
		return nil
	}
	return e.conn.LocalAddr()
}

// Serve resolves addresses, opens the UDP socket, wires the pool, timer,
// codec, and peer gate together, and runs until ctx is cancelled.
func (e *Endpoint) Serve(ctx context.Context) error {
	localAddr, err := net.ResolveUDPAddr(e.family, e.listenAddr)
	if err != nil {
		return e.fail(fmt.Errorf("%w: resolve local: %v", ErrBind, err))
	}
	var peerAddr *net.UDPAddr
	if e.remoteAddr != "" {
		peerAddr, err = net.ResolveUDPAddr(e.family, e.remoteAddr)
		if err != nil {
			return e.fail(fmt.Errorf("%w: resolve remote: %v", ErrBind, err))
		}
	}

	conn, err := net.ListenUDP(e.family, localAddr)
	if err != nil {
		return e.fail(fmt.Errorf("%w: %v", ErrSocket, err))
	}
	if err := enableBroadcast(conn); err != nil {
		e.logger.Warn("broadcast_opt_unavailable", "error", err)
	}

	codecImpl, err := NewCodec(e.codecKind, e.filterRule)
	if err != nil {
		_ = conn.Close()
		return e.fail(err)
	}

	ipv6 := e.family == "udp6" || (peerAddr != nil && peerAddr.IP.To4() == nil)
	payload := dispatch.UsablePayload(e.linkMTU, ipv6)

	e.mu.Lock()
	e.conn = conn
	e.peerAddr = peerAddr
	e.codecImpl = codecImpl
	e.frames = pool.New(e.poolInitial, e.poolGrowBy)
	e.timer = flush.New(e.baseTimeout)
	e.gate = &peergate.Gate{Peer: peerAddr, CheckPeer: e.checkPeer, FrameFilter: e.frameFilter}
	sender := &udpSender{conn: conn, peer: peerAddr}
	e.dispatcher = dispatch.New(e.frames, e.timer, codecImpl, e.timeoutTable, payload, sender)
	e.dispatcher.Sort = e.sortFrames
	e.dispatcher.OnOverflow = func() {
		metrics.IncOverflow()
		if e.debug.Buffer {
			e.logger.Debug("buffer_overflow")
		}
	}
	e.dispatcher.OnShortSend = func(wrote, want int) {
		metrics.IncShortSend()
		e.logger.Warn("short_send", "wrote", wrote, "want", want)
	}
	e.mu.Unlock()

	e.readyOnce.Do(func() { close(e.readyCh) })
	e.logger.Info("udp_listen", "addr", conn.LocalAddr().String(), "remote", e.remoteAddr, "codec", e.codecKind.String())

	e.wg.Add(2)
	go e.runTimer(ctx)
	go e.runReceiver(ctx)

	<-ctx.Done()
	_ = conn.Close()
	e.wg.Wait()
	return nil
}

func (e *Endpoint) fail(err error) error {
	metrics.IncError(mapErrToMetric(err))
	e.setError(err)
	return err
}

// runTimer drives the flush dispatcher whenever the flush timer fires.
func (e *Endpoint) runTimer(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.timer.Chan():
			if e.debug.Timer {
				e.logger.Debug("flush_fire")
			}
			n, err := e.dispatcher.Fire()
			if err != nil {
				e.fail(fmt.Errorf("%w: %v", ErrUDPWrite, err))
				continue
			}
			if n > 0 {
				e.txDatagrams.Add(1)
				e.txFrames.Add(uint64(n))
				metrics.IncUDPTxDatagram()
				metrics.AddUDPTxFrames(n)
			}
		}
	}
}

// runReceiver reads datagrams, applies the peer gate, decodes frames, and
// delivers accepted frames to the local sink and any debug fanout.
func (e *Endpoint) runReceiver(ctx context.Context) {
	defer e.wg.Done()
	buf := make([]byte, e.linkMTU)
	for {
		n, addr, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			e.fail(fmt.Errorf("%w: %v", ErrUDPRead, err))
			continue
		}
		if n == 0 {
			continue
		}
		if !e.gate.AllowAddr(addr) {
			e.peerDrops.Add(1)
			metrics.IncPeerRejected()
			e.logger.Warn("peer_rejected", "from", addr.String())
			continue
		}
		if e.debug.UDP {
			e.logger.Debug("udp_rx", "bytes", n, "from", addr.String())
		}
		e.rxDatagrams.Add(1)
		metrics.IncUDPRxDatagram()

		frames, perr := e.codecImpl.Parse(buf[:n], e.frames)
		if perr != nil {
			metrics.IncError(codecErrLabel(perr))
			metrics.IncMalformed()
			e.logger.Warn("parse_error", "error", perr, "bytes", n)
		}
		if len(frames) > 0 {
			e.rxFrames.Add(uint64(len(frames)))
			metrics.AddUDPRxFrames(len(frames))
		}
		for _, f := range frames {
			if !e.gate.AllowFrame(f) {
				metrics.IncFrameFilterRejected()
				e.frames.Release(f)
				continue
			}
			if e.debug.CAN {
				e.logger.Debug("can_rx", "id", fmt.Sprintf("0x%X", f.ID()), "len", f.Len)
			}
			if e.fan != nil {
				e.fan.Publish(*f)
			}
			if e.sink != nil {
				if serr := e.sink.SendFrame(*f); serr != nil {
					e.logger.Debug("sink_drop", "error", serr, "id", fmt.Sprintf("0x%X", f.ID()))
				}
			}
			e.frames.Release(f)
		}
	}
}

// PushFrame is the local CAN-source producer path: a frame read off the
// local CAN bus is copied into the pool and inserted into Pending, where
// the dispatcher's flush policy takes over.
func (e *Endpoint) PushFrame(fr can.Frame) error {
	e.mu.RLock()
	frames := e.frames
	d := e.dispatcher
	e.mu.RUnlock()
	if frames == nil || d == nil {
		return fmt.Errorf("%w: endpoint not serving", ErrSinkWrite)
	}
	f, err := frames.RequestNB()
	if err != nil {
		return err
	}
	*f = fr
	d.Insert(f)
	return nil
}

// Shutdown logs a summary and returns once Serve's goroutines have exited
// or ctx expires first.
func (e *Endpoint) Shutdown(ctx context.Context) error {
	e.mu.RLock()
	conn := e.conn
	e.mu.RUnlock()
	if conn != nil {
		_ = conn.Close()
	}
	done := make(chan struct{})
	go func() { e.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		e.logger.Info("shutdown_summary",
			"rx_datagrams", e.rxDatagrams.Load(), "tx_datagrams", e.txDatagrams.Load(),
			"rx_frames", e.rxFrames.Load(), "tx_frames", e.txFrames.Load(),
			"peer_rejected", e.peerDrops.Load())
		return nil
	}
}

// udpSender adapts *net.UDPConn to dispatch.Sender, always writing to the
// endpoint's one remembered peer (spec.md §4.5: the remote address is
// fixed at construction, not taken per-datagram).
type udpSender struct {
	conn *net.UDPConn
	peer *net.UDPAddr
}

func (s *udpSender) Write(b []byte) (int, error) {
	if s.peer == nil {
		return 0, fmt.Errorf("%w: no remote address configured", ErrUDPWrite)
	}
	return s.conn.WriteToUDP(b, s.peer)
}

// enableBroadcast sets SO_BROADCAST on conn's underlying file descriptor,
// mirroring original_source/udpthread.cpp's start(): cannelloni sets this
// unconditionally so a remote configured as a subnet broadcast address
// works without extra flags.
func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// codecErrLabel maps a codec-layer parse error to a metrics label.
func codecErrLabel(err error) string {
	switch {
	case errors.Is(err, codec.ErrWrongVersion):
		return metrics.ErrWrongVersion
	case errors.Is(err, codec.ErrWrongOpCode):
		return metrics.ErrWrongOpCode
	case errors.Is(err, codec.ErrTruncated):
		return metrics.ErrTruncated
	case errors.Is(err, codec.ErrAllocationFailed):
		return metrics.ErrAllocation
	default:
		return "other"
	}
}
