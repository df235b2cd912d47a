package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/cannelloni-tunnel/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	SerialRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_rx_frames_total",
		Help: "Total CAN frames decoded from the serial link.",
	})
	SocketCANRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socketcan_rx_frames_total",
		Help: "Total CAN frames read from the SocketCAN interface.",
	})
	SerialTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_tx_frames_total",
		Help: "Total CAN frames written to the serial link.",
	})
	SocketCANTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socketcan_tx_frames_total",
		Help: "Total CAN frames written to the SocketCAN interface.",
	})
	UDPRxDatagrams = promauto.NewCounter(prometheus.CounterOpts{
		Name: "udp_rx_datagrams_total",
		Help: "Total UDP datagrams received from the remote peer.",
	})
	UDPTxDatagrams = promauto.NewCounter(prometheus.CounterOpts{
		Name: "udp_tx_datagrams_total",
		Help: "Total UDP datagrams sent to the remote peer.",
	})
	UDPRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "udp_rx_frames_total",
		Help: "Total CAN frames decoded out of received UDP datagrams.",
	})
	UDPTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "udp_tx_frames_total",
		Help: "Total CAN frames encoded into sent UDP datagrams.",
	})
	PeerRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "peer_rejected_datagrams_total",
		Help: "Total datagrams dropped by the strict-peer address check.",
	})
	FrameFilterRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frame_filter_rejected_total",
		Help: "Total inbound frames dropped by the configured frame-ID filter.",
	})
	OverflowEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "overflow_events_total",
		Help: "Total times an encode call could not fit the full Pending list into one datagram.",
	})
	PoolGrowths = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pool_growths_total",
		Help: "Total times the frame pool allocated new frames because Free was empty.",
	})
	TimerAdjustments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timer_adjustments_total",
		Help: "Total times the flush timer's fire time was shrunk by the per-ID timeout table.",
	})
	ShortSends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "short_sends_total",
		Help: "Total UDP writes that wrote fewer bytes than the encoded datagram.",
	})
	FanoutDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fanout_dropped_frames_total",
		Help: "Total frames dropped by the debug fanout due to a full tap buffer.",
	})
	FanoutKickedTaps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fanout_kicked_taps_total",
		Help: "Total debug taps closed due to the fanout's kick backpressure policy.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed frames (protocol violations, invalid length, truncated).",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrUDPRead        = "udp_read"
	ErrUDPWrite       = "udp_write"
	ErrSerialWrite    = "serial_write"
	ErrSerialOverflow = "serial_tx_overflow"
	ErrSocketCANWrite = "socketcan_write"
	ErrSocketCANOver  = "socketcan_tx_overflow"
	ErrSerialRead     = "serial_read"
	ErrSocketCANRead  = "socketcan_read"
	ErrWrongVersion   = "wrong_version"
	ErrWrongOpCode    = "wrong_op_code"
	ErrTruncated      = "truncated"
	ErrAllocation     = "allocation_failed"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready
// on a new mux, listening on addr in a background goroutine.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localSerialRx    uint64
	localSerialTx    uint64
	localSocketCANTx uint64
	localSocketCANRx uint64
	localUDPRxDgrams uint64
	localUDPTxDgrams uint64
	localUDPRxFrames uint64
	localUDPTxFrames uint64
	localPeerReject  uint64
	localFilterRej   uint64
	localOverflow    uint64
	localPoolGrowth  uint64
	localTimerAdjust uint64
	localShortSend   uint64
	localErrors      uint64
	localFanoutDrop  uint64
	localFanoutKick  uint64
	localMalformed   uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	SerialRx       uint64
	SocketCANRx    uint64
	SerialTx       uint64
	SocketCANTx    uint64
	UDPRxDatagrams uint64
	UDPTxDatagrams uint64
	UDPRxFrames    uint64
	UDPTxFrames    uint64
	PeerRejected   uint64
	FilterRejected uint64
	Overflows      uint64
	PoolGrowths    uint64
	TimerAdjusts   uint64
	ShortSends     uint64
	Errors         uint64 // sum across error labels
	FanoutDrops    uint64
	FanoutKicks    uint64
	Malformed      uint64
}

func Snap() Snapshot {
	return Snapshot{
		SerialRx:       atomic.LoadUint64(&localSerialRx),
		SocketCANRx:    atomic.LoadUint64(&localSocketCANRx),
		SerialTx:       atomic.LoadUint64(&localSerialTx),
		SocketCANTx:    atomic.LoadUint64(&localSocketCANTx),
		UDPRxDatagrams: atomic.LoadUint64(&localUDPRxDgrams),
		UDPTxDatagrams: atomic.LoadUint64(&localUDPTxDgrams),
		UDPRxFrames:    atomic.LoadUint64(&localUDPRxFrames),
		UDPTxFrames:    atomic.LoadUint64(&localUDPTxFrames),
		PeerRejected:   atomic.LoadUint64(&localPeerReject),
		FilterRejected: atomic.LoadUint64(&localFilterRej),
		Overflows:      atomic.LoadUint64(&localOverflow),
		PoolGrowths:    atomic.LoadUint64(&localPoolGrowth),
		TimerAdjusts:   atomic.LoadUint64(&localTimerAdjust),
		ShortSends:     atomic.LoadUint64(&localShortSend),
		Errors:         atomic.LoadUint64(&localErrors),
		FanoutDrops:    atomic.LoadUint64(&localFanoutDrop),
		FanoutKicks:    atomic.LoadUint64(&localFanoutKick),
		Malformed:      atomic.LoadUint64(&localMalformed),
	}
}

// Wrapper helpers to keep call sites simple.
func IncSerialRx() {
	SerialRxFrames.Inc()
	atomic.AddUint64(&localSerialRx, 1)
}

// IncSocketCANRx increments SocketCAN receive counters.
func IncSocketCANRx() {
	SocketCANRxFrames.Inc()
	atomic.AddUint64(&localSocketCANRx, 1)
}

func IncSerialTx() {
	SerialTxFrames.Inc()
	atomic.AddUint64(&localSerialTx, 1)
}

// IncSocketCANTx increments SocketCAN transmit counters.
func IncSocketCANTx() {
	SocketCANTxFrames.Inc()
	atomic.AddUint64(&localSocketCANTx, 1)
}

func IncUDPRxDatagram() {
	UDPRxDatagrams.Inc()
	atomic.AddUint64(&localUDPRxDgrams, 1)
}

func IncUDPTxDatagram() {
	UDPTxDatagrams.Inc()
	atomic.AddUint64(&localUDPTxDgrams, 1)
}

func AddUDPRxFrames(n int) {
	UDPRxFrames.Add(float64(n))
	atomic.AddUint64(&localUDPRxFrames, uint64(n))
}

func AddUDPTxFrames(n int) {
	UDPTxFrames.Add(float64(n))
	atomic.AddUint64(&localUDPTxFrames, uint64(n))
}

func IncPeerRejected() {
	PeerRejected.Inc()
	atomic.AddUint64(&localPeerReject, 1)
}

func IncFrameFilterRejected() {
	FrameFilterRejected.Inc()
	atomic.AddUint64(&localFilterRej, 1)
}

func IncOverflow() {
	OverflowEvents.Inc()
	atomic.AddUint64(&localOverflow, 1)
}

func IncPoolGrowth() {
	PoolGrowths.Inc()
	atomic.AddUint64(&localPoolGrowth, 1)
}

func IncTimerAdjustment() {
	TimerAdjustments.Inc()
	atomic.AddUint64(&localTimerAdjust, 1)
}

func IncShortSend() {
	ShortSends.Inc()
	atomic.AddUint64(&localShortSend, 1)
}

func IncFanoutDrop() {
	FanoutDroppedFrames.Inc()
	atomic.AddUint64(&localFanoutDrop, 1)
}

func IncFanoutKick() {
	FanoutKickedTaps.Inc()
	atomic.AddUint64(&localFanoutKick, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrUDPRead, ErrUDPWrite,
		ErrSerialWrite, ErrSerialOverflow, ErrSerialRead,
		ErrSocketCANWrite, ErrSocketCANOver, ErrSocketCANRead,
		ErrWrongVersion, ErrWrongOpCode, ErrTruncated, ErrAllocation,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
