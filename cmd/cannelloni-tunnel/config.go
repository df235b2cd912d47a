package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	codec      string
	listenAddr string
	remoteAddr string
	linkMTU    int
	addrFamily string
	sortFrames bool
	checkPeer  bool

	baseTimeoutUS int
	timeoutTable  string
	filterID      string
	filterMask    string

	backend      string
	canIf        string
	serialDev    string
	baud         int
	serialReadTO time.Duration

	poolInitial int
	poolGrowBy  int

	logFormat       string
	logLevel        string
	logMetricsEvery time.Duration
	metricsAddr     string

	mdnsEnable bool
	mdnsName   string

	debugUDP    bool
	debugCAN    bool
	debugBuffer bool
	debugTimer  bool
	debugFanout bool
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	codecKind := flag.String("codec", "native", "Wire codec: native|generic")
	listen := flag.String("listen", ":20000", "UDP listen address")
	remote := flag.String("remote", "", "Remote peer UDP address (host:port)")
	linkMTU := flag.Int("link-mtu", 1500, "Link MTU; the usable UDP payload is derived from this")
	addrFamily := flag.String("address-family", "udp", "Address family: udp|udp4|udp6")
	sortFrames := flag.Bool("sort-frames", false, "Sort frames by CAN ID before each flush")
	checkPeer := flag.Bool("check-peer", false, "Reject datagrams whose source IP does not match -remote")

	baseTimeoutUS := flag.Int("base-timeout-us", 100000, "Base flush timer period, in microseconds")
	timeoutTable := flag.String("timeout-table", "", "Per-CAN-ID flush period overrides: id:micros,id:micros (id in hex)")
	filterID := flag.String("filter-id", "0", "Generic codec outbound filter: CAN ID (hex)")
	filterMask := flag.String("filter-mask", "0", "Generic codec outbound filter: mask (hex); 0 matches everything")

	backend := flag.String("backend", "socketcan", "CAN backend: serial|socketcan")
	canIf := flag.String("can-if", "can0", "SocketCAN interface (when --backend=socketcan)")
	serialDev := flag.String("serial", "/dev/ttyUSB0", "Serial device path")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	serialReadTO := flag.Duration("serial-read-timeout", 50*time.Millisecond, "Serial read timeout")

	poolInitial := flag.Int("pool-initial", 32, "Initial frame pool size")
	poolGrowBy := flag.Int("pool-growby", 16, "Frame pool growth increment when exhausted")

	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")

	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS advertisement")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default cannelloni-tunnel-<hostname>)")

	debugUDP := flag.Bool("debug-udp", false, "Log every inbound UDP datagram")
	debugCAN := flag.Bool("debug-can", false, "Log every decoded CAN frame")
	debugBuffer := flag.Bool("debug-buffer", false, "Log frame buffer overflow events")
	debugTimer := flag.Bool("debug-timer", false, "Log every flush timer fire")
	debugFanout := flag.Bool("debug-fanout", false, "Log every frame delivered to the inbound debug tap")

	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.codec = *codecKind
	cfg.listenAddr = *listen
	cfg.remoteAddr = *remote
	cfg.linkMTU = *linkMTU
	cfg.addrFamily = *addrFamily
	cfg.sortFrames = *sortFrames
	cfg.checkPeer = *checkPeer
	cfg.baseTimeoutUS = *baseTimeoutUS
	cfg.timeoutTable = *timeoutTable
	cfg.filterID = *filterID
	cfg.filterMask = *filterMask
	cfg.backend = *backend
	cfg.canIf = *canIf
	cfg.serialDev = *serialDev
	cfg.baud = *baud
	cfg.serialReadTO = *serialReadTO
	cfg.poolInitial = *poolInitial
	cfg.poolGrowBy = *poolGrowBy
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.metricsAddr = *metricsAddr
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName
	cfg.debugUDP = *debugUDP
	cfg.debugCAN = *debugCAN
	cfg.debugBuffer = *debugBuffer
	cfg.debugTimer = *debugTimer
	cfg.debugFanout = *debugFanout

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not open sockets or devices, only checks values and ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.codec {
	case "native", "generic":
	default:
		return fmt.Errorf("invalid codec: %s", c.codec)
	}
	switch c.addrFamily {
	case "udp", "udp4", "udp6":
	default:
		return fmt.Errorf("invalid address-family: %s", c.addrFamily)
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case "serial", "socketcan":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	if c.checkPeer && c.remoteAddr == "" {
		return errors.New("check-peer requires -remote to be set")
	}
	if c.linkMTU <= 0 {
		return fmt.Errorf("link-mtu must be > 0 (got %d)", c.linkMTU)
	}
	if c.baseTimeoutUS <= 0 {
		return fmt.Errorf("base-timeout-us must be > 0 (got %d)", c.baseTimeoutUS)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.poolInitial <= 0 {
		return fmt.Errorf("pool-initial must be > 0 (got %d)", c.poolInitial)
	}
	if c.poolGrowBy <= 0 {
		return fmt.Errorf("pool-growby must be > 0 (got %d)", c.poolGrowBy)
	}
	if _, err := strconv.ParseUint(strings.TrimPrefix(c.filterID, "0x"), 16, 32); err != nil {
		return fmt.Errorf("invalid filter-id %q: %w", c.filterID, err)
	}
	if _, err := strconv.ParseUint(strings.TrimPrefix(c.filterMask, "0x"), 16, 32); err != nil {
		return fmt.Errorf("invalid filter-mask %q: %w", c.filterMask, err)
	}
	return nil
}

// applyEnvOverrides maps CANNELLONI_TUNNEL_* environment variables onto the
// config unless the corresponding flag was explicitly set (flag wins).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	setStr := func(flagName, env string, dst *string) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			*dst = v
		}
	}
	setBool := func(flagName, env string, dst *bool) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			}
		}
	}
	setInt := func(flagName, env string, dst *int, allowZero bool) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("invalid %s: %w", env, err)
				}
				return
			}
			if n > 0 || (allowZero && n == 0) {
				*dst = n
			}
		}
	}
	setDur := func(flagName, env string, dst *time.Duration) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("invalid %s: %w", env, err)
				}
				return
			}
			if d >= 0 {
				*dst = d
			}
		}
	}

	setStr("codec", "CANNELLONI_TUNNEL_CODEC", &c.codec)
	setStr("listen", "CANNELLONI_TUNNEL_LISTEN", &c.listenAddr)
	setStr("remote", "CANNELLONI_TUNNEL_REMOTE", &c.remoteAddr)
	setInt("link-mtu", "CANNELLONI_TUNNEL_LINK_MTU", &c.linkMTU, false)
	setStr("address-family", "CANNELLONI_TUNNEL_ADDRESS_FAMILY", &c.addrFamily)
	setBool("sort-frames", "CANNELLONI_TUNNEL_SORT_FRAMES", &c.sortFrames)
	setBool("check-peer", "CANNELLONI_TUNNEL_CHECK_PEER", &c.checkPeer)
	setInt("base-timeout-us", "CANNELLONI_TUNNEL_BASE_TIMEOUT_US", &c.baseTimeoutUS, false)
	setStr("timeout-table", "CANNELLONI_TUNNEL_TIMEOUT_TABLE", &c.timeoutTable)
	setStr("filter-id", "CANNELLONI_TUNNEL_FILTER_ID", &c.filterID)
	setStr("filter-mask", "CANNELLONI_TUNNEL_FILTER_MASK", &c.filterMask)
	setStr("backend", "CANNELLONI_TUNNEL_BACKEND", &c.backend)
	setStr("can-if", "CANNELLONI_TUNNEL_IF", &c.canIf)
	setStr("serial", "CANNELLONI_TUNNEL_SERIAL", &c.serialDev)
	setInt("baud", "CANNELLONI_TUNNEL_BAUD", &c.baud, false)
	setDur("serial-read-timeout", "CANNELLONI_TUNNEL_SERIAL_READ_TIMEOUT", &c.serialReadTO)
	setInt("pool-initial", "CANNELLONI_TUNNEL_POOL_INITIAL", &c.poolInitial, false)
	setInt("pool-growby", "CANNELLONI_TUNNEL_POOL_GROWBY", &c.poolGrowBy, false)
	setStr("log-format", "CANNELLONI_TUNNEL_LOG_FORMAT", &c.logFormat)
	setStr("log-level", "CANNELLONI_TUNNEL_LOG_LEVEL", &c.logLevel)
	setDur("log-metrics-interval", "CANNELLONI_TUNNEL_LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	setStr("metrics-addr", "CANNELLONI_TUNNEL_METRICS", &c.metricsAddr)
	setBool("mdns-enable", "CANNELLONI_TUNNEL_MDNS_ENABLE", &c.mdnsEnable)
	setStr("mdns-name", "CANNELLONI_TUNNEL_MDNS_NAME", &c.mdnsName)
	setBool("debug-udp", "CANNELLONI_TUNNEL_DEBUG_UDP", &c.debugUDP)
	setBool("debug-can", "CANNELLONI_TUNNEL_DEBUG_CAN", &c.debugCAN)
	setBool("debug-buffer", "CANNELLONI_TUNNEL_DEBUG_BUFFER", &c.debugBuffer)
	setBool("debug-timer", "CANNELLONI_TUNNEL_DEBUG_TIMER", &c.debugTimer)
	setBool("debug-fanout", "CANNELLONI_TUNNEL_DEBUG_FANOUT", &c.debugFanout)

	return firstErr
}
