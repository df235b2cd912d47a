package endpoint

import (
	"errors"

	"github.com/kstaniek/cannelloni-tunnel/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrSocket      = errors.New("socket")
	ErrBind        = errors.New("bind")
	ErrBroadcast   = errors.New("broadcast_opt")
	ErrUDPRead     = errors.New("udp_read")
	ErrUDPWrite    = errors.New("udp_write")
	ErrShortSend   = errors.New("short_send")
	ErrSinkWrite   = errors.New("sink_write")
	ErrContext     = errors.New("context_cancelled")
	ErrUnknownKind = errors.New("unknown_codec_kind")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrUDPRead):
		return metrics.ErrUDPRead
	case errors.Is(err, ErrUDPWrite), errors.Is(err, ErrShortSend):
		return metrics.ErrUDPWrite
	case errors.Is(err, ErrSocket), errors.Is(err, ErrBind), errors.Is(err, ErrBroadcast):
		return metrics.ErrUDPWrite
	case errors.Is(err, ErrContext):
		return "context"
	default:
		return "other"
	}
}
