package endpoint

import (
	"fmt"

	"github.com/kstaniek/cannelloni-tunnel/internal/codec"
	"github.com/kstaniek/cannelloni-tunnel/internal/codec/generic"
	"github.com/kstaniek/cannelloni-tunnel/internal/codec/native"
)

// NewCodec builds the wire codec selected by kind. It is the only place in
// this module allowed to import both internal/codec/native and
// internal/codec/generic, since internal/codec itself must stay free of
// either to avoid a cycle back to the Kind type it defines.
func NewCodec(kind codec.Kind, filter codec.FilterRule) (codec.Codec, error) {
	switch kind {
	case codec.Native:
		return native.Codec{}, nil
	case codec.Generic:
		return generic.Codec{Filter: filter}, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownKind, kind)
	}
}
