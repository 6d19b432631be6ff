package rtpcodec

import "errors"

// Depacketizer error taxonomy, per spec.md §4.5.3.
var (
	ErrPayloadTooShort       = errors.New("rtpcodec: payload too short")
	ErrMissedAggregateStart  = errors.New("rtpcodec: fragment received before a start fragment")
	ErrOutputBufferFull      = errors.New("rtpcodec: output buffer full")
	ErrUnsupportedPayloadType = errors.New("rtpcodec: unsupported payload type")
)
