package wire

import "errors"

// Error taxonomy per the CLASP error handling design. These are sentinel
// values so callers can compare with errors.Is even after wrapping.
var (
	ErrBadMagic         = errors.New("clasp: bad magic byte")
	ErrTruncated        = errors.New("clasp: truncated frame")
	ErrTooLarge         = errors.New("clasp: frame exceeds max message size")
	ErrMalformedPayload = errors.New("clasp: malformed payload")
	ErrUnknownMessage   = errors.New("clasp: unknown message type")
)
