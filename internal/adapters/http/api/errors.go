package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrBadRequest      = errors.New("bad request")
	ErrBackpressure    = errors.New("backpressure")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrBadSignature    = errors.New("signature verification failed")
	ErrStaleTimestamp  = errors.New("timestamp outside replay window")
	ErrUnknownPlatform = errors.New("unknown platform")
)
