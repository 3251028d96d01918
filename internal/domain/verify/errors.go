package verify

import "errors"

// Sentinel kinds for verifier errors.
var (
	ErrUnknownMetric = errors.New("unknown metric")
)
