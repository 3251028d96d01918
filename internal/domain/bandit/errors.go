package bandit

import "errors"

// Sentinel kinds for engine errors.
var (
	ErrNoActiveVariants = errors.New("no active variants")
	ErrUnknownVariant   = errors.New("unknown variant")
	ErrMalformedContext = errors.New("malformed context")
)
