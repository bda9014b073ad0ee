package eventstream

import "errors"

// ErrMissingEventType indicates an event without a type was given to a publisher.
var ErrMissingEventType = errors.New("missing event type")
