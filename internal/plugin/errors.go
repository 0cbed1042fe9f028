package plugin

import "errors"

// ErrUnknownEntity indicates an operation references an unregistered collection.
var ErrUnknownEntity = errors.New("unknown entity")
