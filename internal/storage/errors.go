package storage

import "errors"

// ErrUnknownSource is returned for a source with no stage tables.
var ErrUnknownSource = errors.New("storage: unknown source")
