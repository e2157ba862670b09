package lead

import "errors"

// Record-level errors skip a single lead; the batch carries on.
var (
	ErrMalformedRecord = errors.New("malformed record")
	ErrUnmappedStep    = errors.New("no campaign mapped for step")
	ErrDuplicateEmail  = errors.New("duplicate email")
	ErrSendFailure     = errors.New("send failed")
)

// ErrStoreUnavailable aborts the current cycle only.
var ErrStoreUnavailable = errors.New("lead store unavailable")
