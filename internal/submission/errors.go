package submission

import "errors"

// ErrMissingFields reports a malformed submission: an absent transaction
// reference or address, or a score that is not a number.
var ErrMissingFields = errors.New("missing_fields")

// ErrReplay reports that the transaction reference has already been consumed,
// whether caught by the pre-check or by the storage uniqueness constraint.
var ErrReplay = errors.New("tx already used")
