package domain

import (
	"errors"
	"fmt"
)

// ErrBelowMinQty is returned by the risk sizer when the step-floored
// quantity falls under the exchange minimum. Callers skip the entry and
// log the reason; it is never fatal.
var ErrBelowMinQty = errors.New("quantity below exchange minimum")

// ErrNoPositionAfterEntry is returned when a market entry was accepted but
// no position materialized within the bounded confirmation wait. The entry
// is aborted without protective orders and must be surfaced as a warning.
var ErrNoPositionAfterEntry = errors.New("no position found after entry order")

// PartialProtectionError marks the single most dangerous state: an entry
// filled but part of the protective order set was rejected. It must never
// be folded into ordinary transient errors.
type PartialProtectionError struct {
	Stage string // "stop-loss" or "take-profit"
	Err   error
}

func (e *PartialProtectionError) Error() string {
	return fmt.Sprintf("position unprotected: %s placement failed: %v", e.Stage, e.Err)
}

func (e *PartialProtectionError) Unwrap() error { return e.Err }

// IsPartialProtection reports whether err carries a PartialProtectionError.
func IsPartialProtection(err error) bool {
	var pe *PartialProtectionError
	return errors.As(err, &pe)
}
