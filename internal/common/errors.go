package common

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientCredit is returned when a withdrawal or lock exceeds the
	// available credit.
	ErrInsufficientCredit = errors.New("insufficient credit")
	// ErrNoCredit is returned when an order cannot lock the funds it needs.
	ErrNoCredit = errors.New("no credit")
	// ErrTooLowOrder is returned when an order is below the registered minimum.
	ErrTooLowOrder = errors.New("too low order")
	// ErrUnknownAsset is returned for unregistered or non-tradable assets.
	ErrUnknownAsset = errors.New("unknown asset")
	// ErrUnknownOrder is returned when an order id does not belong to the caller.
	ErrUnknownOrder = errors.New("unknown order")
	// ErrAccountRevisionMismatch is returned when the caller's expected account
	// revision is stale.
	ErrAccountRevisionMismatch = errors.New("account revision mismatch")
	// ErrDecrypt marks a dark order book that could not be decrypted or parsed.
	ErrDecrypt = errors.New("decrypt error")
	// ErrPermissionDenied is returned for admin calls from non-admins.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrAssetExists is returned when a ledger is registered twice.
	ErrAssetExists = errors.New("asset already registered")
	// ErrLastAdmin is returned when removing the only remaining admin.
	ErrLastAdmin = errors.New("cannot remove the last admin")
)

// ConflictingOrderError rejects an order that duplicates the price of, or
// crosses, another order of the same owner.
type ConflictingOrderError struct {
	OrderID OrderID
}

func (e *ConflictingOrderError) Error() string {
	return fmt.Sprintf("conflicting order %d", e.OrderID)
}

// NotAvailableError is returned when a deposit notification finds nothing.
type NotAvailableError struct {
	Message string
}

func (e *NotAvailableError) Error() string {
	return "not available: " + e.Message
}

// BatchError reports which item of an atomic batch failed.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
