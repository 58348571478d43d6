package engine

import "fmt"

// DuplicateLedgerError means StartTracking was attempted for a work order that
// already has an open ledger. Callers should surface the existing ledger.
type DuplicateLedgerError struct {
	OrderID string
}

func (e DuplicateLedgerError) Error() string {
	return fmt.Sprintf("work order %s already has an active ledger", e.OrderID)
}

// InvalidInputError rejects bad input at the boundary, before persistence is
// touched.
type InvalidInputError struct {
	Reason string
}

func (e InvalidInputError) Error() string { return e.Reason }

// PersistenceError wraps a storage failure. The engine never retries and
// leaves no cached state behind on this path.
type PersistenceError struct {
	Op  string
	Err error
}

func (e PersistenceError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e PersistenceError) Unwrap() error { return e.Err }
