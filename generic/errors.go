/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Cell errors - Never surface; normalizers fall back to 0 / today
  2. Row errors - Skip the row, batch continues (RowError)
  3. Store errors - Fatal to the import; may leave a partial snapshot
  4. Ledger errors - Payment validation and idempotency

USAGE:
    if errors.Is(err, generic.ErrPartialSnapshot) {
        // tell the operator to re-run the import
    }

SEE ALSO:
  - loan/publisher.go: Produces PartialPublishError
  - loan/reconciler.go: Produces RowError skips
  - ledger.go: Payment errors
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrPartialSnapshot is returned when a snapshot replace stopped after
	// the old snapshot was (at least partly) deleted. The store now holds
	// an incomplete snapshot and the import must be re-run.
	ErrPartialSnapshot = errors.New("snapshot partially replaced")

	// ErrPublishNotConfirmed is returned when a destructive publish is
	// requested without explicit operator confirmation.
	ErrPublishNotConfirmed = errors.New("publish requires explicit confirmation")

	ErrLoanNotFound   = errors.New("loan not found")
	ErrMemberNotFound = errors.New("member not found")

	// ErrInvalidPayment is returned when a payment fails validation.
	ErrInvalidPayment = errors.New("invalid payment")

	// ErrDuplicatePayment is returned when a payment ID or a (loan, sequence)
	// pair already exists. This is expected behavior for retries.
	ErrDuplicatePayment = errors.New("duplicate payment")

	// ErrNoHeader is returned when an uploaded sheet has no header row.
	ErrNoHeader = errors.New("sheet has no header row")

	// ErrUnsupportedFormat is returned for files that are not xlsx, xls or csv.
	ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")

	// ErrInvalidRule is returned for an unknown opening-balance rule name.
	ErrInvalidRule = errors.New("invalid opening rule")

	// ErrStoreRequired is returned when an operation requires a specific store capability.
	ErrStoreRequired = errors.New("operation requires extended store interface")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PublishStage names the step of a snapshot replace that failed.
type PublishStage string

const (
	StageDeleteMembers PublishStage = "delete_members"
	StageDeleteLoans   PublishStage = "delete_loans"
	StageInsertMembers PublishStage = "insert_members"
	StageInsertLoans   PublishStage = "insert_loans"
)

// PartialPublishError reports where a non-atomic snapshot replace stopped.
type PartialPublishError struct {
	Stage          PublishStage
	Chunk          int // 0-based chunk index within the stage
	MembersWritten int
	LoansWritten   int
	Err            error
}

func (e *PartialPublishError) Error() string {
	return fmt.Sprintf("snapshot partially replaced at %s (chunk %d, %d members and %d loans written), re-run the import: %v",
		e.Stage, e.Chunk, e.MembersWritten, e.LoansWritten, e.Err)
}

func (e *PartialPublishError) Unwrap() []error {
	return []error{ErrPartialSnapshot, e.Err}
}

// RowError explains why a sheet row was skipped.
type RowError struct {
	Row    int    // 1-based sheet row
	Name   string // best-effort member name
	Reason string
}

func (e *RowError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("row %d skipped: %s", e.Row, e.Reason)
	}
	return fmt.Sprintf("row %d (%s) skipped: %s", e.Row, e.Name, e.Reason)
}

// PaymentError provides details about a rejected payment.
type PaymentError struct {
	Field   string
	Message string
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("invalid payment: %s %s", e.Field, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return ErrInvalidPayment
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsPartial returns true if the store holds an incomplete snapshot.
func IsPartial(err error) bool {
	return errors.Is(err, ErrPartialSnapshot)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPayment) ||
		errors.Is(err, ErrDuplicatePayment) ||
		errors.Is(err, ErrNoHeader) ||
		errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrPublishNotConfirmed) ||
		errors.Is(err, ErrInvalidRule)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLoanNotFound) ||
		errors.Is(err, ErrMemberNotFound)
}
