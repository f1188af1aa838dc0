/*
store.go - Persistence interface for the ledger snapshot and payments

PURPOSE:
  Defines the interface between the reconciliation engine and the database.
  The engine never talks SQL; it hands records to a SnapshotStore and reads
  them back through the same interface. Different implementations can use
  SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  SnapshotWriter:  Delete-all and chunked bulk insert (used by the publisher)
  SnapshotReader:  Lookup, threshold filter, name search
  TxSnapshotStore: Optional transactional replace
  PaymentStore:    Running-ledger payments (append-only)
  ImportRunStore:  Import audit log

SNAPSHOT-REPLACE CONTRACT:
  A reconciled import replaces the whole snapshot: all members and all loan
  records are deleted, then the new sets are inserted chunk by chunk. Without
  WithTx this is NOT atomic; a failure in between leaves the store partially
  replaced (see ErrPartialSnapshot). Payments belong to the snapshot they
  were recorded against and are deleted together with their loans.

IDENTITY:
  InsertLoans returns the IDs the store assigned, in input order. The engine
  never invents loan IDs.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Default SQLite store
  - store/postgres/postgres.go: PostgreSQL via pgx
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: Higher-level payment ledger using PaymentStore
  - loan/publisher.go: Snapshot replace using SnapshotWriter
*/
package generic

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SNAPSHOT STORE - Members and loan records
// =============================================================================

// SnapshotWriter is the write side of the snapshot: bulk delete and bulk insert.
type SnapshotWriter interface {
	// DeleteAllMembers removes every member. Returns the number removed.
	DeleteAllMembers(ctx context.Context) (int64, error)

	// DeleteAllLoans removes every loan record (and the payments recorded
	// against them). Returns the number of loans removed.
	DeleteAllLoans(ctx context.Context) (int64, error)

	// InsertMembers inserts one chunk of members. Existing IDs are overwritten.
	InsertMembers(ctx context.Context, members []Member) error

	// InsertLoans inserts one chunk of loan records and returns the assigned IDs.
	InsertLoans(ctx context.Context, loans []LoanRecord) ([]LoanID, error)
}

// SnapshotReader is the query side used by the API and billing.
type SnapshotReader interface {
	GetMember(ctx context.Context, id MemberID) (*Member, error)
	ListMembers(ctx context.Context) ([]Member, error)

	GetLoan(ctx context.Context, id LoanID) (*LoanRecord, error)
	ListLoans(ctx context.Context) ([]LoanRecord, error)
	LoansByMember(ctx context.Context, id MemberID) ([]LoanRecord, error)

	// LoansAbove returns loans whose outstanding balance is strictly greater
	// than threshold, largest first.
	LoansAbove(ctx context.Context, threshold decimal.Decimal) ([]LoanRecord, error)

	// SearchLoans matches query as a case-insensitive substring of the member
	// name or the member number.
	SearchLoans(ctx context.Context, query string) ([]LoanRecord, error)
}

// SnapshotStore combines both sides plus explicit member maintenance.
type SnapshotStore interface {
	SnapshotWriter
	SnapshotReader

	// SaveMember adds or renames a single member outside of an import.
	SaveMember(ctx context.Context, m Member) error
}

// TxSnapshotStore wraps SnapshotStore with transaction support.
// Use this when the whole replace must be all-or-nothing.
type TxSnapshotStore interface {
	SnapshotStore

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(SnapshotWriter) error) error
}

// =============================================================================
// PAYMENT STORE - Running ledger (append-only)
// =============================================================================

// PaymentStore persists payment transactions.
// IMPORTANT: Payments are APPEND-ONLY. No Update, no Delete of single payments.
type PaymentStore interface {
	// AppendPayment inserts p and, in the same transaction, applies it to the
	// referenced loan (see LoanRecord.ApplyPayment). Returns the updated loan.
	// Returns ErrLoanNotFound or ErrDuplicatePayment.
	AppendPayment(ctx context.Context, p PaymentTransaction, tolerance Amount) (LoanRecord, error)

	// PaymentsByLoan returns payments for a loan ordered by sequence.
	PaymentsByLoan(ctx context.Context, id LoanID) ([]PaymentTransaction, error)

	// PaymentExists checks if a payment ID already exists.
	PaymentExists(ctx context.Context, id PaymentID) (bool, error)
}

// =============================================================================
// IMPORT AUDIT LOG
// =============================================================================

// ImportRunStore records every import attempt, published or not.
type ImportRunStore interface {
	SaveImportRun(ctx context.Context, run ImportRun) error
	ListImportRuns(ctx context.Context, limit int) ([]ImportRun, error)
}

// Store is everything a backend provides.
type Store interface {
	SnapshotStore
	PaymentStore
	ImportRunStore
	Close() error
}
