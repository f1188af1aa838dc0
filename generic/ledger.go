/*
ledger.go - Running-ledger payment recording

PURPOSE:
  Later revisions of the cooperative's workflow stopped re-importing the
  whole sheet for every installment and instead record discrete payments
  against a loan. The PaymentLedger validates a payment, assigns its ID and
  sequence, and hands it to the store, which decrements the loan's
  outstanding balance in the same transaction.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: Payments are never edited or deleted individually
  2. ATOMIC: Payment insert and balance decrement happen together
  3. NON-NEGATIVE: Outstanding is clamped at zero; overpayment is absorbed
  4. IDEMPOTENT: Same payment ID = same payment (no duplicates)

EXAMPLE FLOW:
  Loan opening balance 750.000, outstanding 750.000
  1. RecordPayment(300.000) -> outstanding 450.000, ACTIVE
  2. RecordPayment(500.000) -> outstanding 0, PAID (200.000 absorbed)

SEE ALSO:
  - store.go: PaymentStore interface
  - types.go: LoanRecord.ApplyPayment
*/
package generic

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// PAYMENT LEDGER
// =============================================================================

type PaymentLedger struct {
	Store     PaymentStore
	Tolerance Amount
	Clock     Clock
}

func NewPaymentLedger(store PaymentStore, tolerance Amount) *PaymentLedger {
	return &PaymentLedger{Store: store, Tolerance: tolerance, Clock: SystemClock}
}

// RecordPayment appends p and returns the loan after the payment.
// Empty ID, zero Sequence and zero PaidAt are filled in.
func (l *PaymentLedger) RecordPayment(ctx context.Context, p PaymentTransaction) (LoanRecord, error) {
	if p.LoanID <= 0 {
		return LoanRecord{}, &PaymentError{Field: "loan_id", Message: "is required"}
	}
	if !p.Amount.IsPositive() {
		return LoanRecord{}, &PaymentError{Field: "amount", Message: "must be positive"}
	}
	if p.Sequence < 0 {
		return LoanRecord{}, &PaymentError{Field: "sequence", Message: "must not be negative"}
	}

	if p.ID == "" {
		p.ID = PaymentID(uuid.NewString())
	} else {
		exists, err := l.Store.PaymentExists(ctx, p.ID)
		if err != nil {
			return LoanRecord{}, err
		}
		if exists {
			return LoanRecord{}, ErrDuplicatePayment
		}
	}

	if p.Sequence == 0 {
		existing, err := l.Store.PaymentsByLoan(ctx, p.LoanID)
		if err != nil {
			return LoanRecord{}, err
		}
		p.Sequence = nextSequence(existing)
	}

	now := l.now()
	if p.PaidAt.IsZero() {
		p.PaidAt = DateOf(now)
	}
	p.CreatedAt = now.UTC()
	if p.Amount.Currency == "" {
		p.Amount.Currency = CurrencyIDR
	}

	return l.Store.AppendPayment(ctx, p, l.Tolerance)
}

// Payments returns the payment history of a loan, ordered by sequence.
func (l *PaymentLedger) Payments(ctx context.Context, id LoanID) ([]PaymentTransaction, error) {
	return l.Store.PaymentsByLoan(ctx, id)
}

func (l *PaymentLedger) now() time.Time {
	if l.Clock == nil {
		return SystemClock()
	}
	return l.Clock()
}

func nextSequence(payments []PaymentTransaction) int {
	max := 0
	for _, p := range payments {
		if p.Sequence > max {
			max = p.Sequence
		}
	}
	return max + 1
}
