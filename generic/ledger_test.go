package generic_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/koperasi/loan-ledger/generic"
	"github.com/koperasi/loan-ledger/generic/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func rp(v int64) generic.Amount {
	return generic.NewAmountFromInt(v)
}

func seedLoan(t *testing.T, s *store.Memory, opening int64) generic.LoanRecord {
	t.Helper()
	rec := generic.LoanRecord{
		MemberID:       "A-001",
		MemberName:     "Siti Aminah",
		Principal:      rp(1_000_000),
		OpeningBalance: rp(opening),
		PeriodPayments: rp(0),
		Outstanding:    rp(opening),
		Status:         generic.StatusActive,
		Channel:        generic.ChannelOffice,
	}
	ids, err := s.InsertLoans(context.Background(), []generic.LoanRecord{rec})
	require.NoError(t, err)
	rec.ID = ids[0]
	return rec
}

func newTestLedger(s generic.PaymentStore) *generic.PaymentLedger {
	l := generic.NewPaymentLedger(s, rp(1))
	l.Clock = generic.FixedClock(time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC))
	return l
}

// =============================================================================
// PAYMENT LEDGER TESTS
// =============================================================================

func TestPaymentLedger_DecrementsOutstanding(t *testing.T) {
	// GIVEN: A loan with 750.000 outstanding
	s := store.NewMemory()
	rec := seedLoan(t, s, 750_000)
	ledger := newTestLedger(s)
	ctx := context.Background()

	// WHEN: Recording a 300.000 payment
	updated, err := ledger.RecordPayment(ctx, generic.PaymentTransaction{LoanID: rec.ID, Amount: rp(300_000)})

	// THEN: Outstanding drops and the loan stays active
	require.NoError(t, err)
	assert.True(t, updated.Outstanding.Equal(rp(450_000)), "outstanding = %s", updated.Outstanding)
	assert.Equal(t, generic.StatusActive, updated.Status)
	assert.Equal(t, 1, updated.PeriodsPaid)

	stored, err := s.GetLoan(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, stored.Outstanding.Equal(rp(450_000)))
}

func TestPaymentLedger_OverpaymentClampsAndFlipsToPaid(t *testing.T) {
	s := store.NewMemory()
	rec := seedLoan(t, s, 200_000)
	ledger := newTestLedger(s)

	updated, err := ledger.RecordPayment(context.Background(), generic.PaymentTransaction{LoanID: rec.ID, Amount: rp(250_000)})

	require.NoError(t, err)
	assert.True(t, updated.Outstanding.IsZero(), "overpayment must not produce credit")
	assert.Equal(t, generic.StatusPaid, updated.Status)
}

func TestPaymentLedger_AssignsSequenceIDAndDate(t *testing.T) {
	s := store.NewMemory()
	rec := seedLoan(t, s, 1_000_000)
	ledger := newTestLedger(s)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := ledger.RecordPayment(ctx, generic.PaymentTransaction{LoanID: rec.ID, Amount: rp(100_000)})
		require.NoError(t, err)
	}

	payments, err := ledger.Payments(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, payments, 3)
	for i, p := range payments {
		assert.Equal(t, i+1, p.Sequence)
		assert.NotEmpty(t, p.ID)
		assert.Equal(t, generic.NewDate(2026, time.March, 5), p.PaidAt)
	}
}

func TestPaymentLedger_DuplicatePaymentIDRejected(t *testing.T) {
	s := store.NewMemory()
	rec := seedLoan(t, s, 1_000_000)
	ledger := newTestLedger(s)
	ctx := context.Background()

	p := generic.PaymentTransaction{ID: "pay-1", LoanID: rec.ID, Amount: rp(100_000)}
	_, err := ledger.RecordPayment(ctx, p)
	require.NoError(t, err)

	_, err = ledger.RecordPayment(ctx, p)
	assert.ErrorIs(t, err, generic.ErrDuplicatePayment)

	stored, _ := s.GetLoan(ctx, rec.ID)
	assert.True(t, stored.Outstanding.Equal(rp(900_000)), "retry must not decrement twice")
}

func TestPaymentLedger_DuplicateSequenceRejected(t *testing.T) {
	s := store.NewMemory()
	rec := seedLoan(t, s, 1_000_000)
	ledger := newTestLedger(s)
	ctx := context.Background()

	_, err := ledger.RecordPayment(ctx, generic.PaymentTransaction{LoanID: rec.ID, Sequence: 2, Amount: rp(1)})
	require.NoError(t, err)
	_, err = ledger.RecordPayment(ctx, generic.PaymentTransaction{LoanID: rec.ID, Sequence: 2, Amount: rp(1)})
	assert.ErrorIs(t, err, generic.ErrDuplicatePayment)
}

func TestPaymentLedger_Validation(t *testing.T) {
	s := store.NewMemory()
	rec := seedLoan(t, s, 1_000_000)
	ledger := newTestLedger(s)
	ctx := context.Background()

	tests := []struct {
		name string
		p    generic.PaymentTransaction
	}{
		{"missing loan", generic.PaymentTransaction{Amount: rp(10)}},
		{"zero amount", generic.PaymentTransaction{LoanID: rec.ID, Amount: rp(0)}},
		{"negative amount", generic.PaymentTransaction{LoanID: rec.ID, Amount: rp(-10)}},
		{"negative sequence", generic.PaymentTransaction{LoanID: rec.ID, Sequence: -1, Amount: rp(10)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.RecordPayment(ctx, tt.p)
			assert.ErrorIs(t, err, generic.ErrInvalidPayment)
			assert.True(t, generic.IsClientError(err))
		})
	}
}

func TestPaymentLedger_UnknownLoan(t *testing.T) {
	ledger := newTestLedger(store.NewMemory())

	_, err := ledger.RecordPayment(context.Background(), generic.PaymentTransaction{LoanID: 42, Amount: rp(10)})
	assert.True(t, generic.IsNotFound(err))
}

// =============================================================================
// TYPE TESTS
// =============================================================================

func TestStatusFor_Tolerance(t *testing.T) {
	tolerance := rp(1)
	assert.Equal(t, generic.StatusPaid, generic.StatusFor(rp(0), tolerance))
	assert.Equal(t, generic.StatusPaid, generic.StatusFor(generic.NewAmount(0.4), tolerance))
	assert.Equal(t, generic.StatusPaid, generic.StatusFor(rp(1), tolerance))
	assert.Equal(t, generic.StatusActive, generic.StatusFor(generic.NewAmount(1.01), tolerance))
}

func TestPartialPublishError_Unwrap(t *testing.T) {
	cause := errors.New("payload too large")
	err := &generic.PartialPublishError{Stage: generic.StageInsertLoans, Chunk: 2, LoansWritten: 200, Err: cause}

	assert.ErrorIs(t, err, generic.ErrPartialSnapshot)
	assert.ErrorIs(t, err, cause)
	assert.True(t, generic.IsPartial(err))
	assert.Contains(t, err.Error(), "insert_loans")
	assert.Contains(t, err.Error(), "re-run")
}

func TestMemory_TxRollback(t *testing.T) {
	s := store.NewTxMemory()
	ctx := context.Background()
	require.NoError(t, s.InsertMembers(ctx, []generic.Member{{ID: "A-001", Name: "Siti"}}))

	err := s.WithTx(ctx, func(w generic.SnapshotWriter) error {
		if _, err := w.DeleteAllMembers(ctx); err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.Error(t, err)

	members, err := s.ListMembers(ctx)
	require.NoError(t, err)
	assert.Len(t, members, 1, "rollback must restore deleted members")
}
