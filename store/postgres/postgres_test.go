package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/koperasi/loan-ledger/generic"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests need a disposable database; they truncate every table.
// KOPERASI_TEST_POSTGRES_DSN=postgres://localhost/koperasi_test?sslmode=disable
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("KOPERASI_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("KOPERASI_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	s, err := New(ctx, dsn)
	require.NoError(t, err)
	_, err = s.pool.Exec(ctx, `TRUNCATE payments, loan_records, members, import_runs`)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testLoan(id, name string, outstanding int64) generic.LoanRecord {
	date := generic.NewDate(2025, time.March, 1)
	return generic.LoanRecord{
		MemberID:       generic.MemberID(id),
		MemberName:     name,
		Principal:      generic.NewAmountFromInt(1_000_000),
		LoanDate:       &date,
		OpeningBalance: generic.NewAmountFromInt(outstanding),
		Outstanding:    generic.NewAmountFromInt(outstanding),
		Status:         generic.StatusActive,
		Channel:        generic.ChannelOffice,
		SourceRow:      2,
	}
}

func TestPostgres_CopyLoansAndReadBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids, err := s.InsertLoans(ctx, []generic.LoanRecord{
		testLoan("A-001", "Siti Aminah", 750_000),
		testLoan("", "Budi 100%", 250_000),
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Less(t, ids[0], ids[1])

	got, err := s.GetLoan(ctx, ids[0])
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Siti Aminah", got.MemberName)
	assert.True(t, got.Outstanding.Equal(generic.NewAmountFromInt(750_000)))
	require.NotNil(t, got.LoanDate)
	assert.Equal(t, 2025, got.LoanDate.Year())

	above, err := s.LoansAbove(ctx, decimal.NewFromInt(250_000))
	require.NoError(t, err)
	require.Len(t, above, 1)
	assert.Equal(t, ids[0], above[0].ID)

	found, err := s.SearchLoans(ctx, "100%")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, ids[1], found[0].ID)

	missing, err := s.GetLoan(ctx, 999_999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPostgres_WithTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertLoans(ctx, []generic.LoanRecord{testLoan("A-001", "Siti", 500_000)})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithTx(ctx, func(w generic.SnapshotWriter) error {
		if _, err := w.DeleteAllLoans(ctx); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	loans, err := s.ListLoans(ctx)
	require.NoError(t, err)
	assert.Len(t, loans, 1)
}

func TestPostgres_AppendPayment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids, err := s.InsertLoans(ctx, []generic.LoanRecord{testLoan("A-001", "Siti", 300_000)})
	require.NoError(t, err)

	p := generic.PaymentTransaction{
		ID:       "pay-1",
		LoanID:   ids[0],
		Sequence: 1,
		Amount:   generic.NewAmountFromInt(300_000),
		PaidAt:   generic.NewDate(2026, time.February, 25),
	}
	updated, err := s.AppendPayment(ctx, p, generic.NewAmountFromInt(1))
	require.NoError(t, err)
	assert.Equal(t, generic.StatusPaid, updated.Status)
	assert.True(t, updated.Outstanding.IsZero())

	p.ID = "pay-2"
	_, err = s.AppendPayment(ctx, p, generic.NewAmountFromInt(1))
	assert.ErrorIs(t, err, generic.ErrDuplicatePayment)

	p.LoanID = 999_999
	p.Sequence = 5
	_, err = s.AppendPayment(ctx, p, generic.NewAmountFromInt(1))
	assert.ErrorIs(t, err, generic.ErrLoanNotFound)

	_, err = s.DeleteAllLoans(ctx)
	require.NoError(t, err)
	exists, err := s.PaymentExists(ctx, "pay-1")
	require.NoError(t, err)
	assert.False(t, exists, "payments are deleted with their loan")
}
