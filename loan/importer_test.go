package loan_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/koperasi/loan-ledger/generic"
	"github.com/koperasi/loan-ledger/generic/store"
	"github.com/koperasi/loan-ledger/loan"
	"github.com/koperasi/loan-ledger/sheet"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func importSheet() *sheet.Sheet {
	return sheet.FromValues(
		[]string{"No. Anggota", "Nama", "Plafon", "Tanggal Pinjam", "sebelum th 2026", "jan", "feb"},
		[][]any{
			{"A-001", "Siti Aminah", 1_000_000.0, "2025-03-01", 750_000.0, 300_000.0, 0.0},
			{"A-002", "Budi", 500_000.0, "2026-01-10", nil, 100_000.0, 100_000.0},
			{"", "", "", "", "", "", 5.0},
		},
	)
}

func TestImporter_PreviewRecordsRunOnly(t *testing.T) {
	// GIVEN: A store holding an earlier snapshot
	ctx := context.Background()
	mem := store.NewMemory()
	_, err := mem.InsertLoans(ctx, []generic.LoanRecord{{MemberName: "Old"}})
	require.NoError(t, err)

	// WHEN: Previewing a sheet
	im := loan.NewImporter(mem, testConfig(loan.ValuePresentRule{}), zerolog.Nop())
	res, err := im.Preview(ctx, importSheet(), "rekap.xlsx")

	// THEN: The report is complete, the snapshot untouched, the run logged
	require.NoError(t, err)
	assert.Equal(t, 2, res.Report.Reconciled())
	assert.Len(t, res.Report.Skips, 1)
	assert.Nil(t, res.Publish)
	assert.Equal(t, generic.ImportPreviewed, res.Run.Status)
	assert.Equal(t, "rekap.xlsx", res.Run.FileName)
	assert.NotEmpty(t, res.Run.ID)

	loans, _ := mem.ListLoans(ctx)
	require.Len(t, loans, 1)
	assert.Equal(t, "Old", loans[0].MemberName)

	runs, _ := mem.ListImportRuns(ctx, 0)
	require.Len(t, runs, 1)
	assert.Equal(t, res.Run.ID, runs[0].ID)
}

func TestImporter_ImportRequiresConfirmation(t *testing.T) {
	mem := store.NewMemory()
	im := loan.NewImporter(mem, testConfig(loan.ValuePresentRule{}), zerolog.Nop())

	_, err := im.Import(context.Background(), importSheet(), "rekap.xlsx", false)

	assert.ErrorIs(t, err, generic.ErrPublishNotConfirmed)
	runs, _ := mem.ListImportRuns(context.Background(), 0)
	assert.Empty(t, runs)
}

func TestImporter_ImportPublishesAndStampsRun(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	im := loan.NewImporter(mem, testConfig(loan.ValuePresentRule{}), zerolog.Nop())

	res, err := im.Import(ctx, importSheet(), "rekap.xlsx", true)

	require.NoError(t, err)
	assert.Equal(t, generic.ImportPublished, res.Run.Status)
	assert.Equal(t, 2, res.Run.Reconciled)
	assert.Equal(t, 1, res.Run.Skipped)
	assert.Equal(t, 2, res.Run.Members)
	require.NotNil(t, res.Run.CompletedAt)

	loans, err := mem.ListLoans(ctx)
	require.NoError(t, err)
	require.Len(t, loans, 2)
	for _, l := range loans {
		assert.Equal(t, res.Run.ID, l.ImportRunID)
	}
	assert.NotZero(t, res.Report.Records[0].ID, "store-assigned IDs are copied back")

	siti, err := mem.LoansByMember(ctx, "A-001")
	require.NoError(t, err)
	require.Len(t, siti, 1)
	assertAmount(t, 450_000, siti[0].Outstanding, "outstanding")
}

func TestImporter_PartialPublishIsRecorded(t *testing.T) {
	// GIVEN: A store whose first loan chunk fails
	ctx := context.Background()
	rs := &recordingStore{Memory: store.NewMemory(), failLoanChunk: 0}
	im := loan.NewImporter(rs, testConfig(loan.ValuePresentRule{}), zerolog.Nop())

	// WHEN: Importing
	res, err := im.Import(ctx, importSheet(), "rekap.xlsx", true)

	// THEN: The error is partial and the audit entry says so
	require.Error(t, err)
	assert.True(t, generic.IsPartial(err))
	assert.Equal(t, generic.ImportPartial, res.Run.Status)
	assert.NotEmpty(t, res.Run.Error)

	runs, _ := rs.ListImportRuns(ctx, 0)
	require.Len(t, runs, 1)
	assert.Equal(t, generic.ImportPartial, runs[0].Status)
}

func TestImporter_NothingReconciledKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	_, err := mem.InsertLoans(ctx, []generic.LoanRecord{{MemberName: "Old"}})
	require.NoError(t, err)

	empty := sheet.FromValues([]string{"Keterangan"}, [][]any{{"catatan"}})
	res, err := loan.NewImporter(mem, testConfig(loan.ValuePresentRule{}), zerolog.Nop()).Import(ctx, empty, "notes.csv", true)

	assert.True(t, errors.Is(err, loan.ErrNothingToImport))
	assert.Equal(t, generic.ImportFailed, res.Run.Status)
	loans, _ := mem.ListLoans(ctx)
	assert.Len(t, loans, 1)
}

func TestImporter_AtomicRollbackIsFailedNotPartial(t *testing.T) {
	ctx := context.Background()
	tx := &failingTx{TxMemory: store.NewTxMemory()}
	cfg := testConfig(loan.ValuePresentRule{})
	cfg.AtomicPublish = true

	res, err := loan.NewImporter(tx, cfg, zerolog.Nop()).Import(ctx, importSheet(), "rekap.xlsx", true)

	require.Error(t, err)
	assert.False(t, generic.IsPartial(err))
	assert.Equal(t, generic.ImportFailed, res.Run.Status)
	assert.WithinDuration(t, time.Date(2026, time.October, 16, 0, 0, 0, 0, time.UTC), res.Run.StartedAt, 24*time.Hour)
}
