package loan_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/koperasi/loan-ledger/generic"
	"github.com/koperasi/loan-ledger/generic/store"
	"github.com/koperasi/loan-ledger/loan"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// recordingStore counts insert calls and fails the nth loan chunk.
type recordingStore struct {
	*store.Memory
	memberCalls   int
	loanCalls     int
	failLoanChunk int // -1 never fails
}

func (s *recordingStore) InsertMembers(ctx context.Context, members []generic.Member) error {
	s.memberCalls++
	return s.Memory.InsertMembers(ctx, members)
}

func (s *recordingStore) InsertLoans(ctx context.Context, loans []generic.LoanRecord) ([]generic.LoanID, error) {
	defer func() { s.loanCalls++ }()
	if s.loanCalls == s.failLoanChunk {
		return nil, errors.New("payload too large")
	}
	return s.Memory.InsertLoans(ctx, loans)
}

// failingTx runs the real transaction but rejects every loan insert.
type failingTx struct {
	*store.TxMemory
}

func (f *failingTx) WithTx(ctx context.Context, fn func(generic.SnapshotWriter) error) error {
	return f.TxMemory.WithTx(ctx, func(w generic.SnapshotWriter) error {
		return fn(rejectLoans{w})
	})
}

type rejectLoans struct {
	generic.SnapshotWriter
}

func (rejectLoans) InsertLoans(context.Context, []generic.LoanRecord) ([]generic.LoanID, error) {
	return nil, errors.New("constraint violation")
}

func snapshot(n int) ([]generic.Member, []generic.LoanRecord) {
	members := make([]generic.Member, n)
	loans := make([]generic.LoanRecord, n)
	for i := range members {
		id := generic.MemberID(fmt.Sprintf("A-%03d", i+1))
		members[i] = generic.Member{ID: id, Name: fmt.Sprintf("Anggota %d", i+1)}
		loans[i] = generic.LoanRecord{
			MemberID:    id,
			MemberName:  members[i].Name,
			Principal:   rp(1_000_000),
			Outstanding: rp(500_000),
			Status:      generic.StatusActive,
			Channel:     generic.ChannelOffice,
		}
	}
	return members, loans
}

// =============================================================================
// PUBLISH TESTS
// =============================================================================

func TestPublish_ReplacesSnapshotInChunks(t *testing.T) {
	// GIVEN: A store holding an older snapshot
	ctx := context.Background()
	s := &recordingStore{Memory: store.NewMemory(), failLoanChunk: -1}
	oldMembers, oldLoans := snapshot(5)
	require.NoError(t, s.Memory.InsertMembers(ctx, oldMembers))
	_, err := s.Memory.InsertLoans(ctx, oldLoans)
	require.NoError(t, err)

	members, loans := snapshot(250)
	p := loan.NewPublisher(s, loan.DefaultConfig(), zerolog.Nop())

	// WHEN: Publishing 250 members and loans
	res, err := p.Publish(ctx, members, loans)

	// THEN: The old snapshot is gone and inserts went in chunks of 100
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.MembersDeleted)
	assert.Equal(t, int64(5), res.LoansDeleted)
	assert.Equal(t, 250, res.MembersWritten)
	assert.Equal(t, 250, res.LoansWritten)
	assert.Len(t, res.LoanIDs, 250)
	assert.Equal(t, 3, s.memberCalls)
	assert.Equal(t, 3, s.loanCalls)

	stored, err := s.ListLoans(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 250)
}

func TestPublish_FailureLeavesPartialSnapshot(t *testing.T) {
	// GIVEN: A store that rejects the second loan chunk
	ctx := context.Background()
	s := &recordingStore{Memory: store.NewMemory(), failLoanChunk: 1}
	members, loans := snapshot(250)

	// WHEN: Publishing
	res, err := loan.NewPublisher(s, loan.DefaultConfig(), zerolog.Nop()).Publish(ctx, members, loans)

	// THEN: The error says where it stopped and that the store is partial
	require.Error(t, err)
	assert.True(t, generic.IsPartial(err))

	var pe *generic.PartialPublishError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, generic.StageInsertLoans, pe.Stage)
	assert.Equal(t, 1, pe.Chunk)
	assert.Equal(t, 250, pe.MembersWritten)
	assert.Equal(t, 100, pe.LoansWritten)
	assert.Equal(t, 100, res.LoansWritten)

	stored, _ := s.ListLoans(ctx)
	assert.Len(t, stored, 100, "no automatic rollback")
}

func TestPublish_EmptySnapshotClearsStore(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	members, loans := snapshot(3)
	require.NoError(t, s.InsertMembers(ctx, members))
	_, err := s.InsertLoans(ctx, loans)
	require.NoError(t, err)

	res, err := loan.NewPublisher(s, loan.DefaultConfig(), zerolog.Nop()).Publish(ctx, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, int64(3), res.LoansDeleted)
	all, _ := s.ListMembers(ctx)
	assert.Empty(t, all)
}

func TestPublish_AtomicRollsBack(t *testing.T) {
	// GIVEN: A transactional store with an existing snapshot
	ctx := context.Background()
	tx := &failingTx{TxMemory: store.NewTxMemory()}
	oldMembers, oldLoans := snapshot(2)
	require.NoError(t, tx.InsertMembers(ctx, oldMembers))
	_, err := tx.InsertLoans(ctx, oldLoans)
	require.NoError(t, err)

	cfg := loan.DefaultConfig()
	cfg.AtomicPublish = true
	members, loans := snapshot(10)

	// WHEN: The loan insert fails inside the transaction
	_, err = loan.NewPublisher(tx, cfg, zerolog.Nop()).Publish(ctx, members, loans)

	// THEN: The previous snapshot is intact and the error is not "partial"
	require.Error(t, err)
	assert.False(t, generic.IsPartial(err))
	stored, _ := tx.ListMembers(ctx)
	assert.Len(t, stored, 2)
}

func TestPublish_AtomicCommits(t *testing.T) {
	ctx := context.Background()
	tx := store.NewTxMemory()
	cfg := loan.DefaultConfig()
	cfg.AtomicPublish = true
	members, loans := snapshot(120)

	res, err := loan.NewPublisher(tx, cfg, zerolog.Nop()).Publish(ctx, members, loans)

	require.NoError(t, err)
	assert.True(t, res.Atomic)
	assert.Equal(t, 120, res.LoansWritten)
	stored, _ := tx.ListLoans(ctx)
	assert.Len(t, stored, 120)
}

func TestPublish_AtomicNeedsTxStore(t *testing.T) {
	cfg := loan.DefaultConfig()
	cfg.AtomicPublish = true

	_, err := loan.NewPublisher(store.NewMemory(), cfg, zerolog.Nop()).Publish(context.Background(), nil, nil)

	assert.ErrorIs(t, err, generic.ErrStoreRequired)
}
