// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/koperasi/loan-ledger/generic"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	members    map[generic.MemberID]generic.Member
	loans      map[generic.LoanID]generic.LoanRecord
	nextLoanID generic.LoanID
	payments   map[generic.LoanID][]generic.PaymentTransaction
	paymentIDs map[generic.PaymentID]bool
	runs       []generic.ImportRun
}

func NewMemory() *Memory {
	return &Memory{
		members:    make(map[generic.MemberID]generic.Member),
		loans:      make(map[generic.LoanID]generic.LoanRecord),
		payments:   make(map[generic.LoanID][]generic.PaymentTransaction),
		paymentIDs: make(map[generic.PaymentID]bool),
	}
}

func (m *Memory) Close() error { return nil }

// =============================================================================
// SNAPSHOT WRITER
// =============================================================================

func (m *Memory) DeleteAllMembers(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteMembersLocked(), nil
}

func (m *Memory) DeleteAllLoans(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLoansLocked(), nil
}

func (m *Memory) InsertMembers(_ context.Context, members []generic.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertMembersLocked(members)
	return nil
}

func (m *Memory) InsertLoans(_ context.Context, loans []generic.LoanRecord) ([]generic.LoanID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLoansLocked(loans), nil
}

func (m *Memory) SaveMember(_ context.Context, member generic.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertMembersLocked([]generic.Member{member})
	return nil
}

func (m *Memory) deleteMembersLocked() int64 {
	n := int64(len(m.members))
	m.members = make(map[generic.MemberID]generic.Member)
	return n
}

func (m *Memory) deleteLoansLocked() int64 {
	n := int64(len(m.loans))
	m.loans = make(map[generic.LoanID]generic.LoanRecord)
	m.payments = make(map[generic.LoanID][]generic.PaymentTransaction)
	m.paymentIDs = make(map[generic.PaymentID]bool)
	return n
}

func (m *Memory) insertMembersLocked(members []generic.Member) {
	now := time.Now().UTC()
	for _, member := range members {
		if member.UpdatedAt.IsZero() {
			member.UpdatedAt = now
		}
		m.members[member.ID] = member
	}
}

func (m *Memory) insertLoansLocked(loans []generic.LoanRecord) []generic.LoanID {
	ids := make([]generic.LoanID, len(loans))
	for i, rec := range loans {
		m.nextLoanID++
		rec.ID = m.nextLoanID
		m.loans[rec.ID] = rec
		ids[i] = rec.ID
	}
	return ids
}

// =============================================================================
// SNAPSHOT READER
// =============================================================================

func (m *Memory) GetMember(_ context.Context, id generic.MemberID) (*generic.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	member, ok := m.members[id]
	if !ok {
		return nil, nil
	}
	return &member, nil
}

func (m *Memory) ListMembers(_ context.Context) ([]generic.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]generic.Member, 0, len(m.members))
	for _, member := range m.members {
		result = append(result, member)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *Memory) GetLoan(_ context.Context, id generic.LoanID) (*generic.LoanRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.loans[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Memory) ListLoans(_ context.Context) ([]generic.LoanRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(func(generic.LoanRecord) bool { return true }), nil
}

func (m *Memory) LoansByMember(_ context.Context, id generic.MemberID) ([]generic.LoanRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(func(r generic.LoanRecord) bool { return r.MemberID == id }), nil
}

func (m *Memory) LoansAbove(_ context.Context, threshold decimal.Decimal) ([]generic.LoanRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := m.filterLocked(func(r generic.LoanRecord) bool {
		return r.Outstanding.Value.GreaterThan(threshold)
	})
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Outstanding.GreaterThan(result[j].Outstanding)
	})
	return result, nil
}

func (m *Memory) SearchLoans(_ context.Context, query string) ([]generic.LoanRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(query))
	return m.filterLocked(func(r generic.LoanRecord) bool {
		return strings.Contains(strings.ToLower(r.MemberName), q) ||
			strings.Contains(strings.ToLower(string(r.MemberID)), q)
	}), nil
}

// filterLocked returns matching loans ordered by member name, then ID.
func (m *Memory) filterLocked(keep func(generic.LoanRecord) bool) []generic.LoanRecord {
	var result []generic.LoanRecord
	for _, rec := range m.loans {
		if keep(rec) {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].MemberName != result[j].MemberName {
			return result[i].MemberName < result[j].MemberName
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// =============================================================================
// PAYMENT STORE
// =============================================================================

// AppendPayment inserts a payment and applies it to its loan under one lock.
func (m *Memory) AppendPayment(_ context.Context, p generic.PaymentTransaction, tolerance generic.Amount) (generic.LoanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.loans[p.LoanID]
	if !ok {
		return generic.LoanRecord{}, generic.ErrLoanNotFound
	}
	if m.paymentIDs[p.ID] {
		return generic.LoanRecord{}, generic.ErrDuplicatePayment
	}
	for _, existing := range m.payments[p.LoanID] {
		if existing.Sequence == p.Sequence {
			return generic.LoanRecord{}, generic.ErrDuplicatePayment
		}
	}

	txs := m.payments[p.LoanID]
	i := sort.Search(len(txs), func(i int) bool { return txs[i].Sequence > p.Sequence })
	txs = append(txs, generic.PaymentTransaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = p
	m.payments[p.LoanID] = txs
	m.paymentIDs[p.ID] = true

	rec = rec.ApplyPayment(p.Amount, tolerance)
	m.loans[rec.ID] = rec
	return rec, nil
}

func (m *Memory) PaymentsByLoan(_ context.Context, id generic.LoanID) ([]generic.PaymentTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]generic.PaymentTransaction, len(m.payments[id]))
	copy(result, m.payments[id])
	return result, nil
}

func (m *Memory) PaymentExists(_ context.Context, id generic.PaymentID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paymentIDs[id], nil
}

// =============================================================================
// IMPORT RUNS
// =============================================================================

func (m *Memory) SaveImportRun(_ context.Context, run generic.ImportRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.runs {
		if m.runs[i].ID == run.ID {
			m.runs[i] = run
			return nil
		}
	}
	m.runs = append(m.runs, run)
	return nil
}

// ListImportRuns returns the newest runs first.
func (m *Memory) ListImportRuns(_ context.Context, limit int) ([]generic.ImportRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]generic.ImportRun, 0, len(m.runs))
	for i := len(m.runs) - 1; i >= 0; i-- {
		result = append(result, m.runs[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(generic.SnapshotWriter) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	members    map[generic.MemberID]generic.Member
	loans      map[generic.LoanID]generic.LoanRecord
	nextLoanID generic.LoanID
	payments   map[generic.LoanID][]generic.PaymentTransaction
	paymentIDs map[generic.PaymentID]bool
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		members:    make(map[generic.MemberID]generic.Member, len(tm.members)),
		loans:      make(map[generic.LoanID]generic.LoanRecord, len(tm.loans)),
		nextLoanID: tm.nextLoanID,
		payments:   make(map[generic.LoanID][]generic.PaymentTransaction, len(tm.payments)),
		paymentIDs: make(map[generic.PaymentID]bool, len(tm.paymentIDs)),
	}
	for k, v := range tm.members {
		s.members[k] = v
	}
	for k, v := range tm.loans {
		s.loans[k] = v
	}
	for k, v := range tm.payments {
		s.payments[k] = append([]generic.PaymentTransaction{}, v...)
	}
	for k, v := range tm.paymentIDs {
		s.paymentIDs[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.members = s.members
	tm.loans = s.loans
	tm.nextLoanID = s.nextLoanID
	tm.payments = s.payments
	tm.paymentIDs = s.paymentIDs
}

type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) DeleteAllMembers(_ context.Context) (int64, error) {
	return tv.parent.deleteMembersLocked(), nil
}

func (tv *txMemoryView) DeleteAllLoans(_ context.Context) (int64, error) {
	return tv.parent.deleteLoansLocked(), nil
}

func (tv *txMemoryView) InsertMembers(_ context.Context, members []generic.Member) error {
	tv.parent.insertMembersLocked(members)
	return nil
}

func (tv *txMemoryView) InsertLoans(_ context.Context, loans []generic.LoanRecord) ([]generic.LoanID, error) {
	return tv.parent.insertLoansLocked(loans), nil
}
