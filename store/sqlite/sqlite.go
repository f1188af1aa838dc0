/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface the ledger needs (snapshot,
  payments, import audit) on a single SQLite file. The PostgreSQL store
  in store/postgres follows the same shape with dialect differences.

INTERFACES IMPLEMENTED:
  generic.SnapshotStore:   Members and loan records (delete-all + chunk insert)
  generic.TxSnapshotStore: Transactional snapshot replace
  generic.PaymentStore:    Append-only payments with atomic loan decrement
  generic.ImportRunStore:  Import audit log

KEY TABLES:
  members:      One row per member number (upserted)
  loan_records: Reconciled loan rows; id is AUTOINCREMENT so IDs are never
                reused across snapshot replaces
  payments:     Append-only; cascade-deleted with their loan
  import_runs:  One row per import attempt

MONEY:
  Amounts are stored as decimal TEXT. loan_records.outstanding_num is a
  REAL copy used only for threshold filtering and ordering; results are
  re-checked in decimal.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. ":memory:" databases are pinned to
  one connection so every query sees the same database.

WAL MODE:
  File databases are opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/koperasi/loan-ledger/generic"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS loan_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		member_id TEXT NOT NULL DEFAULT '',
		member_name TEXT NOT NULL,
		principal TEXT NOT NULL,
		loan_date TEXT,
		opening_balance TEXT NOT NULL,
		period_payments TEXT NOT NULL,
		periods_paid INTEGER NOT NULL DEFAULT 0,
		outstanding TEXT NOT NULL,
		outstanding_num REAL NOT NULL,
		status TEXT NOT NULL,
		channel TEXT NOT NULL,
		source_row INTEGER NOT NULL DEFAULT 0,
		import_run_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_loans_member
		ON loan_records(member_id);
	CREATE INDEX IF NOT EXISTS idx_loans_outstanding
		ON loan_records(outstanding_num DESC);
	CREATE INDEX IF NOT EXISTS idx_loans_name
		ON loan_records(member_name COLLATE NOCASE);

	-- Payments (append-only, deleted only with their loan)
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		loan_id INTEGER NOT NULL REFERENCES loan_records(id) ON DELETE CASCADE,
		sequence INTEGER NOT NULL,
		amount TEXT NOT NULL,
		paid_at TEXT NOT NULL,
		note TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(loan_id, sequence)
	);

	CREATE TABLE IF NOT EXISTS import_runs (
		id TEXT PRIMARY KEY,
		file_name TEXT NOT NULL,
		rule TEXT NOT NULL,
		total_rows INTEGER NOT NULL DEFAULT 0,
		reconciled INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		members INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_import_runs_started
		ON import_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// SNAPSHOT WRITER
// =============================================================================

func (s *Store) DeleteAllMembers(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteAll(ctx, s.db, "members")
}

// DeleteAllLoans deletes every loan record; payments cascade.
func (s *Store) DeleteAllLoans(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteAll(ctx, s.db, "loan_records")
}

func (s *Store) InsertMembers(ctx context.Context, members []generic.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return insertMembers(ctx, tx, members)
	})
}

// InsertLoans inserts one chunk atomically and returns the assigned IDs.
func (s *Store) InsertLoans(ctx context.Context, loans []generic.LoanRecord) ([]generic.LoanID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []generic.LoanID
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		ids, err = insertLoans(ctx, tx, loans)
		return err
	})
	return ids, err
}

// SaveMember adds or renames one member.
func (s *Store) SaveMember(ctx context.Context, m generic.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertMembers(ctx, s.db, []generic.Member{m})
}

func deleteAll(ctx context.Context, q querier, table string) (int64, error) {
	res, err := q.ExecContext(ctx, "DELETE FROM "+table)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s: %w", table, err)
	}
	return res.RowsAffected()
}

func insertMembers(ctx context.Context, q querier, members []generic.Member) error {
	query := `
		INSERT INTO members (id, name, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			updated_at = excluded.updated_at
	`
	now := time.Now().UTC()
	for _, m := range members {
		updated := m.UpdatedAt
		if updated.IsZero() {
			updated = now
		}
		if _, err := q.ExecContext(ctx, query, m.ID, m.Name, updated.Format(time.RFC3339)); err != nil {
			return fmt.Errorf("failed to insert member %s: %w", m.ID, err)
		}
	}
	return nil
}

func insertLoans(ctx context.Context, q querier, loans []generic.LoanRecord) ([]generic.LoanID, error) {
	query := `
		INSERT INTO loan_records
		(member_id, member_name, principal, loan_date, opening_balance, period_payments,
		 periods_paid, outstanding, outstanding_num, status, channel, source_row, import_run_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC().Format(time.RFC3339)
	ids := make([]generic.LoanID, 0, len(loans))
	for _, l := range loans {
		res, err := q.ExecContext(ctx, query,
			l.MemberID,
			l.MemberName,
			l.Principal.Value.String(),
			nullString(generic.FormatDate(l.LoanDate)),
			l.OpeningBalance.Value.String(),
			l.PeriodPayments.Value.String(),
			l.PeriodsPaid,
			l.Outstanding.Value.String(),
			l.Outstanding.Float64(),
			l.Status,
			l.Channel,
			l.SourceRow,
			nullString(string(l.ImportRunID)),
			now,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert loan for row %d: %w", l.SourceRow, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		ids = append(ids, generic.LoanID(id))
	}
	return ids, nil
}

// =============================================================================
// SNAPSHOT READER
// =============================================================================

func (s *Store) GetMember(ctx context.Context, id generic.MemberID) (*generic.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var m generic.Member
	var updated string
	err := s.db.QueryRowContext(ctx, `SELECT id, name, updated_at FROM members WHERE id = ?`, id).
		Scan(&m.ID, &m.Name, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &m, nil
}

func (s *Store) ListMembers(ctx context.Context) ([]generic.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, updated_at FROM members ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []generic.Member
	for rows.Next() {
		var m generic.Member
		var updated string
		if err := rows.Scan(&m.ID, &m.Name, &updated); err != nil {
			return nil, err
		}
		m.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		members = append(members, m)
	}
	return members, rows.Err()
}

const loanColumns = `id, member_id, member_name, principal, loan_date, opening_balance, period_payments,
	periods_paid, outstanding, status, channel, source_row, import_run_id`

func (s *Store) GetLoan(ctx context.Context, id generic.LoanID) (*generic.LoanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getLoan(ctx, s.db, id)
}

func getLoan(ctx context.Context, q querier, id generic.LoanID) (*generic.LoanRecord, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+loanColumns+` FROM loan_records WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	rec, err := scanLoan(rows)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) ListLoans(ctx context.Context) ([]generic.LoanRecord, error) {
	return s.queryLoans(ctx, `SELECT `+loanColumns+` FROM loan_records ORDER BY member_name, id`)
}

func (s *Store) LoansByMember(ctx context.Context, id generic.MemberID) ([]generic.LoanRecord, error) {
	return s.queryLoans(ctx, `SELECT `+loanColumns+` FROM loan_records WHERE member_id = ? ORDER BY member_name, id`, id)
}

// LoansAbove returns loans with outstanding strictly above threshold, largest first.
func (s *Store) LoansAbove(ctx context.Context, threshold decimal.Decimal) ([]generic.LoanRecord, error) {
	approx, _ := threshold.Float64()
	loans, err := s.queryLoans(ctx,
		`SELECT `+loanColumns+` FROM loan_records WHERE outstanding_num >= ? ORDER BY outstanding_num DESC, member_name, id`,
		approx-1)
	if err != nil {
		return nil, err
	}

	result := loans[:0]
	for _, l := range loans {
		if l.Outstanding.Value.GreaterThan(threshold) {
			result = append(result, l)
		}
	}
	return result, nil
}

// SearchLoans matches query as a case-insensitive substring of the member
// name or member number.
func (s *Store) SearchLoans(ctx context.Context, query string) ([]generic.LoanRecord, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	return s.queryLoans(ctx,
		`SELECT `+loanColumns+` FROM loan_records
		 WHERE member_name LIKE ? ESCAPE '\' OR member_id LIKE ? ESCAPE '\'
		 ORDER BY member_name, id`,
		pattern, pattern)
}

func (s *Store) queryLoans(ctx context.Context, query string, args ...any) ([]generic.LoanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loans []generic.LoanRecord
	for rows.Next() {
		rec, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, rec)
	}
	return loans, rows.Err()
}

func scanLoan(rows *sql.Rows) (generic.LoanRecord, error) {
	var rec generic.LoanRecord
	var principal, opening, payments, outstanding string
	var loanDate, runID sql.NullString

	err := rows.Scan(
		&rec.ID, &rec.MemberID, &rec.MemberName, &principal, &loanDate, &opening, &payments,
		&rec.PeriodsPaid, &outstanding, &rec.Status, &rec.Channel, &rec.SourceRow, &runID,
	)
	if err != nil {
		return rec, err
	}

	rec.Principal = parseAmount(principal)
	rec.OpeningBalance = parseAmount(opening)
	rec.PeriodPayments = parseAmount(payments)
	rec.Outstanding = parseAmount(outstanding)
	rec.LoanDate = generic.ParseDate(loanDate.String)
	rec.ImportRunID = generic.ImportRunID(runID.String)
	return rec, nil
}

// =============================================================================
// TRANSACTIONAL SNAPSHOT (generic.TxSnapshotStore)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(generic.SnapshotWriter) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return fn(&txWriter{tx: tx})
	})
}

// inTx runs fn in a transaction. Callers hold s.mu.
func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type txWriter struct {
	tx *sql.Tx
}

func (w *txWriter) DeleteAllMembers(ctx context.Context) (int64, error) {
	return deleteAll(ctx, w.tx, "members")
}

func (w *txWriter) DeleteAllLoans(ctx context.Context) (int64, error) {
	return deleteAll(ctx, w.tx, "loan_records")
}

func (w *txWriter) InsertMembers(ctx context.Context, members []generic.Member) error {
	return insertMembers(ctx, w.tx, members)
}

func (w *txWriter) InsertLoans(ctx context.Context, loans []generic.LoanRecord) ([]generic.LoanID, error) {
	return insertLoans(ctx, w.tx, loans)
}

// =============================================================================
// PAYMENT STORE
// =============================================================================

// AppendPayment inserts p and decrements its loan in one transaction.
func (s *Store) AppendPayment(ctx context.Context, p generic.PaymentTransaction, tolerance generic.Amount) (generic.LoanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated generic.LoanRecord
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rec, err := getLoan(ctx, tx, p.LoanID)
		if err != nil {
			return err
		}
		if rec == nil {
			return generic.ErrLoanNotFound
		}

		created := p.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO payments (id, loan_id, sequence, amount, paid_at, note, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.LoanID, p.Sequence, p.Amount.Value.String(),
			p.PaidAt.Format("2006-01-02"), nullString(p.Note), created.Format(time.RFC3339),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return generic.ErrDuplicatePayment
			}
			return fmt.Errorf("failed to append payment: %w", err)
		}

		updated = rec.ApplyPayment(p.Amount, tolerance)
		_, err = tx.ExecContext(ctx, `
			UPDATE loan_records
			SET period_payments = ?, periods_paid = ?, outstanding = ?, outstanding_num = ?, status = ?
			WHERE id = ?`,
			updated.PeriodPayments.Value.String(), updated.PeriodsPaid,
			updated.Outstanding.Value.String(), updated.Outstanding.Float64(), updated.Status,
			updated.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to apply payment: %w", err)
		}
		return nil
	})
	if err != nil {
		return generic.LoanRecord{}, err
	}
	return updated, nil
}

func (s *Store) PaymentsByLoan(ctx context.Context, id generic.LoanID) ([]generic.PaymentTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, loan_id, sequence, amount, paid_at, note, created_at
		FROM payments WHERE loan_id = ? ORDER BY sequence`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []generic.PaymentTransaction
	for rows.Next() {
		var p generic.PaymentTransaction
		var amount, paidAt, createdAt string
		var note sql.NullString
		if err := rows.Scan(&p.ID, &p.LoanID, &p.Sequence, &amount, &paidAt, &note, &createdAt); err != nil {
			return nil, err
		}
		p.Amount = parseAmount(amount)
		p.PaidAt, _ = time.Parse("2006-01-02", paidAt)
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		p.Note = note.String
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (s *Store) PaymentExists(ctx context.Context, id generic.PaymentID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payments WHERE id = ?`, id).Scan(&count)
	return count > 0, err
}

// =============================================================================
// IMPORT RUNS
// =============================================================================

func (s *Store) SaveImportRun(ctx context.Context, run generic.ImportRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var completed sql.NullString
	if run.CompletedAt != nil {
		completed = nullString(run.CompletedAt.UTC().Format(time.RFC3339))
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO import_runs
		(id, file_name, rule, total_rows, reconciled, skipped, members, status, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			rule = excluded.rule,
			total_rows = excluded.total_rows,
			reconciled = excluded.reconciled,
			skipped = excluded.skipped,
			members = excluded.members,
			status = excluded.status,
			error = excluded.error,
			completed_at = excluded.completed_at`,
		run.ID, run.FileName, run.Rule, run.TotalRows, run.Reconciled, run.Skipped, run.Members,
		run.Status, nullString(run.Error), run.StartedAt.UTC().Format(time.RFC3339), completed,
	)
	if err != nil {
		return fmt.Errorf("failed to save import run: %w", err)
	}
	return nil
}

// ListImportRuns returns the newest runs first. limit <= 0 means all.
func (s *Store) ListImportRuns(ctx context.Context, limit int) ([]generic.ImportRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_name, rule, total_rows, reconciled, skipped, members, status, error, started_at, completed_at
		FROM import_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []generic.ImportRun
	for rows.Next() {
		var r generic.ImportRun
		var errText, completed sql.NullString
		var started string
		if err := rows.Scan(&r.ID, &r.FileName, &r.Rule, &r.TotalRows, &r.Reconciled, &r.Skipped,
			&r.Members, &r.Status, &errText, &started, &completed); err != nil {
			return nil, err
		}
		r.Error = errText.String
		r.StartedAt, _ = time.Parse(time.RFC3339, started)
		if completed.Valid {
			t, _ := time.Parse(time.RFC3339, completed.String)
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseAmount(value string) generic.Amount {
	return generic.NewAmountFromDecimal(generic.MustParseDecimal(value))
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY"))
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
