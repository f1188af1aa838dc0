/*
Package generic provides the core types of the loan ledger engine.

PURPOSE:
  This package contains the records shared by every layer of the system:
  the reconciler derives them, the stores persist them, the API renders
  them. Nothing here knows about spreadsheets or column names; that is
  the job of the sheet and loan packages.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A rupiah quantity backed by decimal.Decimal
  - Member: One cooperative member (member number + display name)
  - LoanRecord: One reconciled loan row with derived balance and status
  - PaymentTransaction: One installment in the running-ledger variant
  - ImportRun: Audit entry for a spreadsheet import

DESIGN PRINCIPLES:
  1. Precision: Money uses decimal.Decimal, never float64 arithmetic
  2. Store-assigned identity: LoanRecord.ID is zero until the store inserts it
  3. Non-negative balances: Outstanding is clamped at zero (overpayment is absorbed)
  4. Type Safety: Strong typing for IDs prevents mixing member/loan/payment IDs

USAGE:
  rec := generic.LoanRecord{
      MemberID:  "A-001",
      Principal: generic.NewAmount(1_000_000),
  }
  rec.Outstanding = rec.OpeningBalance.Sub(rec.PeriodPayments).ClampZero()

SEE ALSO:
  - store.go: Persistence interfaces for these records
  - ledger.go: Running-ledger payment recording
  - loan/reconciler.go: Derivation of LoanRecord from sheet rows
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Money with currency
// =============================================================================

type Amount struct {
	Value    decimal.Decimal
	Currency Currency
}

type Currency string

const CurrencyIDR Currency = "IDR"

func NewAmount(value float64) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Currency: CurrencyIDR}
}

func NewAmountFromInt(value int64) Amount {
	return Amount{Value: decimal.NewFromInt(value), Currency: CurrencyIDR}
}

func NewAmountFromDecimal(value decimal.Decimal) Amount {
	return Amount{Value: value, Currency: CurrencyIDR}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a Amount) Zero() Amount                 { return Amount{Value: decimal.Zero, Currency: a.Currency} }
func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Currency: a.currency()} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Currency: a.currency()} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Currency: a.currency()} }
func (a Amount) Div(s decimal.Decimal) Amount { return Amount{Value: a.Value.Div(s), Currency: a.currency()} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }
func (a Amount) LessThanOrEqual(b Amount) bool {
	return a.Value.LessThanOrEqual(b.Value)
}
func (a Amount) Equal(b Amount) bool { return a.Value.Equal(b.Value) }

// ClampZero returns a, or zero when a is negative.
func (a Amount) ClampZero() Amount {
	if a.IsNegative() {
		return a.Zero()
	}
	return a
}

func (a Amount) Float64() float64 {
	f, _ := a.Value.Float64()
	return f
}

func (a Amount) String() string { return a.Value.String() }

func (a Amount) currency() Currency {
	if a.Currency == "" {
		return CurrencyIDR
	}
	return a.Currency
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type MemberID string
type LoanID int64
type PaymentID string
type ImportRunID string

// =============================================================================
// STATUS AND CHANNEL
// =============================================================================

type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusPaid   Status = "PAID"
)

// StatusFor classifies an outstanding balance. Anything at or below the
// tolerance is paid off; the tolerance absorbs rounding noise from parsed
// currency strings.
func StatusFor(outstanding, tolerance Amount) Status {
	if outstanding.LessThanOrEqual(tolerance) {
		return StatusPaid
	}
	return StatusActive
}

// Channel partitions billing into payroll deduction and self-pay worklists.
type Channel string

const (
	ChannelOffice  Channel = "OFFICE"
	ChannelSelfPay Channel = "SELF_PAY"
)

// =============================================================================
// MEMBER
// =============================================================================

type Member struct {
	ID        MemberID
	Name      string
	UpdatedAt time.Time
}

// =============================================================================
// LOAN RECORD - One reconciled row of the ledger snapshot
// =============================================================================

type LoanRecord struct {
	ID             LoanID // assigned by the store on insert
	MemberID       MemberID
	MemberName     string
	Principal      Amount     // plafon
	LoanDate       *time.Time // nil when the sheet carries no usable date
	OpeningBalance Amount     // basis for the current period
	PeriodPayments Amount     // sum of positive month payments
	PeriodsPaid    int        // months with a positive payment
	Outstanding    Amount     // max(0, OpeningBalance - PeriodPayments)
	Status         Status
	Channel        Channel

	// Provenance
	SourceRow   int // 1-based sheet row, header is row 1
	ImportRunID ImportRunID
}

func (r LoanRecord) IsPaid() bool { return r.Status == StatusPaid }

// ApplyPayment returns the record after one running-ledger payment.
// Payments are folded into the period totals so that
// Outstanding == max(0, OpeningBalance - PeriodPayments) keeps holding.
func (r LoanRecord) ApplyPayment(amount, tolerance Amount) LoanRecord {
	r.PeriodPayments = r.PeriodPayments.Add(amount)
	if amount.IsPositive() {
		r.PeriodsPaid++
	}
	r.Outstanding = r.OpeningBalance.Sub(r.PeriodPayments).ClampZero()
	r.Status = StatusFor(r.Outstanding, tolerance)
	return r
}

// =============================================================================
// PAYMENT TRANSACTION - Running-ledger variant (append-only)
// =============================================================================

type PaymentTransaction struct {
	ID        PaymentID
	LoanID    LoanID
	Sequence  int // installment number, 1-based per loan
	Amount    Amount
	PaidAt    time.Time
	Note      string
	CreatedAt time.Time
}

// =============================================================================
// IMPORT RUN - Audit of spreadsheet imports
// =============================================================================

type ImportStatus string

const (
	ImportPreviewed ImportStatus = "previewed"
	ImportPublished ImportStatus = "published"
	ImportPartial   ImportStatus = "partial"
	ImportFailed    ImportStatus = "failed"
)

type ImportRun struct {
	ID          ImportRunID
	FileName    string
	Rule        string
	TotalRows   int
	Reconciled  int
	Skipped     int
	Members     int
	Status      ImportStatus
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}
