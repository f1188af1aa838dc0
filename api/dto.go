/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts are decimal strings ("450000"), never floats. Formatted rupiah
  text ("Rp 450.000") is only produced for statements.

VALIDATION:
  Request types carry go-playground/validator tags; handlers call
  h.validate.Struct before touching the store.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/koperasi/loan-ledger/generic"
	"github.com/koperasi/loan-ledger/loan"
	"github.com/koperasi/loan-ledger/sheet"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MEMBERS
// =============================================================================

type MemberDTO struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	ActiveLoans int             `json:"active_loans"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

type MemberDetailDTO struct {
	MemberDTO
	Loans []LoanDTO `json:"loans"`
}

type SaveMemberRequest struct {
	ID   string `json:"id" validate:"required,max=64"`
	Name string `json:"name" validate:"required,max=200"`
}

// =============================================================================
// LOANS
// =============================================================================

type LoanDTO struct {
	ID             int64           `json:"id"`
	MemberID       string          `json:"member_id"`
	MemberName     string          `json:"member_name"`
	Principal      decimal.Decimal `json:"principal"`
	LoanDate       *string         `json:"loan_date"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	PeriodPayments decimal.Decimal `json:"period_payments"`
	PeriodsPaid    int             `json:"periods_paid"`
	Outstanding    decimal.Decimal `json:"outstanding"`
	Status         string          `json:"status"`
	Channel        string          `json:"channel"`
	SourceRow      int             `json:"source_row,omitempty"`
	ImportRunID    string          `json:"import_run_id,omitempty"`
}

func toLoanDTO(l generic.LoanRecord) LoanDTO {
	dto := LoanDTO{
		ID:             int64(l.ID),
		MemberID:       string(l.MemberID),
		MemberName:     l.MemberName,
		Principal:      l.Principal.Value,
		OpeningBalance: l.OpeningBalance.Value,
		PeriodPayments: l.PeriodPayments.Value,
		PeriodsPaid:    l.PeriodsPaid,
		Outstanding:    l.Outstanding.Value,
		Status:         string(l.Status),
		Channel:        string(l.Channel),
		SourceRow:      l.SourceRow,
		ImportRunID:    string(l.ImportRunID),
	}
	if l.LoanDate != nil {
		d := l.LoanDate.Format(dateLayout)
		dto.LoanDate = &d
	}
	return dto
}

func toLoanDTOs(loans []generic.LoanRecord) []LoanDTO {
	out := make([]LoanDTO, len(loans))
	for i, l := range loans {
		out[i] = toLoanDTO(l)
	}
	return out
}

// =============================================================================
// PAYMENTS
// =============================================================================

// RecordPaymentRequest records one installment. ID makes retries safe;
// Sequence and PaidAt are filled in when omitted.
type RecordPaymentRequest struct {
	ID       string          `json:"id" validate:"omitempty,max=64"`
	Sequence int             `json:"sequence" validate:"min=0"`
	Amount   decimal.Decimal `json:"amount"`
	PaidAt   string          `json:"paid_at" validate:"omitempty,datetime=2006-01-02"`
	Note     string          `json:"note" validate:"max=500"`
}

type PaymentDTO struct {
	ID        string          `json:"id"`
	LoanID    int64           `json:"loan_id"`
	Sequence  int             `json:"sequence"`
	Amount    decimal.Decimal `json:"amount"`
	PaidAt    string          `json:"paid_at"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type RecordPaymentResponse struct {
	Loan LoanDTO `json:"loan"`
}

func toPaymentDTOs(payments []generic.PaymentTransaction) []PaymentDTO {
	out := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		out[i] = PaymentDTO{
			ID:        string(p.ID),
			LoanID:    int64(p.LoanID),
			Sequence:  p.Sequence,
			Amount:    p.Amount.Value,
			PaidAt:    p.PaidAt.Format(dateLayout),
			Note:      p.Note,
			CreatedAt: p.CreatedAt,
		}
	}
	return out
}

// =============================================================================
// IMPORTS
// =============================================================================

type ImportRunDTO struct {
	ID          string     `json:"id"`
	FileName    string     `json:"file_name"`
	Rule        string     `json:"rule"`
	TotalRows   int        `json:"total_rows"`
	Reconciled  int        `json:"reconciled"`
	Skipped     int        `json:"skipped"`
	Members     int        `json:"members"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func toImportRunDTO(r generic.ImportRun) ImportRunDTO {
	return ImportRunDTO{
		ID:          string(r.ID),
		FileName:    r.FileName,
		Rule:        r.Rule,
		TotalRows:   r.TotalRows,
		Reconciled:  r.Reconciled,
		Skipped:     r.Skipped,
		Members:     r.Members,
		Status:      string(r.Status),
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}

type SkipDTO struct {
	Row    int    `json:"row"`
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason"`
}

// ImportReportDTO is returned by both preview and import.
type ImportReportDTO struct {
	Run        ImportRunDTO           `json:"run"`
	Columns    map[sheet.Field]string `json:"columns"`
	Unresolved []loan.UnresolvedField `json:"unresolved"`
	Skips      []SkipDTO              `json:"skips"`
	Preview    []map[string]any       `json:"preview,omitempty"`
	Sample     []LoanDTO              `json:"sample,omitempty"`
	Publish    *PublishDTO            `json:"publish,omitempty"`
}

type PublishDTO struct {
	MembersDeleted int64 `json:"members_deleted"`
	LoansDeleted   int64 `json:"loans_deleted"`
	MembersWritten int   `json:"members_written"`
	LoansWritten   int   `json:"loans_written"`
	Atomic         bool  `json:"atomic"`
}

func toImportReportDTO(res *loan.ImportResult, preview []map[string]any, sample int) ImportReportDTO {
	dto := ImportReportDTO{
		Run:        toImportRunDTO(res.Run),
		Columns:    res.Report.Columns,
		Unresolved: res.Report.Unresolved,
		Skips:      make([]SkipDTO, len(res.Report.Skips)),
		Preview:    preview,
	}
	if dto.Unresolved == nil {
		dto.Unresolved = []loan.UnresolvedField{}
	}
	for i, s := range res.Report.Skips {
		dto.Skips[i] = SkipDTO{Row: s.Row, Name: s.Name, Reason: s.Reason}
	}
	if sample > 0 {
		dto.Sample = toLoanDTOs(res.Report.Records[:min(sample, len(res.Report.Records))])
	}
	if p := res.Publish; p != nil {
		dto.Publish = &PublishDTO{
			MembersDeleted: p.MembersDeleted,
			LoansDeleted:   p.LoansDeleted,
			MembersWritten: p.MembersWritten,
			LoansWritten:   p.LoansWritten,
			Atomic:         p.Atomic,
		}
	}
	return dto
}

// =============================================================================
// BILLING
// =============================================================================

type BillingLineDTO struct {
	MemberID    string          `json:"member_id"`
	MemberName  string          `json:"member_name"`
	Channel     string          `json:"channel"`
	ActiveLoans int             `json:"active_loans"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Installment decimal.Decimal `json:"installment"`
	Savings     decimal.Decimal `json:"savings"`
	Total       decimal.Decimal `json:"total"`
}

type WorklistDTO struct {
	Lines []BillingLineDTO `json:"lines"`
	Total decimal.Decimal  `json:"total"`
}

type BillingDTO struct {
	Office  WorklistDTO `json:"office"`
	SelfPay WorklistDTO `json:"self_pay"`
}

func toWorklistDTO(lines []loan.BillingLine) WorklistDTO {
	dto := WorklistDTO{Lines: make([]BillingLineDTO, len(lines)), Total: loan.Total(lines).Value}
	for i, l := range lines {
		dto.Lines[i] = BillingLineDTO{
			MemberID:    string(l.MemberID),
			MemberName:  l.MemberName,
			Channel:     string(l.Channel),
			ActiveLoans: l.ActiveLoans,
			Outstanding: l.Outstanding.Value,
			Installment: l.Installment.Value,
			Savings:     l.Savings.Value,
			Total:       l.Total.Value,
		}
	}
	return dto
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
