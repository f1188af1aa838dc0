/*
billing.go - Monthly billing worklists

PURPOSE:
  Computes what each member owes this month and splits members into the
  two collection worklists: OFFICE (payroll deduction) and SELF_PAY.
  Nothing here is persisted; worklists are recomputed from the snapshot.

FORMULA:
  installment = principal / TenorMonths + principal * MonthlyServiceRate
  total       = sum(installment of ACTIVE loans) + MandatorySavings

  PAID loans bill no installment. Mandatory savings are billed to every
  member, with or without a loan. Installments are rounded to whole rupiah.

CHANNEL OF A MEMBER:
  The channel of the member's first ACTIVE loan, else of the first loan,
  else OFFICE. A member with no loan history therefore lands on the
  OFFICE list and is billed savings only.
*/
package loan

import (
	"github.com/koperasi/loan-ledger/generic"
	"github.com/koperasi/loan-ledger/sheet"
	"github.com/shopspring/decimal"
)

const (
	DefaultTenorMonths      = 10
	DefaultMandatorySavings = 50_000
)

var DefaultMonthlyServiceRate = decimal.RequireFromString("0.01")

type BillingConfig struct {
	TenorMonths        int
	MonthlyServiceRate decimal.Decimal
	MandatorySavings   generic.Amount
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		TenorMonths:        DefaultTenorMonths,
		MonthlyServiceRate: DefaultMonthlyServiceRate,
		MandatorySavings:   generic.NewAmountFromInt(DefaultMandatorySavings),
	}
}

type Billing struct {
	cfg BillingConfig
}

func NewBilling(cfg BillingConfig) *Billing {
	if cfg.TenorMonths <= 0 {
		cfg.TenorMonths = DefaultTenorMonths
	}
	if cfg.MandatorySavings.Currency == "" {
		cfg.MandatorySavings = generic.NewAmountFromDecimal(cfg.MandatorySavings.Value)
	}
	return &Billing{cfg: cfg}
}

// InstallmentDue is the monthly installment formula for one loan. Whether
// the loan is billed at all is decided by Worklists.
func (b *Billing) InstallmentDue(rec generic.LoanRecord) generic.Amount {
	p := rec.Principal.Value
	due := p.Div(decimal.NewFromInt(int64(b.cfg.TenorMonths))).Add(p.Mul(b.cfg.MonthlyServiceRate))
	return generic.NewAmountFromDecimal(due.Round(0))
}

// =============================================================================
// WORKLISTS
// =============================================================================

type BillingLine struct {
	MemberID    generic.MemberID
	MemberName  string
	Channel     generic.Channel
	ActiveLoans int
	Outstanding generic.Amount
	Installment generic.Amount
	Savings     generic.Amount
	Total       generic.Amount
}

type Worklists struct {
	Office  []BillingLine
	SelfPay []BillingLine
}

// Worklists bills every member plus any loan whose member number is not in
// members (blank numbers are grouped by name). Member order is kept.
func (b *Billing) Worklists(members []generic.Member, loans []generic.LoanRecord) Worklists {
	byKey := make(map[string][]generic.LoanRecord)
	var orphanKeys []string
	known := make(map[string]bool, len(members))
	for _, m := range members {
		known[string(m.ID)] = true
	}
	for _, l := range loans {
		k := billingKey(l)
		if _, seen := byKey[k]; !seen && !known[k] {
			orphanKeys = append(orphanKeys, k)
		}
		byKey[k] = append(byKey[k], l)
	}

	var w Worklists
	add := func(line BillingLine) {
		if line.Channel == generic.ChannelSelfPay {
			w.SelfPay = append(w.SelfPay, line)
		} else {
			w.Office = append(w.Office, line)
		}
	}
	for _, m := range members {
		add(b.line(m.ID, m.Name, byKey[string(m.ID)]))
	}
	for _, k := range orphanKeys {
		ls := byKey[k]
		add(b.line(ls[0].MemberID, ls[0].MemberName, ls))
	}
	return w
}

func (b *Billing) line(id generic.MemberID, name string, loans []generic.LoanRecord) BillingLine {
	zero := generic.NewAmountFromInt(0)
	line := BillingLine{
		MemberID:    id,
		MemberName:  name,
		Channel:     channelOf(loans),
		Outstanding: zero,
		Installment: zero,
		Savings:     b.cfg.MandatorySavings,
	}
	for _, l := range loans {
		line.Outstanding = line.Outstanding.Add(l.Outstanding)
		if !l.IsPaid() {
			line.ActiveLoans++
			line.Installment = line.Installment.Add(b.InstallmentDue(l))
		}
	}
	line.Total = line.Installment.Add(line.Savings)
	return line
}

func channelOf(loans []generic.LoanRecord) generic.Channel {
	for _, l := range loans {
		if !l.IsPaid() && l.Channel != "" {
			return l.Channel
		}
	}
	if len(loans) > 0 && loans[0].Channel != "" {
		return loans[0].Channel
	}
	return generic.ChannelOffice
}

func billingKey(l generic.LoanRecord) string {
	if l.MemberID != "" {
		return string(l.MemberID)
	}
	return "name:" + l.MemberName
}

// Total sums a worklist.
func Total(lines []BillingLine) generic.Amount {
	sum := generic.NewAmountFromInt(0)
	for _, l := range lines {
		sum = sum.Add(l.Total)
	}
	return sum
}

// =============================================================================
// EXPORT
// =============================================================================

var worklistHeaders = []string{"No. Anggota", "Nama", "Pinjaman Aktif", "Sisa Pinjaman", "Angsuran", "Simpanan Wajib", "Total Tagihan"}

// Tables renders the worklists as workbook sheets, office list first.
func (w Worklists) Tables() []sheet.Table {
	return []sheet.Table{
		{Name: "Potong Gaji", Headers: worklistHeaders, Rows: worklistRows(w.Office)},
		{Name: "Bayar Mandiri", Headers: worklistHeaders, Rows: worklistRows(w.SelfPay)},
	}
}

func worklistRows(lines []BillingLine) [][]any {
	rows := make([][]any, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, []any{
			string(l.MemberID),
			l.MemberName,
			l.ActiveLoans,
			l.Outstanding.Float64(),
			l.Installment.Float64(),
			l.Savings.Float64(),
			l.Total.Float64(),
		})
	}
	return rows
}
