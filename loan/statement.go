package loan

import (
	"fmt"
	"strings"
	"time"

	"github.com/koperasi/loan-ledger/generic"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FormatRupiah renders whole rupiah with Indonesian grouping: "Rp 1.500.000".
// Fractions are rounded half away from zero.
func FormatRupiah(a generic.Amount) string {
	return message.NewPrinter(language.Indonesian).Sprintf("Rp %d", a.Value.Round(0).IntPart())
}

// StatementLine is one labelled amount. Text is FormatRupiah(Amount).
type StatementLine struct {
	Label    string         `json:"label"`
	Amount   generic.Amount `json:"-"`
	Text     string         `json:"text"`
	Emphasis bool           `json:"emphasis,omitempty"`
}

type LoanStatement struct {
	LoanID generic.LoanID  `json:"loan_id"`
	Status generic.Status  `json:"status"`
	Lines  []StatementLine `json:"lines"`
}

// Statement is the printable summary of a member's loans. Every amount
// comes from the reconciled records as stored.
type Statement struct {
	MemberID         generic.MemberID `json:"member_id"`
	MemberName       string           `json:"member_name"`
	PrintedAt        string           `json:"printed_at"`
	Loans            []LoanStatement  `json:"loans"`
	TotalOutstanding string           `json:"total_outstanding"`
}

// BuildStatement lays out one section per loan, in the order given.
func BuildStatement(member generic.Member, loans []generic.LoanRecord, printedAt time.Time) Statement {
	st := Statement{
		MemberID:   member.ID,
		MemberName: member.Name,
		PrintedAt:  printedAt.Format("02-01-2006"),
	}
	total := generic.NewAmountFromInt(0)
	for _, l := range loans {
		total = total.Add(l.Outstanding)
		st.Loans = append(st.Loans, LoanStatement{
			LoanID: l.ID,
			Status: l.Status,
			Lines: []StatementLine{
				line("Plafon Pinjaman Awal", l.Principal, false),
				line("Sisa Hutang (Awal Tahun)", l.OpeningBalance, false),
				line(fmt.Sprintf("Total Angsuran Tahun Ini (%dx Bayar)", l.PeriodsPaid), l.PeriodPayments, false),
				line("SISA PINJAMAN SAAT INI", l.Outstanding, true),
			},
		})
	}
	st.TotalOutstanding = FormatRupiah(total)
	return st
}

func line(label string, a generic.Amount, emphasis bool) StatementLine {
	return StatementLine{Label: label, Amount: a, Text: FormatRupiah(a), Emphasis: emphasis}
}

// Text renders the statement as fixed-width plain text.
func (s Statement) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s: %s\n", "No. Anggota", s.MemberID)
	fmt.Fprintf(&b, "%-20s: %s\n", "Nama", s.MemberName)
	fmt.Fprintf(&b, "%-20s: %s\n", "Tanggal Cetak", s.PrintedAt)
	for _, l := range s.Loans {
		b.WriteString("\n")
		for _, ln := range l.Lines {
			label := ln.Label
			if ln.Emphasis {
				label = strings.ToUpper(label)
			}
			fmt.Fprintf(&b, "%-42s %20s\n", label, ln.Text)
		}
	}
	return b.String()
}
