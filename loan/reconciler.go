/*
reconciler.go - Row-by-row ledger reconciliation

PURPOSE:
  Derives one LoanRecord from one sheet row. Rows are processed in sheet
  order; a row that cannot be read is skipped with a reason and the batch
  carries on.

ALGORITHM (per row):
  1. Opening balance: the run's OpeningRule over principal, carried
     balance and loan year.
  2. Period payments: the twelve month columns in calendar order; only
     strictly positive values are summed and counted. Missing columns
     contribute nothing.
  3. Outstanding = max(0, opening - payments).
  4. Status = PAID when outstanding <= PaidTolerance, else ACTIVE.
  5. Channel = SELF_PAY when a payment-method column exists and its text
     contains a self-pay marker, else OFFICE.

  All arithmetic is decimal; cells are read through the normalize package
  and never fail.

SKIPS:
  - Row has neither member number nor name (blank, or the sheet has
    neither column).
  - Reading the row panicked (malformed cell type from a loader).

SEE ALSO:
  - rules.go: Step 1 strategies
  - dedup.go: Member set built from the reconciled rows
*/
package loan

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/koperasi/loan-ledger/generic"
	"github.com/koperasi/loan-ledger/normalize"
	"github.com/koperasi/loan-ledger/sheet"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type Reconciler struct {
	cfg Config
	log zerolog.Logger
}

func NewReconciler(cfg Config, log zerolog.Logger) *Reconciler {
	return &Reconciler{cfg: cfg.withDefaults(), log: log}
}

// Rule is the opening rule this reconciler applies.
func (r *Reconciler) Rule() OpeningRule { return r.cfg.Rule }

// =============================================================================
// BATCH
// =============================================================================

// Reconcile runs every row of s and builds the member set. It never fails;
// problems surface as skips and unresolved-field warnings in the report.
func (r *Reconciler) Reconcile(s *sheet.Sheet) *ImportReport {
	resolver := s.Resolver()
	cols := resolver.Map(r.cfg.Aliases)
	today := generic.Today(r.cfg.Clock)

	report := &ImportReport{
		Rule:      r.cfg.Rule.Name(),
		TotalRows: len(s.Rows),
		Columns:   make(map[sheet.Field]string),
	}
	for _, f := range r.cfg.Aliases.Fields() {
		if cols.Has(f) {
			report.Columns[f] = cols.Header(f)
		}
	}
	for _, f := range cols.Missing() {
		u := UnresolvedField{Field: f, Suggestion: resolver.Suggest(r.cfg.Aliases[f]...)}
		report.Unresolved = append(report.Unresolved, u)
		r.log.Debug().Str("field", string(f)).Str("suggestion", u.Suggestion).Msg("column not found")
	}

	pairs := make([]MemberRow, 0, len(s.Rows))
	for _, row := range s.Rows {
		res := r.ReconcileRow(row, cols, today)
		if res.Skipped() {
			report.Skips = append(report.Skips, *res.Skip)
			r.log.Warn().Int("row", res.Skip.Row).Str("name", res.Skip.Name).Str("reason", res.Skip.Reason).Msg("row skipped")
			continue
		}
		report.Records = append(report.Records, *res.Record)
		pairs = append(pairs, MemberRow{ID: res.Record.MemberID, Name: res.Record.MemberName})
	}
	report.Members = DeduplicateMembers(pairs)

	r.log.Info().
		Str("rule", report.Rule).
		Int("rows", report.TotalRows).
		Int("reconciled", report.Reconciled()).
		Int("skipped", len(report.Skips)).
		Int("members", len(report.Members)).
		Msg("reconciliation complete")
	return report
}

// =============================================================================
// ROW
// =============================================================================

// ReconcileRow derives the record for one row. today is the fallback for
// unreadable loan dates.
func (r *Reconciler) ReconcileRow(row sheet.Row, cols sheet.ColumnMap, today time.Time) (res RowResult) {
	name := cellText(cols.Value(row, sheet.FieldMemberName))

	defer func() {
		if p := recover(); p != nil {
			res = RowResult{Skip: &generic.RowError{Row: row.Number, Name: name, Reason: fmt.Sprint(p)}}
		}
	}()

	if !cols.Has(sheet.FieldMemberID) && !cols.Has(sheet.FieldMemberName) {
		return RowResult{Skip: &generic.RowError{Row: row.Number, Reason: "sheet has no member number or name column"}}
	}

	memberID := cellText(cols.Value(row, sheet.FieldMemberID))
	if normalize.IsBlank(memberID) {
		memberID = ""
	}
	if normalize.IsBlank(name) {
		name = ""
	}
	if memberID == "" && name == "" {
		return RowResult{Skip: &generic.RowError{Row: row.Number, Reason: "no member number or name"}}
	}

	rec := generic.LoanRecord{
		MemberID:   generic.MemberID(memberID),
		MemberName: name,
		Principal:  generic.NewAmountFromDecimal(r.amount(row, cols, sheet.FieldPrincipal)),
		Channel:    generic.ChannelOffice,
		SourceRow:  row.Number,
	}

	// Step 1
	loanYear := today.Year()
	if d, ok := normalize.ParseDate(cols.Value(row, sheet.FieldLoanDate)); ok {
		rec.LoanDate = &d
		loanYear = d.Year()
	}
	rec.OpeningBalance = r.cfg.Rule.Opening(OpeningInput{
		Principal: rec.Principal,
		Carried:   generic.NewAmountFromDecimal(r.amount(row, cols, sheet.FieldCarriedBalance)),
		LoanYear:  loanYear,
	})

	// Step 2
	paid := decimal.Zero
	for m := time.January; m <= time.December; m++ {
		f := sheet.MonthField(m)
		if !cols.Has(f) {
			continue
		}
		if v := r.amount(row, cols, f); v.IsPositive() {
			paid = paid.Add(v)
			rec.PeriodsPaid++
		}
	}
	rec.PeriodPayments = generic.NewAmountFromDecimal(paid)

	// Steps 3 and 4
	rec.Outstanding = rec.OpeningBalance.Sub(rec.PeriodPayments).ClampZero()
	rec.Status = generic.StatusFor(rec.Outstanding, r.cfg.PaidTolerance)

	// Step 5
	if cols.Has(sheet.FieldPaymentMethod) {
		rec.Channel = r.classify(cellText(cols.Value(row, sheet.FieldPaymentMethod)))
	}

	return RowResult{Record: &rec}
}

func (r *Reconciler) amount(row sheet.Row, cols sheet.ColumnMap, f sheet.Field) decimal.Decimal {
	raw := cols.Value(row, f)
	d, ok := normalize.TryDecimal(raw)
	if !ok {
		r.log.Debug().Int("row", row.Number).Str("field", string(f)).Interface("value", raw).Msg("unreadable amount, using 0")
	}
	return d
}

func (r *Reconciler) classify(method string) generic.Channel {
	method = strings.ToLower(method)
	for _, marker := range r.cfg.SelfPayMarkers {
		if marker != "" && strings.Contains(method, strings.ToLower(marker)) {
			return generic.ChannelSelfPay
		}
	}
	return generic.ChannelOffice
}

// cellText renders an identity cell as text. Typed numeric member numbers
// (1234.0) print without the fraction.
func cellText(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.TrimSpace(fmt.Sprint(raw))
}
