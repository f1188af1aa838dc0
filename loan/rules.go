/*
rules.go - Opening balance strategies

PURPOSE:
  The carried-balance column means different things depending on how the
  cooperative closed the previous year. Each import run picks one rule
  explicitly; the engine never guesses.

AVAILABLE RULES:
  value_present: A positive carried balance is the opening balance; a blank
                 or zero cell means a new loan, so the principal is used.
  year_gated:    Loans dated in or after the cutoff year are new (principal).
                 Older loans use the carried balance as-is, even when it is
                 zero: a zero there means the loan was paid off.

DISAGREEMENT:
  A pre-cutoff loan whose carried-balance cell was left blank by mistake
  opens at the principal under value_present and at zero (PAID) under
  year_gated. Neither is "right"; the operator chooses per run.

EXAMPLE:
  rule, err := loan.ParseRule("year_gated", 2026)
  opening := rule.Opening(loan.OpeningInput{Principal: p, Carried: c, LoanYear: 2024})
*/
package loan

import (
	"fmt"
	"strings"

	"github.com/koperasi/loan-ledger/generic"
)

const (
	RuleNameValuePresent = "value_present"
	RuleNameYearGated    = "year_gated"
)

// OpeningInput is what a rule may look at for one row.
type OpeningInput struct {
	Principal generic.Amount
	Carried   generic.Amount
	LoanYear  int // year of the loan date, or of the run's reference date when unknown
}

// OpeningRule decides the opening balance basis of a row.
type OpeningRule interface {
	Name() string
	Opening(in OpeningInput) generic.Amount
}

// =============================================================================
// VALUE-PRESENT
// =============================================================================

type ValuePresentRule struct{}

func (ValuePresentRule) Name() string { return RuleNameValuePresent }

func (ValuePresentRule) Opening(in OpeningInput) generic.Amount {
	if in.Carried.IsPositive() {
		return in.Carried
	}
	return in.Principal
}

// =============================================================================
// YEAR-GATED
// =============================================================================

type YearGatedRule struct {
	CutoffYear int
}

func (r YearGatedRule) Name() string {
	return fmt.Sprintf("%s(%d)", RuleNameYearGated, r.CutoffYear)
}

func (r YearGatedRule) Opening(in OpeningInput) generic.Amount {
	if in.LoanYear >= r.CutoffYear {
		return in.Principal
	}
	return in.Carried
}

// ParseRule resolves a rule by name. cutoffYear is required for year_gated.
func ParseRule(name string, cutoffYear int) (OpeningRule, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", RuleNameValuePresent:
		return ValuePresentRule{}, nil
	case RuleNameYearGated:
		if cutoffYear <= 0 {
			return nil, fmt.Errorf("%w: year_gated needs a cutoff year", generic.ErrInvalidRule)
		}
		return YearGatedRule{CutoffYear: cutoffYear}, nil
	}
	return nil, fmt.Errorf("%w: %q", generic.ErrInvalidRule, name)
}

// OverrideRule applies a per-run rule choice on top of current. An empty
// name with a cutoff year selects year_gated. year_gated without a cutoff
// reuses current's cutoff when current is year_gated. A cutoff year is
// rejected for value_present, which has no use for it.
func OverrideRule(current OpeningRule, name string, cutoffYear int) (OpeningRule, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" && cutoffYear == 0 {
		return current, nil
	}
	if name == "" {
		name = RuleNameYearGated
	}

	switch name {
	case RuleNameValuePresent:
		if cutoffYear != 0 {
			return nil, fmt.Errorf("%w: value_present takes no cutoff year", generic.ErrInvalidRule)
		}
	case RuleNameYearGated:
		if yg, ok := current.(YearGatedRule); ok && cutoffYear == 0 {
			cutoffYear = yg.CutoffYear
		}
	}
	return ParseRule(name, cutoffYear)
}
