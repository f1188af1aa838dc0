/*
Package factory provides JSON to Go import profile conversion.

PURPOSE:
  Converts JSON import profiles into loan.Config and loan.BillingConfig.
  Every cooperative exports its rekap a little differently (the carried
  balance header changes every year, payment-method spellings differ), so
  the treasurer keeps one profile per workbook layout instead of asking for
  a code change.

JSON SCHEMA:
  {
    "name": "rekap-2026",
    "rule": "year_gated",
    "cutoff_year": 2026,
    "paid_tolerance": 1,
    "chunk_size": 100,
    "atomic_publish": false,
    "self_pay_markers": ["mandiri", "tunai"],
    "columns": {
      "carried_balance": ["sebelum th 2026"],
      "month_08": ["agst"]
    },
    "billing": {
      "tenor_months": 10,
      "monthly_service_rate": 0.01,
      "mandatory_savings": 50000
    }
  }

  Every key is optional. Column spellings are tried before the built-in
  aliases. Column keys are logical field names (see sheet.Field).

USAGE:
  f := factory.NewProfileFactory()
  profile, err := f.ParseProfile(jsonString)
  reconciler := loan.NewReconciler(profile.Loan, log)

SEE ALSO:
  - loan/types.go: Config
  - loan/rules.go: Opening rules selected by "rule"
  - config/config.go: The same profile embedded in the YAML config
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/koperasi/loan-ledger/generic"
	"github.com/koperasi/loan-ledger/loan"
	"github.com/koperasi/loan-ledger/sheet"
	"github.com/shopspring/decimal"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ProfileJSON is the JSON (and YAML) representation of an import profile.
type ProfileJSON struct {
	Name           string              `json:"name,omitempty" yaml:"name,omitempty"`
	Rule           string              `json:"rule,omitempty" yaml:"rule,omitempty" validate:"omitempty,oneof=value_present year_gated"`
	CutoffYear     int                 `json:"cutoff_year,omitempty" yaml:"cutoff_year,omitempty" validate:"omitempty,min=1900,max=2999"`
	PaidTolerance  *float64            `json:"paid_tolerance,omitempty" yaml:"paid_tolerance,omitempty" validate:"omitempty,gte=0"`
	ChunkSize      int                 `json:"chunk_size,omitempty" yaml:"chunk_size,omitempty" validate:"omitempty,min=1,max=10000"`
	AtomicPublish  bool                `json:"atomic_publish,omitempty" yaml:"atomic_publish,omitempty"`
	SelfPayMarkers []string            `json:"self_pay_markers,omitempty" yaml:"self_pay_markers,omitempty"`
	Columns        map[string][]string `json:"columns,omitempty" yaml:"columns,omitempty"`
	Billing        *BillingJSON        `json:"billing,omitempty" yaml:"billing,omitempty"`
}

// BillingJSON represents the billing constants.
type BillingJSON struct {
	TenorMonths        int      `json:"tenor_months,omitempty" yaml:"tenor_months,omitempty" validate:"omitempty,min=1"`
	MonthlyServiceRate *float64 `json:"monthly_service_rate,omitempty" yaml:"monthly_service_rate,omitempty" validate:"omitempty,gte=0,lt=1"`
	MandatorySavings   *float64 `json:"mandatory_savings,omitempty" yaml:"mandatory_savings,omitempty" validate:"omitempty,gte=0"`
}

// Profile is a parsed import profile.
type Profile struct {
	Name    string
	Loan    loan.Config
	Billing loan.BillingConfig
}

// =============================================================================
// PROFILE FACTORY
// =============================================================================

// ProfileFactory converts JSON profiles to Go structs.
type ProfileFactory struct{}

func NewProfileFactory() *ProfileFactory {
	return &ProfileFactory{}
}

// ParseProfile parses a JSON string into a Profile.
func (f *ProfileFactory) ParseProfile(jsonStr string) (*Profile, error) {
	var pj ProfileJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return nil, fmt.Errorf("failed to parse profile JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// LoadProfile reads a JSON profile from disk.
func (f *ProfileFactory) LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	return f.ParseProfile(string(data))
}

// FromJSON converts ProfileJSON to a Profile. Omitted keys keep the
// defaults of loan.DefaultConfig and loan.DefaultBillingConfig.
func (f *ProfileFactory) FromJSON(pj ProfileJSON) (*Profile, error) {
	rule, err := loan.ParseRule(pj.Rule, pj.CutoffYear)
	if err != nil {
		return nil, err
	}

	cfg := loan.DefaultConfig()
	cfg.Rule = rule
	cfg.AtomicPublish = pj.AtomicPublish
	if pj.PaidTolerance != nil {
		if *pj.PaidTolerance < 0 {
			return nil, fmt.Errorf("paid_tolerance must not be negative")
		}
		cfg.PaidTolerance = generic.NewAmount(*pj.PaidTolerance)
	}
	if pj.ChunkSize < 0 {
		return nil, fmt.Errorf("chunk_size must be positive")
	}
	if pj.ChunkSize > 0 {
		cfg.ChunkSize = pj.ChunkSize
	}
	if len(pj.SelfPayMarkers) > 0 {
		cfg.SelfPayMarkers = normalizeMarkers(pj.SelfPayMarkers)
	}

	extra, err := parseColumns(pj.Columns)
	if err != nil {
		return nil, err
	}
	if len(extra) > 0 {
		cfg.Aliases = cfg.Aliases.With(extra)
	}

	billing, err := parseBilling(pj.Billing)
	if err != nil {
		return nil, err
	}

	return &Profile{Name: pj.Name, Loan: cfg, Billing: billing}, nil
}

// ToJSON converts a Profile back to ProfileJSON. Column aliases are not
// written back; the profile only carries additions to the defaults.
func (f *ProfileFactory) ToJSON(p *Profile) ProfileJSON {
	pj := ProfileJSON{
		Name:           p.Name,
		ChunkSize:      p.Loan.ChunkSize,
		AtomicPublish:  p.Loan.AtomicPublish,
		SelfPayMarkers: p.Loan.SelfPayMarkers,
	}

	switch r := p.Loan.Rule.(type) {
	case loan.YearGatedRule:
		pj.Rule = loan.RuleNameYearGated
		pj.CutoffYear = r.CutoffYear
	case nil:
	default:
		pj.Rule = loan.RuleNameValuePresent
	}

	tol := p.Loan.PaidTolerance.Float64()
	pj.PaidTolerance = &tol

	rate, _ := p.Billing.MonthlyServiceRate.Float64()
	savings := p.Billing.MandatorySavings.Float64()
	pj.Billing = &BillingJSON{
		TenorMonths:        p.Billing.TenorMonths,
		MonthlyServiceRate: &rate,
		MandatorySavings:   &savings,
	}
	return pj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

var monthFieldPattern = regexp.MustCompile(`^month_(0[1-9]|1[0-2])$`)

func parseColumns(columns map[string][]string) (map[sheet.Field][]string, error) {
	known := sheet.DefaultAliases()
	out := make(map[sheet.Field][]string, len(columns))
	for key, names := range columns {
		field := sheet.Field(strings.ToLower(strings.TrimSpace(key)))
		if _, ok := known[field]; !ok && !monthFieldPattern.MatchString(string(field)) {
			return nil, fmt.Errorf("unknown column field %q", key)
		}
		for _, n := range names {
			if n = strings.TrimSpace(n); n != "" {
				out[field] = append(out[field], n)
			}
		}
	}
	return out, nil
}

func parseBilling(bj *BillingJSON) (loan.BillingConfig, error) {
	cfg := loan.DefaultBillingConfig()
	if bj == nil {
		return cfg, nil
	}
	if bj.TenorMonths < 0 {
		return cfg, fmt.Errorf("tenor_months must be positive")
	}
	if bj.TenorMonths > 0 {
		cfg.TenorMonths = bj.TenorMonths
	}
	if bj.MonthlyServiceRate != nil {
		if *bj.MonthlyServiceRate < 0 {
			return cfg, fmt.Errorf("monthly_service_rate must not be negative")
		}
		cfg.MonthlyServiceRate = decimal.NewFromFloat(*bj.MonthlyServiceRate)
	}
	if bj.MandatorySavings != nil {
		if *bj.MandatorySavings < 0 {
			return cfg, fmt.Errorf("mandatory_savings must not be negative")
		}
		cfg.MandatorySavings = generic.NewAmount(*bj.MandatorySavings)
	}
	return cfg, nil
}

func normalizeMarkers(markers []string) []string {
	out := make([]string, 0, len(markers))
	for _, m := range markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			out = append(out, m)
		}
	}
	return out
}
