/*
Package loan reconciles cooperative loan spreadsheets into a ledger snapshot.

PURPOSE:
  This is the engine. It takes a loaded sheet, derives one LoanRecord per
  row, collapses member identities, and hands both sets to the publisher
  which replaces the stored snapshot. Billing worklists and per-member
  statements are computed from the same records.

DATA FLOW:
  sheet.Sheet
    -> Reconciler.Reconcile      one RowResult per row (record or skip)
    -> DeduplicateMembers        one Member per member number
    -> Publisher.Publish         delete-all, then chunked insert

KEY CONCEPTS IN THIS FILE (types.go):
  - Config: Everything a run needs, passed in at construction
  - RowResult: Explicit success-or-skip value for one row
  - ImportReport: Records, members, skips and unresolved columns of a run

SEE ALSO:
  - rules.go: Opening balance strategies
  - reconciler.go: The per-row algorithm
  - publisher.go: Snapshot replace
  - billing.go: Installment and worklists
*/
package loan

import (
	"github.com/koperasi/loan-ledger/generic"
	"github.com/koperasi/loan-ledger/sheet"
)

// =============================================================================
// CONFIG
// =============================================================================

// DefaultPaidTolerance is the outstanding balance, in rupiah, at or below
// which a loan counts as paid. It absorbs rounding left by text amounts.
const DefaultPaidTolerance = 1

const DefaultChunkSize = 100

// DefaultSelfPayMarkers mark a payment-method cell as self-pay.
var DefaultSelfPayMarkers = []string{"mandiri", "tunai", "cash", "self"}

type Config struct {
	Rule           OpeningRule
	PaidTolerance  generic.Amount
	ChunkSize      int
	AtomicPublish  bool
	SelfPayMarkers []string
	Aliases        sheet.Aliases
	Clock          generic.Clock
}

func DefaultConfig() Config {
	return Config{
		Rule:           ValuePresentRule{},
		PaidTolerance:  generic.NewAmountFromInt(DefaultPaidTolerance),
		ChunkSize:      DefaultChunkSize,
		SelfPayMarkers: DefaultSelfPayMarkers,
		Aliases:        sheet.DefaultAliases(),
		Clock:          generic.SystemClock,
	}
}

// withDefaults fills zero fields so a partially built Config still works.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Rule == nil {
		c.Rule = d.Rule
	}
	if c.PaidTolerance.Value.IsZero() && c.PaidTolerance.Currency == "" {
		c.PaidTolerance = d.PaidTolerance
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.SelfPayMarkers == nil {
		c.SelfPayMarkers = d.SelfPayMarkers
	}
	if c.Aliases == nil {
		c.Aliases = d.Aliases
	}
	if c.Clock == nil {
		c.Clock = d.Clock
	}
	return c
}

// =============================================================================
// RESULTS
// =============================================================================

// RowResult is exactly one of Record or Skip.
type RowResult struct {
	Record *generic.LoanRecord
	Skip   *generic.RowError
}

func (r RowResult) Skipped() bool { return r.Skip != nil }

// UnresolvedField is a logical column the sheet does not have.
type UnresolvedField struct {
	Field      sheet.Field `json:"field"`
	Suggestion string      `json:"suggestion,omitempty"`
}

type ImportReport struct {
	Rule       string
	TotalRows  int
	Records    []generic.LoanRecord
	Members    []generic.Member
	Skips      []generic.RowError
	Columns    map[sheet.Field]string
	Unresolved []UnresolvedField
}

// Reconciled is the number of rows that produced a record.
func (r *ImportReport) Reconciled() int { return len(r.Records) }

// Run summarizes the report as an import audit entry.
func (r *ImportReport) Run(id generic.ImportRunID, fileName string, status generic.ImportStatus) generic.ImportRun {
	return generic.ImportRun{
		ID:         id,
		FileName:   fileName,
		Rule:       r.Rule,
		TotalRows:  r.TotalRows,
		Reconciled: len(r.Records),
		Skipped:    len(r.Skips),
		Members:    len(r.Members),
		Status:     status,
	}
}
