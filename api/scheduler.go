/*
scheduler.go - Scheduled billing worklist export

PURPOSE:
  Writes the monthly billing worklists to an .xlsx file on a cron
  schedule, so the payroll office gets its deduction list without anyone
  opening the API. The file is recomputed from the snapshot on every run;
  an export for the same month overwrites the previous one.

DESIGN:
  - robfig/cron with a configurable spec and time zone
  - One file per month: <dir>/tagihan-YYYY-MM.xlsx
  - Failures are logged; the next tick tries again

USAGE:
  exporter := api.NewBillingExporter(store, billing, "./exports", log)
  sched, err := api.NewExportScheduler("0 6 1 * *", "Asia/Jakarta", exporter, log)
  sched.Start()
  // ... later
  sched.Stop()

SEE ALSO:
  - handlers.go: GetBilling (same worklists on demand)
  - loan/billing.go: Worklist computation
*/
package api

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/koperasi/loan-ledger/generic"
	"github.com/koperasi/loan-ledger/loan"
	"github.com/koperasi/loan-ledger/sheet"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// BillingExporter writes the current worklists to disk.
type BillingExporter struct {
	Store   generic.SnapshotReader
	Billing *loan.Billing
	Dir     string
	Clock   generic.Clock

	log zerolog.Logger
}

func NewBillingExporter(store generic.SnapshotReader, billing *loan.Billing, dir string, log zerolog.Logger) *BillingExporter {
	return &BillingExporter{Store: store, Billing: billing, Dir: dir, Clock: generic.SystemClock, log: log}
}

// Export writes one workbook and returns its path.
func (e *BillingExporter) Export(ctx context.Context) (string, error) {
	members, err := e.Store.ListMembers(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list members: %w", err)
	}
	loans, err := e.Store.ListLoans(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list loans: %w", err)
	}
	lists := e.Billing.Worklists(members, loans)

	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export dir: %w", err)
	}
	path := filepath.Join(e.Dir, fmt.Sprintf("tagihan-%s.xlsx", e.Clock().Format("2006-01")))

	// temp file, then rename into place
	tmp, err := os.CreateTemp(e.Dir, ".tagihan-*.xlsx")
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := sheet.WriteXLSX(tmp, lists.Tables()...); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write workbook: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move export into place: %w", err)
	}

	e.log.Info().
		Str("path", path).
		Int("office", len(lists.Office)).
		Int("self_pay", len(lists.SelfPay)).
		Str("total", loan.Total(append(append([]loan.BillingLine{}, lists.Office...), lists.SelfPay...)).String()).
		Msg("billing worklists exported")
	return path, nil
}

// =============================================================================
// SCHEDULER
// =============================================================================

// ExportScheduler runs the exporter on a cron schedule.
type ExportScheduler struct {
	Spec     string
	Exporter *BillingExporter

	cron    *cron.Cron
	log     zerolog.Logger
	mu      sync.Mutex
	running bool
}

// NewExportScheduler validates spec and prepares the cron runner. An
// unknown time zone falls back to UTC.
func NewExportScheduler(spec, timeZone string, exporter *BillingExporter, log zerolog.Logger) (*ExportScheduler, error) {
	loc, err := time.LoadLocation(timeZone)
	if err != nil {
		log.Warn().Err(err).Str("time_zone", timeZone).Msg("invalid time zone, falling back to UTC")
		loc = time.UTC
	}

	s := &ExportScheduler{Spec: spec, Exporter: exporter, log: log}
	s.cron = cron.New(cron.WithLocation(loc))
	if _, err := s.cron.AddFunc(spec, s.RunNow); err != nil {
		return nil, fmt.Errorf("unable to schedule billing export %q: %w", spec, err)
	}
	return s, nil
}

func (s *ExportScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.log.Info().Str("spec", s.Spec).Time("next", s.NextRunTime()).Msg("billing export scheduler started")
}

// Stop waits for a running export to finish.
func (s *ExportScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.log.Info().Msg("billing export scheduler stopped")
}

// RunNow exports immediately (also the cron job body).
func (s *ExportScheduler) RunNow() {
	if _, err := s.Exporter.Export(context.Background()); err != nil {
		s.log.Error().Err(err).Msg("billing export failed")
	}
}

// NextRunTime returns when the next scheduled export will occur, or the
// zero time before Start.
func (s *ExportScheduler) NextRunTime() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
