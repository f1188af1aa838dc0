/*
importer.go - One import run, from loaded sheet to published snapshot

PURPOSE:
  Ties the reconciler and the publisher together the same way for the
  HTTP API and the CLI, and leaves an audit entry for every attempt:

    Preview: reconcile, record a "previewed" run, write nothing else
    Import:  reconcile, require confirmation, publish, record the outcome

RUN STATUS:
  published  every record was written
  partial    the store holds an incomplete snapshot (re-run the import)
  failed     nothing was replaced (atomic rollback, no reconciled rows,
             or an error before the first delete)
*/
package loan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/koperasi/loan-ledger/generic"
	"github.com/koperasi/loan-ledger/logger"
	"github.com/koperasi/loan-ledger/sheet"
	"github.com/rs/zerolog"
)

// ImportStore is what an import run writes to.
type ImportStore interface {
	generic.SnapshotWriter
	generic.ImportRunStore
}

// ErrNothingToImport is returned when no row of the sheet reconciled.
// The snapshot is left as it was.
var ErrNothingToImport = errors.New("no rows could be reconciled")

type Importer struct {
	store ImportStore
	cfg   Config
	log   zerolog.Logger
}

func NewImporter(store ImportStore, cfg Config, log zerolog.Logger) *Importer {
	return &Importer{store: store, cfg: cfg.withDefaults(), log: log}
}

// ImportResult is the outcome of one run. Publish is nil for previews and
// for runs that failed before publishing.
type ImportResult struct {
	Run     generic.ImportRun
	Report  *ImportReport
	Publish *PublishResult
}

// Preview reconciles s without touching the snapshot.
func (im *Importer) Preview(ctx context.Context, s *sheet.Sheet, fileName string) (*ImportResult, error) {
	runID, log := im.begin(fileName)
	started := im.cfg.Clock()

	report := NewReconciler(im.cfg, log).Reconcile(s)
	run := im.finish(report.Run(runID, fileName, generic.ImportPreviewed), started, nil)
	if err := im.store.SaveImportRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record import run: %w", err)
	}
	return &ImportResult{Run: run, Report: report}, nil
}

// Import reconciles s and, when confirmed, replaces the snapshot with it.
// Without confirmation nothing is reconciled or recorded.
func (im *Importer) Import(ctx context.Context, s *sheet.Sheet, fileName string, confirmed bool) (*ImportResult, error) {
	if !confirmed {
		return nil, generic.ErrPublishNotConfirmed
	}

	runID, log := im.begin(fileName)
	started := im.cfg.Clock()

	report := NewReconciler(im.cfg, log).Reconcile(s)
	for i := range report.Records {
		report.Records[i].ImportRunID = runID
	}

	var pub *PublishResult
	var pubErr error
	if report.Reconciled() == 0 {
		// An empty snapshot would wipe the ledger.
		pubErr = ErrNothingToImport
	} else {
		pub, pubErr = NewPublisher(im.store, im.cfg, log).Publish(ctx, report.Members, report.Records)
	}

	status := generic.ImportPublished
	switch {
	case generic.IsPartial(pubErr):
		status = generic.ImportPartial
	case pubErr != nil:
		status = generic.ImportFailed
	}
	run := im.finish(report.Run(runID, fileName, status), started, pubErr)

	if err := im.store.SaveImportRun(ctx, run); err != nil {
		log.Error().Err(err).Msg("failed to record import run")
		if pubErr == nil {
			pubErr = fmt.Errorf("snapshot published but the run was not recorded: %w", err)
		}
	}

	result := &ImportResult{Run: run, Report: report, Publish: pub}
	if pubErr == nil && pub != nil {
		for i, id := range pub.LoanIDs {
			result.Report.Records[i].ID = id
		}
	}
	return result, pubErr
}

func (im *Importer) begin(fileName string) (generic.ImportRunID, zerolog.Logger) {
	id := generic.ImportRunID(uuid.NewString())
	return id, logger.ForImport(im.log, string(id), fileName)
}

func (im *Importer) finish(run generic.ImportRun, started time.Time, err error) generic.ImportRun {
	completed := im.cfg.Clock()
	run.StartedAt = started
	run.CompletedAt = &completed
	if err != nil {
		run.Error = err.Error()
	}
	return run
}
