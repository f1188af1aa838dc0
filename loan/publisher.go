/*
publisher.go - Snapshot replace

PURPOSE:
  Replaces the stored snapshot with a freshly reconciled one: delete every
  member, delete every loan record (payments go with them), then insert
  the new sets in chunks.

NON-ATOMIC BY DEFAULT:
  The stages run one after another against the store. If any of them
  fails the store is left partially replaced, and Publish returns a
  *generic.PartialPublishError naming the stage and chunk. There is no
  automatic rollback; the operator re-runs the import. Readers may see an
  empty or half-filled snapshot while a publish is in flight.

  With Config.AtomicPublish and a store implementing
  generic.TxSnapshotStore, the same stages run inside one transaction and
  a failure leaves the previous snapshot untouched.

CHUNKING:
  Chunk boundaries exist only to keep each insert under store payload
  limits. They carry no meaning.

CONFIRMATION:
  Publish is destructive. Callers (API, CLI) only reach it after an
  explicit confirm flag.
*/
package loan

import (
	"context"
	"errors"
	"fmt"

	"github.com/koperasi/loan-ledger/generic"
	"github.com/rs/zerolog"
)

type Publisher struct {
	store     generic.SnapshotWriter
	chunkSize int
	atomic    bool
	log       zerolog.Logger
}

func NewPublisher(store generic.SnapshotWriter, cfg Config, log zerolog.Logger) *Publisher {
	cfg = cfg.withDefaults()
	return &Publisher{store: store, chunkSize: cfg.ChunkSize, atomic: cfg.AtomicPublish, log: log}
}

type PublishResult struct {
	MembersDeleted int64
	LoansDeleted   int64
	MembersWritten int
	LoansWritten   int
	LoanIDs        []generic.LoanID // store-assigned, in input order
	Atomic         bool
}

// Publish replaces the snapshot with members and loans.
func (p *Publisher) Publish(ctx context.Context, members []generic.Member, loans []generic.LoanRecord) (*PublishResult, error) {
	if !p.atomic {
		res := &PublishResult{}
		if err := p.replace(ctx, p.store, members, loans, res); err != nil {
			p.log.Error().Err(err).Msg("snapshot partially replaced")
			return res, err
		}
		p.logDone(res)
		return res, nil
	}

	tx, ok := p.store.(generic.TxSnapshotStore)
	if !ok {
		return nil, fmt.Errorf("atomic publish: %w", generic.ErrStoreRequired)
	}

	res := &PublishResult{Atomic: true}
	err := tx.WithTx(ctx, func(w generic.SnapshotWriter) error {
		*res = PublishResult{Atomic: true}
		return p.replace(ctx, w, members, loans, res)
	})
	if err != nil {
		p.log.Error().Err(err).Msg("atomic publish rolled back")
		return nil, fmt.Errorf("publish rolled back, previous snapshot kept: %w", unwrapPartial(err))
	}
	p.logDone(res)
	return res, nil
}

func (p *Publisher) replace(ctx context.Context, w generic.SnapshotWriter, members []generic.Member, loans []generic.LoanRecord, res *PublishResult) error {
	partial := func(stage generic.PublishStage, chunk int, err error) error {
		return &generic.PartialPublishError{
			Stage:          stage,
			Chunk:          chunk,
			MembersWritten: res.MembersWritten,
			LoansWritten:   res.LoansWritten,
			Err:            err,
		}
	}

	n, err := w.DeleteAllMembers(ctx)
	if err != nil {
		return partial(generic.StageDeleteMembers, 0, err)
	}
	res.MembersDeleted = n

	n, err = w.DeleteAllLoans(ctx)
	if err != nil {
		return partial(generic.StageDeleteLoans, 0, err)
	}
	res.LoansDeleted = n

	for chunk, start := 0, 0; start < len(members); chunk, start = chunk+1, start+p.chunkSize {
		batch := members[start:min(start+p.chunkSize, len(members))]
		if err := w.InsertMembers(ctx, batch); err != nil {
			return partial(generic.StageInsertMembers, chunk, err)
		}
		res.MembersWritten += len(batch)
	}

	for chunk, start := 0, 0; start < len(loans); chunk, start = chunk+1, start+p.chunkSize {
		batch := loans[start:min(start+p.chunkSize, len(loans))]
		ids, err := w.InsertLoans(ctx, batch)
		if err != nil {
			return partial(generic.StageInsertLoans, chunk, err)
		}
		res.LoansWritten += len(batch)
		res.LoanIDs = append(res.LoanIDs, ids...)
	}
	return nil
}

func (p *Publisher) logDone(res *PublishResult) {
	p.log.Info().
		Int64("members_deleted", res.MembersDeleted).
		Int64("loans_deleted", res.LoansDeleted).
		Int("members_written", res.MembersWritten).
		Int("loans_written", res.LoansWritten).
		Bool("atomic", res.Atomic).
		Msg("snapshot published")
}

// unwrapPartial strips the partial-snapshot marker: inside a rolled back
// transaction nothing was partially replaced.
func unwrapPartial(err error) error {
	var pe *generic.PartialPublishError
	if errors.As(err, &pe) {
		return fmt.Errorf("%s chunk %d: %w", pe.Stage, pe.Chunk, pe.Err)
	}
	return err
}
