// Package store opens the configured Store backend.
package store

import (
	"context"
	"fmt"

	"github.com/koperasi/loan-ledger/config"
	"github.com/koperasi/loan-ledger/generic"
	memstore "github.com/koperasi/loan-ledger/generic/store"
	"github.com/koperasi/loan-ledger/store/postgres"
	"github.com/koperasi/loan-ledger/store/sqlite"
)

// Open connects to the backend named by cfg.Driver. The memory backend is
// transactional so atomic publishing works against it too.
func Open(ctx context.Context, cfg config.StoreConfig) (generic.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverMemory:
		return memstore.NewTxMemory(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
