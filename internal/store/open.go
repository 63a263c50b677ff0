package store

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// LedgerStore is a ledger together with its callback archive.
type LedgerStore interface {
	Ledger
	CallbackArchive
}

type Options struct {
	Backend      string
	LedgerFile   string
	CallbackFile string
	SQLitePath   string
	DBSource     string
}

// Open builds the configured ledger backend. The returned func releases
// whatever connections the backend holds.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (LedgerStore, func(), error) {
	switch opts.Backend {
	case "", BackendFile:
		return NewFileLedger(opts.LedgerFile, opts.CallbackFile, logger), func() {}, nil

	case BackendSQLite:
		db, err := OpenSQLite(opts.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		l, err := NewSQLiteLedger(ctx, db, logger)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return l, func() { db.Close() }, nil

	case BackendPostgres:
		pool, err := NewPool(ctx, opts.DBSource)
		if err != nil {
			return nil, nil, err
		}
		l, err := NewPostgresLedger(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return l, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", opts.Backend)
	}
}
