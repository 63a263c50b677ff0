package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/stkledger/internal/domain"
)

// ledgerLockKey is the advisory lock that serializes ledger mutations across
// every process sharing the database.
const ledgerLockKey int64 = 0x73746b6c

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS ledger_transactions (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL,
		checkout_request_id TEXT,
		merchant_request_id TEXT,
		status TEXT NOT NULL,
		record JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS ledger_transactions_checkout_idx ON ledger_transactions (checkout_request_id)`,
	`CREATE INDEX IF NOT EXISTS ledger_transactions_merchant_idx ON ledger_transactions (merchant_request_id)`,
	`CREATE INDEX IF NOT EXISTS ledger_transactions_id_idx ON ledger_transactions (id)`,
	`CREATE TABLE IF NOT EXISTS callback_archive (
		id SMALLINT PRIMARY KEY CHECK (id = 1),
		payload BYTEA NOT NULL,
		saved_at TIMESTAMPTZ NOT NULL
	)`,
}

// NewPool opens and verifies a pgx connection pool.
func NewPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return pool, nil
}

// PostgresLedger is the ledger on a shared Postgres database.
type PostgresLedger struct {
	db     *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

func NewPostgresLedger(ctx context.Context, db *pgxpool.Pool, logger *slog.Logger) (*PostgresLedger, error) {
	for _, stmt := range postgresSchema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
	}
	return &PostgresLedger{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (l *PostgresLedger) Append(ctx context.Context, rec domain.TransactionRecord) error {
	tx, err := l.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	seqs, records, err := l.candidates(ctx, tx, true, rec.CheckoutRequestID, rec.MerchantRequestID)
	if err != nil {
		return err
	}
	records, idx, inserted := appendRecords(records, rec)
	if inserted {
		err = l.insert(ctx, tx, rec)
	} else {
		l.logger.Info("pending record folded into settled transaction", slog.String("id", records[idx].ID))
		err = l.update(ctx, tx, seqs[idx], records[idx])
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: tx commit failed: %v", ErrStoreWrite, err)
	}
	return nil
}

func (l *PostgresLedger) Upsert(ctx context.Context, u domain.CallbackUpdate) (*domain.TransactionRecord, error) {
	tx, err := l.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	seqs, records, err := l.candidates(ctx, tx, true, u.CorrelationIDs()...)
	if err != nil {
		return nil, err
	}

	now := l.now()
	idx := domain.ResolveIndex(records, u.CorrelationIDs()...)
	var merged domain.TransactionRecord
	if idx >= 0 {
		records[idx].Apply(u, now)
		merged = records[idx]
		if err := l.update(ctx, tx, seqs[idx], merged); err != nil {
			return nil, err
		}
	} else {
		merged = domain.NewRecordFromUpdate(u, now)
		if err := l.insert(ctx, tx, merged); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: tx commit failed: %v", ErrStoreWrite, err)
	}
	return &merged, nil
}

func (l *PostgresLedger) FindByID(ctx context.Context, id string) (*domain.TransactionRecord, error) {
	_, records, err := l.candidates(ctx, l.db, false, id)
	if err != nil {
		return nil, err
	}
	idx := domain.ResolveIndex(records, id)
	if idx < 0 {
		return nil, ErrNotFound
	}
	return &records[idx], nil
}

func (l *PostgresLedger) List(ctx context.Context) ([]domain.TransactionRecord, error) {
	records, err := l.scan(ctx, "SELECT seq, record FROM ledger_transactions ORDER BY seq")
	if err != nil {
		l.logger.Warn("ledger unreadable, serving empty list", slog.String("error", err.Error()))
		return []domain.TransactionRecord{}, nil
	}
	return records, nil
}

func (l *PostgresLedger) Latest(ctx context.Context) (*domain.TransactionRecord, error) {
	records, err := l.scan(ctx, "SELECT seq, record FROM ledger_transactions ORDER BY seq DESC LIMIT 1")
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return &records[0], nil
}

func (l *PostgresLedger) SaveRaw(ctx context.Context, raw []byte) error {
	_, err := l.db.Exec(ctx,
		`INSERT INTO callback_archive (id, payload, saved_at) VALUES (1, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, saved_at = EXCLUDED.saved_at`,
		raw, l.now(),
	)
	if err != nil {
		return fmt.Errorf("%w: callback archive: %v", ErrStoreWrite, err)
	}
	return nil
}

func (l *PostgresLedger) LoadRaw(ctx context.Context) ([]byte, error) {
	var raw []byte
	err := l.db.QueryRow(ctx, "SELECT payload FROM callback_archive WHERE id = 1").Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: callback archive: %v", ErrStoreRead, err)
	}
	return raw, nil
}

// begin opens a transaction holding the ledger advisory lock until commit.
func (l *PostgresLedger) begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("%w: tx begin failed: %v", ErrStoreWrite, err)
	}
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", ledgerLockKey); err != nil {
		tx.Rollback(ctx)
		return nil, fmt.Errorf("%w: lock acquisition failed: %v", ErrStoreWrite, err)
	}
	return tx, nil
}

func (l *PostgresLedger) insert(ctx context.Context, tx pgx.Tx, rec domain.TransactionRecord) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		"INSERT INTO ledger_transactions (id, checkout_request_id, merchant_request_id, status, record) VALUES ($1, $2, $3, $4, $5)",
		row.ID, row.CheckoutRequestID, row.MerchantRequestID, row.Status, row.Doc,
	)
	if err != nil {
		return fmt.Errorf("%w: insert %s: %v", ErrStoreWrite, rec.ID, err)
	}
	return nil
}

func (l *PostgresLedger) update(ctx context.Context, tx pgx.Tx, seq int64, rec domain.TransactionRecord) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		"UPDATE ledger_transactions SET id = $1, checkout_request_id = $2, merchant_request_id = $3, status = $4, record = $5, updated_at = now() WHERE seq = $6",
		row.ID, row.CheckoutRequestID, row.MerchantRequestID, row.Status, row.Doc, seq,
	)
	if err != nil {
		return fmt.Errorf("%w: update %s: %v", ErrStoreWrite, rec.ID, err)
	}
	return nil
}

type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (l *PostgresLedger) candidates(ctx context.Context, q pgQuerier, lock bool, ids ...string) ([]int64, []domain.TransactionRecord, error) {
	ids = nonEmpty(ids...)
	if len(ids) == 0 {
		return nil, nil, nil
	}

	query := "SELECT seq, record FROM ledger_transactions WHERE checkout_request_id = ANY($1) OR merchant_request_id = ANY($1) OR id = ANY($1) ORDER BY seq"
	if lock {
		query += " FOR UPDATE"
	}

	rows, err := q.Query(ctx, query, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStoreRead, err)
	}
	defer rows.Close()

	var (
		seqs    []int64
		records []domain.TransactionRecord
	)
	for rows.Next() {
		var (
			seq int64
			doc []byte
		)
		if err := rows.Scan(&seq, &doc); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrStoreRead, err)
		}
		rec, err := fromDoc(doc)
		if err != nil {
			return nil, nil, err
		}
		seqs = append(seqs, seq)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStoreRead, err)
	}
	return seqs, records, nil
}

func (l *PostgresLedger) scan(ctx context.Context, query string) ([]domain.TransactionRecord, error) {
	rows, err := l.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreRead, err)
	}
	defer rows.Close()

	records := []domain.TransactionRecord{}
	for rows.Next() {
		var (
			seq int64
			doc []byte
		)
		if err := rows.Scan(&seq, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreRead, err)
		}
		rec, err := fromDoc(doc)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreRead, err)
	}
	return records, nil
}
