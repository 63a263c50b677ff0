package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/punchamoorthee/stkledger/internal/domain"

	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS ledger_transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		checkout_request_id TEXT,
		merchant_request_id TEXT,
		status TEXT NOT NULL,
		record TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ledger_transactions_checkout_idx ON ledger_transactions (checkout_request_id)`,
	`CREATE INDEX IF NOT EXISTS ledger_transactions_merchant_idx ON ledger_transactions (merchant_request_id)`,
	`CREATE INDEX IF NOT EXISTS ledger_transactions_id_idx ON ledger_transactions (id)`,
	`CREATE TABLE IF NOT EXISTS callback_archive (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		payload BLOB NOT NULL,
		saved_at DATETIME NOT NULL
	)`,
}

// OpenSQLite opens an embedded database. SQLite allows one writer, so the
// pool is pinned to a single connection (this also keeps ":memory:" databases
// shared across calls).
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// SQLiteLedger stores one row per record in insertion order.
type SQLiteLedger struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewSQLiteLedger(ctx context.Context, db *sql.DB, logger *slog.Logger) (*SQLiteLedger, error) {
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("sqlite schema: %w", err)
		}
	}
	return &SQLiteLedger{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (l *SQLiteLedger) Append(ctx context.Context, rec domain.TransactionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrStoreWrite, err)
	}
	defer tx.Rollback()

	seqs, records, err := l.candidates(ctx, tx, rec.CheckoutRequestID, rec.MerchantRequestID)
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

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrStoreWrite, err)
	}
	return nil
}

func (l *SQLiteLedger) Upsert(ctx context.Context, u domain.CallbackUpdate) (*domain.TransactionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ErrStoreWrite, err)
	}
	defer tx.Rollback()

	seqs, records, err := l.candidates(ctx, tx, u.CorrelationIDs()...)
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

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrStoreWrite, err)
	}
	return &merged, nil
}

func (l *SQLiteLedger) FindByID(ctx context.Context, id string) (*domain.TransactionRecord, error) {
	_, records, err := l.candidates(ctx, l.db, id)
	if err != nil {
		return nil, err
	}
	idx := domain.ResolveIndex(records, id)
	if idx < 0 {
		return nil, ErrNotFound
	}
	return &records[idx], nil
}

func (l *SQLiteLedger) List(ctx context.Context) ([]domain.TransactionRecord, error) {
	records, err := l.scan(ctx, "SELECT seq, record FROM ledger_transactions ORDER BY seq")
	if err != nil {
		l.logger.Warn("ledger unreadable, serving empty list", slog.String("error", err.Error()))
		return []domain.TransactionRecord{}, nil
	}
	return records, nil
}

func (l *SQLiteLedger) Latest(ctx context.Context) (*domain.TransactionRecord, error) {
	records, err := l.scan(ctx, "SELECT seq, record FROM ledger_transactions ORDER BY seq DESC LIMIT 1")
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return &records[0], nil
}

func (l *SQLiteLedger) SaveRaw(ctx context.Context, raw []byte) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO callback_archive (id, payload, saved_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at`,
		raw, l.now(),
	)
	if err != nil {
		return fmt.Errorf("%w: callback archive: %v", ErrStoreWrite, err)
	}
	return nil
}

func (l *SQLiteLedger) LoadRaw(ctx context.Context) ([]byte, error) {
	var raw []byte
	err := l.db.QueryRowContext(ctx, "SELECT payload FROM callback_archive WHERE id = 1").Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: callback archive: %v", ErrStoreRead, err)
	}
	return raw, nil
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (l *SQLiteLedger) insert(ctx context.Context, db sqlExecer, rec domain.TransactionRecord) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		"INSERT INTO ledger_transactions (id, checkout_request_id, merchant_request_id, status, record) VALUES (?, ?, ?, ?, ?)",
		row.ID, row.CheckoutRequestID, row.MerchantRequestID, row.Status, string(row.Doc),
	)
	if err != nil {
		return fmt.Errorf("%w: insert %s: %v", ErrStoreWrite, rec.ID, err)
	}
	return nil
}

func (l *SQLiteLedger) update(ctx context.Context, db sqlExecer, seq int64, rec domain.TransactionRecord) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		"UPDATE ledger_transactions SET id = ?, checkout_request_id = ?, merchant_request_id = ?, status = ?, record = ? WHERE seq = ?",
		row.ID, row.CheckoutRequestID, row.MerchantRequestID, row.Status, string(row.Doc), seq,
	)
	if err != nil {
		return fmt.Errorf("%w: update %s: %v", ErrStoreWrite, rec.ID, err)
	}
	return nil
}

// candidates loads, in insertion order, every row answering to any of ids
// through any identifier column. Resolution among them is left to the caller.
func (l *SQLiteLedger) candidates(ctx context.Context, q sqlQuerier, ids ...string) ([]int64, []domain.TransactionRecord, error) {
	ids = nonEmpty(ids...)
	if len(ids) == 0 {
		return nil, nil, nil
	}

	marks := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := fmt.Sprintf(
		"SELECT seq, record FROM ledger_transactions WHERE checkout_request_id IN (%[1]s) OR merchant_request_id IN (%[1]s) OR id IN (%[1]s) ORDER BY seq",
		marks,
	)
	args := make([]any, 0, 3*len(ids))
	for i := 0; i < 3; i++ {
		for _, id := range ids {
			args = append(args, id)
		}
	}

	rows, err := q.QueryContext(ctx, query, args...)
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
			doc string
		)
		if err := rows.Scan(&seq, &doc); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrStoreRead, err)
		}
		rec, err := fromDoc([]byte(doc))
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

func (l *SQLiteLedger) scan(ctx context.Context, query string) ([]domain.TransactionRecord, error) {
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreRead, err)
	}
	defer rows.Close()

	records := []domain.TransactionRecord{}
	for rows.Next() {
		var (
			seq int64
			doc string
		)
		if err := rows.Scan(&seq, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreRead, err)
		}
		rec, err := fromDoc([]byte(doc))
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
