package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/punchamoorthee/stkledger/internal/domain"
)

// FileLedger keeps the ledger as one JSON array document and the latest raw
// callback as a second document. Both are rewritten whole on every mutation.
type FileLedger struct {
	mu          sync.Mutex
	path        string
	archivePath string
	logger      *slog.Logger
	now         func() time.Time
}

func NewFileLedger(path, archivePath string, logger *slog.Logger) *FileLedger {
	return &FileLedger{
		path:        path,
		archivePath: archivePath,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (l *FileLedger) Append(ctx context.Context, rec domain.TransactionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load()
	if err != nil {
		return err
	}
	records, idx, inserted := appendRecords(records, rec)
	if !inserted {
		l.logger.Info("pending record folded into settled transaction", slog.String("id", records[idx].ID))
	}
	return l.save(records)
}

func (l *FileLedger) Upsert(ctx context.Context, u domain.CallbackUpdate) (*domain.TransactionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load()
	if err != nil {
		return nil, err
	}
	records, merged, _ := upsertRecords(records, u, l.now())
	if err := l.save(records); err != nil {
		return nil, err
	}
	return &merged, nil
}

func (l *FileLedger) FindByID(ctx context.Context, id string) (*domain.TransactionRecord, error) {
	records, err := l.load()
	if err != nil {
		return nil, err
	}
	idx := domain.ResolveIndex(records, id)
	if idx < 0 {
		return nil, ErrNotFound
	}
	return &records[idx], nil
}

func (l *FileLedger) List(ctx context.Context) ([]domain.TransactionRecord, error) {
	records, err := l.load()
	if err != nil {
		l.logger.Warn("ledger unreadable, serving empty list", slog.String("path", l.path), slog.String("error", err.Error()))
		return []domain.TransactionRecord{}, nil
	}
	return records, nil
}

func (l *FileLedger) Latest(ctx context.Context) (*domain.TransactionRecord, error) {
	records, err := l.load()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return &records[len(records)-1], nil
}

func (l *FileLedger) SaveRaw(ctx context.Context, raw []byte) error {
	if err := writeAtomic(l.archivePath, raw); err != nil {
		return fmt.Errorf("%w: callback archive: %v", ErrStoreWrite, err)
	}
	return nil
}

func (l *FileLedger) LoadRaw(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(l.archivePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: callback archive: %v", ErrStoreRead, err)
	}
	return data, nil
}

// load reads the whole collection. A missing or blank file is an empty ledger.
func (l *FileLedger) load() ([]domain.TransactionRecord, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []domain.TransactionRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreRead, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []domain.TransactionRecord{}, nil
	}

	var records []domain.TransactionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStoreRead, l.path, err)
	}
	if records == nil {
		records = []domain.TransactionRecord{}
	}
	return records, nil
}

func (l *FileLedger) save(records []domain.TransactionRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}
	if err := writeAtomic(l.path, data); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}
	return nil
}

// writeAtomic replaces path with data through a rename so readers never see
// a half-written document.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
