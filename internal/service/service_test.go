package service

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/stkledger/internal/daraja"
	"github.com/punchamoorthee/stkledger/internal/domain"
	"github.com/punchamoorthee/stkledger/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLedger(t *testing.T) *store.FileLedger {
	t.Helper()
	dir := t.TempDir()
	return store.NewFileLedger(filepath.Join(dir, "transactions.json"), filepath.Join(dir, "stkcallback.json"), discardLogger())
}

func newIDs(t *testing.T) *IDGenerator {
	t.Helper()
	ids, err := NewIDGenerator(1)
	require.NoError(t, err)
	return ids
}

func testPaymentConfig() PaymentConfig {
	return PaymentConfig{
		ShortCode:      "174379",
		PassKey:        "passkey",
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		CallbackURL:    "http://localhost:5000/api/callback",
	}
}

// stubGateway answers with canned values and counts calls.
type stubGateway struct {
	token      string
	tokenErr   error
	push       *daraja.PushResponse
	pushErr    error
	tokenCalls int
	pushCalls  int
	lastPush   daraja.PushRequest
}

func (g *stubGateway) AccessToken(ctx context.Context) (string, error) {
	g.tokenCalls++
	return g.token, g.tokenErr
}

func (g *stubGateway) STKPush(ctx context.Context, token string, req daraja.PushRequest) (*daraja.PushResponse, error) {
	g.pushCalls++
	g.lastPush = req
	return g.push, g.pushErr
}

type recordingNotifier struct {
	completed []domain.TransactionRecord
}

func (n *recordingNotifier) PaymentCompleted(ctx context.Context, rec domain.TransactionRecord) error {
	n.completed = append(n.completed, rec)
	return nil
}
