package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/stkledger/internal/domain"
	"github.com/punchamoorthee/stkledger/internal/store"
)

func newTestApp(t *testing.T) *app {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &app{
		ledger: store.NewFileLedger(filepath.Join(dir, "tx.json"), filepath.Join(dir, "cb.json"), logger),
		logger: logger,
	}
}

func TestSimulateThenShow(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.ledger.Append(ctx, domain.TransactionRecord{ID: "ws_1", CheckoutRequestID: "ws_1", Amount: 50, Status: domain.StatusPending}))

	var out bytes.Buffer
	sim := a.simulateCmd()
	sim.SetOut(&out)
	sim.SetArgs([]string{"ws_1", "--receipt", "RCPT9"})
	require.NoError(t, sim.ExecuteContext(ctx))

	var rec domain.TransactionRecord
	require.NoError(t, json.Unmarshal(out.Bytes(), &rec))
	assert.Equal(t, domain.StatusCompleted, rec.Status)
	assert.Equal(t, "RCPT9", rec.MpesaReceiptNumber)
	assert.Equal(t, 50.0, rec.Amount)

	out.Reset()
	show := a.showCmd()
	show.SetOut(&out)
	show.SetArgs([]string{"ws_1"})
	require.NoError(t, show.ExecuteContext(ctx))
	assert.Contains(t, out.String(), `"mpesaReceiptNumber": "RCPT9"`)
}

func TestListFiltersByStatus(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.ledger.Append(ctx, domain.TransactionRecord{ID: "ws_1", Status: domain.StatusPending}))
	require.NoError(t, a.ledger.Append(ctx, domain.TransactionRecord{ID: "ws_2", Status: domain.StatusFailed}))

	var out bytes.Buffer
	list := a.listCmd()
	list.SetOut(&out)
	list.SetArgs([]string{"--status", "FAILED"})
	require.NoError(t, list.ExecuteContext(ctx))

	assert.Contains(t, out.String(), "ws_2")
	assert.NotContains(t, out.String(), "ws_1")
}

func TestShowUnknown(t *testing.T) {
	a := newTestApp(t)

	show := a.showCmd()
	show.SetOut(io.Discard)
	show.SetErr(io.Discard)
	show.SetArgs([]string{"nope"})
	err := show.ExecuteContext(context.Background())
	assert.ErrorIs(t, err, store.ErrNotFound)
}
