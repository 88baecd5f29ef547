package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	_ "github.com/lib/pq"

	"github.com/R3E-Network/liquidity_layer/internal/app/domain/gasbank"
	"github.com/R3E-Network/liquidity_layer/internal/app/domain/peer"
	"github.com/R3E-Network/liquidity_layer/internal/app/domain/request"
	"github.com/R3E-Network/liquidity_layer/internal/app/storage"
)

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := New(db)
	ctx := context.Background()

	req, err := store.CreateRequest(ctx, request.Request{
		Buyer: "alice",
		Item:  request.Item{Collection: "punks", TokenID: "42"},
		Funds: []request.Fund{
			{Domain: "linea", Token: "usdc", Amount: 60, Settled: true},
			{Domain: "mumbai", Token: "usdc", Amount: 40},
		},
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if req.ID == 0 {
		t.Fatalf("expected assigned request id")
	}
	if req.ReceivedTotal != 0 || req.Fulfilled {
		t.Fatalf("unexpected initial state %#v", req)
	}

	got, outcome, err := store.SettleFund(ctx, req.ID, 1, 40)
	if err != nil {
		t.Fatalf("settle fund: %v", err)
	}
	if !outcome.BecameFulfilled || !got.Fulfilled || got.ReceivedTotal != 40 {
		t.Fatalf("unexpected settle result %#v %#v", outcome, got)
	}

	got, outcome, err = store.SettleFund(ctx, req.ID, 1, 40)
	if err != nil {
		t.Fatalf("duplicate settle: %v", err)
	}
	if !outcome.AlreadySettled || got.ReceivedTotal != 40 {
		t.Fatalf("duplicate settle must be a no-op: %#v %#v", outcome, got)
	}

	if _, err := store.SetPeer(ctx, peer.Peer{Domain: "mumbai", Address: "agg-mumbai"}); err != nil {
		t.Fatalf("set peer: %v", err)
	}
	p, err := store.GetPeer(ctx, "mumbai")
	if err != nil || p.Address != "agg-mumbai" {
		t.Fatalf("get peer: %v %#v", err, p)
	}
	if err := store.DeletePeer(ctx, "mumbai"); err != nil {
		t.Fatalf("delete peer: %v", err)
	}
	if _, err := store.GetPeer(ctx, "mumbai"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	if _, err := store.CreateGasTransaction(ctx, gasbank.Transaction{Kind: gasbank.KindDeposit, Amount: 10}); err != nil {
		t.Fatalf("gas deposit: %v", err)
	}
	if _, err := store.CreateGasTransaction(ctx, gasbank.Transaction{Kind: gasbank.KindPayment, Amount: 25}); !errors.Is(err, storage.ErrGasBalanceExceeded) {
		t.Fatalf("expected ErrGasBalanceExceeded, got %v", err)
	}
}
