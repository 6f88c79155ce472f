package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/louisbranch/kiosk.market/internal/ledger"
	"github.com/louisbranch/kiosk.market/internal/ledger/ledgertest"
	perrors "github.com/louisbranch/kiosk.market/internal/platform/errors"
)

func TestCreditCreatesBalanceOnFirstUse(t *testing.T) {
	t.Parallel()

	tx := ledgertest.NewTxn()
	ctx := context.Background()
	if err := ledger.Credit(ctx, tx, "0xbuyer", 500); err != nil {
		t.Fatalf("credit: %v", err)
	}
	amount, err := ledger.BalanceOf(ctx, tx, "0xbuyer")
	if err != nil {
		t.Fatalf("balance of: %v", err)
	}
	if amount != 500 {
		t.Fatalf("balance = %d, want 500", amount)
	}
}

func TestCreditAccumulates(t *testing.T) {
	t.Parallel()

	tx := ledgertest.NewTxn()
	ctx := context.Background()
	if err := ledger.Credit(ctx, tx, "0xbuyer", 100); err != nil {
		t.Fatalf("first credit: %v", err)
	}
	if err := ledger.Credit(ctx, tx, "0xbuyer", 50); err != nil {
		t.Fatalf("second credit: %v", err)
	}
	amount, err := ledger.BalanceOf(ctx, tx, "0xbuyer")
	if err != nil {
		t.Fatalf("balance of: %v", err)
	}
	if amount != 150 {
		t.Fatalf("balance = %d, want 150", amount)
	}
}

func TestDebitRejectsOverdraw(t *testing.T) {
	t.Parallel()

	tx := ledgertest.NewTxn()
	ctx := context.Background()
	if err := ledger.Credit(ctx, tx, "0xbuyer", 100); err != nil {
		t.Fatalf("credit: %v", err)
	}
	err := ledger.Debit(ctx, tx, "0xbuyer", 105)
	if !errors.Is(err, perrors.New(perrors.CodeInsufficientFunds, "")) {
		t.Fatalf("debit error = %v, want INSUFFICIENT_FUNDS", err)
	}
	amount, err := ledger.BalanceOf(ctx, tx, "0xbuyer")
	if err != nil {
		t.Fatalf("balance of: %v", err)
	}
	if amount != 100 {
		t.Fatalf("balance = %d, want 100 after rejected debit", amount)
	}
}

func TestDebitRejectsMissingBalance(t *testing.T) {
	t.Parallel()

	tx := ledgertest.NewTxn()
	err := ledger.Debit(context.Background(), tx, "0xnobody", 1)
	if !errors.Is(err, perrors.New(perrors.CodeInsufficientFunds, "")) {
		t.Fatalf("debit error = %v, want INSUFFICIENT_FUNDS", err)
	}
}

func TestBalanceIDIsDeterministic(t *testing.T) {
	t.Parallel()

	if ledger.BalanceID("0xbuyer") != ledger.BalanceID("0xbuyer") {
		t.Fatal("expected stable balance slot derivation")
	}
	if ledger.BalanceID("0xbuyer") == ledger.BalanceID("0xseller") {
		t.Fatal("expected distinct balance slots per address")
	}
}
