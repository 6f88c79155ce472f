package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/louisbranch/kiosk.market/internal/platform/errors"
	"github.com/louisbranch/kiosk.market/internal/platform/id"
)

// BalanceBody is the persisted state of one account balance object.
type BalanceBody struct {
	Address Address `json:"address"`
	Amount  uint64  `json:"amount"`
}

// BalanceID derives the deterministic balance slot for an address.
func BalanceID(addr Address) ObjectID {
	return ObjectID(id.Derive("balance", string(addr)))
}

// Credit adds amount to the address's balance, creating the balance object
// on first use.
func Credit(ctx context.Context, tx Txn, addr Address, amount uint64) error {
	balanceID := BalanceID(addr)
	obj, err := tx.Get(ctx, balanceID)
	if err != nil {
		if errors.CodeOf(err) != errors.CodeNotFound {
			return err
		}
		body, err := json.Marshal(BalanceBody{Address: addr, Amount: amount})
		if err != nil {
			return fmt.Errorf("encode balance body: %w", err)
		}
		return tx.Create(ctx, Object{
			ID:    balanceID,
			Type:  TypeBalance,
			Owner: addr,
			Body:  body,
		})
	}

	var balance BalanceBody
	if err := json.Unmarshal(obj.Body, &balance); err != nil {
		return fmt.Errorf("decode balance body: %w", err)
	}
	balance.Amount += amount
	obj.Body, err = json.Marshal(balance)
	if err != nil {
		return fmt.Errorf("encode balance body: %w", err)
	}
	return tx.Update(ctx, obj)
}

// Debit removes amount from the address's balance. It fails with an
// INSUFFICIENT_FUNDS coded error when the balance cannot cover amount.
func Debit(ctx context.Context, tx Txn, addr Address, amount uint64) error {
	balanceID := BalanceID(addr)
	obj, err := tx.Get(ctx, balanceID)
	if err != nil {
		if errors.CodeOf(err) == errors.CodeNotFound {
			return insufficientFunds(addr, 0, amount)
		}
		return err
	}

	var balance BalanceBody
	if err := json.Unmarshal(obj.Body, &balance); err != nil {
		return fmt.Errorf("decode balance body: %w", err)
	}
	if balance.Amount < amount {
		return insufficientFunds(addr, balance.Amount, amount)
	}
	balance.Amount -= amount
	obj.Body, err = json.Marshal(balance)
	if err != nil {
		return fmt.Errorf("encode balance body: %w", err)
	}
	return tx.Update(ctx, obj)
}

// BalanceOf returns the address's current balance inside the transaction.
func BalanceOf(ctx context.Context, tx Txn, addr Address) (uint64, error) {
	obj, err := tx.Get(ctx, BalanceID(addr))
	if err != nil {
		if errors.CodeOf(err) == errors.CodeNotFound {
			return 0, nil
		}
		return 0, err
	}
	var balance BalanceBody
	if err := json.Unmarshal(obj.Body, &balance); err != nil {
		return 0, fmt.Errorf("decode balance body: %w", err)
	}
	return balance.Amount, nil
}

func insufficientFunds(addr Address, have, want uint64) error {
	return errors.WithMetadata(errors.CodeInsufficientFunds,
		fmt.Sprintf("balance %d cannot cover %d", have, want),
		map[string]string{"address": string(addr)},
	)
}
