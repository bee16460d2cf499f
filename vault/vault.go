// Package vault implements the token transfer collaborator used by the
// lending engine. Balances live in the same key-value store as the ledger
// records; every transfer is balance-checked and applied under a single lock
// so no partial move is ever visible.
package vault

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"lendvault/native/lending"
	"lendvault/storage"
)

var (
	ErrInsufficientBalance = errors.New("vault: insufficient balance")
	ErrInvalidAmount       = errors.New("vault: amount must be positive")
	ErrBalanceOverflow     = errors.New("vault: balance overflow")
)

const balanceKeyPrefix = "balance/"

// Vault tracks per-holder token balances and satisfies the engine's
// TransferService interface.
type Vault struct {
	mu sync.Mutex
	db storage.Database
}

func New(db storage.Database) *Vault {
	return &Vault{db: db}
}

func balanceKey(asset lending.AssetID, holder lending.AccountRef) []byte {
	return []byte(balanceKeyPrefix + string(asset) + "/" + string(holder))
}

// Transfer moves amount of asset from one holder to another. It fails without
// side effects when the source balance is insufficient.
func (v *Vault) Transfer(from, to lending.AccountRef, asset lending.AssetID, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	fromBalance, err := v.balance(asset, from)
	if err != nil {
		return err
	}
	if fromBalance < amount {
		return fmt.Errorf("%w: %s holds %d of %s, need %d", ErrInsufficientBalance, from, fromBalance, asset, amount)
	}
	toBalance, err := v.balance(asset, to)
	if err != nil {
		return err
	}
	if toBalance+amount < toBalance {
		return ErrBalanceOverflow
	}

	if err := v.putBalance(asset, from, fromBalance-amount); err != nil {
		return err
	}
	return v.putBalance(asset, to, toBalance+amount)
}

// Mint credits newly issued tokens to a holder. Used at bootstrap and in
// tests; the lending engine itself never mints.
func (v *Vault) Mint(holder lending.AccountRef, asset lending.AssetID, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	balance, err := v.balance(asset, holder)
	if err != nil {
		return err
	}
	if balance+amount < balance {
		return ErrBalanceOverflow
	}
	return v.putBalance(asset, holder, balance+amount)
}

// Balance reports a holder's current balance for an asset.
func (v *Vault) Balance(holder lending.AccountRef, asset lending.AssetID) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balance(asset, holder)
}

func (v *Vault) balance(asset lending.AssetID, holder lending.AccountRef) (uint64, error) {
	raw, err := v.db.Get(balanceKey(asset, holder))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	balance, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode balance for %s/%s: %w", asset, holder, err)
	}
	return balance, nil
}

func (v *Vault) putBalance(asset lending.AssetID, holder lending.AccountRef, balance uint64) error {
	return v.db.Put(balanceKey(asset, holder), []byte(strconv.FormatUint(balance, 10)))
}
