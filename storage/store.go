package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"lendvault/native/lending"
)

const (
	bankKeyPrefix     = "bank/"
	positionKeyPrefix = "position/"
)

// LedgerStore persists bank and position records as JSON documents in a
// Database, implementing the engine's AccountStore boundary. Records decode
// into fresh values on every load, so callers never share mutable state.
type LedgerStore struct {
	db Database
}

func NewLedgerStore(db Database) *LedgerStore {
	return &LedgerStore{db: db}
}

func bankKey(asset lending.AssetID) []byte {
	return []byte(bankKeyPrefix + string(asset))
}

func positionKey(owner lending.AccountRef) []byte {
	return []byte(positionKeyPrefix + string(owner))
}

// LoadBank returns the bank for an asset, or nil when none has been created.
func (s *LedgerStore) LoadBank(asset lending.AssetID) (*lending.Bank, error) {
	raw, err := s.db.Get(bankKey(asset))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	bank := new(lending.Bank)
	if err := json.Unmarshal(raw, bank); err != nil {
		return nil, fmt.Errorf("decode bank %s: %w", asset, err)
	}
	return bank, nil
}

func (s *LedgerStore) SaveBank(bank *lending.Bank) error {
	if bank == nil {
		return fmt.Errorf("nil bank")
	}
	raw, err := json.Marshal(bank)
	if err != nil {
		return fmt.Errorf("encode bank %s: %w", bank.Asset, err)
	}
	return s.db.Put(bankKey(bank.Asset), raw)
}

// LoadPosition returns the position for an owner, or nil when the owner has
// never interacted with the protocol.
func (s *LedgerStore) LoadPosition(owner lending.AccountRef) (*lending.Position, error) {
	raw, err := s.db.Get(positionKey(owner))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	position := new(lending.Position)
	if err := json.Unmarshal(raw, position); err != nil {
		return nil, fmt.Errorf("decode position %s: %w", owner, err)
	}
	return position, nil
}

func (s *LedgerStore) SavePosition(position *lending.Position) error {
	if position == nil {
		return fmt.Errorf("nil position")
	}
	raw, err := json.Marshal(position)
	if err != nil {
		return fmt.Errorf("encode position %s: %w", position.Owner, err)
	}
	return s.db.Put(positionKey(position.Owner), raw)
}

// Commit writes the position and every touched bank in a single batch, so a
// crash between an executed transfer and persistence cannot leave one ledger
// half updated without the other.
func (s *LedgerStore) Commit(position *lending.Position, banks ...*lending.Bank) error {
	if position == nil {
		return fmt.Errorf("nil position")
	}
	entries := make([]Entry, 0, len(banks)+1)
	for _, bank := range banks {
		if bank == nil {
			return fmt.Errorf("nil bank")
		}
		raw, err := json.Marshal(bank)
		if err != nil {
			return fmt.Errorf("encode bank %s: %w", bank.Asset, err)
		}
		entries = append(entries, Entry{Key: bankKey(bank.Asset), Value: raw})
	}
	raw, err := json.Marshal(position)
	if err != nil {
		return fmt.Errorf("encode position %s: %w", position.Owner, err)
	}
	entries = append(entries, Entry{Key: positionKey(position.Owner), Value: raw})
	return s.db.PutBatch(entries)
}
