package storage

import (
	"errors"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
)

// ErrKeyNotFound is returned by Get when a key has never been written.
var ErrKeyNotFound = errors.New("storage: key not found")

// Entry is one key-value pair in a batched write.
type Entry struct {
	Key   []byte
	Value []byte
}

// Database is a generic interface for a key-value store, allowing the ledger
// to run against an in-memory backend in tests and LevelDB in production.
// PutBatch applies all entries atomically: either every entry lands or none
// does.
type Database interface {
	Put(key []byte, value []byte) error
	PutBatch(entries []Entry) error
	Get(key []byte) ([]byte, error)
	Close()
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{
		data: make(map[string][]byte),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (db *MemDB) PutBatch(entries []Entry) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, entry := range entries {
		db.data[string(entry.Key)] = append([]byte(nil), entry.Value...)
	}
	return nil
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), value...), nil
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	// Nothing to close for an in-memory database.
}

// --- Persistent DB ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

// PutBatch applies all entries in one LevelDB write batch.
func (ldb *LevelDB) PutBatch(entries []Entry) error {
	batch := new(leveldb.Batch)
	for _, entry := range entries {
		batch.Put(entry.Key, entry.Value)
	}
	return ldb.db.Write(batch, nil)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	return value, err
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	ldb.db.Close()
}
