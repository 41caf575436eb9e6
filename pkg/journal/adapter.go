// Copyright 2025 Certen Protocol

package journal

import (
	"bytes"

	dbm "github.com/cometbft/cometbft-db"
)

// DBAdapter wraps a cometbft-db dbm.DB and exposes the journal's KV
// interface. Writes use SetSync so an acknowledged append survives a
// crash immediately after.
type DBAdapter struct {
	db dbm.DB
}

// NewDBAdapter wraps db as a KV.
func NewDBAdapter(db dbm.DB) *DBAdapter {
	return &DBAdapter{db: db}
}

// OpenGoLevelDB opens (or creates) a goleveldb-backed journal at dir/name.
func OpenGoLevelDB(name, dir string) (*DBAdapter, error) {
	db, err := dbm.NewGoLevelDB(name, dir)
	if err != nil {
		return nil, err
	}
	return NewDBAdapter(db), nil
}

// Get implements KV.
func (a *DBAdapter) Get(key []byte) ([]byte, error) {
	v, err := a.db.Get(key)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Set implements KV, durably.
func (a *DBAdapter) Set(key, value []byte) error {
	return a.db.SetSync(key, value)
}

// Iterate walks every key with the given prefix in ascending order,
// stopping early if fn returns an error.
func (a *DBAdapter) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	end := prefixUpperBound(prefix)
	it, err := a.db.Iterator(prefix, end)
	if err != nil {
		return err
	}
	defer it.Close()

	for ; it.Valid(); it.Next() {
		k := append([]byte(nil), it.Key()...)
		v := append([]byte(nil), it.Value()...)
		if !bytes.HasPrefix(k, prefix) {
			break
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return it.Error()
}

// prefixUpperBound returns the smallest key strictly greater than every
// key with the given prefix, or nil if prefix is all 0xff bytes (meaning
// "no upper bound").
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// Close releases the underlying database.
func (a *DBAdapter) Close() error {
	return a.db.Close()
}
