package resync

import (
	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"
)

// ErrorStore is the durable mapping block_id -> ErrorCounter (spec §3 C5).
// No ordering requirement is placed on it, but it shares its buntdb backend
// type with ResyncQueue for consistency with the rest of the persisted
// state layout.
type ErrorStore struct {
	db *buntdb.DB
}

func openErrorStore(path string) (*ErrorStore, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open resync error store")
	}
	return &ErrorStore{db: db}, nil
}

func (s *ErrorStore) Close() error { return s.db.Close() }

// Get returns the counter for id, or ok=false if none exists.
func (s *ErrorStore) Get(id BlockID) (c ErrorCounter, ok bool, err error) {
	txErr := s.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(id.String())
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		decoded, err := DecodeErrorCounter([]byte(val))
		if err != nil {
			return err
		}
		c, ok = decoded, true
		return nil
	})
	if txErr != nil {
		return ErrorCounter{}, false, errors.Wrap(txErr, "get error counter")
	}
	return c, ok, nil
}

// Put persists c for id, overwriting any existing record.
func (s *ErrorStore) Put(id BlockID, c ErrorCounter) error {
	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(id.String(), string(c.Encode()), nil)
		return err
	})
	return errors.Wrap(err, "put error counter")
}

// Delete removes the counter for id. Deleting an absent id is not an error.
func (s *ErrorStore) Delete(id BlockID) error {
	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(id.String())
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
	return errors.Wrap(err, "delete error counter")
}

// Len is an approximate count, used for reporting (spec §6 errors_len).
func (s *ErrorStore) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *buntdb.Tx) error {
		var err error
		n, err = tx.Len()
		return err
	})
	return n, errors.Wrap(err, "count error store")
}
