package resync

import (
	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"
)

// ResyncQueue is the time-ordered durable queue of (due_time, block_id)
// entries (spec §3 C4). It is backed by buntdb, an embedded ordered
// key/value store: buntdb's Ascend gives us exactly the
// lexicographically-ordered range iteration the QueueKey encoding depends
// on, with no secondary sort step.
type ResyncQueue struct {
	db *buntdb.DB
}

// openResyncQueue opens (or creates) the queue tree at path. Pass ":memory:"
// for an in-memory, non-persistent queue (used by tests and by embedders
// that persist elsewhere).
func openResyncQueue(path string) (*ResyncQueue, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open resync queue")
	}
	return &ResyncQueue{db: db}, nil
}

func (q *ResyncQueue) Close() error { return q.db.Close() }

// put inserts (QueueKey(when, id), id) into the queue. Duplicate-key
// inserts overwrite harmlessly.
func (q *ResyncQueue) put(key QueueKey, id BlockID) error {
	err := q.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key.hexKey(), id.String(), nil)
		return err
	})
	return errors.Wrap(err, "insert resync queue entry")
}

// EnqueueAt inserts block_id due at when_ms (ms since epoch), without
// signaling -- callers that want waiting workers woken use
// BlockResyncManager.EnqueueAt instead; this method is the pure storage
// primitive C6 uses internally when rewriting an entry.
func (q *ResyncQueue) EnqueueAt(id BlockID, whenMS uint64) error {
	return q.put(NewQueueKey(whenMS, id), id)
}

// Remove deletes the entry at key. Removing an absent key is not an error:
// buntdb's ErrNotFound is swallowed, matching the queue's tolerance for
// the crash-consistency "extra no-op iteration" case (spec §4.3).
func (q *ResyncQueue) Remove(key QueueKey) error {
	err := q.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key.hexKey())
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
	return errors.Wrap(err, "remove resync queue entry")
}

// Len is an approximate count, used for reporting (spec §6 queue_len).
func (q *ResyncQueue) Len() (int, error) {
	var n int
	err := q.db.View(func(tx *buntdb.Tx) error {
		var err error
		n, err = tx.Len()
		return err
	})
	return n, errors.Wrap(err, "count resync queue")
}

// QueueEntry is one (QueueKey, BlockID) pair yielded by IterFromEarliest.
// The BlockID duplicates the key tail (spec §3): redundancy simplifies
// iteration handlers that need only the id.
type QueueEntry struct {
	Key QueueKey
	ID  BlockID
}

// IterFromEarliest walks the queue in ascending (due_time, block_id) order,
// invoking visit for each entry. Returning false from visit stops iteration
// early. The entire walk happens inside one read transaction: it observes a
// consistent snapshot, but must not itself mutate the queue (buntdb
// forbids writes from within a View).
func (q *ResyncQueue) IterFromEarliest(visit func(QueueEntry) (cont bool, err error)) error {
	var iterErr error
	err := q.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(keyHex, valHex string) bool {
			key, err := queueKeyFromHex(keyHex)
			if err != nil {
				iterErr = err
				return false
			}
			id, err := BlockIDFromHex(valHex)
			if err != nil {
				iterErr = err
				return false
			}
			cont, err := visit(QueueEntry{Key: key, ID: id})
			if err != nil {
				iterErr = err
				return false
			}
			return cont
		})
	})
	if iterErr != nil {
		return iterErr
	}
	return errors.Wrap(err, "iterate resync queue")
}
