// Package resync drives eventual consistency of locally stored data blocks
// with cluster-wide replication requirements: a persistent time-ordered job
// queue, exponential-backoff error accounting, and a bounded pool of
// cooperating workers with an adjustable work/rest ratio.
/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package resync

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/pkg/errors"
)

// BlockID is an opaque 32-byte content identifier, totally ordered by byte
// comparison. Hex/base64 presentation is handled here; nothing upstream of
// the resync queue cares about the encoding.
type BlockID [32]byte

func (b BlockID) String() string { return hex.EncodeToString(b[:]) }

// BlockIDFromHex decodes the presentation form used by logs, traces, and
// (incidentally) buntdb keys back into a BlockID.
func BlockIDFromHex(s string) (BlockID, error) {
	var b BlockID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return b, errors.Wrap(err, "decode block id")
	}
	if len(raw) != len(b) {
		return b, errors.Errorf("block id must be %d bytes, got %d", len(b), len(raw))
	}
	copy(b[:], raw)
	return b, nil
}

// QueueKeyLen is the fixed 40-byte size of a QueueKey: an 8-byte big-endian
// due-time in milliseconds, followed by the 32-byte BlockID.
const QueueKeyLen = 8 + len(BlockID{})

// QueueKey is the (due_time, block_id) composite key of the resync queue.
// Its lexicographic byte order equals the (due_time, block_id) lexicographic
// order -- this is load-bearing: the queue iterator must deliver entries in
// due-time order (spec QueueKey invariant).
type QueueKey [QueueKeyLen]byte

// NewQueueKey packs a due-time (ms since epoch) and a block id into a
// QueueKey whose byte order matches (due_time, block_id) order.
func NewQueueKey(when uint64, id BlockID) QueueKey {
	var k QueueKey
	binary.BigEndian.PutUint64(k[0:8], when)
	copy(k[8:], id[:])
	return k
}

// When extracts the due-time component of the key.
func (k QueueKey) When() uint64 {
	return binary.BigEndian.Uint64(k[0:8])
}

// BlockID extracts the block id component of the key.
func (k QueueKey) BlockID() BlockID {
	var id BlockID
	copy(id[:], k[8:])
	return id
}

func (k QueueKey) hexKey() string { return hex.EncodeToString(k[:]) }

func queueKeyFromHex(s string) (QueueKey, error) {
	var k QueueKey
	raw, err := hex.DecodeString(s)
	if err != nil {
		return k, errors.Wrap(err, "decode queue key")
	}
	if len(raw) != QueueKeyLen {
		return k, errors.Errorf("queue key must be %d bytes, got %d", QueueKeyLen, len(raw))
	}
	copy(k[:], raw)
	return k, nil
}
