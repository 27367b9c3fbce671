package resync

import "sync"

// BusySet is the process-local exclusion set preventing two workers from
// claiming the same queue entry. It is never persisted -- membership is
// released unconditionally when a claim ends, by success, failure, or
// abort (spec §3, §4.5).
type BusySet struct {
	mu   sync.Mutex
	busy map[QueueKey]struct{}
}

func newBusySet() *BusySet {
	return &BusySet{busy: make(map[QueueKey]struct{})}
}

// TryClaim atomically claims key if it is not already claimed, returning
// whether the claim succeeded.
func (b *BusySet) TryClaim(key QueueKey) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.busy[key]; ok {
		return false
	}
	b.busy[key] = struct{}{}
	return true
}

// Release is idempotent: releasing a key that isn't claimed is a no-op.
func (b *BusySet) Release(key QueueKey) {
	b.mu.Lock()
	delete(b.busy, key)
	b.mu.Unlock()
}

// Claim is a scoped acquisition: Release() is guaranteed via defer at the
// caller, modeled on the rust source's BusyBlock/Drop pattern ("release is
// guaranteed by scoped acquisition ... regardless of how the iteration
// ends", spec §4.5). Go has no destructors, so the caller must defer
// claim.Release() immediately after a successful claim.
type Claim struct {
	key    QueueKey
	set    *BusySet
	active bool
}

// TryAcquire attempts to claim key, returning a Claim that releases key on
// Release() and ok=false if the key was already claimed.
func (b *BusySet) TryAcquire(key QueueKey) (Claim, bool) {
	if !b.TryClaim(key) {
		return Claim{}, false
	}
	return Claim{key: key, set: b, active: true}, true
}

// Release returns the key to the set. Safe to call more than once.
func (c *Claim) Release() {
	if !c.active {
		return
	}
	c.set.Release(c.key)
	c.active = false
}
