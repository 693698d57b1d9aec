// Package mutation applies task writes optimistically to the query cache and
// reconciles the cache with the store once the write settles.
package mutation

import (
	"taskboard/domain"
	"taskboard/querycache"
)

type txState int

const (
	txOpen txState = iota
	txApplied
	txCommitted
	txReverted
)

// Transaction is one optimistic write against a cache entry:
// Begin, Apply, then Commit or Revert, then Settle.
type Transaction struct {
	cache *querycache.Cache
	key   querycache.Key
	ids   []string

	snapshot []domain.Task
	base     uint64
	applied  uint64
	skipped  bool
	state    txState
}

// Begin cancels the entry's in-flight fetch and snapshots the cached list. ids
// names the tasks the transaction will touch; Revert restores only those when
// the entry was written by someone else in the meantime.
func Begin(cache *querycache.Cache, key querycache.Key, ids ...string) *Transaction {
	cache.CancelFetch(key)
	snapshot, version, _ := cache.Lookup(key)
	return &Transaction{
		cache:    cache,
		key:      key,
		ids:      append([]string(nil), ids...),
		snapshot: snapshot,
		base:     version,
	}
}

// Snapshot returns a copy of the list as it was when the transaction began.
func (tx *Transaction) Snapshot() []domain.Task {
	return domain.CloneTasks(tx.snapshot)
}

// Apply edits the cached list synchronously. If another writer got in between
// Begin and Apply, the snapshot is retaken from the value being edited. An
// entry that has not been fetched yet is left alone so it keeps reporting
// as loading; Settle fetches it.
func (tx *Transaction) Apply(fn func([]domain.Task) []domain.Task) {
	if tx.state != txOpen {
		return
	}
	applied, ok := tx.cache.SwapLoaded(tx.key, func(cur []domain.Task, version uint64) []domain.Task {
		if version != tx.base {
			tx.snapshot = domain.CloneTasks(cur)
		}
		return fn(cur)
	})
	tx.applied, tx.skipped = applied, !ok
	tx.state = txApplied
}

// Commit keeps the applied change.
func (tx *Transaction) Commit() {
	if tx.state == txApplied {
		tx.state = txCommitted
	}
}

// Revert undoes the applied change. It restores the snapshot verbatim unless
// the entry changed after Apply, in which case only the transaction's own
// tasks are put back the way they were.
func (tx *Transaction) Revert() {
	if tx.state != txApplied {
		return
	}
	tx.state = txReverted
	if tx.skipped {
		return
	}
	tx.cache.Swap(tx.key, func(cur []domain.Task, version uint64) []domain.Task {
		if version == tx.applied {
			return domain.CloneTasks(tx.snapshot)
		}
		return restore(cur, tx.snapshot, tx.ids)
	})
}

// Settle schedules the reconciling refetch. Call it whatever the outcome.
func (tx *Transaction) Settle() {
	tx.cache.Invalidate(tx.key)
}

// restore puts the snapshot version of every id back into cur: changed tasks
// are replaced, deleted ones reinserted at their old position, and tasks that
// did not exist in the snapshot removed.
func restore(cur, snapshot []domain.Task, ids []string) []domain.Task {
	for _, id := range ids {
		was := domain.IndexOf(snapshot, id)
		now := domain.IndexOf(cur, id)
		switch {
		case was >= 0 && now >= 0:
			cur[now] = snapshot[was].Clone()
		case was >= 0:
			at := min(was, len(cur))
			cur = append(cur, domain.Task{})
			copy(cur[at+1:], cur[at:])
			cur[at] = snapshot[was].Clone()
		case now >= 0:
			cur = append(cur[:now], cur[now+1:]...)
		}
	}
	return cur
}
