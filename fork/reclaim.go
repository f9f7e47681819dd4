package fork

import (
	"sync"

	"github.com/tux3fs/tux3/cache"
)

// List is the superblock-wide forked-buffers list (spec.md §5,
// "sb.forked_buffers_lock"): every buffer that doFork has unhashed
// lands here. DirtyFor moves the calling writer's own pin across to the
// clone, so a forked original typically reaches a zero count the
// instant it is forked, with only concurrent readers that grabbed it
// before the fork still holding it open. Reclaim only forgets about
// tracking an entry once its count has drained to zero; the writeback
// path (package dirty) is the one that eventually marks it CLEAN and
// runs it back through Cache.Put to return it to the pool proper. A
// forked original whose count reaches zero before writeback reaches it
// is not itself returned to the pool's free list by this list -
// reclaim here is bookkeeping, not allocation.
type List struct {
	mu   sync.Mutex
	head *cache.Buffer
	n    int
}

// NewList builds an empty forked-buffers list.
func NewList() *List {
	return &List{}
}

// push adds a freshly forked-out original to the list. Called by doFork
// once the original has been atomically replaced in its map's hash
// bucket.
func (l *List) push(b *cache.Buffer) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b.Lock()
	b.SetForkNextLocked(l.head)
	b.Unlock()
	l.head = b
	l.n++
}

// Len reports how many forked-out buffers are currently tracked,
// whether or not their references have drained yet.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

// Reclaim walks the list once, dropping entries whose references have
// already drained to zero (cache.Cache.Put freed them on its own, so
// they no longer need to be tracked here) and returns how many were
// dropped. Safe to call periodically or as a forced pass at unmount.
func (l *List) Reclaim() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		keep    *cache.Buffer
		keepTl  *cache.Buffer
		dropped int
	)
	for b := l.head; b != nil; {
		b.Lock()
		next := b.ForkNextLocked()
		drained := b.CountLocked() == 0
		if !drained {
			b.SetForkNextLocked(nil)
		}
		b.Unlock()

		if drained {
			dropped++
			b = next
			continue
		}
		if keepTl == nil {
			keep = b
		} else {
			keepTl.Lock()
			keepTl.SetForkNextLocked(b)
			keepTl.Unlock()
		}
		keepTl = b
		b = next
	}
	l.head = keep
	l.n -= dropped
	return dropped
}
