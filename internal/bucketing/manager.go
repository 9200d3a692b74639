package bucketing

import (
	"hash"
	"sync"

	"github.com/spaolacci/murmur3"
)

// BucketingManager assigns string keys to a fixed number of buckets with
// murmur3, so the same key always lands in the same bucket.
type BucketingManager struct {
	buckets    int
	hasherPool sync.Pool
}

func NewBucketingManager(buckets int) *BucketingManager {
	if buckets <= 0 {
		buckets = 1
	}
	bm := &BucketingManager{buckets: buckets}

	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// GetBucket returns the bucket for key (0 to buckets-1).
func (bm *BucketingManager) GetBucket(key string) int {
	return int(bm.getHash(key) % uint64(bm.buckets))
}

func (bm *BucketingManager) Buckets() int {
	return bm.buckets
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}

// KeyLocker serialises work per key using a fixed set of striped mutexes.
// Distinct keys may share a stripe; the same key always does.
type KeyLocker struct {
	bucketing *BucketingManager
	stripes   []sync.Mutex
}

func NewKeyLocker(shards int) *KeyLocker {
	bm := NewBucketingManager(shards)
	return &KeyLocker{
		bucketing: bm,
		stripes:   make([]sync.Mutex, bm.Buckets()),
	}
}

// Lock acquires the stripe for key and returns its release function.
func (l *KeyLocker) Lock(key string) func() {
	m := &l.stripes[l.bucketing.GetBucket(key)]
	m.Lock()
	return m.Unlock
}

// WithLock runs fn while holding the stripe for key.
func (l *KeyLocker) WithLock(key string, fn func() error) error {
	unlock := l.Lock(key)
	defer unlock()
	return fn()
}
