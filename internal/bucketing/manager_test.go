package bucketing

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBucketingManager_Deterministic(t *testing.T) {
	bm := NewBucketingManager(64)

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("+1555000%04d", i)
		bucket := bm.GetBucket(key)
		assert.Equal(t, bucket, bm.GetBucket(key))
		assert.GreaterOrEqual(t, bucket, 0)
		assert.Less(t, bucket, 64)
	}
}

func TestBucketingManager_NonPositiveBuckets(t *testing.T) {
	bm := NewBucketingManager(0)
	assert.Equal(t, 1, bm.Buckets())
	assert.Equal(t, 0, bm.GetBucket("anything"))
}

func TestKeyLocker_SerialisesSameKey(t *testing.T) {
	locker := NewKeyLocker(8)
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locker.WithLock("pass-1", func() error {
				current := counter
				counter = current + 1
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 200, counter)
}

func TestKeyLocker_WithLockReturnsError(t *testing.T) {
	locker := NewKeyLocker(4)
	err := locker.WithLock("k", func() error { return fmt.Errorf("boom") })
	assert.EqualError(t, err, "boom")

	unlock := locker.Lock("k")
	unlock()
}
