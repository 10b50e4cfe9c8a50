package locks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/vendorhub-backend/pkg/errors"
)

func TestLocalLockerSerializesSameKey(t *testing.T) {
	locker := NewLocalLocker(0)
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), "order:1", func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					cur := atomic.LoadInt32(&maxInside)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Empty(t, locker.slots)
}

func TestLocalLockerTimesOutWithConflict(t *testing.T) {
	locker := NewLocalLocker(20 * time.Millisecond)
	held := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = locker.WithLock(context.Background(), "seller:1", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := locker.WithLock(context.Background(), "seller:1", func(context.Context) error { return nil })
	close(release)

	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonLockTimeout))
}

func TestLocalLockerIndependentKeys(t *testing.T) {
	locker := NewLocalLocker(time.Second)
	err := locker.WithLock(context.Background(), "cart:a", func(ctx context.Context) error {
		return locker.WithLock(ctx, "cart:b", func(context.Context) error { return nil })
	})
	require.NoError(t, err)
}

func TestRedisLockerAcquiresAndReleases(t *testing.T) {
	store := newFakeStore()
	locker, err := NewRedisLocker(store, time.Second, 30*time.Millisecond, nil)
	require.NoError(t, err)
	locker.retry = 5 * time.Millisecond

	key := OrderKey(uuid.New())
	err = locker.WithLock(context.Background(), key, func(context.Context) error {
		_, held := store.data["vh:lock:"+key]
		assert.True(t, held)

		inner := locker.WithLock(context.Background(), key, func(context.Context) error { return nil })
		assert.True(t, pkgerrors.HasReason(inner, pkgerrors.ReasonLockTimeout))
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, store.data)
}

type fakeStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]string{}}
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = value.(string)
	return true, nil
}

func (f *fakeStore) CompareAndDelete(_ context.Context, key, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data[key] != token {
		return false, nil
	}
	delete(f.data, key)
	return true, nil
}

func (f *fakeStore) LockKey(name string) string {
	return "vh:lock:" + name
}
