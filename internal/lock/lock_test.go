package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testService(t *testing.T) (*Service, *InMemoryStore) {
	t.Helper()
	store := NewInMemoryStore()
	svc := NewService(store, WithBackoff(Backoff{
		Initial:    time.Millisecond,
		Max:        5 * time.Millisecond,
		Multiplier: 1.5,
	}))
	return svc, store
}

func TestWithLockMutualExclusion(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	var inside atomic.Int32
	var peak atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := svc.WithLock(ctx, "conv-1", time.Second, func(ctx context.Context) error {
				n := inside.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), peak.Load(), "two critical sections overlapped")
}

func TestAcquireSweepsExpiredRecord(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()

	// Simulate a holder that crashed without releasing.
	store.Put(Record{
		ResourceID: "conv-1",
		Token:      "stale",
		CreatedAt:  time.Now().Add(-2 * time.Minute),
		ExpiresAt:  time.Now().Add(-time.Minute),
	})

	token, err := svc.Acquire(ctx, "conv-1", time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.NotEqual(t, "stale", token)
}

func TestWithLockObservesConcurrentMutation(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	// Shared value standing in for the conversation record. The waiter
	// must see the holder's write, not a pre-wait snapshot.
	var mu sync.Mutex
	value := "before"
	read := func() string {
		mu.Lock()
		defer mu.Unlock()
		return value
	}
	write := func(v string) {
		mu.Lock()
		defer mu.Unlock()
		value = v
	}

	holderIn := make(chan struct{})
	holderGo := make(chan struct{})
	done := make(chan struct{})

	go func() {
		_ = svc.WithLock(ctx, "conv-1", time.Second, func(ctx context.Context) error {
			close(holderIn)
			<-holderGo
			write("after")
			return nil
		})
	}()

	<-holderIn
	_ = read() // stale snapshot taken while waiting; must not be reused

	var observed string
	go func() {
		_ = svc.WithLock(ctx, "conv-1", time.Second, func(ctx context.Context) error {
			observed = read()
			return nil
		})
		close(done)
	}()

	// Give the waiter time to block on the held lock before the holder
	// performs its mutation and releases.
	time.Sleep(5 * time.Millisecond)
	close(holderGo)
	<-done

	require.Equal(t, "after", observed)
}

func TestReleaseIsIdempotent(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	token, err := svc.Acquire(ctx, "conv-1", time.Second)
	require.NoError(t, err)

	svc.Release(ctx, "conv-1", token)
	svc.Release(ctx, "conv-1", token) // second release is a no-op

	// Lock must be free again.
	_, err = svc.Acquire(ctx, "conv-1", time.Second)
	require.NoError(t, err)
}

func TestAcquireHonorsContextDeadline(t *testing.T) {
	svc, _ := testService(t)

	_, err := svc.Acquire(context.Background(), "conv-1", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = svc.Acquire(ctx, "conv-1", time.Minute)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithLockReleasesOnError(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	wantErr := context.Canceled // any sentinel will do
	err := svc.WithLock(ctx, "conv-1", time.Second, func(ctx context.Context) error {
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)

	// The failing body must not leave the lock held.
	acquireCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = svc.Acquire(acquireCtx, "conv-1", time.Second)
	require.NoError(t, err)
}
