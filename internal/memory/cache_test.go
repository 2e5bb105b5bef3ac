package memory

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFactory() (ManagerFactory, *int) {
	built := 0
	factory := func(conversationID string, userRef uuid.UUID) *Manager {
		built++
		f := newFixture(Options{})
		f.manager.conversationID = conversationID
		f.manager.userRef = userRef
		return f.manager
	}
	return factory, &built
}

func TestCacheReusesManagerPerConversation(t *testing.T) {
	factory, built := testFactory()
	cache := NewManagerCache(factory, 10, time.Hour, nil)

	m1, release1 := cache.Acquire("conv-1", uuid.New())
	release1()
	m2, release2 := cache.Acquire("conv-1", uuid.New())
	release2()

	assert.Same(t, m1, m2)
	assert.Equal(t, 1, *built)
	assert.Equal(t, 1, cache.Len())
}

func TestCacheEvictsIdleManagers(t *testing.T) {
	factory, built := testFactory()
	cache := NewManagerCache(factory, 10, time.Minute, nil)

	current := time.Unix(1700000000, 0)
	cache.now = func() time.Time { return current }

	_, release := cache.Acquire("conv-1", uuid.New())
	release()
	require.Equal(t, 1, cache.Len())

	// Still warm just under the idle TTL.
	current = current.Add(59 * time.Second)
	_, release = cache.Acquire("conv-2", uuid.New())
	release()
	assert.Equal(t, 2, cache.Len())

	// conv-1 ages out; acquiring it again rebuilds it.
	current = current.Add(2 * time.Minute)
	_, release = cache.Acquire("conv-1", uuid.New())
	release()
	assert.Equal(t, 3, *built)
}

func TestCacheBoundEvictsLeastRecentlyUsed(t *testing.T) {
	factory, _ := testFactory()
	cache := NewManagerCache(factory, 2, time.Hour, nil)

	current := time.Unix(1700000000, 0)
	cache.now = func() time.Time { return current }

	_, release := cache.Acquire("conv-1", uuid.New())
	release()
	current = current.Add(time.Second)
	_, release = cache.Acquire("conv-2", uuid.New())
	release()
	current = current.Add(time.Second)
	_, release = cache.Acquire("conv-3", uuid.New())
	release()

	assert.Equal(t, 2, cache.Len())

	// conv-1 was the oldest idle entry, so it was the one dropped.
	mBefore, release := cache.Acquire("conv-2", uuid.New())
	release()
	mAgain, release := cache.Acquire("conv-2", uuid.New())
	release()
	assert.Same(t, mBefore, mAgain)
}

func TestCacheDoesNotEvictInFlightManagers(t *testing.T) {
	factory, _ := testFactory()
	cache := NewManagerCache(factory, 1, time.Hour, nil)

	m1, release1 := cache.Acquire("conv-1", uuid.New())

	// conv-1 is in flight: the bound grows rather than dropping it.
	_, release2 := cache.Acquire("conv-2", uuid.New())
	release2()
	assert.Equal(t, 2, cache.Len())

	release1()
	m1Again, release := cache.Acquire("conv-1", uuid.New())
	release()
	assert.Same(t, m1, m1Again)
}

func TestAcquireSerializesSameConversation(t *testing.T) {
	factory, _ := testFactory()
	cache := NewManagerCache(factory, 10, time.Hour, nil)

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, release := cache.Acquire("conv-1", uuid.New())
			defer release()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen, "at most one run may hold a conversation at a time")
}

func TestReleaseIsIdempotent(t *testing.T) {
	factory, _ := testFactory()
	cache := NewManagerCache(factory, 10, time.Hour, nil)

	_, release := cache.Acquire("conv-1", uuid.New())
	release()
	release()

	// A double release must not unlock someone else's run.
	_, release2 := cache.Acquire("conv-1", uuid.New())
	release2()
}
