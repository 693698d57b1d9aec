package querycache

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"taskboard/domain"
)

func newTestCache(t *testing.T, fetch Fetcher) *Cache {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	c := New(fetch, logger, time.Second)
	t.Cleanup(c.Close)
	return c
}

func TestFetchStoresResultAndNotifies(t *testing.T) {
	key := TasksKey("user-1")
	expected := []domain.Task{{ID: "t1", Title: "Write code"}}

	c := newTestCache(t, func(ctx context.Context, k Key) ([]domain.Task, error) {
		if k != key {
			t.Fatalf("unexpected key: %v", k)
		}
		return domain.CloneTasks(expected), nil
	})

	var notified atomic.Int32
	unsubscribe := c.Subscribe(key, func(Key) { notified.Add(1) })
	defer unsubscribe()

	tasks, err := c.Fetch(context.Background(), key)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !reflect.DeepEqual(tasks, expected) {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
	cached, ok := c.Get(key)
	if !ok || !reflect.DeepEqual(cached, expected) {
		t.Fatalf("unexpected cached tasks: %#v (loaded=%v)", cached, ok)
	}
	if notified.Load() < 2 {
		t.Fatalf("expected loading and loaded notifications, got %d", notified.Load())
	}
	if c.Loading(key) {
		t.Fatalf("expected fetch to be finished")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	key := TasksKey("user-1")
	c := newTestCache(t, func(context.Context, Key) ([]domain.Task, error) { return nil, nil })
	c.Set(key, []domain.Task{{ID: "t1", Title: "a"}})

	got, _ := c.Get(key)
	got[0].Title = "mutated"

	again, _ := c.Get(key)
	if again[0].Title != "a" {
		t.Fatalf("cache shares memory with caller: %q", again[0].Title)
	}
}

func TestCancelFetchDiscardsResult(t *testing.T) {
	key := TasksKey("user-1")
	release := make(chan struct{})
	started := make(chan struct{})

	c := newTestCache(t, func(ctx context.Context, k Key) ([]domain.Task, error) {
		close(started)
		<-release
		return []domain.Task{{ID: "stale"}}, nil
	})
	c.Set(key, []domain.Task{{ID: "optimistic"}})

	c.Invalidate(key)
	<-started
	c.CancelFetch(key)
	close(release)
	c.Wait()

	tasks, _ := c.Get(key)
	if len(tasks) != 1 || tasks[0].ID != "optimistic" {
		t.Fatalf("cancelled fetch overwrote the entry: %#v", tasks)
	}
}

func TestNewFetchSupersedesInflight(t *testing.T) {
	key := TasksKey("user-1")
	var calls atomic.Int32
	firstRelease := make(chan struct{})
	firstStarted := make(chan struct{})

	c := newTestCache(t, func(ctx context.Context, k Key) ([]domain.Task, error) {
		if calls.Add(1) == 1 {
			close(firstStarted)
			<-firstRelease
			return []domain.Task{{ID: "old"}}, nil
		}
		return []domain.Task{{ID: "new"}}, nil
	})

	c.Invalidate(key)
	<-firstStarted

	tasks, err := c.Fetch(context.Background(), key)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	close(firstRelease)
	c.Wait()

	if len(tasks) != 1 || tasks[0].ID != "new" {
		t.Fatalf("unexpected fetch result: %#v", tasks)
	}
	cached, _ := c.Get(key)
	if len(cached) != 1 || cached[0].ID != "new" {
		t.Fatalf("superseded fetch overwrote the entry: %#v", cached)
	}
}

func TestFetchErrorKeepsPreviousValue(t *testing.T) {
	key := TasksKey("user-1")
	boom := errors.New("boom")
	logger, hook := logtest.NewNullLogger()
	c := New(func(context.Context, Key) ([]domain.Task, error) { return nil, boom }, logger, time.Second)
	t.Cleanup(c.Close)
	c.Set(key, []domain.Task{{ID: "t1"}})

	if _, err := c.Fetch(context.Background(), key); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if !errors.Is(c.Err(key), boom) {
		t.Fatalf("expected Err to report the failure, got %v", c.Err(key))
	}
	tasks, _ := c.Get(key)
	if len(tasks) != 1 {
		t.Fatalf("failed fetch cleared the entry: %#v", tasks)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != log.WarnLevel {
		t.Fatalf("expected warning log, got %#v", entry)
	}
}

func TestSwapPassesVersion(t *testing.T) {
	key := TasksKey("user-1")
	c := newTestCache(t, func(context.Context, Key) ([]domain.Task, error) { return nil, nil })

	v1 := c.Set(key, []domain.Task{{ID: "t1"}})
	var seen uint64
	v2 := c.Swap(key, func(cur []domain.Task, version uint64) []domain.Task {
		seen = version
		return append(cur, domain.Task{ID: "t2"})
	})

	if seen != v1 || v2 != v1+1 || c.Version(key) != v2 {
		t.Fatalf("unexpected versions: v1=%d seen=%d v2=%d current=%d", v1, seen, v2, c.Version(key))
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	key := TasksKey("user-1")
	c := newTestCache(t, func(context.Context, Key) ([]domain.Task, error) { return nil, nil })

	var calls int
	unsubscribe := c.Subscribe(key, func(Key) { calls++ })
	c.Set(key, nil)
	unsubscribe()
	unsubscribe()
	c.Set(key, nil)

	if calls != 1 {
		t.Fatalf("expected 1 notification, got %d", calls)
	}
}

func TestRemoveDropsEntry(t *testing.T) {
	key := TasksKey("user-1")
	c := newTestCache(t, func(context.Context, Key) ([]domain.Task, error) { return nil, nil })
	c.Set(key, []domain.Task{{ID: "t1"}})

	c.Remove(key)

	if _, ok := c.Get(key); ok {
		t.Fatalf("expected entry to be removed")
	}
}

func TestSwapLoadedSkipsUnfetchedEntry(t *testing.T) {
	key := TasksKey("user-1")
	c := newTestCache(t, func(context.Context, Key) ([]domain.Task, error) { return nil, nil })

	called := false
	if _, ok := c.SwapLoaded(key, func(cur []domain.Task, _ uint64) []domain.Task {
		called = true
		return cur
	}); ok || called {
		t.Fatalf("expected missing entry to be skipped")
	}
	if _, ok := c.Get(key); ok {
		t.Fatalf("expected no entry to be created")
	}

	v1 := c.Set(key, []domain.Task{{ID: "t1"}})
	v2, ok := c.SwapLoaded(key, func(cur []domain.Task, _ uint64) []domain.Task {
		return append(cur, domain.Task{ID: "t2"})
	})
	tasks, _ := c.Get(key)
	if !ok || v2 != v1+1 || len(tasks) != 2 {
		t.Fatalf("expected loaded entry to be swapped: ok=%v v2=%d tasks=%#v", ok, v2, tasks)
	}
}
