package lease

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestInMemoryManager_Exclusive(t *testing.T) {
	manager := NewInMemoryManager()

	held, ok, err := manager.Acquire(context.Background(), "saga-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}

	if _, ok, err := manager.Acquire(context.Background(), "saga-1", time.Minute); err != nil || ok {
		t.Fatalf("second acquire should lose: ok=%v err=%v", ok, err)
	}

	// A different saga is unaffected.
	other, ok, err := manager.Acquire(context.Background(), "saga-2", time.Minute)
	if err != nil || !ok {
		t.Fatalf("other saga acquire: ok=%v err=%v", ok, err)
	}
	_ = other.Release(context.Background())

	if err := held.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, err := manager.Acquire(context.Background(), "saga-1", time.Minute); err != nil || !ok {
		t.Fatalf("reacquire after release: ok=%v err=%v", ok, err)
	}
}

func TestInMemoryManager_ReleaseTwice(t *testing.T) {
	manager := NewInMemoryManager()

	held, ok, err := manager.Acquire(context.Background(), "saga-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	if err := held.Release(context.Background()); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := held.Release(context.Background()); err != nil {
		t.Fatalf("second release: %v", err)
	}
}

func newRedisManager(t *testing.T) (*RedisManager, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Fatalf("close client: %v", err)
		}
	})
	return NewRedisManager(client), mr
}

func TestRedisManager_Exclusive(t *testing.T) {
	manager, _ := newRedisManager(t)

	held, ok, err := manager.Acquire(context.Background(), "saga-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}

	if _, ok, err := manager.Acquire(context.Background(), "saga-1", time.Minute); err != nil || ok {
		t.Fatalf("second acquire should lose: ok=%v err=%v", ok, err)
	}

	if err := held.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, err := manager.Acquire(context.Background(), "saga-1", time.Minute); err != nil || !ok {
		t.Fatalf("reacquire after release: ok=%v err=%v", ok, err)
	}
}

func TestRedisManager_ExpiredLeaseIsReacquirable(t *testing.T) {
	manager, mr := newRedisManager(t)

	stale, ok, err := manager.Acquire(context.Background(), "saga-1", time.Second)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}

	mr.FastForward(2 * time.Second)

	fresh, ok, err := manager.Acquire(context.Background(), "saga-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after expiry: ok=%v err=%v", ok, err)
	}

	// The stale holder must not release the new owner's lease.
	if err := stale.Release(context.Background()); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if _, ok, _ := manager.Acquire(context.Background(), "saga-1", time.Minute); ok {
		t.Fatalf("fresh lease was stolen by stale release")
	}

	if err := fresh.Release(context.Background()); err != nil {
		t.Fatalf("fresh release: %v", err)
	}
}
