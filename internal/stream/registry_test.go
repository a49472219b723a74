package stream

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jeontongju-dev/notification-service/internal/db"
)

func TestRegistry_RegisterAndFindByPrefix(t *testing.T) {
	r := NewRegistry()

	em := NewEmitter("seller@jeontongju.shop_1_1700000000000", time.Minute)
	r.Register(em.ID(), em)

	prefixes := []string{
		"seller@jeontongju.shop",
		"seller@jeontongju.shop_1",
		"seller@jeontongju.shop_1_1700000000000",
	}
	for _, prefix := range prefixes {
		found := r.EmittersByPrefix(prefix)
		if len(found) != 1 {
			t.Fatalf("prefix %q: expected 1 emitter, got %d", prefix, len(found))
		}
		if found[em.ID()] != em {
			t.Errorf("prefix %q: wrong emitter returned", prefix)
		}
	}

	if found := r.EmittersByPrefix("seller@jeontongju.shop_2"); len(found) != 0 {
		t.Errorf("expected no emitters for other recipient, got %d", len(found))
	}
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()

	em := NewEmitter("a@b.c_1_1700000000000", time.Minute)
	r.Register(em.ID(), em)

	r.Remove(em.ID())
	r.Remove(em.ID()) // absent key is a no-op

	if found := r.EmittersByPrefix("a@b.c"); len(found) != 0 {
		t.Errorf("expected emitter removed, got %d", len(found))
	}
}

func TestRegistry_RegisterReplacesSameKey(t *testing.T) {
	r := NewRegistry()

	first := NewEmitter("a@b.c_1_1700000000000", time.Minute)
	second := NewEmitter("a@b.c_1_1700000000000", time.Minute)
	r.Register(first.ID(), first)
	r.Register(second.ID(), second)

	found := r.EmittersByPrefix("a@b.c_1")
	if len(found) != 1 {
		t.Fatalf("expected 1 emitter, got %d", len(found))
	}
	if found[second.ID()] != second {
		t.Error("expected the later registration to win")
	}
}

func TestRegistry_EventCache(t *testing.T) {
	r := NewRegistry()

	notif := &db.Notification{ID: 7, RecipientID: 1, Type: db.TypeOutOfStock}
	r.CacheEvent("a@b.c_1_1700000000001", notif)
	r.CacheEvent("a@b.c_2_1700000000002", &db.Notification{ID: 8, RecipientID: 2})

	found := r.CachedEventsByPrefix("a@b.c_1")
	if len(found) != 1 {
		t.Fatalf("expected 1 cached event, got %d", len(found))
	}
	if found["a@b.c_1_1700000000001"].ID != 7 {
		t.Error("wrong cached notification returned")
	}
}

func TestRegistry_RemoveAllForRecipient(t *testing.T) {
	r := NewRegistry()

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("a@b.c_1_%d", 1700000000000+i)
		r.Register(id, NewEmitter(id, time.Minute))
	}
	other := NewEmitter("x@y.z_9_1700000000000", time.Minute)
	r.Register(other.ID(), other)

	r.RemoveAllForRecipient("a@b.c", 1)

	if found := r.EmittersByPrefix("a@b.c_1"); len(found) != 0 {
		t.Errorf("expected all recipient connections removed, got %d", len(found))
	}
	if found := r.EmittersByPrefix("x@y.z_9"); len(found) != 1 {
		t.Errorf("expected other recipient untouched, got %d", len(found))
	}
}

func TestRegistry_CacheEviction(t *testing.T) {
	r := NewRegistry()

	total := cacheCapPerRecipient + 10
	for i := 0; i < total; i++ {
		key := fmt.Sprintf("a@b.c_1_%013d", 1700000000000+i)
		r.CacheEvent(key, &db.Notification{ID: int64(i), RecipientID: 1})
	}

	found := r.CachedEventsByPrefix("a@b.c_1")
	if len(found) != cacheCapPerRecipient {
		t.Fatalf("expected cache bounded at %d, got %d", cacheCapPerRecipient, len(found))
	}

	// The oldest entries must be the ones evicted.
	oldest := fmt.Sprintf("a@b.c_1_%013d", 1700000000000)
	if _, ok := found[oldest]; ok {
		t.Error("expected oldest cache entry to be evicted")
	}
	newest := fmt.Sprintf("a@b.c_1_%013d", 1700000000000+total-1)
	if _, ok := found[newest]; !ok {
		t.Error("expected newest cache entry to be retained")
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("user%d@b.c_%d_%d", i, i, 1700000000000+i)
			r.Register(key, NewEmitter(key, time.Minute))
			r.CacheEvent(key, &db.Notification{ID: int64(i)})
			r.EmittersByPrefix(fmt.Sprintf("user%d@b.c", i))
			r.Remove(key)
		}(i)
	}
	wg.Wait()

	if got := r.ActiveConnections(); got != 0 {
		t.Errorf("expected 0 active connections after churn, got %d", got)
	}
}
