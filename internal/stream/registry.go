package stream

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jeontongju-dev/notification-service/internal/db"
)

// cacheCapPerRecipient bounds how many cached fan-out events are retained
// per recipient prefix. The oldest (lexically smallest, so chronologically
// first) entries are dropped once the cap is exceeded.
const cacheCapPerRecipient = 128

// Registry tracks live emitters and recently fanned-out events, keyed by
// composite connection id. Both maps tolerate arbitrary concurrent access
// from connection handlers and fan-out; each operation is atomic on its
// own, there is no registry-wide lock.
type Registry struct {
	emitters sync.Map // connection key -> *Emitter
	events   sync.Map // connection key -> *db.Notification
}

// NewRegistry creates an empty registry. One instance is constructed at
// process start and shared by every component that touches connections.
func NewRegistry() *Registry {
	return &Registry{}
}

// RecipientPrefix builds the key prefix scoping one recipient's
// connections: routingKey_recipientId.
func RecipientPrefix(routingKey string, recipientID int64) string {
	return fmt.Sprintf("%s_%d", routingKey, recipientID)
}

// Register stores the emitter under key, replacing any existing entry.
// Key uniqueness is the caller's job (keys embed a millisecond timestamp).
func (r *Registry) Register(key string, em *Emitter) *Emitter {
	r.emitters.Store(key, em)
	return em
}

// Remove drops the emitter registered under key. Removing an absent key is
// a no-op.
func (r *Registry) Remove(key string) {
	r.emitters.Delete(key)
}

// EmittersByPrefix returns every live emitter whose key starts with prefix.
// The result is a snapshot; connections registered concurrently may be
// missed, which is accepted best-effort fan-out semantics.
func (r *Registry) EmittersByPrefix(prefix string) map[string]*Emitter {
	found := make(map[string]*Emitter)
	r.emitters.Range(func(k, v any) bool {
		key := k.(string)
		if strings.HasPrefix(key, prefix) {
			found[key] = v.(*Emitter)
		}
		return true
	})
	return found
}

// CacheEvent records a fanned-out notification under the receiving
// connection's key so a reconnecting client can request replay.
func (r *Registry) CacheEvent(key string, notif *db.Notification) {
	r.events.Store(key, notif)
	r.evictOldest(key)
}

// CachedEventsByPrefix returns every cached event whose key starts with
// prefix.
func (r *Registry) CachedEventsByPrefix(prefix string) map[string]*db.Notification {
	found := make(map[string]*db.Notification)
	r.events.Range(func(k, v any) bool {
		key := k.(string)
		if strings.HasPrefix(key, prefix) {
			found[key] = v.(*db.Notification)
		}
		return true
	})
	return found
}

// RemoveAllForRecipient drops every connection registered under the
// recipient's prefix, e.g. when the member logs out.
func (r *Registry) RemoveAllForRecipient(routingKey string, recipientID int64) {
	prefix := RecipientPrefix(routingKey, recipientID)
	r.emitters.Range(func(k, v any) bool {
		key := k.(string)
		if strings.HasPrefix(key, prefix) {
			r.emitters.Delete(key)
		}
		return true
	})
}

// ActiveConnections counts live emitters across all recipients.
func (r *Registry) ActiveConnections() int {
	count := 0
	r.emitters.Range(func(k, v any) bool {
		count++
		return true
	})
	return count
}

// evictOldest trims the event cache for the recipient owning key down to
// cacheCapPerRecipient entries. Keys are routingKey_recipientId_millis, so
// the recipient prefix is everything before the last underscore and the
// lexically smallest keys are the oldest.
func (r *Registry) evictOldest(key string) {
	idx := strings.LastIndex(key, "_")
	if idx < 0 {
		return
	}
	prefix := key[:idx]

	var keys []string
	r.events.Range(func(k, v any) bool {
		if strings.HasPrefix(k.(string), prefix) {
			keys = append(keys, k.(string))
		}
		return true
	})
	if len(keys) <= cacheCapPerRecipient {
		return
	}

	sort.Strings(keys)
	for _, k := range keys[:len(keys)-cacheCapPerRecipient] {
		r.events.Delete(k)
	}
}
