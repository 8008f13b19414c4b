// Package badge carries the aggregate unread-conversation count to
// components outside the inbox core, such as a sidebar badge. The inbox
// publishes at most once per state change; subscribers only ever see the
// latest count.
package badge

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/mbeoliero/kit/log"
	"github.com/redis/go-redis/v9"
)

// Notifier receives the unread-conversation count whenever it changes.
type Notifier interface {
	Publish(ctx context.Context, unreadConversations int)
}

// Bus is an in-process Notifier fanning the count out to subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs []chan int
	last int
}

// NewBus creates a new Bus.
func NewBus() *Bus {
	return &Bus{last: -1}
}

// Subscribe returns a channel receiving unread counts. The channel is
// buffered; a slow subscriber drops intermediate counts, never blocks
// the publisher.
func (b *Bus) Subscribe() <-chan int {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan int, 16)
	if b.last >= 0 {
		ch <- b.last
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers the count to all subscribers.
func (b *Bus) Publish(ctx context.Context, unreadConversations int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.last = unreadConversations
	for _, ch := range b.subs {
		select {
		case ch <- unreadConversations:
		default:
			// Drain the stale count so the latest one always lands.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- unreadConversations:
			default:
			}
		}
	}
}

// Last returns the most recently published count, or -1 before the first
// publish.
func (b *Bus) Last() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last
}

// RedisNotifier is a Notifier that caches the count under a key and
// publishes it on a channel, so badge consumers in other processes or
// pages stay in sync.
type RedisNotifier struct {
	rdb       *redis.Client
	keyPrefix string
	adminId   int64
}

// NewRedisNotifier creates a new RedisNotifier.
func NewRedisNotifier(rdb *redis.Client, keyPrefix string, adminId int64) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, keyPrefix: keyPrefix, adminId: adminId}
}

func (n *RedisNotifier) cacheKey() string {
	return n.keyPrefix + "unread:" + strconv.FormatInt(n.adminId, 10)
}

func (n *RedisNotifier) channel() string {
	return n.keyPrefix + "unread_changed"
}

// Publish caches and broadcasts the count. Failures are logged and
// swallowed; the badge is advisory, never a source of truth.
func (n *RedisNotifier) Publish(ctx context.Context, unreadConversations int) {
	if n.rdb == nil {
		return
	}

	if err := n.rdb.Set(ctx, n.cacheKey(), unreadConversations, 24*time.Hour).Err(); err != nil {
		log.CtxWarn(ctx, "cache unread count failed: admin_id=%d, error=%v", n.adminId, err)
		return
	}
	if err := n.rdb.Publish(ctx, n.channel(), unreadConversations).Err(); err != nil {
		log.CtxDebug(ctx, "publish unread count failed: admin_id=%d, error=%v", n.adminId, err)
	}
}

// MultiNotifier fans one publish out to several notifiers.
type MultiNotifier []Notifier

// Publish delivers the count to every notifier.
func (m MultiNotifier) Publish(ctx context.Context, unreadConversations int) {
	for _, n := range m {
		n.Publish(ctx, unreadConversations)
	}
}
