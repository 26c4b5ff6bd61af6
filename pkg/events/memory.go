// Copyright 2026 Atelier
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultEventBufferSize is the per-subscriber channel capacity.
// A subscriber that falls more than this far behind loses events.
const DefaultEventBufferSize = 100

// MemoryBusConfig configures an in-process bus.
type MemoryBusConfig struct {
	// BufferSize overrides the per-subscriber channel capacity.
	// Zero means DefaultEventBufferSize.
	BufferSize int

	// Logger for delivery diagnostics. Nil means no logging.
	Logger *zap.Logger

	// Clock stamps connected events. Nil means time.Now.
	Clock func() time.Time
}

// memorySubscriber is one attached channel.
type memorySubscriber struct {
	id       string
	tenantID string
	userID   string
	channel  chan Event
}

// MemoryBus fans events out to in-process subscribers. Publish never
// blocks: a full subscriber buffer drops the event for that subscriber
// only.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*memorySubscriber // tenantID -> subID -> sub

	bufferSize int
	logger     *zap.Logger
	clock      func() time.Time

	closed atomic.Bool

	totalPublished atomic.Int64
	totalDelivered atomic.Int64
	totalDropped   atomic.Int64
}

// NewMemoryBus creates an in-process bus.
func NewMemoryBus(config MemoryBusConfig) *MemoryBus {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultEventBufferSize
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &MemoryBus{
		subscribers: make(map[string]map[string]*memorySubscriber),
		bufferSize:  config.BufferSize,
		logger:      config.Logger,
		clock:       config.Clock,
	}
}

// Publish delivers the event to every matching subscriber of the
// event's tenant. Events for tenants with no subscribers are dropped
// silently.
func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	if b.closed.Load() {
		return fmt.Errorf("event bus is closed")
	}
	if event.TenantID == "" {
		return fmt.Errorf("event has no tenant id")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = b.clock()
	}

	b.totalPublished.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	dropped := 0
	for _, sub := range b.subscribers[event.TenantID] {
		if !matchesUser(sub.userID, event.UserID) {
			continue
		}
		select {
		case sub.channel <- event:
			delivered++
		default:
			dropped++
			b.logger.Debug("dropped event for slow subscriber",
				zap.String("subscription_id", sub.id),
				zap.String("tenant_id", event.TenantID),
				zap.String("type", event.Type))
		}
	}

	b.totalDelivered.Add(int64(delivered))
	b.totalDropped.Add(int64(dropped))
	return nil
}

// Subscribe attaches a channel to the tenant. The connected event is
// queued before Subscribe returns, so it is always received first.
func (b *MemoryBus) Subscribe(ctx context.Context, tenantID, userID string) (*Subscription, error) {
	if b.closed.Load() {
		return nil, fmt.Errorf("event bus is closed")
	}
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}

	sub := &memorySubscriber{
		id:       fmt.Sprintf("%s-%d", tenantID, time.Now().UnixNano()),
		tenantID: tenantID,
		userID:   userID,
		channel:  make(chan Event, b.bufferSize),
	}

	b.mu.Lock()
	if b.subscribers[tenantID] == nil {
		b.subscribers[tenantID] = make(map[string]*memorySubscriber)
	}
	b.subscribers[tenantID][sub.id] = sub
	b.mu.Unlock()

	sub.channel <- connectedEvent(tenantID, b.clock())

	b.logger.Debug("subscriber attached",
		zap.String("subscription_id", sub.id),
		zap.String("tenant_id", tenantID),
		zap.String("user_id", userID))

	var once sync.Once
	return &Subscription{
		ID:       sub.id,
		TenantID: tenantID,
		UserID:   userID,
		Channel:  sub.channel,
		closeFn: func() {
			once.Do(func() { b.unsubscribe(sub) })
		},
	}, nil
}

func (b *MemoryBus) unsubscribe(sub *memorySubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tenant := b.subscribers[sub.tenantID]
	if tenant == nil {
		return
	}
	if _, ok := tenant[sub.id]; !ok {
		return
	}
	delete(tenant, sub.id)
	if len(tenant) == 0 {
		delete(b.subscribers, sub.tenantID)
	}
	close(sub.channel)

	b.logger.Debug("subscriber detached",
		zap.String("subscription_id", sub.id),
		zap.String("tenant_id", sub.tenantID))
}

// SubscriberCount reports the number of channels attached to a tenant.
func (b *MemoryBus) SubscriberCount(tenantID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[tenantID])
}

// Stats reports lifetime delivery counters.
func (b *MemoryBus) Stats() (published, delivered, dropped int64) {
	return b.totalPublished.Load(), b.totalDelivered.Load(), b.totalDropped.Load()
}

// Close shuts the bus down and closes all subscriber channels. It is
// safe to call more than once.
func (b *MemoryBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	count := 0
	for _, tenant := range b.subscribers {
		for _, sub := range tenant {
			close(sub.channel)
			count++
		}
	}
	b.subscribers = make(map[string]map[string]*memorySubscriber)

	b.logger.Info("event bus closed", zap.Int("subscribers", count))
	return nil
}

var _ Bus = (*MemoryBus)(nil)
