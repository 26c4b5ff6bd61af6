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
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBusConfig configures a Redis-backed bus.
type RedisBusConfig struct {
	// Redis is the client used for pub/sub. Required.
	Redis *redis.Client

	// BufferSize overrides the per-subscriber channel capacity.
	// Zero means DefaultEventBufferSize.
	BufferSize int

	// Logger for delivery diagnostics. Nil means no logging.
	Logger *zap.Logger

	// Clock stamps connected events. Nil means time.Now.
	Clock func() time.Time
}

// RedisBus fans events out through Redis pub/sub, one channel per
// tenant. Publishers and subscribers may live in different processes;
// events published while no process is subscribed are dropped by
// Redis itself.
type RedisBus struct {
	rdb        *redis.Client
	bufferSize int
	logger     *zap.Logger
	clock      func() time.Time

	mu     sync.Mutex
	subs   map[string]func()
	closed atomic.Bool

	totalPublished atomic.Int64
	totalDropped   atomic.Int64
}

// NewRedisBus creates a Redis-backed bus.
func NewRedisBus(config RedisBusConfig) (*RedisBus, error) {
	if config.Redis == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultEventBufferSize
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &RedisBus{
		rdb:        config.Redis,
		bufferSize: config.BufferSize,
		logger:     config.Logger,
		clock:      config.Clock,
		subs:       make(map[string]func()),
	}, nil
}

// eventChannelKey returns the Redis pub/sub channel for a tenant.
func eventChannelKey(tenantID string) string {
	return fmt.Sprintf("atelier:events:%s", tenantID)
}

// Publish marshals the event and publishes it on the tenant's channel.
func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	if b.closed.Load() {
		return fmt.Errorf("event bus is closed")
	}
	if event.TenantID == "" {
		return fmt.Errorf("event has no tenant id")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = b.clock()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, eventChannelKey(event.TenantID), payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	b.totalPublished.Add(1)
	return nil
}

// Subscribe attaches to the tenant's Redis channel. The connected
// event is queued locally before Subscribe returns.
func (b *RedisBus) Subscribe(ctx context.Context, tenantID, userID string) (*Subscription, error) {
	if b.closed.Load() {
		return nil, fmt.Errorf("event bus is closed")
	}
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}

	ps := b.rdb.Subscribe(ctx, eventChannelKey(tenantID))
	// Force the subscription onto the wire before reporting attached.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to events: %w", err)
	}

	out := make(chan Event, b.bufferSize)
	out <- connectedEvent(tenantID, b.clock())

	id := fmt.Sprintf("%s-%d", tenantID, time.Now().UnixNano())

	go b.forward(ps, out, tenantID, userID, id)

	var once sync.Once
	closeFn := func() {
		once.Do(func() {
			_ = ps.Close()
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}

	b.mu.Lock()
	b.subs[id] = closeFn
	b.mu.Unlock()

	b.logger.Debug("subscriber attached",
		zap.String("subscription_id", id),
		zap.String("tenant_id", tenantID),
		zap.String("user_id", userID))

	return &Subscription{
		ID:       id,
		TenantID: tenantID,
		UserID:   userID,
		Channel:  out,
		closeFn:  closeFn,
	}, nil
}

// forward decodes wire messages into envelopes until the pub/sub
// connection closes. Malformed payloads are skipped.
func (b *RedisBus) forward(ps *redis.PubSub, out chan Event, tenantID, userID, subID string) {
	defer close(out)
	for msg := range ps.Channel() {
		var event Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			b.logger.Warn("dropping malformed event payload",
				zap.String("tenant_id", tenantID),
				zap.Error(err))
			continue
		}
		if !matchesUser(userID, event.UserID) {
			continue
		}
		select {
		case out <- event:
		default:
			b.totalDropped.Add(1)
			b.logger.Debug("dropped event for slow subscriber",
				zap.String("subscription_id", subID),
				zap.String("tenant_id", tenantID),
				zap.String("type", event.Type))
		}
	}
}

// Stats reports lifetime publish and drop counters for this process.
func (b *RedisBus) Stats() (published, dropped int64) {
	return b.totalPublished.Load(), b.totalDropped.Load()
}

// Close detaches every subscription opened through this bus. The Redis
// client itself is owned by the caller and stays open.
func (b *RedisBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.mu.Lock()
	closers := make([]func(), 0, len(b.subs))
	for _, fn := range b.subs {
		closers = append(closers, fn)
	}
	b.mu.Unlock()

	for _, fn := range closers {
		fn()
	}

	b.logger.Info("event bus closed", zap.Int("subscribers", len(closers)))
	return nil
}

var _ Bus = (*RedisBus)(nil)
