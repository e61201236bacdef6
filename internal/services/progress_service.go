package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"

	"flowhub/internal/models"
)

// ProgressService fans out execution snapshots to subscribers. Delivery is
// last-value-wins per subscriber: each subscriber holds a one-slot mailbox
// and a newer snapshot displaces an undelivered older one, so a slow
// consumer always observes the latest state and never an out-of-date one.
//
// With Redis configured, snapshots also publish to a per-execution channel
// so subscribers attached to a different instance than the one running the
// engine still receive updates. Messages from this instance are suppressed
// on receipt; local delivery already happened synchronously.
type ProgressService struct {
	redis      *RedisService
	instanceID string

	mu          sync.RWMutex
	subscribers map[string]map[string]*progressSubscriber

	// latest retains the newest snapshot per execution so a subscriber that
	// attaches mid-run gets current state immediately.
	latest *cache.Cache

	ctx    context.Context
	cancel context.CancelFunc
}

type progressSubscriber struct {
	ch chan *models.Execution
}

// progressMessage is the cross-instance wire format.
type progressMessage struct {
	InstanceID  string            `json:"instanceId"`
	ExecutionID string            `json:"executionId"`
	Snapshot    *models.Execution `json:"snapshot"`
}

// NewProgressService creates the publisher. redisService may be nil for
// single-node deployments.
func NewProgressService(redisService *RedisService) *ProgressService {
	ctx, cancel := context.WithCancel(context.Background())
	return &ProgressService{
		redis:       redisService,
		instanceID:  uuid.NewString(),
		subscribers: make(map[string]map[string]*progressSubscriber),
		latest:      cache.New(30*time.Minute, 10*time.Minute),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins listening for snapshots published by other instances.
// No-op without Redis.
func (s *ProgressService) Start() error {
	if s.redis == nil {
		log.Println("📡 [PROGRESS] Redis not configured, running in-process only")
		return nil
	}

	pubsub := s.redis.PSubscribe(s.ctx, "execution:*:progress")
	if _, err := pubsub.Receive(s.ctx); err != nil {
		return err
	}

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-s.ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				s.handleRemote(msg.Payload)
			}
		}
	}()

	log.Printf("✅ [PROGRESS] Listening for cross-instance updates (instance: %s)", s.instanceID)
	return nil
}

func (s *ProgressService) handleRemote(payload string) {
	var msg progressMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		log.Printf("⚠️ [PROGRESS] Failed to unmarshal remote snapshot: %v", err)
		return
	}
	if msg.InstanceID == s.instanceID || msg.Snapshot == nil {
		return
	}
	s.deliver(msg.ExecutionID, msg.Snapshot)
}

// Publish implements execution.ProgressSink. Called by the engine after
// every state change with a defensive copy of the execution.
func (s *ProgressService) Publish(executionID string, snapshot *models.Execution) {
	s.deliver(executionID, snapshot)

	if s.redis == nil {
		return
	}
	data, err := json.Marshal(progressMessage{
		InstanceID:  s.instanceID,
		ExecutionID: executionID,
		Snapshot:    snapshot,
	})
	if err != nil {
		log.Printf("⚠️ [PROGRESS] Failed to marshal snapshot for %s: %v", executionID, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.redis.Publish(ctx, "execution:"+executionID+":progress", data); err != nil {
		log.Printf("⚠️ [PROGRESS] Failed to publish snapshot for %s: %v", executionID, err)
	}
}

// deliver updates the latest-snapshot cache and each subscriber mailbox,
// displacing any undelivered older snapshot.
func (s *ProgressService) deliver(executionID string, snapshot *models.Execution) {
	s.latest.Set(executionID, snapshot, cache.DefaultExpiration)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subscribers[executionID] {
		select {
		case sub.ch <- snapshot:
		default:
			// Mailbox full: drop the stale snapshot, install the new one.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- snapshot:
			default:
			}
		}
	}
}

// Subscribe registers interest in one execution's progress. The returned
// channel carries snapshots, newest wins; if a snapshot already exists it
// is delivered immediately. Callers must Unsubscribe with the returned id.
func (s *ProgressService) Subscribe(executionID string) (string, <-chan *models.Execution) {
	sub := &progressSubscriber{ch: make(chan *models.Execution, 1)}
	subID := uuid.NewString()

	s.mu.Lock()
	if s.subscribers[executionID] == nil {
		s.subscribers[executionID] = make(map[string]*progressSubscriber)
	}
	s.subscribers[executionID][subID] = sub
	s.mu.Unlock()

	if cached, ok := s.latest.Get(executionID); ok {
		if snapshot, ok := cached.(*models.Execution); ok {
			// A concurrent deliver may have filled the mailbox already; in
			// that case its snapshot is newer than the cached one, so the
			// send must not block.
			select {
			case sub.ch <- snapshot:
			default:
			}
		}
	}
	return subID, sub.ch
}

// Unsubscribe removes a subscriber.
func (s *ProgressService) Unsubscribe(executionID, subID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if subs, ok := s.subscribers[executionID]; ok {
		delete(subs, subID)
		if len(subs) == 0 {
			delete(s.subscribers, executionID)
		}
	}
}

// Latest returns the newest known snapshot for an execution, if any.
func (s *ProgressService) Latest(executionID string) (*models.Execution, bool) {
	cached, ok := s.latest.Get(executionID)
	if !ok {
		return nil, false
	}
	snapshot, ok := cached.(*models.Execution)
	return snapshot, ok
}

// SubscriberCount reports active subscribers for an execution.
func (s *ProgressService) SubscriberCount(executionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers[executionID])
}

// Stop shuts down the cross-instance listener.
func (s *ProgressService) Stop() {
	s.cancel()
}
