// Package deferred parks automated attempts that need a supervisor who is not
// currently available. Producers enqueue; draining the queue belongs to the
// consumer that resumes supervised work.
package deferred

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ppiankov/trustgate/internal/model"
)

// KeyPrefix namespaces deferred lists in Redis.
const KeyPrefix = "trustgate:deferred:"

// ErrInvalidExecution is returned for executions missing an ID or agent.
var ErrInvalidExecution = errors.New("deferred: execution id and agent id are required")

// Queue is implemented by MemoryQueue and RedisQueue.
type Queue interface {
	Enqueue(ctx context.Context, d model.DeferredExecution) error
	Pending(ctx context.Context, agentID, userID string) ([]model.DeferredExecution, error)
}

// Key returns the list key for an (agent, user) pair.
func Key(agentID, userID string) string {
	if userID == "" {
		userID = "_"
	}
	return KeyPrefix + agentID + ":" + userID
}

func validate(d model.DeferredExecution) error {
	if d.ID == "" || d.AgentID == "" {
		return ErrInvalidExecution
	}
	return nil
}

// MemoryQueue is an in-process queue for development and tests.
type MemoryQueue struct {
	mu    sync.Mutex
	lists map[string][]model.DeferredExecution
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{lists: make(map[string][]model.DeferredExecution)}
}

// Enqueue appends d to its (agent, user) list.
func (q *MemoryQueue) Enqueue(_ context.Context, d model.DeferredExecution) error {
	if err := validate(d); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	k := Key(d.AgentID, d.UserID)
	q.lists[k] = append(q.lists[k], d)
	return nil
}

// Pending returns the parked executions for an (agent, user) pair in order.
func (q *MemoryQueue) Pending(_ context.Context, agentID, userID string) ([]model.DeferredExecution, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]model.DeferredExecution(nil), q.lists[Key(agentID, userID)]...), nil
}

// Len returns the total number of parked executions.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, l := range q.lists {
		n += len(l)
	}
	return n
}

// RedisQueue stores deferred executions as JSON in Redis lists.
type RedisQueue struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisQueue wraps an existing client. ttl > 0 expires idle lists.
func NewRedisQueue(client redis.UniversalClient, ttl time.Duration) *RedisQueue {
	return &RedisQueue{client: client, ttl: ttl}
}

// OpenRedis connects to url (redis://...) and verifies the connection.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Enqueue RPUSHes d onto its (agent, user) list. One call writes exactly one
// element; there are no retries.
func (q *RedisQueue) Enqueue(ctx context.Context, d model.DeferredExecution) error {
	if err := validate(d); err != nil {
		return err
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode deferred execution: %w", err)
	}
	key := Key(d.AgentID, d.UserID)

	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	if q.ttl > 0 {
		pipe.Expire(ctx, key, q.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue %s: %w", key, err)
	}
	return nil
}

// Pending returns the parked executions for an (agent, user) pair without
// removing them.
func (q *RedisQueue) Pending(ctx context.Context, agentID, userID string) ([]model.DeferredExecution, error) {
	key := Key(agentID, userID)
	raw, err := q.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", key, err)
	}
	out := make([]model.DeferredExecution, 0, len(raw))
	for _, item := range raw {
		var d model.DeferredExecution
		if err := json.Unmarshal([]byte(item), &d); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, d)
	}
	return out, nil
}
