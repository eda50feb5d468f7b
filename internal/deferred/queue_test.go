package deferred

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/trustgate/internal/model"
)

func sample(agent, user string) model.DeferredExecution {
	return model.DeferredExecution{
		ID:               uuid.NewString(),
		AgentID:          agent,
		UserID:           user,
		TriggerSource:    model.SourceWorkflowEngine,
		TriggerType:      "update_record",
		TriggerContext:   map[string]any{"record": "r-1"},
		BlockedContextID: "b-1",
		EnqueuedAt:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "trustgate:deferred:a1:alice", Key("a1", "alice"))
	assert.Equal(t, "trustgate:deferred:a1:_", Key("a1", ""))
}

func TestMemoryQueue(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	first, second := sample("a1", "alice"), sample("a1", "alice")
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))
	require.NoError(t, q.Enqueue(ctx, sample("a1", "bob")))

	got, err := q.Pending(ctx, "a1", "alice")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, second.ID, got[1].ID)
	assert.Equal(t, 3, q.Len())

	assert.ErrorIs(t, q.Enqueue(ctx, model.DeferredExecution{}), ErrInvalidExecution)
}

// Runs only when TRUSTGATE_TEST_REDIS points at a disposable Redis.
func TestRedisQueue(t *testing.T) {
	url := os.Getenv("TRUSTGATE_TEST_REDIS")
	if url == "" {
		t.Skip("TRUSTGATE_TEST_REDIS not set")
	}
	ctx := context.Background()
	client, err := OpenRedis(ctx, url)
	require.NoError(t, err)
	defer client.Close()

	agent := "test-" + uuid.NewString()
	t.Cleanup(func() { client.Del(ctx, Key(agent, "alice")) })

	q := NewRedisQueue(client, time.Minute)
	d := sample(agent, "alice")
	require.NoError(t, q.Enqueue(ctx, d))

	got, err := q.Pending(ctx, agent, "alice")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, d.ID, got[0].ID)
	assert.Equal(t, "r-1", got[0].TriggerContext["record"])

	ttl, err := client.TTL(ctx, Key(agent, "alice")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestOpenRedisBadURL(t *testing.T) {
	_, err := OpenRedis(context.Background(), "not-a-url")
	assert.Error(t, err)
}
