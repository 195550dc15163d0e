package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"attention-monitor/internal/classifier"
	"attention-monitor/internal/models"
	"attention-monitor/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeKVStore 内存 KV（TTL + 故障注入）
type fakeKVStore struct {
	mu      sync.Mutex
	data    map[string]fakeKVItem
	failErr error
}

type fakeKVItem struct {
	value   string
	expires time.Time // zero = no ttl
}

func newFakeKVStore() *fakeKVStore {
	return &fakeKVStore{data: make(map[string]fakeKVItem)}
}

func (f *fakeKVStore) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return "", f.failErr
	}

	item, ok := f.data[key]
	if !ok {
		return "", store.ErrCacheMiss
	}
	if !item.expires.IsZero() && time.Now().After(item.expires) {
		delete(f.data, key)
		return "", store.ErrCacheMiss
	}
	return item.value, nil
}

func (f *fakeKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}

	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	f.data[key] = fakeKVItem{value: value, expires: exp}
	return nil
}

func (f *fakeKVStore) Del(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	delete(f.data, key)
	return nil
}

func (f *fakeKVStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}

	item, ok := f.data[key]
	if !ok || (!item.expires.IsZero() && time.Now().After(item.expires)) {
		delete(f.data, key)
		return store.ErrCacheMiss
	}
	item.expires = time.Now().Add(ttl)
	f.data[key] = item
	return nil
}

func TestStatusCache_WithFakeKV(t *testing.T) {
	kv := newFakeKVStore()
	cache := store.NewStatusCache(kv, "attention:participant:", ":status", 0, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, cache.UpdateStatus(ctx, &models.ParticipantStatus{ParticipantID: "p-1", Status: "no_face", Confidence: 0.80}))

	status, err := cache.GetStatus(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "no_face", status.Status)
	assert.Equal(t, "attention:participant:p-1:status", cache.Key("p-1"))
}

func TestStatusCache_BackendError(t *testing.T) {
	kv := newFakeKVStore()
	cache := store.NewStatusCache(kv, "attention:participant:", ":status", time.Minute, zap.NewNop())
	kv.failErr = errors.New("connection refused")
	ctx := context.Background()

	err := cache.UpdateStatus(ctx, &models.ParticipantStatus{ParticipantID: "p-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to set status cache")

	_, err = cache.GetStatus(ctx, "p-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrCacheMiss)

	assert.Error(t, cache.DeleteStatus(ctx, "p-1"))

	err = cache.Touch(ctx, "p-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrCacheMiss)
}

func TestStateManager_BackendError(t *testing.T) {
	kv := newFakeKVStore()
	sm := store.NewStateManager(kv, "attention:state:", time.Minute, zap.NewNop())
	kv.failErr = errors.New("connection refused")
	ctx := context.Background()

	err := sm.SaveSnapshot(ctx, "p-1", "s-1", classifier.Snapshot{State: classifier.StateAttentive})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to save snapshot")

	_, err = sm.LoadSnapshot(ctx, "p-1", "s-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrCacheMiss)
}
