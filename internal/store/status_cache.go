package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"attention-monitor/internal/models"

	"go.uber.org/zap"
)

// StatusCache 参与者当前注意力状态缓存
type StatusCache struct {
	kv        KVStore
	keyPrefix string
	keySuffix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewStatusCache 创建状态缓存
func NewStatusCache(kv KVStore, keyPrefix, keySuffix string, ttl time.Duration, logger *zap.Logger) *StatusCache {
	return &StatusCache{
		kv:        kv,
		keyPrefix: keyPrefix,
		keySuffix: keySuffix,
		ttl:       ttl,
		logger:    logger,
	}
}

// Key 构建缓存键，如 attention:participant:{id}:status
func (c *StatusCache) Key(participantID string) string {
	return c.keyPrefix + participantID + c.keySuffix
}

// UpdateStatus 写入当前状态
func (c *StatusCache) UpdateStatus(ctx context.Context, status *models.ParticipantStatus) error {
	key := c.Key(status.ParticipantID)

	jsonData, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal participant status: %w", err)
	}

	if err := c.kv.Set(ctx, key, string(jsonData), c.ttl); err != nil {
		return fmt.Errorf("failed to set status cache: %w", err)
	}

	c.logger.Debug("Updated status cache",
		zap.String("participant_id", status.ParticipantID),
		zap.String("status", status.Status),
		zap.String("key", key),
	)
	return nil
}

// GetStatus 读取当前状态；不存在时返回 ErrCacheMiss
func (c *StatusCache) GetStatus(ctx context.Context, participantID string) (*models.ParticipantStatus, error) {
	val, err := c.kv.Get(ctx, c.Key(participantID))
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get status cache: %w", err)
	}

	var status models.ParticipantStatus
	if err := json.Unmarshal([]byte(val), &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal participant status: %w", err)
	}
	return &status, nil
}

// Touch 续期当前状态；未设置 TTL 时无操作，键不存在时返回 ErrCacheMiss
func (c *StatusCache) Touch(ctx context.Context, participantID string) error {
	if c.ttl <= 0 {
		return nil
	}
	if err := c.kv.Expire(ctx, c.Key(participantID), c.ttl); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return err
		}
		return fmt.Errorf("failed to refresh status cache: %w", err)
	}
	return nil
}

// DeleteStatus 删除当前状态（会话结束时）
func (c *StatusCache) DeleteStatus(ctx context.Context, participantID string) error {
	if err := c.kv.Del(ctx, c.Key(participantID)); err != nil {
		return fmt.Errorf("failed to delete status cache: %w", err)
	}
	return nil
}
