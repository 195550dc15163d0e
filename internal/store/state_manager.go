package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"attention-monitor/internal/classifier"

	"go.uber.org/zap"
)

// StateManager 分类器快照管理（服务重启后恢复去抖计数）
type StateManager struct {
	kv        KVStore
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewStateManager 创建状态管理器
func NewStateManager(kv KVStore, keyPrefix string, ttl time.Duration, logger *zap.Logger) *StateManager {
	return &StateManager{
		kv:        kv,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger,
	}
}

// GetStateKey 构建状态键
func (s *StateManager) GetStateKey(participantID, sessionID string) string {
	return fmt.Sprintf("%s%s:session_%s", s.keyPrefix, participantID, sessionID)
}

// SaveSnapshot 保存快照（带 TTL）
func (s *StateManager) SaveSnapshot(ctx context.Context, participantID, sessionID string, snap classifier.Snapshot) error {
	jsonData, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := s.kv.Set(ctx, s.GetStateKey(participantID, sessionID), string(jsonData), s.ttl); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot 读取快照；不存在时返回 ErrCacheMiss
func (s *StateManager) LoadSnapshot(ctx context.Context, participantID, sessionID string) (*classifier.Snapshot, error) {
	val, err := s.kv.Get(ctx, s.GetStateKey(participantID, sessionID))
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snap classifier.Snapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	s.logger.Debug("Loaded classifier snapshot",
		zap.String("participant_id", participantID),
		zap.String("session_id", sessionID),
		zap.String("state", snap.State.String()),
	)
	return &snap, nil
}

// DeleteSnapshot 删除快照
func (s *StateManager) DeleteSnapshot(ctx context.Context, participantID, sessionID string) error {
	if err := s.kv.Del(ctx, s.GetStateKey(participantID, sessionID)); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}
