package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"attention-monitor/internal/classifier"
	"attention-monitor/internal/metrics"
	"attention-monitor/internal/models"
	"attention-monitor/internal/sink"
	"attention-monitor/internal/store"

	"go.uber.org/zap"
)

// DefaultSessionID 消息未携带 session_id 时使用
const DefaultSessionID = "default"

// ErrSessionNotFound 参与者没有活跃会话
var ErrSessionNotFound = errors.New("session not found")

// session 单个参与者的分类器及其串行化锁
type session struct {
	mu            sync.Mutex
	participantID string
	sessionID     string
	classifier    *classifier.Classifier
	lastSeen      time.Time
	closed        bool
}

// SessionInfo 会话的只读视图
type SessionInfo struct {
	ParticipantID string              `json:"participant_id"`
	SessionID     string              `json:"session_id"`
	State         classifier.State    `json:"state"`
	Counters      classifier.Counters `json:"counters"`
	LastSeen      time.Time           `json:"last_seen"`
}

// Option 评估器选项
type Option func(*Evaluator)

// WithClock 设置时间源（同时传给每个分类器）
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// WithStateManager 启用快照持久化
func WithStateManager(sm *store.StateManager) Option {
	return func(e *Evaluator) { e.stateManager = sm }
}

// WithStatusCache 启用当前状态缓存
func WithStatusCache(cache *store.StatusCache) Option {
	return func(e *Evaluator) { e.statusCache = cache }
}

// Evaluator 按参与者管理分类器，把特征消息转换为状态事件并下发
type Evaluator struct {
	thresholds   classifier.ThresholdConfig
	sink         sink.Sink
	stateManager *store.StateManager
	statusCache  *store.StatusCache
	builder      *EventBuilder
	logger       *zap.Logger
	now          func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// NewEvaluator 创建评估器；阈值非法时返回错误
func NewEvaluator(thresholds classifier.ThresholdConfig, out sink.Sink, logger *zap.Logger, opts ...Option) (*Evaluator, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	if out == nil {
		out = sink.NewLogSink(logger)
	}

	e := &Evaluator{
		thresholds: thresholds,
		sink:       out,
		logger:     logger,
		now:        time.Now,
		sessions:   make(map[string]*session),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.builder = NewEventBuilder(e.now)
	return e, nil
}

// Thresholds 当前使用的阈值
func (e *Evaluator) Thresholds() classifier.ThresholdConfig {
	return e.thresholds
}

// StartSession 为参与者开启会话；存在快照时从快照恢复。
// 参与者已有其他会话时先结束旧会话。
func (e *Evaluator) StartSession(ctx context.Context, participantID, sessionID string) (*SessionInfo, error) {
	if participantID == "" {
		return nil, fmt.Errorf("participant_id is required")
	}
	if sessionID == "" {
		sessionID = DefaultSessionID
	}

	e.mu.Lock()
	existing, ok := e.sessions[participantID]
	e.mu.Unlock()

	if ok {
		if existing.sessionID == sessionID {
			info := existing.info()
			return &info, nil
		}
		if err := e.EndSession(ctx, participantID); err != nil && !errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
	}

	s, err := e.newSession(ctx, participantID, sessionID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if current, ok := e.sessions[participantID]; ok && current.sessionID == sessionID {
		// 并发开启同一会话，以先到者为准
		e.mu.Unlock()
		info := current.info()
		return &info, nil
	}
	e.sessions[participantID] = s
	count := len(e.sessions)
	e.mu.Unlock()

	metrics.ActiveSessions.Set(float64(count))
	e.logger.Info("Attention session started",
		zap.String("participant_id", participantID),
		zap.String("session_id", sessionID),
		zap.String("state", s.classifier.State().String()),
	)

	info := s.info()
	return &info, nil
}

// newSession 创建分类器，尝试从快照恢复
func (e *Evaluator) newSession(ctx context.Context, participantID, sessionID string) (*session, error) {
	opts := []classifier.Option{classifier.WithClock(e.now)}

	var c *classifier.Classifier
	if e.stateManager != nil {
		snap, err := e.stateManager.LoadSnapshot(ctx, participantID, sessionID)
		switch {
		case err == nil:
			c, err = classifier.Restore(e.thresholds, *snap, opts...)
			if err != nil {
				e.logger.Warn("Discarding invalid classifier snapshot",
					zap.String("participant_id", participantID),
					zap.String("session_id", sessionID),
					zap.Error(err),
				)
				c = nil
			}
		case errors.Is(err, store.ErrCacheMiss):
		default:
			// 快照读取失败不阻塞会话，从头开始
			e.logger.Warn("Failed to load classifier snapshot",
				zap.String("participant_id", participantID),
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}

	if c == nil {
		var err error
		c, err = classifier.New(e.thresholds, opts...)
		if err != nil {
			return nil, err
		}
	}

	return &session{
		participantID: participantID,
		sessionID:     sessionID,
		classifier:    c,
		lastSeen:      e.now(),
	}, nil
}

// EndSession 结束会话，清除快照与状态缓存
func (e *Evaluator) EndSession(ctx context.Context, participantID string) error {
	e.mu.Lock()
	s, ok := e.sessions[participantID]
	if ok {
		delete(e.sessions, participantID)
	}
	count := len(e.sessions)
	e.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	metrics.ActiveSessions.Set(float64(count))

	s.mu.Lock()
	s.closed = true
	sessionID := s.sessionID
	s.mu.Unlock()

	var errs []error
	if e.stateManager != nil {
		if err := e.stateManager.DeleteSnapshot(ctx, participantID, sessionID); err != nil {
			errs = append(errs, err)
		}
	}
	if e.statusCache != nil {
		if err := e.statusCache.DeleteStatus(ctx, participantID); err != nil {
			errs = append(errs, err)
		}
	}

	e.logger.Info("Attention session ended",
		zap.String("participant_id", participantID),
		zap.String("session_id", sessionID),
	)
	return errors.Join(errs...)
}

// Evaluate 处理一条特征消息；状态变化时返回已下发的事件，否则返回 nil。
// 下发失败只记录日志，事件仍然返回。
func (e *Evaluator) Evaluate(ctx context.Context, msg models.FeatureMessage) (*models.AttentionEvent, error) {
	if err := msg.Validate(); err != nil {
		metrics.SamplesRejected.WithLabelValues("invalid").Inc()
		return nil, err
	}
	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = DefaultSessionID
	}

	for {
		s, err := e.getOrStartSession(ctx, msg.ParticipantID, sessionID)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		if s.closed {
			// 会话刚被结束或回收，重新获取
			s.mu.Unlock()
			continue
		}
		event := e.ingestLocked(ctx, s, &msg)
		s.mu.Unlock()

		if event != nil {
			e.deliver(ctx, event)
		}
		return event, nil
	}
}

func (e *Evaluator) getOrStartSession(ctx context.Context, participantID, sessionID string) (*session, error) {
	e.mu.Lock()
	s, ok := e.sessions[participantID]
	e.mu.Unlock()
	if ok && s.sessionID == sessionID {
		return s, nil
	}

	if _, err := e.StartSession(ctx, participantID, sessionID); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok = e.sessions[participantID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// ingestLocked 调用方持有 s.mu
func (e *Evaluator) ingestLocked(ctx context.Context, s *session, msg *models.FeatureMessage) *models.AttentionEvent {
	sample := msg.ToSample()
	if sample != nil && !sample.IsFinite() {
		metrics.SamplesRejected.WithLabelValues("non_finite").Inc()
		e.logger.Warn("Dropping non-finite feature sample",
			zap.String("participant_id", s.participantID),
			zap.Float64("ear", msg.EAR),
			zap.Float64("yaw", msg.Yaw),
			zap.Float64("pitch", msg.Pitch),
		)
		return nil
	}
	metrics.ObserveSample(msg.FaceDetected)

	previous := s.classifier.State()
	var ev *classifier.StatusEvent
	if sample == nil {
		ev = s.classifier.IngestNoFaceAt(msg.CapturedTime())
	} else {
		ev = s.classifier.Ingest(sample)
	}
	s.lastSeen = e.now()

	if e.stateManager != nil {
		if err := e.stateManager.SaveSnapshot(ctx, s.participantID, s.sessionID, s.classifier.Snapshot()); err != nil {
			e.logger.Warn("Failed to save classifier snapshot",
				zap.String("participant_id", s.participantID),
				zap.Error(err),
			)
		}
	}

	if ev == nil {
		e.touchStatus(ctx, s)
		return nil
	}
	metrics.StatusTransitions.WithLabelValues(ev.Status.String()).Inc()
	return e.builder.BuildAttentionEvent(s.participantID, s.sessionID, previous, ev)
}

// touchStatus 状态未变化时续期状态缓存；缓存已丢失则按当前状态重建
func (e *Evaluator) touchStatus(ctx context.Context, s *session) {
	if e.statusCache == nil || s.classifier.State() == classifier.StateUnset {
		return
	}

	err := e.statusCache.Touch(ctx, s.participantID)
	if err == nil {
		return
	}
	if !errors.Is(err, store.ErrCacheMiss) {
		e.logger.Warn("Failed to refresh status cache",
			zap.String("participant_id", s.participantID),
			zap.Error(err),
		)
		return
	}

	state := s.classifier.State()
	status := &models.ParticipantStatus{
		ParticipantID: s.participantID,
		SessionID:     s.sessionID,
		Status:        state.String(),
		Confidence:    state.Confidence(),
		Since:         e.now(),
	}
	if err := e.statusCache.UpdateStatus(ctx, status); err != nil {
		e.logger.Warn("Failed to rebuild status cache",
			zap.String("participant_id", s.participantID),
			zap.Error(err),
		)
	}
}

// deliver 更新状态缓存并发布事件
func (e *Evaluator) deliver(ctx context.Context, event *models.AttentionEvent) {
	if e.statusCache != nil {
		if err := e.statusCache.UpdateStatus(ctx, BuildParticipantStatus(event)); err != nil {
			e.logger.Error("Failed to update status cache",
				zap.String("participant_id", event.ParticipantID),
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
		}
	}

	if err := e.sink.Publish(ctx, event); err != nil {
		e.logger.Error("Failed to publish attention event",
			zap.String("participant_id", event.ParticipantID),
			zap.String("event_id", event.EventID),
			zap.String("status", event.Status),
			zap.Error(err),
		)
		return
	}

	e.logger.Info("Attention event published",
		zap.String("event_id", event.EventID),
		zap.String("participant_id", event.ParticipantID),
		zap.String("previous_status", event.PreviousStatus),
		zap.String("status", event.Status),
		zap.String("rule", event.Rule),
	)
}

// ExpireIdleSessions 回收超过 idle 未收到样本的会话；快照保留，由 TTL 过期
func (e *Evaluator) ExpireIdleSessions(now time.Time, idle time.Duration) int {
	if idle <= 0 {
		return 0
	}

	e.mu.Lock()
	var expired []*session
	for pid, s := range e.sessions {
		s.mu.Lock()
		if now.Sub(s.lastSeen) > idle {
			s.closed = true
			expired = append(expired, s)
			delete(e.sessions, pid)
		}
		s.mu.Unlock()
	}
	count := len(e.sessions)
	e.mu.Unlock()

	if len(expired) > 0 {
		metrics.ActiveSessions.Set(float64(count))
	}
	for _, s := range expired {
		e.logger.Info("Expired idle attention session",
			zap.String("participant_id", s.participantID),
			zap.String("session_id", s.sessionID),
			zap.Time("last_seen", s.lastSeen),
		)
	}
	return len(expired)
}

// Session 返回参与者会话视图
func (e *Evaluator) Session(participantID string) (*SessionInfo, error) {
	e.mu.Lock()
	s, ok := e.sessions[participantID]
	e.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	info := s.info()
	return &info, nil
}

// ActiveSessions 返回所有活跃会话（按参与者 ID 排序）
func (e *Evaluator) ActiveSessions() []SessionInfo {
	e.mu.Lock()
	list := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		list = append(list, s)
	}
	e.mu.Unlock()

	infos := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		infos = append(infos, s.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ParticipantID < infos[j].ParticipantID })
	return infos
}

func (s *session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ParticipantID: s.participantID,
		SessionID:     s.sessionID,
		State:         s.classifier.State(),
		Counters:      s.classifier.Counters(),
		LastSeen:      s.lastSeen,
	}
}
