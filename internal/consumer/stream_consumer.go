package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"attention-monitor/internal/config"
	"attention-monitor/internal/metrics"
	"attention-monitor/internal/models"
	rediscommon "attention-monitor/pkg/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// FeatureEvaluator 特征消息评估接口（由 evaluator.Evaluator 实现）
type FeatureEvaluator interface {
	Evaluate(ctx context.Context, msg models.FeatureMessage) (*models.AttentionEvent, error)
	ExpireIdleSessions(now time.Time, idle time.Duration) int
}

// Stats 消费统计
type Stats struct {
	mu sync.RWMutex

	MessagesProcessed int64 // 处理的消息总数
	MessagesSucceeded int64 // 成功处理的消息数
	MessagesFailed    int64 // 处理失败的消息数
	EventsEmitted     int64 // 产生的状态事件数

	ErrorsParse    int64 // 解析错误
	ErrorsEvaluate int64 // 评估失败

	TotalProcessingTime time.Duration
	LastProcessTime     time.Time

	StartTime time.Time
}

// GetSnapshot 获取统计快照（线程安全）
func (s *Stats) GetSnapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		MessagesProcessed:   s.MessagesProcessed,
		MessagesSucceeded:   s.MessagesSucceeded,
		MessagesFailed:      s.MessagesFailed,
		EventsEmitted:       s.EventsEmitted,
		ErrorsParse:         s.ErrorsParse,
		ErrorsEvaluate:      s.ErrorsEvaluate,
		TotalProcessingTime: s.TotalProcessingTime,
		LastProcessTime:     s.LastProcessTime,
		StartTime:           s.StartTime,
	}
}

func (s *Stats) incrementProcessed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MessagesProcessed++
}

func (s *Stats) incrementSucceeded(duration time.Duration, emitted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MessagesSucceeded++
	if emitted {
		s.EventsEmitted++
	}
	s.TotalProcessingTime += duration
	s.LastProcessTime = time.Now()
}

func (s *Stats) incrementFailed(errorType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MessagesFailed++
	switch errorType {
	case "parse":
		s.ErrorsParse++
	case "evaluate":
		s.ErrorsEvaluate++
	}
}

// StreamConsumer 从特征 Stream 读取消息并交给评估器
type StreamConsumer struct {
	config      *config.Config
	redisClient *redis.Client
	evaluator   FeatureEvaluator
	logger      *zap.Logger
	stats       *Stats

	reportInterval time.Duration
	sweepInterval  time.Duration
}

// NewStreamConsumer 创建 Streams 消费者
func NewStreamConsumer(
	cfg *config.Config,
	redisClient *redis.Client,
	evaluator FeatureEvaluator,
	logger *zap.Logger,
) *StreamConsumer {
	sweep := cfg.Attention.SessionIdleTimeout / 2
	if sweep <= 0 {
		sweep = time.Minute
	}
	return &StreamConsumer{
		config:         cfg,
		redisClient:    redisClient,
		evaluator:      evaluator,
		logger:         logger,
		stats:          &Stats{StartTime: time.Now()},
		reportInterval: 60 * time.Second,
		sweepInterval:  sweep,
	}
}

// Stats 返回统计快照
func (c *StreamConsumer) Stats() Stats {
	return c.stats.GetSnapshot()
}

// Start 启动消费者，阻塞直到 ctx 取消
func (c *StreamConsumer) Start(ctx context.Context) error {
	stream := c.config.Attention.Stream.Input
	group := c.config.Attention.Stream.ConsumerGroup
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, stream, group); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", stream, err)
	}

	c.logger.Info("Stream consumer started",
		zap.String("consumer_group", group),
		zap.String("consumer_name", c.config.Attention.Stream.ConsumerName),
		zap.String("stream", stream),
		zap.Float64("assumed_fps", c.config.Attention.AssumedFPS),
	)

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	go c.reportStats(bgCtx)
	go c.sweepIdleSessions(bgCtx)

	if err := c.recoverPending(ctx, stream); err != nil && ctx.Err() == nil {
		c.logger.Warn("Failed to recover pending messages", zap.Error(err))
	}

	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := c.consumeStream(ctx, stream); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("Failed to consume stream",
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
				)

				// 指数退避
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoffDuration):
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}
			} else {
				backoffDuration = time.Second
			}
		}
	}
}

// recoverPending 启动时处理上次退出前已投递但未确认的消息
func (c *StreamConsumer) recoverPending(ctx context.Context, stream string) error {
	start := rediscommon.PendingStart
	recovered := 0
	for {
		lastID, n, err := c.consumeBatch(ctx, stream, start, -1)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		recovered += n
		start = lastID
	}

	if recovered > 0 {
		c.logger.Info("Recovered pending messages",
			zap.String("stream", stream),
			zap.Int("count", recovered),
		)
	}
	return nil
}

// consumeStream 读取并处理一批新消息
func (c *StreamConsumer) consumeStream(ctx context.Context, stream string) error {
	_, _, err := c.consumeBatch(ctx, stream, "", c.config.Attention.Stream.Block)
	return err
}

// consumeBatch 处理失败的消息同样确认，避免毒消息反复投递；返回最后一条消息 ID 与条数
func (c *StreamConsumer) consumeBatch(ctx context.Context, stream, start string, block time.Duration) (string, int, error) {
	messages, err := rediscommon.ReadFromStream(ctx, c.redisClient, stream, rediscommon.ReadOptions{
		Group:    c.config.Attention.Stream.ConsumerGroup,
		Consumer: c.config.Attention.Stream.ConsumerName,
		Count:    c.config.Attention.Stream.BatchSize,
		Block:    block,
		Start:    start,
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to read from stream: %w", err)
	}
	if len(messages) == 0 {
		return "", 0, nil
	}

	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		c.stats.incrementProcessed()
		if err := c.processMessage(ctx, msg); err != nil {
			c.logger.Error("Failed to process message",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
		}
		ids = append(ids, msg.ID)
	}

	if err := rediscommon.Ack(ctx, c.redisClient, stream, c.config.Attention.Stream.ConsumerGroup, ids...); err != nil {
		c.logger.Warn("Failed to ack messages", zap.Int("count", len(ids)), zap.Error(err))
	}
	return ids[len(ids)-1], len(ids), nil
}

// processMessage 处理单条消息
func (c *StreamConsumer) processMessage(ctx context.Context, msg rediscommon.StreamMessage) error {
	startTime := time.Now()

	dataStr, err := msg.Data()
	if err != nil {
		c.stats.incrementFailed("parse")
		metrics.SamplesRejected.WithLabelValues("parse").Inc()
		return err
	}

	var feature models.FeatureMessage
	if err := json.Unmarshal([]byte(dataStr), &feature); err != nil {
		c.stats.incrementFailed("parse")
		metrics.SamplesRejected.WithLabelValues("parse").Inc()
		return fmt.Errorf("failed to unmarshal feature message: %w", err)
	}

	event, err := c.evaluator.Evaluate(ctx, feature)
	if err != nil {
		c.stats.incrementFailed("evaluate")
		return fmt.Errorf("failed to evaluate features for %q: %w", feature.ParticipantID, err)
	}

	duration := time.Since(startTime)
	metrics.ProcessingLatency.Observe(duration.Seconds())
	c.stats.incrementSucceeded(duration, event != nil)

	c.logger.Debug("Processed feature message",
		zap.String("stream_id", msg.ID),
		zap.String("participant_id", feature.ParticipantID),
		zap.Bool("face_detected", feature.FaceDetected),
		zap.Duration("processing_time", duration),
	)
	return nil
}

// sweepIdleSessions 定期回收空闲会话
func (c *StreamConsumer) sweepIdleSessions(ctx context.Context) {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := c.evaluator.ExpireIdleSessions(now, c.config.Attention.SessionIdleTimeout); n > 0 {
				c.logger.Info("Idle sessions expired", zap.Int("count", n))
			}
		}
	}
}

// reportStats 定期输出统计
func (c *StreamConsumer) reportStats(ctx context.Context) {
	ticker := time.NewTicker(c.reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := c.stats.GetSnapshot()

			var avgProcessingTime time.Duration
			if snapshot.MessagesSucceeded > 0 {
				avgProcessingTime = snapshot.TotalProcessingTime / time.Duration(snapshot.MessagesSucceeded)
			}

			successRate := float64(0)
			if snapshot.MessagesProcessed > 0 {
				successRate = float64(snapshot.MessagesSucceeded) / float64(snapshot.MessagesProcessed) * 100
			}

			c.logger.Info("Metrics report",
				zap.Int64("messages_processed", snapshot.MessagesProcessed),
				zap.Int64("messages_succeeded", snapshot.MessagesSucceeded),
				zap.Int64("messages_failed", snapshot.MessagesFailed),
				zap.Int64("events_emitted", snapshot.EventsEmitted),
				zap.Float64("success_rate", successRate),
				zap.Int64("errors_parse", snapshot.ErrorsParse),
				zap.Int64("errors_evaluate", snapshot.ErrorsEvaluate),
				zap.Duration("avg_processing_time", avgProcessingTime),
				zap.Duration("uptime", time.Since(snapshot.StartTime)),
			)
		}
	}
}
