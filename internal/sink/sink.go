package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"attention-monitor/internal/metrics"
	"attention-monitor/internal/models"
	rediscommon "attention-monitor/pkg/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Sink 状态事件下游
type Sink interface {
	Name() string
	Publish(ctx context.Context, event *models.AttentionEvent) error
}

// StreamSink 写入 Redis Stream（字段 data/timestamp）
type StreamSink struct {
	client *redis.Client
	stream string
}

// NewStreamSink 创建 Stream 下游
func NewStreamSink(client *redis.Client, stream string) *StreamSink {
	return &StreamSink{client: client, stream: stream}
}

func (s *StreamSink) Name() string { return "redis_stream" }

func (s *StreamSink) Publish(ctx context.Context, event *models.AttentionEvent) error {
	if _, err := rediscommon.PublishJSONToStream(ctx, s.client, s.stream, event); err != nil {
		return fmt.Errorf("failed to publish event %s to %s: %w", event.EventID, s.stream, err)
	}
	return nil
}

// Publisher MQTT 发布接口（便于测试替换）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTSink 按参与者发布到 attention/{participant_id}/status
type MQTTSink struct {
	publisher   Publisher
	topicFormat string
	qos         byte
}

// NewMQTTSink 创建 MQTT 下游；topicFormat 含一个 %s 占位符
func NewMQTTSink(publisher Publisher, topicFormat string, qos byte) *MQTTSink {
	return &MQTTSink{publisher: publisher, topicFormat: topicFormat, qos: qos}
}

func (s *MQTTSink) Name() string { return "mqtt" }

// Topic 参与者状态主题
func (s *MQTTSink) Topic(participantID string) string {
	return fmt.Sprintf(s.topicFormat, participantID)
}

func (s *MQTTSink) Publish(ctx context.Context, event *models.AttentionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// retained：新订阅者立即拿到最近状态
	topic := s.Topic(event.ParticipantID)
	if err := s.publisher.Publish(topic, s.qos, true, payload); err != nil {
		return fmt.Errorf("failed to publish event %s to %s: %w", event.EventID, topic, err)
	}
	return nil
}

// LogSink 仅记录日志（未配置其他下游时使用）
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink 创建日志下游
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Publish(ctx context.Context, event *models.AttentionEvent) error {
	s.logger.Info("Attention status changed",
		zap.String("event_id", event.EventID),
		zap.String("participant_id", event.ParticipantID),
		zap.String("session_id", event.SessionID),
		zap.String("previous_status", event.PreviousStatus),
		zap.String("status", event.Status),
		zap.Float64("confidence", event.Confidence),
		zap.Time("triggered_at", event.TriggeredAt),
	)
	return nil
}

// MultiSink 依次发布到所有下游；单个失败不影响其他下游
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink 组合多个下游
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Name() string { return "multi" }

func (m *MultiSink) Publish(ctx context.Context, event *models.AttentionEvent) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Publish(ctx, event); err != nil {
			metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
