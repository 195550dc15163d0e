package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"attention-monitor/internal/config"
	"attention-monitor/internal/metrics"
	"attention-monitor/internal/models"
	mqttcommon "attention-monitor/pkg/mqtt"
	rediscommon "attention-monitor/pkg/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Subscriber MQTT 订阅接口（由 pkg/mqtt.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTIngress 订阅客户端上报的特征，标准化后写入特征 Stream
type MQTTIngress struct {
	config      *config.Config
	subscriber  Subscriber
	redisClient *redis.Client
	logger      *zap.Logger
	now         func() time.Time
}

// NewMQTTIngress 创建 MQTT 入口
func NewMQTTIngress(cfg *config.Config, subscriber Subscriber, redisClient *redis.Client, logger *zap.Logger) *MQTTIngress {
	return &MQTTIngress{
		config:      cfg,
		subscriber:  subscriber,
		redisClient: redisClient,
		logger:      logger,
		now:         time.Now,
	}
}

// Start 订阅特征主题，阻塞直到 ctx 取消
func (c *MQTTIngress) Start(ctx context.Context) error {
	topic := c.config.Attention.Topics.Features
	if err := c.subscriber.Subscribe(topic, c.config.MQTT.QoS, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to features topic: %w", err)
	}

	c.logger.Info("MQTT ingress started", zap.String("topic", topic))

	<-ctx.Done()
	return nil
}

// Stop 取消订阅
func (c *MQTTIngress) Stop() error {
	if err := c.subscriber.Unsubscribe(c.config.Attention.Topics.Features); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
		return err
	}
	c.logger.Info("MQTT ingress stopped")
	return nil
}

// participantFromTopic 主题格式: attention/{participant_id}/features
func participantFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[1] == "" || parts[2] != "features" {
		return "", fmt.Errorf("invalid topic format: %s", topic)
	}
	return parts[1], nil
}

// handleMessage 处理一条 MQTT 特征消息
func (c *MQTTIngress) handleMessage(topic string, payload []byte) error {
	participantID, err := participantFromTopic(topic)
	if err != nil {
		metrics.SamplesRejected.WithLabelValues("topic").Inc()
		return err
	}

	var msg models.FeatureMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		metrics.SamplesRejected.WithLabelValues("parse").Inc()
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}

	// 主题中的参与者 ID 为准
	if msg.ParticipantID != "" && msg.ParticipantID != participantID {
		metrics.SamplesRejected.WithLabelValues("participant_mismatch").Inc()
		return fmt.Errorf("participant_id %q does not match topic %s", msg.ParticipantID, topic)
	}
	msg.ParticipantID = participantID
	if msg.CapturedAt <= 0 {
		msg.CapturedAt = c.now().UnixMilli()
	}

	stream := c.config.Attention.Stream.Input
	streamID, err := rediscommon.PublishJSONToStream(context.Background(), c.redisClient, stream, msg)
	if err != nil {
		return fmt.Errorf("failed to publish to stream: %w", err)
	}

	c.logger.Debug("Forwarded feature message",
		zap.String("participant_id", participantID),
		zap.String("stream", stream),
		zap.String("stream_id", streamID),
	)
	return nil
}
