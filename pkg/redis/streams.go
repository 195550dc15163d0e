package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// StreamMessage Redis Streams 消息
type StreamMessage struct {
	Stream string
	ID     string
	Values map[string]interface{}
}

// Data 返回消息中的 data 字段
func (m StreamMessage) Data() (string, error) {
	val, ok := m.Values["data"]
	if !ok {
		return "", fmt.Errorf("missing data field in message %s", m.ID)
	}
	str, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("invalid data format in message %s", m.ID)
	}
	return str, nil
}

// ReadOptions XREADGROUP 参数
type ReadOptions struct {
	Group    string
	Consumer string
	Count    int64
	Block    time.Duration // 小于 0 表示不阻塞
	// Start 为空时读取新消息（">"）；"0" 或某个 ID 表示从该 ID 之后读取本消费者未确认的消息
	Start string
}

// PendingStart 从头读取本消费者的未确认消息
const PendingStart = "0"

// PublishToStream 发布消息到 Redis Streams
func PublishToStream(ctx context.Context, client *redis.Client, stream string, values map[string]interface{}) (string, error) {
	streamValues := make(map[string]interface{}, len(values))
	for k, v := range values {
		var strValue string
		switch val := v.(type) {
		case string:
			strValue = val
		case []byte:
			strValue = string(val)
		case int:
			strValue = strconv.Itoa(val)
		case int64:
			strValue = strconv.FormatInt(val, 10)
		case float64:
			strValue = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			strValue = strconv.FormatBool(val)
		default:
			// 其他类型尝试 JSON 序列化
			jsonBytes, err := json.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("failed to marshal stream field %s: %w", k, err)
			}
			strValue = string(jsonBytes)
		}
		streamValues[k] = strValue
	}

	id, err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: streamValues,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to xadd to %s: %w", stream, err)
	}
	return id, nil
}

// PublishJSONToStream 发布 JSON 消息到 Redis Streams
func PublishJSONToStream(ctx context.Context, client *redis.Client, stream string, data interface{}) (string, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal stream payload: %w", err)
	}

	return PublishToStream(ctx, client, stream, map[string]interface{}{
		"data":      string(jsonBytes),
		"timestamp": time.Now().Unix(),
	})
}

// ReadFromStream 从 Redis Streams 读取消息（消费者组）
func ReadFromStream(ctx context.Context, client *redis.Client, stream string, opts ReadOptions) ([]StreamMessage, error) {
	start := opts.Start
	if start == "" {
		start = ">"
	}
	streams, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    opts.Group,
		Consumer: opts.Consumer,
		Streams:  []string{stream, start},
		Count:    opts.Count,
		Block:    opts.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []StreamMessage{}, nil
		}
		return nil, err
	}

	var messages []StreamMessage
	for _, s := range streams {
		for _, msg := range s.Messages {
			messages = append(messages, StreamMessage{
				Stream: s.Stream,
				ID:     msg.ID,
				Values: msg.Values,
			})
		}
	}

	return messages, nil
}

// Ack 确认消息已处理
func Ack(ctx context.Context, client *redis.Client, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := client.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("failed to ack messages on %s: %w", stream, err)
	}
	return nil
}

// CreateConsumerGroup 创建消费者组（stream 不存在时一并创建）
func CreateConsumerGroup(ctx context.Context, client *redis.Client, stream string, groupName string) error {
	err := client.XGroupCreateMkStream(ctx, stream, groupName, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s: %w", groupName, err)
	}
	return nil
}
