package evaluator

import (
	"time"

	"attention-monitor/internal/classifier"
	"attention-monitor/internal/models"

	"github.com/google/uuid"
)

// EventBuilder 状态事件构建器
type EventBuilder struct {
	now func() time.Time
}

// NewEventBuilder 创建事件构建器
func NewEventBuilder(now func() time.Time) *EventBuilder {
	if now == nil {
		now = time.Now
	}
	return &EventBuilder{now: now}
}

// BuildAttentionEvent 把分类器事件包装为带参与者信息的下游事件
func (b *EventBuilder) BuildAttentionEvent(
	participantID string,
	sessionID string,
	previous classifier.State,
	ev *classifier.StatusEvent,
) *models.AttentionEvent {
	return &models.AttentionEvent{
		EventID:        uuid.New().String(),
		ParticipantID:  participantID,
		SessionID:      sessionID,
		Status:         ev.Status.String(),
		PreviousStatus: previous.String(),
		Confidence:     ev.Confidence,
		Rule:           ev.Rule,
		TriggeredAt:    ev.Timestamp,
		CreatedAt:      b.now(),
	}
}

// BuildParticipantStatus 构建状态缓存记录
func BuildParticipantStatus(event *models.AttentionEvent) *models.ParticipantStatus {
	return &models.ParticipantStatus{
		ParticipantID: event.ParticipantID,
		SessionID:     event.SessionID,
		Status:        event.Status,
		Confidence:    event.Confidence,
		Since:         event.TriggeredAt,
		EventID:       event.EventID,
	}
}
