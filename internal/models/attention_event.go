package models

import (
	"time"
)

// AttentionEvent 发送给状态下游（Redis Stream / MQTT）的状态变化事件
type AttentionEvent struct {
	EventID        string    `json:"event_id"`
	ParticipantID  string    `json:"participant_id"`
	SessionID      string    `json:"session_id"`
	Status         string    `json:"status"`          // attentive, looking_away, drowsy, no_face
	PreviousStatus string    `json:"previous_status"` // 首次提交时为 "unset"
	Confidence     float64   `json:"confidence"`
	Rule           string    `json:"rule,omitempty"` // drowsiness, looking_away, attentive, no_face
	TriggeredAt    time.Time `json:"triggered_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// ParticipantStatus 参与者当前状态（Redis 缓存，供查询接口使用）
type ParticipantStatus struct {
	ParticipantID string    `json:"participant_id"`
	SessionID     string    `json:"session_id"`
	Status        string    `json:"status"`
	Confidence    float64   `json:"confidence"`
	Since         time.Time `json:"since"`
	EventID       string    `json:"event_id"`
}
