package models

import (
	"fmt"
	"time"

	"attention-monitor/internal/classifier"
)

// FeatureMessage 特征提取端每个检测周期上报的一条消息
type FeatureMessage struct {
	ParticipantID string  `json:"participant_id"`
	SessionID     string  `json:"session_id"`
	FaceDetected  bool    `json:"face_detected"`
	EAR           float64 `json:"ear"`
	Yaw           float64 `json:"yaw"`
	Pitch         float64 `json:"pitch"`
	CapturedAt    int64   `json:"captured_at"` // Unix 毫秒
}

// Validate 校验必填字段
func (m *FeatureMessage) Validate() error {
	if m.ParticipantID == "" {
		return fmt.Errorf("participant_id is required")
	}
	return nil
}

// CapturedTime 返回采集时间，未提供时为零值
func (m *FeatureMessage) CapturedTime() time.Time {
	if m.CapturedAt <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(m.CapturedAt).UTC()
}

// ToSample 转换为分类器输入；未检测到人脸时返回 nil
func (m *FeatureMessage) ToSample() *classifier.FeatureSample {
	if !m.FaceDetected {
		return nil
	}
	return &classifier.FeatureSample{
		EyeAspectRatio:   m.EAR,
		HeadYawDegrees:   m.Yaw,
		HeadPitchDegrees: m.Pitch,
		Timestamp:        m.CapturedTime(),
	}
}
