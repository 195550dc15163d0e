package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureMessage_ToSample(t *testing.T) {
	raw := `{"participant_id":"p-7","session_id":"s-1","face_detected":true,"ear":0.21,"yaw":-12.5,"pitch":4,"captured_at":1767225600000}`

	var msg FeatureMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	require.NoError(t, msg.Validate())

	s := msg.ToSample()
	require.NotNil(t, s)
	assert.Equal(t, 0.21, s.EyeAspectRatio)
	assert.Equal(t, -12.5, s.HeadYawDegrees)
	assert.Equal(t, 4.0, s.HeadPitchDegrees)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), s.Timestamp)
}

func TestFeatureMessage_NoFace(t *testing.T) {
	msg := FeatureMessage{ParticipantID: "p-7", FaceDetected: false, EAR: 0.3}

	assert.Nil(t, msg.ToSample())
}

func TestFeatureMessage_Validate(t *testing.T) {
	msg := FeatureMessage{}

	err := msg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "participant_id is required")
}

func TestFeatureMessage_CapturedTime_Missing(t *testing.T) {
	msg := FeatureMessage{ParticipantID: "p-7"}

	assert.True(t, msg.CapturedTime().IsZero())
}
