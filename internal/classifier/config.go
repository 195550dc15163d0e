package classifier

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig 阈值配置非法
var ErrInvalidConfig = errors.New("invalid threshold config")

// ThresholdConfig 分类器阈值配置（构造后不可变）
// 持续时间类阈值全部以连续样本数表示，不是秒。
type ThresholdConfig struct {
	EyeClosedThreshold    float64 `json:"eye_closed_threshold"` // EAR 低于此值视为闭眼
	EyeOpenThreshold      float64 `json:"eye_open_threshold"`   // EAR 高于此值视为睁眼（滞回带上沿）
	DrowsyFrameCount      int     `json:"drowsy_frame_count"`
	YawExtremeDegrees     float64 `json:"yaw_extreme_degrees"`
	YawModerateDegrees    float64 `json:"yaw_moderate_degrees"`
	PitchDownDegrees      float64 `json:"pitch_down_degrees"`
	PitchUpDegrees        float64 `json:"pitch_up_degrees"`
	LookingAwayFrameCount int     `json:"looking_away_frame_count"`
	AttentiveFrameCount   int     `json:"attentive_frame_count"`
}

// DefaultThresholdConfig 返回推荐默认值
func DefaultThresholdConfig() ThresholdConfig {
	return ThresholdConfig{
		EyeClosedThreshold:    0.12,
		EyeOpenThreshold:      0.19,
		DrowsyFrameCount:      9,
		YawExtremeDegrees:     50,
		YawModerateDegrees:    30,
		PitchDownDegrees:      20,
		PitchUpDegrees:        20,
		LookingAwayFrameCount: 5,
		AttentiveFrameCount:   5,
	}
}

// Validate 校验配置
func (c ThresholdConfig) Validate() error {
	floats := []struct {
		name  string
		value float64
	}{
		{"eye_closed_threshold", c.EyeClosedThreshold},
		{"eye_open_threshold", c.EyeOpenThreshold},
		{"yaw_extreme_degrees", c.YawExtremeDegrees},
		{"yaw_moderate_degrees", c.YawModerateDegrees},
		{"pitch_down_degrees", c.PitchDownDegrees},
		{"pitch_up_degrees", c.PitchUpDegrees},
	}
	for _, f := range floats {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%w: %s must be finite", ErrInvalidConfig, f.name)
		}
		if f.value < 0 {
			return fmt.Errorf("%w: %s must be non-negative, got %v", ErrInvalidConfig, f.name, f.value)
		}
	}

	if c.EyeOpenThreshold <= c.EyeClosedThreshold {
		return fmt.Errorf("%w: eye_open_threshold (%v) must be greater than eye_closed_threshold (%v)",
			ErrInvalidConfig, c.EyeOpenThreshold, c.EyeClosedThreshold)
	}
	if c.YawExtremeDegrees < c.YawModerateDegrees {
		return fmt.Errorf("%w: yaw_extreme_degrees (%v) must not be below yaw_moderate_degrees (%v)",
			ErrInvalidConfig, c.YawExtremeDegrees, c.YawModerateDegrees)
	}

	counts := []struct {
		name  string
		value int
	}{
		{"drowsy_frame_count", c.DrowsyFrameCount},
		{"looking_away_frame_count", c.LookingAwayFrameCount},
		{"attentive_frame_count", c.AttentiveFrameCount},
	}
	for _, n := range counts {
		if n.value < 1 {
			return fmt.Errorf("%w: %s must be at least 1, got %d", ErrInvalidConfig, n.name, n.value)
		}
	}

	return nil
}
