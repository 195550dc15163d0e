package classifier

import (
	"encoding/json"
	"fmt"
	"time"
)

// State 注意力状态
type State int

const (
	StateUnset State = iota // 初始状态，从不作为事件发出
	StateAttentive
	StateLookingAway
	StateDrowsy
	StateNoFace
)

// 每个状态固定的置信度（策略常量，不是计算出的概率）
const (
	ConfidenceAttentive   = 0.95
	ConfidenceLookingAway = 0.90
	ConfidenceDrowsy      = 0.95
	ConfidenceNoFace      = 0.80
)

var stateNames = map[State]string{
	StateUnset:       "unset",
	StateAttentive:   "attentive",
	StateLookingAway: "looking_away",
	StateDrowsy:      "drowsy",
	StateNoFace:      "no_face",
}

// String 返回线上格式的状态名
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParseState 解析状态名
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return StateUnset, fmt.Errorf("unknown attention state: %q", name)
}

// MarshalJSON 以字符串形式输出状态
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON 解析字符串形式的状态
func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseState(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Confidence 返回状态对应的固定置信度
func (s State) Confidence() float64 {
	switch s {
	case StateAttentive:
		return ConfidenceAttentive
	case StateLookingAway:
		return ConfidenceLookingAway
	case StateDrowsy:
		return ConfidenceDrowsy
	case StateNoFace:
		return ConfidenceNoFace
	default:
		return 0
	}
}

// StatusEvent 状态变化事件（仅在已提交状态变化时产生）
type StatusEvent struct {
	Status     State     `json:"status"`
	Confidence float64   `json:"confidence"`
	Rule       string    `json:"rule,omitempty"` // 触发提交的规则，无人脸时为 RuleNoFace
	Timestamp  time.Time `json:"timestamp"`
}

// Counters 连续样本计数
type Counters struct {
	EyeClosedStreak   int `json:"eye_closed_streak"`
	LookingAwayStreak int `json:"looking_away_streak"`
	AttentiveStreak   int `json:"attentive_streak"`
}
