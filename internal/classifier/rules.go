package classifier

import "math"

// RuleNoFace 无人脸样本直接提交 NO_FACE 时的规则名
const RuleNoFace = "no_face"

// verdict 单条规则的评估结果
type verdict struct {
	candidate State
	decided   bool // 规则给出了候选状态
	claimed   bool // 样本被本规则占用，后续规则不再评估
}

// rule 按固定优先级依次评估的规则；name 写入 StatusEvent.Rule
type rule interface {
	name() string
	evaluate(s FeatureSample, c *Counters) verdict
}

// defaultRules 优先级：困倦 > 视线偏离 > 专注
func defaultRules(cfg ThresholdConfig) []rule {
	return []rule{
		drowsinessRule{cfg: cfg},
		lookingAwayRule{cfg: cfg},
		attentiveRule{cfg: cfg},
	}
}

// drowsinessRule 闭眼连续计数，带滞回带
type drowsinessRule struct {
	cfg ThresholdConfig
}

func (drowsinessRule) name() string { return "drowsiness" }

func (r drowsinessRule) evaluate(s FeatureSample, c *Counters) verdict {
	switch {
	case s.EyeAspectRatio < r.cfg.EyeClosedThreshold:
		c.EyeClosedStreak++
		c.LookingAwayStreak = 0
		c.AttentiveStreak = 0
		if c.EyeClosedStreak >= r.cfg.DrowsyFrameCount {
			return verdict{candidate: StateDrowsy, decided: true, claimed: true}
		}
		// 仍在去抖窗口内，保持已提交状态
		return verdict{claimed: true}
	case s.EyeAspectRatio > r.cfg.EyeOpenThreshold:
		c.EyeClosedStreak = 0
	}
	// 两阈值之间为死区：既不累加也不清零
	return verdict{}
}

// lookingAwayRule 头部姿态偏离连续计数
type lookingAwayRule struct {
	cfg ThresholdConfig
}

func (lookingAwayRule) name() string { return "looking_away" }

func (r lookingAwayRule) evaluate(s FeatureSample, c *Counters) verdict {
	if !r.isLookingAway(s) {
		c.LookingAwayStreak = 0
		return verdict{}
	}

	c.LookingAwayStreak++
	c.AttentiveStreak = 0
	if c.LookingAwayStreak >= r.cfg.LookingAwayFrameCount {
		return verdict{candidate: StateLookingAway, decided: true}
	}
	return verdict{}
}

func (r lookingAwayRule) isLookingAway(s FeatureSample) bool {
	yaw := math.Abs(s.HeadYawDegrees)
	if yaw > r.cfg.YawExtremeDegrees {
		return true
	}
	return yaw > r.cfg.YawModerateDegrees && r.isTilted(s.HeadPitchDegrees)
}

// isTilted 正 pitch 为抬头，负 pitch 为低头
func (r lookingAwayRule) isTilted(pitch float64) bool {
	if pitch >= 0 {
		return pitch > r.cfg.PitchUpDegrees
	}
	return -pitch > r.cfg.PitchDownDegrees
}

// attentiveRule 无任何不合格条件时的连续计数
type attentiveRule struct {
	cfg ThresholdConfig
}

func (attentiveRule) name() string { return "attentive" }

func (r attentiveRule) evaluate(_ FeatureSample, c *Counters) verdict {
	if c.EyeClosedStreak != 0 || c.LookingAwayStreak != 0 {
		return verdict{}
	}

	c.AttentiveStreak++
	if c.AttentiveStreak >= r.cfg.AttentiveFrameCount {
		return verdict{candidate: StateAttentive, decided: true}
	}
	return verdict{}
}
