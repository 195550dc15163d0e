// Package classifier 把逐帧的面部几何特征（EAR、偏航、俯仰）转换为去抖后的注意力状态。
// 分类器是纯同步状态机：不做 I/O，不使用定时器，所有“持续时间”都按连续样本数计算。
// 一个 Classifier 只属于一个参与者，调用方负责串行化 Ingest 调用。
package classifier

import (
	"fmt"
	"math"
	"time"
)

// FeatureSample 一次观测
type FeatureSample struct {
	EyeAspectRatio   float64   `json:"ear"`
	HeadYawDegrees   float64   `json:"yaw"`
	HeadPitchDegrees float64   `json:"pitch"`
	Timestamp        time.Time `json:"timestamp"` // 仅用于事件载荷
}

// IsFinite 所有特征值均为有限数
func (s FeatureSample) IsFinite() bool {
	return isFinite(s.EyeAspectRatio) && isFinite(s.HeadYawDegrees) && isFinite(s.HeadPitchDegrees)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Snapshot 分类器可持久化的内部状态
type Snapshot struct {
	State    State    `json:"state"`
	Counters Counters `json:"counters"`
}

// Option 构造选项
type Option func(*Classifier)

// WithClock 设置无人脸事件使用的时间源
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) {
		if now != nil {
			c.now = now
		}
	}
}

// Classifier 注意力状态分类器
type Classifier struct {
	cfg       ThresholdConfig
	rules     []rule
	counters  Counters
	committed State
	now       func() time.Time
}

// New 创建分类器，配置非法时立即返回错误
func New(cfg ThresholdConfig, opts ...Option) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Classifier{
		cfg:       cfg,
		rules:     defaultRules(cfg),
		committed: StateUnset,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Restore 从快照恢复分类器
func Restore(cfg ThresholdConfig, snap Snapshot, opts ...Option) (*Classifier, error) {
	c, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if _, ok := stateNames[snap.State]; !ok {
		return nil, fmt.Errorf("invalid snapshot state: %d", int(snap.State))
	}
	if snap.Counters.EyeClosedStreak < 0 || snap.Counters.LookingAwayStreak < 0 || snap.Counters.AttentiveStreak < 0 {
		return nil, fmt.Errorf("invalid snapshot counters: %+v", snap.Counters)
	}
	c.committed = snap.State
	c.counters = snap.Counters
	return c, nil
}

// Config 返回分类器使用的阈值配置
func (c *Classifier) Config() ThresholdConfig {
	return c.cfg
}

// State 返回当前已提交状态
func (c *Classifier) State() State {
	return c.committed
}

// Counters 返回当前计数
func (c *Classifier) Counters() Counters {
	return c.counters
}

// Snapshot 导出当前内部状态
func (c *Classifier) Snapshot() Snapshot {
	return Snapshot{State: c.committed, Counters: c.counters}
}

// Reset 清零计数并回到初始状态，不产生事件
func (c *Classifier) Reset() {
	c.counters = Counters{}
	c.committed = StateUnset
}

// Ingest 输入一个样本；sample 为 nil 表示本周期未检测到人脸。
// 仅当已提交状态发生变化时返回事件，否则返回 nil。
func (c *Classifier) Ingest(sample *FeatureSample) *StatusEvent {
	if sample == nil {
		return c.ingestNoFace(c.now())
	}

	// NaN/Inf 会让所有比较为 false 并破坏连续计数，直接忽略
	if !sample.IsFinite() {
		return nil
	}

	candidate := c.committed
	var decidedBy string
	for _, r := range c.rules {
		v := r.evaluate(*sample, &c.counters)
		if v.decided {
			candidate = v.candidate
			decidedBy = r.name()
			break
		}
		if v.claimed {
			break
		}
	}

	return c.commit(candidate, decidedBy, c.stamp(sample.Timestamp))
}

// IngestNoFaceAt 与 Ingest(nil) 相同，但事件时间取采集时间 ts（零值时取时钟）
func (c *Classifier) IngestNoFaceAt(ts time.Time) *StatusEvent {
	return c.ingestNoFace(c.stamp(ts))
}

// ingestNoFace 无人脸立即生效，不去抖；任何连续计数都被打断
func (c *Classifier) ingestNoFace(ts time.Time) *StatusEvent {
	c.counters = Counters{}
	return c.commit(StateNoFace, RuleNoFace, ts)
}

func (c *Classifier) stamp(ts time.Time) time.Time {
	if ts.IsZero() {
		return c.now()
	}
	return ts
}

func (c *Classifier) commit(candidate State, decidedBy string, ts time.Time) *StatusEvent {
	if candidate == c.committed {
		return nil
	}

	c.committed = candidate
	c.clearOtherCounters(candidate)

	return &StatusEvent{
		Status:     candidate,
		Confidence: candidate.Confidence(),
		Rule:       decidedBy,
		Timestamp:  ts,
	}
}

// clearOtherCounters 清除其他分支的计数
func (c *Classifier) clearOtherCounters(committed State) {
	switch committed {
	case StateDrowsy:
		c.counters.LookingAwayStreak = 0
		c.counters.AttentiveStreak = 0
	case StateLookingAway:
		c.counters.EyeClosedStreak = 0
		c.counters.AttentiveStreak = 0
	case StateAttentive:
		c.counters.EyeClosedStreak = 0
		c.counters.LookingAwayStreak = 0
	case StateNoFace:
		c.counters = Counters{}
	}
}
