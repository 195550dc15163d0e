package classifier

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := New(DefaultThresholdConfig(), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return c
}

func sample(ear, yaw, pitch float64) *FeatureSample {
	return &FeatureSample{
		EyeAspectRatio:   ear,
		HeadYawDegrees:   yaw,
		HeadPitchDegrees: pitch,
		Timestamp:        fixedNow,
	}
}

func closedEyes() *FeatureSample { return sample(0.08, 0, 0) }
func clean() *FeatureSample      { return sample(0.30, 0, 0) }
func turnedAway() *FeatureSample { return sample(0.30, 60, 0) }

// feed 依次输入样本并收集返回值
func feed(c *Classifier, samples ...*FeatureSample) []*StatusEvent {
	events := make([]*StatusEvent, 0, len(samples))
	for _, s := range samples {
		events = append(events, c.Ingest(s))
	}
	return events
}

func repeat(s *FeatureSample, n int) []*FeatureSample {
	out := make([]*FeatureSample, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func nonNil(events []*StatusEvent) []*StatusEvent {
	var out []*StatusEvent
	for _, e := range events {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultThresholdConfig()
	cfg.EyeOpenThreshold = cfg.EyeClosedThreshold

	c, err := New(cfg)
	assert.Nil(t, c)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestClassifier_InitialState(t *testing.T) {
	c := newTestClassifier(t)
	assert.Equal(t, StateUnset, c.State())
	assert.Equal(t, Counters{}, c.Counters())
}

func TestClassifier_DrowsyDebounce(t *testing.T) {
	c := newTestClassifier(t)
	cfg := c.Config()
	below := sample(cfg.EyeClosedThreshold-0.01, 0, 0)

	events := feed(c, repeat(below, cfg.DrowsyFrameCount-1)...)
	assert.Empty(t, nonNil(events), "must not emit before the streak reaches the frame count")

	ev := c.Ingest(below)
	require.NotNil(t, ev)
	assert.Equal(t, StateDrowsy, ev.Status)
	assert.Equal(t, ConfidenceDrowsy, ev.Confidence)
	assert.Equal(t, fixedNow, ev.Timestamp)
}

func TestClassifier_DefaultScenario(t *testing.T) {
	c := newTestClassifier(t)

	events := feed(c, repeat(closedEyes(), 9)...)

	require.Len(t, events, 9)
	for i := 0; i < 8; i++ {
		assert.Nil(t, events[i], "sample %d", i)
	}
	require.NotNil(t, events[8])
	assert.Equal(t, StateDrowsy, events[8].Status)
}

func TestClassifier_HysteresisDeadZone(t *testing.T) {
	c := newTestClassifier(t)
	feed(c, repeat(closedEyes(), 3)...)
	require.Equal(t, 3, c.Counters().EyeClosedStreak)

	// 介于闭眼阈值和睁眼阈值之间
	ev := c.Ingest(sample(0.15, 0, 0))

	assert.Nil(t, ev)
	assert.Equal(t, 3, c.Counters().EyeClosedStreak)
	assert.Equal(t, 0, c.Counters().AttentiveStreak)

	// 明确睁眼才会清零
	c.Ingest(clean())
	assert.Equal(t, 0, c.Counters().EyeClosedStreak)
}

func TestClassifier_DeadZoneDoesNotStartStreak(t *testing.T) {
	c := newTestClassifier(t)

	c.Ingest(sample(0.15, 0, 0))

	assert.Equal(t, 0, c.Counters().EyeClosedStreak)
}

func TestClassifier_EdgeTriggered(t *testing.T) {
	c := newTestClassifier(t)
	feed(c, repeat(closedEyes(), 9)...)
	require.Equal(t, StateDrowsy, c.State())

	events := feed(c, repeat(closedEyes(), 20)...)

	assert.Empty(t, nonNil(events))
	assert.Equal(t, StateDrowsy, c.State())
}

func TestClassifier_NoFaceImmediate(t *testing.T) {
	c := newTestClassifier(t)
	feed(c, repeat(closedEyes(), 4)...)

	ev := c.Ingest(nil)

	require.NotNil(t, ev)
	assert.Equal(t, StateNoFace, ev.Status)
	assert.Equal(t, ConfidenceNoFace, ev.Confidence)
	assert.Equal(t, fixedNow, ev.Timestamp)
	assert.Equal(t, Counters{}, c.Counters())

	assert.Nil(t, c.Ingest(nil), "no repeated emission while the face stays missing")
}

func TestClassifier_NoFaceFromEveryState(t *testing.T) {
	tests := []struct {
		name    string
		prepare []*FeatureSample
		from    State
	}{
		{"from attentive", repeat(clean(), 5), StateAttentive},
		{"from looking away", repeat(turnedAway(), 5), StateLookingAway},
		{"from drowsy", repeat(closedEyes(), 9), StateDrowsy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClassifier(t)
			feed(c, tt.prepare...)
			require.Equal(t, tt.from, c.State())

			ev := c.Ingest(nil)
			require.NotNil(t, ev)
			assert.Equal(t, StateNoFace, ev.Status)
		})
	}
}

func TestClassifier_DrowsyTakesPriorityOverLookingAway(t *testing.T) {
	c := newTestClassifier(t)
	both := sample(0.08, 70, -30)

	events := nonNil(feed(c, repeat(both, 12)...))

	require.Len(t, events, 1)
	assert.Equal(t, StateDrowsy, events[0].Status)
	assert.Equal(t, 0, c.Counters().LookingAwayStreak)
}

func TestClassifier_RecoveryFromDrowsy(t *testing.T) {
	c := newTestClassifier(t)
	feed(c, repeat(closedEyes(), 9)...)
	require.Equal(t, StateDrowsy, c.State())

	events := feed(c, repeat(clean(), c.Config().AttentiveFrameCount)...)

	emitted := nonNil(events)
	require.Len(t, emitted, 1)
	assert.Equal(t, StateAttentive, emitted[0].Status)
	assert.NotNil(t, events[len(events)-1], "the attentive event lands on the last clean sample")
}

func TestClassifier_LookingAway(t *testing.T) {
	tests := []struct {
		name  string
		yaw   float64
		pitch float64
		away  bool
	}{
		{"extreme yaw right", 55, 0, true},
		{"extreme yaw left", -55, 0, true},
		{"moderate yaw with head down", 35, -25, true},
		{"moderate yaw with head up", -35, 25, true},
		{"moderate yaw level head", 35, 5, false},
		{"small yaw strong pitch", 10, -40, false},
		{"forward", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClassifier(t)
			s := sample(0.30, tt.yaw, tt.pitch)

			events := nonNil(feed(c, repeat(s, c.Config().LookingAwayFrameCount)...))

			require.Len(t, events, 1)
			if tt.away {
				assert.Equal(t, StateLookingAway, events[0].Status)
				assert.Equal(t, ConfidenceLookingAway, events[0].Confidence)
			} else {
				assert.Equal(t, StateAttentive, events[0].Status)
			}
		})
	}
}

func TestClassifier_LookingAwayDebounce(t *testing.T) {
	c := newTestClassifier(t)
	feed(c, repeat(clean(), 5)...)
	require.Equal(t, StateAttentive, c.State())

	// 一次短暂转头不应触发
	events := feed(c, turnedAway(), turnedAway(), clean(), turnedAway())
	assert.Empty(t, nonNil(events))
	assert.Equal(t, 1, c.Counters().LookingAwayStreak)

	events = feed(c, repeat(turnedAway(), 4)...)
	emitted := nonNil(events)
	require.Len(t, emitted, 1)
	assert.Equal(t, StateLookingAway, emitted[0].Status)
}

func TestClassifier_AttentiveStreakResetsWhenLookingAway(t *testing.T) {
	c := newTestClassifier(t)
	feed(c, clean(), clean(), clean())
	require.Equal(t, 3, c.Counters().AttentiveStreak)

	c.Ingest(turnedAway())

	assert.Equal(t, 0, c.Counters().AttentiveStreak)
	assert.Equal(t, 1, c.Counters().LookingAwayStreak)
}

func TestClassifier_RejectsNonFinite(t *testing.T) {
	tests := []struct {
		name string
		s    *FeatureSample
	}{
		{"nan ear", sample(math.NaN(), 0, 0)},
		{"inf yaw", sample(0.3, math.Inf(1), 0)},
		{"negative inf pitch", sample(0.3, 0, math.Inf(-1))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClassifier(t)
			feed(c, repeat(closedEyes(), 8)...)
			before := c.Counters()

			assert.Nil(t, c.Ingest(tt.s))
			assert.Equal(t, before, c.Counters())
			assert.Equal(t, StateUnset, c.State())

			// 下一次合法样本仍能完成去抖
			ev := c.Ingest(closedEyes())
			require.NotNil(t, ev)
			assert.Equal(t, StateDrowsy, ev.Status)
		})
	}
}

func TestClassifier_Reset(t *testing.T) {
	c := newTestClassifier(t)
	feed(c, repeat(closedEyes(), 9)...)
	require.Equal(t, StateDrowsy, c.State())

	c.Reset()

	assert.Equal(t, StateUnset, c.State())
	assert.Equal(t, Counters{}, c.Counters())

	events := nonNil(feed(c, repeat(closedEyes(), 9)...))
	require.Len(t, events, 1)
	assert.Equal(t, StateDrowsy, events[0].Status)
}

func TestClassifier_AllStatesReachable(t *testing.T) {
	c := newTestClassifier(t)
	var seen []State

	steps := [][]*FeatureSample{
		repeat(clean(), 5),
		repeat(turnedAway(), 5),
		repeat(closedEyes(), 9),
		{nil},
		repeat(turnedAway(), 5),
		repeat(clean(), 5),
		{nil},
		repeat(closedEyes(), 9),
		repeat(turnedAway(), 5),
	}
	for _, step := range steps {
		for _, e := range nonNil(feed(c, step...)) {
			seen = append(seen, e.Status)
		}
	}

	assert.Equal(t, []State{
		StateAttentive,
		StateLookingAway,
		StateDrowsy,
		StateNoFace,
		StateLookingAway,
		StateAttentive,
		StateNoFace,
		StateDrowsy,
		StateLookingAway,
	}, seen)
}

func TestClassifier_ZeroTimestampUsesClock(t *testing.T) {
	c := newTestClassifier(t)
	s := &FeatureSample{EyeAspectRatio: 0.3}

	events := nonNil(feed(c, repeat(s, 5)...))

	require.Len(t, events, 1)
	assert.Equal(t, fixedNow, events[0].Timestamp)
}

func TestClassifier_IngestNoFaceAt(t *testing.T) {
	c := newTestClassifier(t)
	feed(c, repeat(clean(), 5)...)
	require.Equal(t, StateAttentive, c.State())

	captured := fixedNow.Add(-3 * time.Second)
	ev := c.IngestNoFaceAt(captured)
	require.NotNil(t, ev)
	assert.Equal(t, StateNoFace, ev.Status)
	assert.Equal(t, captured, ev.Timestamp)
	assert.Equal(t, Counters{}, c.Counters())

	assert.Nil(t, c.IngestNoFaceAt(captured))

	feed(c, repeat(clean(), 5)...)
	ev = c.IngestNoFaceAt(time.Time{})
	require.NotNil(t, ev)
	assert.Equal(t, fixedNow, ev.Timestamp)
}

func TestClassifier_EventRule(t *testing.T) {
	c := newTestClassifier(t)

	ev := nonNil(feed(c, repeat(clean(), 5)...))
	require.Len(t, ev, 1)
	assert.Equal(t, "attentive", ev[0].Rule)

	ev = nonNil(feed(c, repeat(turnedAway(), 5)...))
	require.Len(t, ev, 1)
	assert.Equal(t, "looking_away", ev[0].Rule)

	ev = nonNil(feed(c, repeat(closedEyes(), 9)...))
	require.Len(t, ev, 1)
	assert.Equal(t, StateDrowsy, ev[0].Status)
	assert.Equal(t, "drowsiness", ev[0].Rule)

	noFace := c.Ingest(nil)
	require.NotNil(t, noFace)
	assert.Equal(t, RuleNoFace, noFace.Rule)
}

func TestClassifier_SnapshotRestore(t *testing.T) {
	c := newTestClassifier(t)
	feed(c, repeat(closedEyes(), 8)...)

	snap := c.Snapshot()
	assert.Equal(t, StateUnset, snap.State)
	assert.Equal(t, 8, snap.Counters.EyeClosedStreak)

	restored, err := Restore(c.Config(), snap)
	require.NoError(t, err)

	ev := restored.Ingest(closedEyes())
	require.NotNil(t, ev)
	assert.Equal(t, StateDrowsy, ev.Status)
}

func TestRestore_InvalidSnapshot(t *testing.T) {
	_, err := Restore(DefaultThresholdConfig(), Snapshot{State: State(42)})
	assert.Error(t, err)

	_, err = Restore(DefaultThresholdConfig(), Snapshot{Counters: Counters{AttentiveStreak: -1}})
	assert.Error(t, err)

	bad := DefaultThresholdConfig()
	bad.AttentiveFrameCount = 0
	_, err = Restore(bad, Snapshot{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
