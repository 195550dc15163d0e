package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"attention-monitor/internal/classifier"

	"go.uber.org/zap"
)

// ErrProfileNotFound 既没有指定档案也没有系统默认档案
var ErrProfileNotFound = errors.New("threshold profile not found")

// ThresholdProfile 阈值档案（attention_threshold_profiles 表）
type ThresholdProfile struct {
	ProfileID  *string // NULL 表示系统默认档案
	Name       string
	Thresholds classifier.ThresholdConfig
	UpdatedAt  time.Time
}

// IsSystemDefault 是否为系统默认档案
func (p *ThresholdProfile) IsSystemDefault() bool {
	return p.ProfileID == nil
}

// ThresholdProfileRepository 阈值档案仓库
type ThresholdProfileRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewThresholdProfileRepository 创建阈值档案仓库
func NewThresholdProfileRepository(db *sql.DB, logger *zap.Logger) *ThresholdProfileRepository {
	return &ThresholdProfileRepository{
		db:     db,
		logger: logger,
	}
}

const profileColumns = `
		profile_id,
		name,
		eye_closed_threshold,
		eye_open_threshold,
		drowsy_frame_count,
		yaw_extreme_degrees,
		yaw_moderate_degrees,
		pitch_down_degrees,
		pitch_up_degrees,
		looking_away_frame_count,
		attentive_frame_count,
		updated_at`

// GetProfile 读取指定档案；不存在时回退到系统默认档案（profile_id IS NULL）。
// 返回的阈值已校验。
func (r *ThresholdProfileRepository) GetProfile(ctx context.Context, profileID string) (*ThresholdProfile, error) {
	query := `
		SELECT` + profileColumns + `
		FROM attention_threshold_profiles
		WHERE profile_id = $1 OR profile_id IS NULL
		ORDER BY profile_id NULLS LAST
		LIMIT 1
	`

	var p ThresholdProfile
	var pid sql.NullString
	th := &p.Thresholds

	err := r.db.QueryRowContext(ctx, query, profileID).Scan(
		&pid,
		&p.Name,
		&th.EyeClosedThreshold,
		&th.EyeOpenThreshold,
		&th.DrowsyFrameCount,
		&th.YawExtremeDegrees,
		&th.YawModerateDegrees,
		&th.PitchDownDegrees,
		&th.PitchUpDegrees,
		&th.LookingAwayFrameCount,
		&th.AttentiveFrameCount,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, profileID)
		}
		return nil, fmt.Errorf("failed to query threshold profile: %w", err)
	}

	if pid.Valid {
		p.ProfileID = &pid.String
	} else {
		r.logger.Warn("Threshold profile not found, using system default",
			zap.String("profile_id", profileID),
			zap.String("default_name", p.Name),
		)
	}

	if err := p.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("threshold profile %q: %w", p.Name, err)
	}
	return &p, nil
}

// UpsertProfile 创建或更新指定档案（不用于系统默认档案）
func (r *ThresholdProfileRepository) UpsertProfile(ctx context.Context, profileID, name string, th classifier.ThresholdConfig) error {
	if profileID == "" {
		return fmt.Errorf("profile_id is required")
	}
	if err := th.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO attention_threshold_profiles (` + profileColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (profile_id) DO UPDATE SET
			name = EXCLUDED.name,
			eye_closed_threshold = EXCLUDED.eye_closed_threshold,
			eye_open_threshold = EXCLUDED.eye_open_threshold,
			drowsy_frame_count = EXCLUDED.drowsy_frame_count,
			yaw_extreme_degrees = EXCLUDED.yaw_extreme_degrees,
			yaw_moderate_degrees = EXCLUDED.yaw_moderate_degrees,
			pitch_down_degrees = EXCLUDED.pitch_down_degrees,
			pitch_up_degrees = EXCLUDED.pitch_up_degrees,
			looking_away_frame_count = EXCLUDED.looking_away_frame_count,
			attentive_frame_count = EXCLUDED.attentive_frame_count,
			updated_at = NOW()
	`

	_, err := r.db.ExecContext(ctx, query,
		profileID,
		name,
		th.EyeClosedThreshold,
		th.EyeOpenThreshold,
		th.DrowsyFrameCount,
		th.YawExtremeDegrees,
		th.YawModerateDegrees,
		th.PitchDownDegrees,
		th.PitchUpDegrees,
		th.LookingAwayFrameCount,
		th.AttentiveFrameCount,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert threshold profile: %w", err)
	}

	r.logger.Info("Threshold profile saved",
		zap.String("profile_id", profileID),
		zap.String("name", name),
	)
	return nil
}
