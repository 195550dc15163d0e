package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"attention-monitor/internal/api"
	"attention-monitor/internal/classifier"
	"attention-monitor/internal/config"
	"attention-monitor/internal/consumer"
	"attention-monitor/internal/evaluator"
	"attention-monitor/internal/repository"
	"attention-monitor/internal/sink"
	"attention-monitor/internal/store"
	"attention-monitor/pkg/database"
	mqttcommon "attention-monitor/pkg/mqtt"
	rediscommon "attention-monitor/pkg/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ProfileSource 阈值档案来源（repository.ThresholdProfileRepository）
type ProfileSource interface {
	GetProfile(ctx context.Context, profileID string) (*repository.ThresholdProfile, error)
}

// AttentionService 注意力监测服务（整合各层）
type AttentionService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client

	evaluator *evaluator.Evaluator
	consumer  *consumer.StreamConsumer
	ingress   *consumer.MQTTIngress
	server    *http.Server
}

// NewAttentionService 创建注意力监测服务
func NewAttentionService(cfg *config.Config, logger *zap.Logger) (*AttentionService, error) {
	s := &AttentionService{
		config: cfg,
		logger: logger,
	}

	// 1. 连接 Redis
	s.redisClient = rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(context.Background(), s.redisClient); err != nil {
		s.Stop()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info("Connected to redis",
		zap.String("addr", cfg.Redis.Addr),
		zap.Int("pool_size", cfg.Redis.PoolSize),
	)

	// 2. 阈值档案（仅在指定档案时连接数据库）
	thresholds := cfg.Attention.Thresholds
	if cfg.Attention.ProfileID != "" {
		db, err := database.NewPostgresDB(context.Background(), &cfg.Database)
		if err != nil {
			s.Stop()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		logger.Info("Connected to database",
			zap.String("dsn", cfg.Database.GetDSNForLog()),
			zap.Int("max_conns", cfg.Database.MaxConns),
		)

		repo := repository.NewThresholdProfileRepository(db, logger)
		thresholds, err = ResolveThresholds(context.Background(), cfg, repo, logger)
		if err != nil {
			s.Stop()
			return nil, err
		}
	}

	// 3. 缓存
	kv := store.NewRedisKVStore(s.redisClient)
	statusCache := store.NewStatusCache(kv, cfg.Attention.Cache.StatusKeyPrefix, cfg.Attention.Cache.StatusSuffix, cfg.Attention.Cache.StatusTTL, logger)
	stateManager := store.NewStateManager(kv, cfg.Attention.Cache.StateKeyPrefix, cfg.Attention.Cache.StateTTL, logger)

	// 4. 下游
	sinks := []sink.Sink{
		sink.NewStreamSink(s.redisClient, cfg.Attention.Stream.Output),
		sink.NewLogSink(logger),
	}
	if cfg.Attention.MQTTEnabled {
		mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
		if err != nil {
			s.Stop()
			return nil, fmt.Errorf("failed to connect to mqtt: %w", err)
		}
		s.mqttClient = mqttClient
		sinks = append(sinks, sink.NewMQTTSink(mqttClient, cfg.Attention.Topics.Status, cfg.MQTT.QoS))
		s.ingress = consumer.NewMQTTIngress(cfg, mqttClient, s.redisClient, logger)
	}

	// 5. 评估器与消费者
	eval, err := evaluator.NewEvaluator(thresholds, sink.NewMultiSink(sinks...), logger,
		evaluator.WithStateManager(stateManager),
		evaluator.WithStatusCache(statusCache),
	)
	if err != nil {
		s.Stop()
		return nil, fmt.Errorf("failed to create evaluator: %w", err)
	}
	s.evaluator = eval
	s.consumer = consumer.NewStreamConsumer(cfg, s.redisClient, eval, logger)

	// 6. 查询接口
	handler := api.NewHandler(statusCache, eval, func(ctx context.Context) error {
		return rediscommon.Ping(ctx, s.redisClient)
	}, logger)
	s.server = &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s, nil
}

// ResolveThresholds 按 ATTENTION_PROFILE_ID 读取阈值档案；
// 档案与系统默认档案都不存在时沿用环境变量阈值
func ResolveThresholds(ctx context.Context, cfg *config.Config, profiles ProfileSource, logger *zap.Logger) (classifier.ThresholdConfig, error) {
	if cfg.Attention.ProfileID == "" || profiles == nil {
		return cfg.Attention.Thresholds, nil
	}

	profile, err := profiles.GetProfile(ctx, cfg.Attention.ProfileID)
	if err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			logger.Warn("No threshold profile in database, using environment thresholds",
				zap.String("profile_id", cfg.Attention.ProfileID),
			)
			return cfg.Attention.Thresholds, nil
		}
		return classifier.ThresholdConfig{}, fmt.Errorf("failed to load threshold profile: %w", err)
	}

	logger.Info("Loaded threshold profile",
		zap.String("profile_id", cfg.Attention.ProfileID),
		zap.String("name", profile.Name),
		zap.Bool("system_default", profile.IsSystemDefault()),
	)
	return profile.Thresholds, nil
}

// Start 启动服务，阻塞直到 ctx 取消或消费者出错
func (s *AttentionService) Start(ctx context.Context) error {
	th := s.evaluator.Thresholds()
	s.logger.Info("Starting attention service",
		zap.String("input_stream", s.config.Attention.Stream.Input),
		zap.String("output_stream", s.config.Attention.Stream.Output),
		zap.String("http_addr", s.config.HTTP.Addr),
		zap.Bool("mqtt_enabled", s.config.Attention.MQTTEnabled),
		zap.Float64("eye_closed_threshold", th.EyeClosedThreshold),
		zap.Float64("eye_open_threshold", th.EyeOpenThreshold),
		zap.Int("drowsy_frame_count", th.DrowsyFrameCount),
		zap.Int("looking_away_frame_count", th.LookingAwayFrameCount),
		zap.Int("attentive_frame_count", th.AttentiveFrameCount),
		zap.Float64("assumed_fps", s.config.Attention.AssumedFPS),
	)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	if s.ingress != nil {
		go func() {
			if err := s.ingress.Start(ctx); err != nil {
				s.logger.Error("MQTT ingress error", zap.Error(err))
			}
		}()
	}

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start stream consumer: %w", err)
	}
	return nil
}

// Stop 停止服务并释放连接
func (s *AttentionService) Stop() {
	s.logger.Info("Stopping attention service")

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Error("Error shutting down HTTP server", zap.Error(err))
		}
		cancel()
	}

	if s.ingress != nil {
		_ = s.ingress.Stop()
	}
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	if s.redisClient != nil {
		if err := rediscommon.Close(s.redisClient); err != nil {
			s.logger.Error("Error closing Redis client", zap.Error(err))
		}
	}

	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Error closing database connection", zap.Error(err))
		}
	}

	s.logger.Info("Attention service stopped")
}
