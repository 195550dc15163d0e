// Package api 参与者状态查询与运维接口
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"attention-monitor/internal/evaluator"
	"attention-monitor/internal/metrics"
	"attention-monitor/internal/models"
	"attention-monitor/internal/store"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// StatusReader 当前状态读取（store.StatusCache）
type StatusReader interface {
	GetStatus(ctx context.Context, participantID string) (*models.ParticipantStatus, error)
}

// SessionManager 会话管理（evaluator.Evaluator）
type SessionManager interface {
	Session(participantID string) (*evaluator.SessionInfo, error)
	EndSession(ctx context.Context, participantID string) error
	ActiveSessions() []evaluator.SessionInfo
}

// HealthCheck 依赖健康检查（如 Redis PING）
type HealthCheck func(ctx context.Context) error

// Handler HTTP 处理器
type Handler struct {
	statuses  StatusReader
	sessions  SessionManager
	health    HealthCheck
	logger    *zap.Logger
	startTime time.Time
}

// NewHandler 创建处理器；health 可为 nil
func NewHandler(statuses StatusReader, sessions SessionManager, health HealthCheck, logger *zap.Logger) *Handler {
	return &Handler{
		statuses:  statuses,
		sessions:  sessions,
		health:    health,
		logger:    logger,
		startTime: time.Now(),
	}
}

// Router 注册路由
func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", h.HealthHandler).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/sessions", h.ListSessionsHandler).Methods("GET")
	router.HandleFunc("/participants/{id}/status", h.StatusHandler).Methods("GET")
	router.HandleFunc("/participants/{id}/session", h.SessionHandler).Methods("GET")
	router.HandleFunc("/participants/{id}/session", h.EndSessionHandler).Methods("DELETE")
	return router
}

// HealthHandler GET /healthz
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC(),
		"uptime":          time.Since(h.startTime).String(),
		"active_sessions": len(h.sessions.ActiveSessions()),
	}

	code := http.StatusOK
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			body["status"] = "unhealthy"
			body["error"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, r, "/healthz", body, code)
}

// StatusHandler GET /participants/{id}/status
func (h *Handler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	participantID := mux.Vars(r)["id"]

	status, err := h.statuses.GetStatus(r.Context(), participantID)
	if err != nil {
		if errors.Is(err, store.ErrCacheMiss) {
			h.respondError(w, r, "/participants/status", "no status for participant", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to read participant status",
			zap.String("participant_id", participantID),
			zap.Error(err),
		)
		h.respondError(w, r, "/participants/status", "failed to read status", http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, r, "/participants/status", status, http.StatusOK)
}

// SessionHandler GET /participants/{id}/session：分类器内部状态与计数
func (h *Handler) SessionHandler(w http.ResponseWriter, r *http.Request) {
	info, err := h.sessions.Session(mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, "/participants/session", err.Error(), http.StatusNotFound)
		return
	}
	h.respondJSON(w, r, "/participants/session", info, http.StatusOK)
}

// EndSessionHandler DELETE /participants/{id}/session
func (h *Handler) EndSessionHandler(w http.ResponseWriter, r *http.Request) {
	participantID := mux.Vars(r)["id"]

	if err := h.sessions.EndSession(r.Context(), participantID); err != nil {
		if errors.Is(err, evaluator.ErrSessionNotFound) {
			h.respondError(w, r, "/participants/session", err.Error(), http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to end session",
			zap.String("participant_id", participantID),
			zap.Error(err),
		)
		h.respondError(w, r, "/participants/session", "failed to end session", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
	metrics.RequestsTotal.WithLabelValues("/participants/session", r.Method, "204").Inc()
}

// ListSessionsHandler GET /sessions
func (h *Handler) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, r, "/sessions", h.sessions.ActiveSessions(), http.StatusOK)
}

func (h *Handler) respondJSON(w http.ResponseWriter, r *http.Request, endpoint string, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
	metrics.RequestsTotal.WithLabelValues(endpoint, r.Method, strconv.Itoa(status)).Inc()
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, endpoint string, message string, status int) {
	h.respondJSON(w, r, endpoint, map[string]string{"error": message}, status)
}
