package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-haulage/internal/audit"
	"github.com/ukydev/fleet-haulage/internal/auth"
	"github.com/ukydev/fleet-haulage/internal/clock"
	"github.com/ukydev/fleet-haulage/internal/config"
	"github.com/ukydev/fleet-haulage/internal/db"
	"github.com/ukydev/fleet-haulage/internal/handlers"
	"github.com/ukydev/fleet-haulage/internal/maintenance"
	"github.com/ukydev/fleet-haulage/internal/models"
	"github.com/ukydev/fleet-haulage/internal/payments"
	"github.com/ukydev/fleet-haulage/internal/receipts"
	"github.com/ukydev/fleet-haulage/internal/trips"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:      "8080",
		JWTSecret: "test-secret",
		JWTExpiry: time.Hour,
		AuditSink: config.SinkLog,
		LogLevel:  log.DebugLevel,
		LogFormat: "json",
	}
}

func TestConfigureLogger(t *testing.T) {
	logger := log.New()
	configureLogger(logger, testConfig())
	assert.Equal(t, log.DebugLevel, logger.GetLevel())
	assert.IsType(t, &log.JSONFormatter{}, logger.Formatter)

	cfg := testConfig()
	cfg.LogFormat = "text"
	cfg.LogLevel = log.WarnLevel
	configureLogger(logger, cfg)
	assert.Equal(t, log.WarnLevel, logger.GetLevel())
	assert.IsType(t, &log.TextFormatter{}, logger.Formatter)
}

func TestNewAuditSink_Log(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sink, closer, err := newAuditSink(testConfig(), logger)
	require.NoError(t, err)
	assert.IsType(t, audit.LogSink{}, sink)
	assert.NoError(t, closer.Close())
}

func TestNewToken(t *testing.T) {
	cfg := testConfig()
	token, err := newToken(cfg, "ops", models.RoleAccountant)
	require.NoError(t, err)

	claims, err := auth.NewService(cfg.JWTSecret, cfg.JWTExpiry).ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Username)
	assert.Equal(t, models.RoleAccountant, claims.Role)

	_, err = newToken(cfg, "ops", "superuser")
	assert.Error(t, err)
}

func TestNewRouter(t *testing.T) {
	cfg := testConfig()
	logger, _ := test.NewNullLogger()
	clk := clock.Fake(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC))
	store := db.NewMemoryStore()
	rs := receipts.NewMemoryStore()
	rec := audit.NewRecorder(audit.NopSink{}, clk, logger)
	paymentSvc := payments.NewService(store, rs, rec, clk, logger)
	fleet := handlers.NewFleetHandler(
		trips.NewService(store, paymentSvc, rec, clk, logger),
		maintenance.NewService(store, rs, rec, clk, logger),
		paymentSvc,
		logger,
	)
	router := newRouter(cfg, clk, logger, fleet)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/trips", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := newToken(cfg, "viewer", models.RoleViewer)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/maintenance", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
