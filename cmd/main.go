package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/ukydev/fleet-haulage/internal/audit"
	"github.com/ukydev/fleet-haulage/internal/auth"
	"github.com/ukydev/fleet-haulage/internal/clock"
	"github.com/ukydev/fleet-haulage/internal/config"
	"github.com/ukydev/fleet-haulage/internal/db"
	"github.com/ukydev/fleet-haulage/internal/handlers"
	"github.com/ukydev/fleet-haulage/internal/maintenance"
	"github.com/ukydev/fleet-haulage/internal/middleware"
	"github.com/ukydev/fleet-haulage/internal/models"
	"github.com/ukydev/fleet-haulage/internal/payments"
	"github.com/ukydev/fleet-haulage/internal/receipts"
	"github.com/ukydev/fleet-haulage/internal/scheduler"
	"github.com/ukydev/fleet-haulage/internal/trips"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	rateLimitRequests = 120
	rateLimitWindow   = time.Minute
)

func main() {
	envFile := pflag.String("env-file", "", "env file to load instead of .env")
	noScheduler := pflag.Bool("no-scheduler", false, "serve the API without the background scheduler")
	issueToken := pflag.String("issue-token", "", "print a bearer token for this username and exit")
	role := pflag.String("role", string(models.RoleDispatcher), "role of the token issued by --issue-token")
	pflag.Parse()

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	configureLogger(log.StandardLogger(), cfg)

	if *issueToken != "" {
		token, err := newToken(cfg, *issueToken, models.Role(*role))
		if err != nil {
			log.WithError(err).Fatal("Failed to issue token")
		}
		fmt.Println(token)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, !*noScheduler); err != nil {
		log.WithError(err).Fatal("Service stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, withScheduler bool) error {
	logger := log.StandardLogger()

	client, err := db.ConnectMongo(ctx, cfg.MongoURI)
	if err != nil {
		return err
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(disconnectCtx); err != nil {
			log.WithError(err).Warn("Failed to disconnect from MongoDB")
		}
	}()
	log.WithField("database", cfg.MongoDB).Info("Connected to MongoDB")

	store := db.NewMongoStore(client, cfg.MongoDB)
	if err := store.EnsureIndexes(ctx); err != nil {
		return err
	}
	receiptStore, err := receipts.NewGridFSStore(store.Database(), cfg.ReceiptBucket)
	if err != nil {
		return err
	}

	sink, closeSink, err := newAuditSink(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink.Close()

	clk := clock.Real()
	recorder := audit.NewRecorder(sink, clk, logger.WithField("component", "audit"))
	paymentSvc := payments.NewService(store, receiptStore, recorder, clk, logger.WithField("component", "payments"))
	maintenanceSvc := maintenance.NewService(store, receiptStore, recorder, clk, logger.WithField("component", "maintenance"))
	tripSvc := trips.NewService(store, paymentSvc, recorder, clk, logger.WithField("component", "trips"))

	done := make(chan struct{})
	if withScheduler {
		automation := scheduler.NewAutomation(store, tripSvc, maintenanceSvc, paymentSvc, clk,
			logger.WithField("component", "automation"), cfg.Scheduler)
		sched := scheduler.New(clk, logger.WithField("component", "scheduler"), automation.Tasks()...)
		go func() {
			defer close(done)
			sched.Run(ctx)
		}()
	} else {
		close(done)
		log.Info("Scheduler disabled")
	}

	handler := newRouter(cfg, clk, logger, handlers.NewFleetHandler(tripSvc, maintenanceSvc, paymentSvc, logger.WithField("component", "http")))
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Port).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown")
	}
	<-done
	return nil
}

func configureLogger(logger *log.Logger, cfg *config.Config) {
	logger.SetLevel(cfg.LogLevel)
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
		return
	}
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func newAuditSink(cfg *config.Config, logger log.FieldLogger) (audit.Sink, io.Closer, error) {
	switch cfg.AuditSink {
	case config.SinkMQTT:
		sink, err := audit.NewMQTTSink(cfg.MQTTBroker, cfg.MQTTTopic)
		if err != nil {
			return nil, nil, err
		}
		log.WithField("broker", cfg.MQTTBroker).Info("Publishing audit entries over MQTT")
		return sink, closerFunc(func() error { sink.Close(); return nil }), nil
	case config.SinkAMQP:
		sink, err := audit.NewAMQPSink(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, nil, err
		}
		log.WithField("exchange", cfg.AMQPExchange).Info("Publishing audit entries over AMQP")
		return sink, sink, nil
	default:
		return audit.LogSink{Log: logger.WithField("component", "audit")}, closerFunc(func() error { return nil }), nil
	}
}

func newRouter(cfg *config.Config, clk clock.Clock, logger log.FieldLogger, fleet *handlers.FleetHandler) http.Handler {
	mux := http.NewServeMux()
	authMW := middleware.NewAuthMiddleware(auth.NewService(cfg.JWTSecret, cfg.JWTExpiry))
	fleet.Routes(mux, authMW)

	limiter := middleware.NewRateLimitMiddleware(clk)
	return middleware.RequestLogger(logger)(limiter.RateLimit(rateLimitRequests, rateLimitWindow)(mux))
}

func newToken(cfg *config.Config, username string, role models.Role) (string, error) {
	svc := auth.NewService(cfg.JWTSecret, cfg.JWTExpiry)
	return svc.GenerateToken(&models.User{
		ID:       primitive.NewObjectID(),
		Username: username,
		Role:     role,
		IsActive: true,
	})
}
