// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/emprendedores-unidos/marketplace/internal/config"
	"github.com/emprendedores-unidos/marketplace/internal/database"
	"github.com/emprendedores-unidos/marketplace/internal/i18n"
	"github.com/emprendedores-unidos/marketplace/internal/messaging/kafka"
	"github.com/emprendedores-unidos/marketplace/internal/metrics"
	"github.com/emprendedores-unidos/marketplace/internal/realtime"
	"github.com/emprendedores-unidos/marketplace/internal/router"
	"github.com/emprendedores-unidos/marketplace/internal/services"
	"github.com/emprendedores-unidos/marketplace/internal/utils"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	setupLogging(cfg)

	if err := i18n.Initialize(cfg.I18n.DefaultLocale); err != nil {
		logrus.WithError(err).Fatal("Failed to initialize i18n")
	}
	utils.SetJWTSecret(cfg.JWT.SecretKey)
	utils.SetExposeInternalErrors(cfg.IsDevelopment())

	// Initialize database
	db, err := database.Initialize(cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.Close(db)

	if err := database.RunMigrations(db); err != nil {
		logrus.WithError(err).Fatal("Failed to run migrations")
	}
	if err := database.SeedInitialData(db, cfg.Admin.Email, cfg.Admin.Password); err != nil {
		logrus.WithError(err).Fatal("Failed to seed initial data")
	}

	m := metrics.New()

	var publisher services.OrderEventPublisher
	if cfg.Kafka.Enabled() {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.ClientID)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer producer.Close()
		publisher = producer
	} else {
		logrus.Info("KAFKA_BROKERS not set, order events are not published")
	}

	var processor services.PaymentProcessor
	if cfg.Payment.StripeSecretKey != "" {
		processor = services.NewStripeProcessor(cfg.Payment.StripeSecretKey)
	} else {
		logrus.Warn("STRIPE_SECRET_KEY not set, payments run in simulated mode")
	}

	hub := realtime.NewHub(m)
	notifier := services.NewNotificationService(hub, publisher, m)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r, stopRouter, err := router.Initialize(router.Dependencies{
		DB:        db,
		Config:    cfg,
		Hub:       hub,
		Notifier:  notifier,
		Metrics:   m,
		Processor: processor,
	})
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize router")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		logrus.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown.
	hub.Close()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	}
	stopRouter()
	notifier.Wait()

	logrus.Info("Server exited")
}

func setupLogging(cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	format := strings.ToLower(cfg.Log.Format)
	if format == "json" || (format == "" && !cfg.IsDevelopment()) {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
