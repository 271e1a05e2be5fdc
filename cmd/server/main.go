package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/gerd-center-server/internal/api"
	"github.com/gerd-center-server/internal/config"
	"github.com/gerd-center-server/internal/database"
	"github.com/gerd-center-server/internal/domain"
	"github.com/gerd-center-server/internal/events"
	"github.com/gerd-center-server/internal/service"
	"github.com/gerd-center-server/internal/store"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger := newLogger(cfg.Logging)
	logger.WithFields(logrus.Fields{
		"host":   cfg.Server.Host,
		"port":   cfg.Server.Port,
		"driver": cfg.Database.Driver,
	}).Info("Starting GERD center server")

	clinicalStore, health, err := openStore(&cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open clinical store")
	}
	defer clinicalStore.Close()

	bus := events.NewBus(logger)
	hub := events.NewHub(bus, logger)

	resolver, err := service.NewBarrettStatusResolver(clinicalStore, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create status resolver")
	}
	advisor := service.NewSurveillanceIntervalAdvisor()

	deps := api.Deps{
		Records:    service.NewRecordService(clinicalStore, resolver, bus, logger),
		Pathology:  service.NewPathologyService(clinicalStore, resolver, advisor, bus, logger),
		Surveil:    service.NewSurveillanceService(clinicalStore, resolver, advisor, logger),
		Reconciler: service.NewSurveillancePlanReconciler(clinicalStore, bus, logger),
		Projector:  service.NewRecallQueueProjector(clinicalStore, logger),
		Hub:        hub,
		Health:     health,
	}
	server := api.NewServer(cfg, deps, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
	logger.Info("Server stopped")
}

// openStore selects the store implementation from configuration.
func openStore(cfg *domain.DatabaseConfig, logger *logrus.Logger) (domain.ClinicalEventStore, interface{ Health() error }, error) {
	switch cfg.Driver {
	case "postgres":
		pg, err := store.NewPostgresStoreFromURL(cfg.URL, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg, nil
	default:
		db, err := database.Open(cfg.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		return store.NewSQLiteStore(db.SQL, logger), db, nil
	}
}

func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}
