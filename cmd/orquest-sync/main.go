// File: cmd/orquest-sync/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smartdevs17/orquest-service-sync/internal/config"
	"github.com/smartdevs17/orquest-service-sync/internal/export"
	"github.com/smartdevs17/orquest-service-sync/internal/metrics"
	"github.com/smartdevs17/orquest-service-sync/internal/models"
	"github.com/smartdevs17/orquest-service-sync/internal/orquest"
	"github.com/smartdevs17/orquest-service-sync/internal/processor"
	"github.com/smartdevs17/orquest-service-sync/internal/scheduler"
	"github.com/smartdevs17/orquest-service-sync/internal/server"
	"github.com/smartdevs17/orquest-service-sync/internal/storage"
	"github.com/smartdevs17/orquest-service-sync/internal/syncer"
	"github.com/smartdevs17/orquest-service-sync/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application represents the main application
type Application struct {
	config    *config.Config
	logger    *logrus.Logger
	metrics   *metrics.Manager
	storage   storage.Storage
	client    *orquest.Client
	syncer    *syncer.Syncer
	processor *processor.EventProcessor
	scheduler *scheduler.Scheduler
	server    *server.HTTPServer
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApplication creates a new application instance with storage ready.
// The HTTP surface is built separately by initializeServer.
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.metrics = metrics.NewManager(nil)

	if err := app.initializeStorage(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	app.client = orquest.NewClient(&cfg.Orquest, app.metrics)
	app.syncer = syncer.New(app.client, app.storage, &cfg.Sync, app.metrics)
	app.processor = processor.NewEventProcessor(app.storage, &cfg.Webhook, app.metrics)

	return app, nil
}

func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging
	level := logCfg.Level
	if lvl := viper.GetString("log-level"); lvl != "" {
		level = lvl
	}
	if app.config.App.Debug || viper.GetBool("debug") {
		level = "debug"
	}

	if err := utils.InitLogger(level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return err
	}

	app.logger = utils.GetLogger()
	app.logger.WithFields(logrus.Fields{
		"level":  level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Debug("Logger initialized")
	return nil
}

// initializeStorage connects and migrates the configured backend
func (app *Application) initializeStorage() error {
	app.logger.WithFields(logrus.Fields{
		"type":              app.config.Storage.Type,
		"connection_string": app.config.Storage.ConnectionString,
	}).Info("Initializing storage layer")

	store, err := storage.NewStorage(&app.config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}

	if err := store.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}

	if err := store.Migrate(); err != nil {
		store.Close()
		return fmt.Errorf("failed to run storage migrations: %w", err)
	}

	app.storage = storage.NewStorageWithMetrics(store, app.metrics)
	return nil
}

func (app *Application) initializeScheduler() {
	if app.config.Sync.Interval <= 0 {
		app.logger.Info("In-process sync schedule disabled")
		return
	}
	app.scheduler = scheduler.New(app.syncer, scheduler.Config{
		Interval:   app.config.Sync.Interval,
		RunOnStart: app.config.Sync.RunOnStart,
	})
}

func (app *Application) initializeServer() error {
	serverCfg := &server.ServerConfig{
		Port:              app.config.Server.Port,
		Host:              app.config.Server.Host,
		ReadTimeout:       app.config.Server.ReadTimeout,
		WriteTimeout:      app.config.Server.WriteTimeout,
		EnableMetrics:     app.config.Server.EnableMetrics,
		EnableHealth:      app.config.Server.EnableHealth,
		CORSAllowedOrigin: app.config.Server.CORSAllowedOrigin,
		Version:           AppVersion,
		WebhookSecret:     app.config.Webhook.Secret,
		SignatureHeader:   app.config.Webhook.SignatureHeader,
		MaxBodyBytes:      app.config.Webhook.MaxBodyBytes,
	}

	var err error
	app.server, err = server.NewHTTPServer(serverCfg, app.storage, app.syncer, app.processor, app.scheduler, app.metrics)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}
	return nil
}

// Start starts the HTTP server and the optional schedule
func (app *Application) Start() error {
	app.initializeScheduler()
	if err := app.initializeServer(); err != nil {
		return err
	}

	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	}).Info("Starting Orquest service sync")

	if !app.syncer.HasAPIKey() {
		app.logger.Warn("Orquest API key not configured; pull sync requests will be rejected")
	}

	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if app.scheduler != nil {
		if err := app.scheduler.Start(app.ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	app.logger.WithFields(logrus.Fields{
		"server_address": fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"orquest_url":    app.client.ServicesURL(),
		"storage":        app.config.Storage.Type,
	}).Info("Orquest service sync started successfully")
	return nil
}

// Stop stops the application gracefully
func (app *Application) Stop() error {
	app.logger.Info("Stopping Orquest service sync")

	app.cancel()

	if app.scheduler != nil {
		if err := app.scheduler.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop scheduler")
		}
	}

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}

	return app.Close()
}

// Close releases storage
func (app *Application) Close() error {
	if app.storage == nil {
		return nil
	}
	if err := app.storage.Close(); err != nil {
		app.logger.WithError(err).Error("Failed to close storage")
		return err
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// CLI Commands

var rootCmd = &cobra.Command{
	Use:     "orquest-sync",
	Short:   "Orquest service mirror",
	Long:    `Keeps a local table of Orquest services in step with the provider, by pull sync and by webhook.`,
	Version: AppVersion,
	RunE:    runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync and webhook HTTP endpoints",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		app.Stop()
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-signalChan
	app.logger.Info("Received shutdown signal")

	return app.Stop()
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one pull sync and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if prune, _ := cmd.Flags().GetBool("prune"); prune {
			cfg.Sync.PruneMissing = true
		}

		app, err := NewApplication(cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		result, err := app.syncer.SyncAll(cmd.Context(), models.TriggerCLI)
		if err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("sync failed: %s", result.Error)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Synced %d of %d services (%d failed, %d pruned)\n",
			result.ServicesUpdated, result.ServicesFetched, result.ServicesFailed, result.ServicesPruned)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		app, err := NewApplication(cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "Migrations applied (%s)\n", cfg.Storage.Type)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the mirrored services as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		app, err := NewApplication(cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		services, err := app.storage.GetServices(cmd.Context(), models.ServiceFilter{})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if path, _ := cmd.Flags().GetString("out"); path != "" && path != "-" {
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", path, err)
			}
			defer f.Close()
			out = f
		}

		return export.WriteServicesCSV(out, services)
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load services from a CSV produced by export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer f.Close()

		services, err := export.ReadServicesCSV(f)
		if err != nil {
			return err
		}

		app, err := NewApplication(cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		for _, service := range services {
			if err := app.storage.UpsertService(cmd.Context(), service); err != nil {
				return fmt.Errorf("failed to import service %s: %w", service.ID, err)
			}
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d services\n", len(services))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "Orquest service sync %s\n", AppVersion)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Configuration is valid!\n")
		fmt.Fprintf(out, "Environment: %s\n", cfg.App.Environment)
		fmt.Fprintf(out, "Orquest API: %s (key configured: %t)\n", cfg.Orquest.BaseURL, cfg.Orquest.HasAPIKey())
		fmt.Fprintf(out, "Database: %s\n", cfg.Storage.Type)
		fmt.Fprintf(out, "Sync interval: %s\n", cfg.Sync.Interval)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug mode")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	syncCmd.Flags().Bool("prune", false, "delete mirrored services missing from the provider listing")
	exportCmd.Flags().StringP("out", "o", "-", "output file, - for stdout")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(validateConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
