package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/invoice-approval/internal"
	"github.com/frahmantamala/invoice-approval/internal/chat"
	"github.com/frahmantamala/invoice-approval/internal/core/events"
	"github.com/frahmantamala/invoice-approval/internal/intent"
	"github.com/frahmantamala/invoice-approval/internal/invoice"
	"github.com/frahmantamala/invoice-approval/internal/invoice/storage"
	"github.com/frahmantamala/invoice-approval/internal/ledger"
	"github.com/frahmantamala/invoice-approval/internal/pipeline"
	"github.com/frahmantamala/invoice-approval/internal/scheduler"
	"github.com/frahmantamala/invoice-approval/internal/sheets"
	"github.com/frahmantamala/invoice-approval/internal/transport/rest"
	"github.com/frahmantamala/invoice-approval/pkg/logger"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Start the approval agent",
	Long:  `Start the HTTP API, message ingest pool and SLA scheduler`,
	Run: func(cmd *cobra.Command, args []string) {
		startAgent()
	},
}

type Dependencies struct {
	Config     *internal.Config
	Logger     *slog.Logger
	Store      *storage.Store
	ChatClient *chat.Client
	Service    *invoice.Service
	Ingest     *pipeline.Ingest
	Scheduler  *scheduler.Scheduler
	Router     *chi.Mux
}

func startAgent() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	go deps.Scheduler.Run(schedulerCtx)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("starting approval agent", "address", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      deps.Router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("received signal, shutting down", "signal", sig)

		// Suppress outbound chat sends first so half-processed messages do
		// not post partial notices while the pool drains.
		deps.ChatClient.Shutdown()
		stopScheduler()
		deps.Ingest.Shutdown()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("server shutdown error", "error", err)
		}
		if db, err := deps.Store.DB(); err == nil {
			if err := db.Close(); err != nil {
				deps.Logger.Error("database close error", "error", err)
			}
		}
	case err := <-serverErrChan:
		stopScheduler()
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("agent stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(os.Getenv("APP_ENV"))
	lg := logger.LoggerWrapper()

	store, err := storage.Open(config.Database, lg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	chatClient := chat.NewClient(config.Chat, lg)
	resolver := intent.NewLLMResolver(config.LLM.APIBaseURL, config.LLM.APIKey, config.LLM.Model, lg)
	verifier := ledger.NewClient(config.Ledger.APIBaseURL, config.Ledger.APIKey, lg)
	mirror := buildMirror(config, lg)
	eventBus := events.NewEventBus(lg)
	invoice.NewEventHandler(store, mirror, lg).RegisterEventHandlers(eventBus)

	service := invoice.NewService(lg, store, chatClient, resolver, verifier, mirror, eventBus, invoice.Settings{
		SLAHours:              config.Approval.SLAHours,
		ReminderIntervalHours: config.Approval.ReminderIntervalHours,
		MaxReminders:          config.Approval.MaxReminders,
		AutoApproveOnFailure:  config.Approval.AutoApproveOnFailure,
		ApproverRoleID:        config.Chat.ApproverRoleID,
	})

	ingest := pipeline.NewIngest(config.Ingest, func(ctx context.Context, ev invoice.MessageEvent) {
		if err := service.HandleMessage(ctx, ev); err != nil {
			lg.Error("message handling failed", "thread_ref", ev.ThreadRef, "error", err)
		}
	}, lg)

	sched := scheduler.New(service, config.Approval.SweepInterval, lg)

	router := chi.NewRouter()
	handler := invoice.NewHandler(service, ingest)

	db, err := store.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database handle: %w", err)
	}
	rest.RegisterAllRoutes(router, db, config.Database.Driver, handler, lg)

	return &Dependencies{
		Config:     config,
		Logger:     lg,
		Store:      store,
		ChatClient: chatClient,
		Service:    service,
		Ingest:     ingest,
		Scheduler:  sched,
		Router:     router,
	}, nil
}

func buildMirror(config *internal.Config, lg *slog.Logger) invoice.Mirror {
	fallback := sheets.NewCSVMirror(config.Sheets.FallbackFile, config.Sheets.ThreadURLBase, lg)

	if config.Sheets.SpreadsheetID == "" || config.Sheets.CredentialsFile == "" {
		lg.Info("sheets mirror not configured, using csv fallback", "file", config.Sheets.FallbackFile)
		return sheets.NewFailoverMirror(nil, fallback, lg)
	}

	primary, err := sheets.NewGoogleMirror(context.Background(),
		config.Sheets.CredentialsFile,
		config.Sheets.SpreadsheetID,
		config.Sheets.WorksheetName,
		config.Sheets.ThreadURLBase,
		lg)
	if err != nil {
		lg.Warn("sheets mirror unavailable, using csv fallback", "error", err)
		return sheets.NewFailoverMirror(nil, fallback, lg)
	}
	return sheets.NewFailoverMirror(primary, fallback, lg)
}
