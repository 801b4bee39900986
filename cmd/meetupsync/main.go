package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danyal-tariq/MeetUpSync/internal/auth"
	"github.com/danyal-tariq/MeetUpSync/internal/common/config"
	"github.com/danyal-tariq/MeetUpSync/internal/relay/gateway"
	"github.com/danyal-tariq/MeetUpSync/internal/relay/monitor"
	"github.com/danyal-tariq/MeetUpSync/internal/relay/registry"
	"github.com/danyal-tariq/MeetUpSync/internal/relay/room"
	"github.com/danyal-tariq/MeetUpSync/internal/relay/router"
	"github.com/danyal-tariq/MeetUpSync/internal/storage"
	"github.com/danyal-tariq/MeetUpSync/pkg/logger"
	"github.com/danyal-tariq/MeetUpSync/pkg/metrics"
	"github.com/danyal-tariq/MeetUpSync/pkg/version"
)

var (
	configFile string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of meetupsync",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("meetupsync version %s\n", version.Get())
		},
	}

	rootCmd = &cobra.Command{
		Use:   "meetupsync",
		Short: "MeetUpSync relay server",
		Long:  `MeetUpSync relays signaling and chat between WebSocket peers and tracks who is online`,
		Run: func(cmd *cobra.Command, args []string) {
			run()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "meetupsync.yaml", "path to configuration file")
	rootCmd.AddCommand(versionCmd)
}

func run() {
	// Load configuration
	cfg, cfgPath, err := config.LoadConfig(configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration from %s: %v", cfgPath, err)
	}

	// Initialize logger
	zapLogger, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		_ = zapLogger.Sync()
	}()

	zapLogger.Info("starting meetupsync",
		zap.String("version", version.Get()),
		zap.String("config", cfgPath),
		zap.Int("port", cfg.Port))

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics)
	}

	// Persistence collaborator for relayed chat messages
	db, err := storage.NewDatabase(&cfg.Storage)
	if err != nil {
		zapLogger.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer db.Close()

	var sink router.MessageSink
	var writer *storage.AsyncWriter
	if cfg.Storage.Type != "none" && cfg.Storage.Type != "" {
		writer = storage.NewAsyncWriter(zapLogger, db, cfg.Storage.QueueSize)
		defer writer.Close()
		sink = writer
	}

	// Registry, rooms, router
	store := registry.NewMemoryStore(zapLogger, cfg.Gateway.SendQueueSize)
	rooms := room.NewManager(zapLogger, m)
	rt := router.New(zapLogger, store, rooms, m, sink)

	// Presence mirror for external readers
	presence, err := registry.NewPresence(zapLogger, &cfg.Presence, store)
	if err != nil {
		zapLogger.Fatal("failed to initialize presence mirror", zap.Error(err))
	}
	defer presence.Close()

	// Auth collaborator
	authenticator, err := auth.NewAuthenticator(cfg.Auth)
	if err != nil {
		zapLogger.Fatal("failed to initialize authenticator", zap.Error(err))
	}

	gw := gateway.New(zapLogger, cfg.Gateway, store, rooms, rt, authenticator, presence, m)

	// Liveness monitor
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mon := monitor.New(zapLogger, store, m, cfg.Monitor.Interval)
	go mon.Run(ctx)

	// HTTP surface
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	if m != nil {
		engine.Use(m.Middleware())
		engine.GET("/metrics", gin.WrapH(m.Handler()))
	}
	engine.GET(cfg.Gateway.Path, gw.HandleWS)
	engine.GET("/presence", gw.HandlePresence)
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: engine,
	}

	go func() {
		zapLogger.Info("listening", zap.String("addr", srv.Addr), zap.String("ws_path", cfg.Gateway.Path))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("failed to shutdown server", zap.Error(err))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
