package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"studio_gateway/internal/catalog"
	"studio_gateway/internal/config"
	"studio_gateway/internal/httpapi"
	"studio_gateway/internal/logging"
	"studio_gateway/internal/storage"
)

const shutdownTimeout = 30 * time.Second

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "AI Chat Studio backend gateway",
	Long: `Serves the studio API: accounts, model catalog, settings, usage
reports, file parsing and the chat completion proxy.

Configuration is read from the environment (and a .env file when present).`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE:  runMigrate,
}

var seedModelsCmd = &cobra.Command{
	Use:   "seed-models",
	Short: "Insert catalog models missing from the database",
	Long: `Reads a YAML model catalog and inserts every model whose id is not
registered yet. Existing models are never modified.`,
	RunE: runSeedModels,
}

var seedFile string

func init() {
	seedModelsCmd.Flags().StringVarP(&seedFile, "file", "f", "", "Catalog file (default: MODEL_SEED_FILE)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedModelsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogJSON); err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logging.Sync()
	logger := logging.NewLogger("gateway")

	deps, err := httpapi.Build(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("failed to build dependencies: %w", err)
	}

	addr := ":" + cfg.HTTPPort
	server := &http.Server{
		Addr:              addr,
		Handler:           httpapi.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// covers non-streamed completions; streams clear their own deadline
		WriteTimeout: cfg.Proxy.Timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Gateway listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
		logger.Info("Shutting down server...")
	case err := <-serverErr:
		runErr = fmt.Errorf("server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// drains the usage queue and flushes the archive
	if err := deps.Close(ctx); err != nil {
		logger.Error("Failed to release dependencies", "error", err)
	}

	logger.Info("Server exited")
	return runErr
}

func openDB(ctx context.Context, cfg *config.Config) (*storage.DB, error) {
	db, err := storage.NewDB(storage.DBConfig{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logging.Sync()

	db, err := openDB(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	logging.NewLogger("gateway").Info("Migrations applied", "driver", db.Driver())
	return nil
}

func runSeedModels(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logging.Sync()

	path := seedFile
	if path == "" {
		path = cfg.ModelSeedFile
	}
	if path == "" {
		return errors.New("no catalog file given: pass --file or set MODEL_SEED_FILE")
	}

	db, err := openDB(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	enc, err := httpapi.NewEncryption(cfg, logging.NewLogger("gateway"))
	if err != nil {
		return err
	}

	result, err := catalog.SeedFile(cmd.Context(), storage.NewModelRepository(db, enc), path, logging.NewLogger("catalog"))
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "created %d, skipped %d\n", len(result.Created), len(result.Skipped))
	return nil
}
