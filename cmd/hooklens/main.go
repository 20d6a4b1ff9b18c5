package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hooklens/hooklens/internal/api"
	"github.com/hooklens/hooklens/internal/bus"
	"github.com/hooklens/hooklens/internal/capture"
	"github.com/hooklens/hooklens/internal/config"
	"github.com/hooklens/hooklens/internal/identity"
	"github.com/hooklens/hooklens/internal/models"
	"github.com/hooklens/hooklens/internal/retention"
	"github.com/hooklens/hooklens/internal/storage"
)

var version = "0.1.0"

func main() {
	// Local setups keep secrets in .env; missing file is fine.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "hooklens",
		Short: "hooklens — self-hosted webhook inspector",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(endpointCmd(&configPath))
	rootCmd.AddCommand(tokenCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the hooklens server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("database migrations completed")

			if cfg.Auth.JWTSecret == "" {
				log.Warn().Msg("auth.jwt_secret is empty; session tokens will be rejected, anonymous identity only")
			}

			feed := bus.New(cfg.Feed.Buffer, log)
			pipeline := capture.NewPipeline(store, feed, log)
			verifier := identity.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
			resolver := identity.NewResolver(verifier, store, log)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var sweeper *retention.Sweeper
			if cfg.Retention.Enabled {
				sweeper = retention.NewSweeper(cfg.Retention, store, log)
				sweeper.Start(ctx)
			}

			server := api.NewServer(cfg.Server, cfg.Capture, store, feed, pipeline, resolver, log)
			go func() {
				if err := server.Start(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Str("storage", cfg.Storage.Driver).
				Bool("retention", cfg.Retention.Enabled).
				Msg("hooklens is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}
			if sweeper != nil {
				sweeper.Stop()
			}

			log.Info().Msg("hooklens stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			log.Info().Msg("migrations completed successfully")
			return nil
		},
	}
}

func endpointCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "endpoint",
		Short: "Manage endpoints",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			private, _ := cmd.Flags().GetBool("private")

			owner, err := ownerFromFlags(cmd)
			if err != nil {
				return err
			}

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			ep := &models.Endpoint{
				ID:         models.NewEndpointID(),
				Name:       name,
				Visibility: models.VisibilityPublic,
				Template:   models.DefaultTemplate(),
				Owner:      owner,
				CreatedAt:  time.Now().UTC(),
			}
			if private {
				ep.Visibility = models.VisibilityPrivate
				ep.AuthToken = models.NewAuthToken()
			}

			if err := store.CreateEndpoint(context.Background(), ep); err != nil {
				return fmt.Errorf("failed to create endpoint: %w", err)
			}

			out, _ := json.MarshalIndent(ep, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	createCmd.Flags().String("name", "", "endpoint name")
	createCmd.Flags().Bool("private", false, "require a bearer token on capture")
	createCmd.Flags().String("subject", "", "authenticated owner subject id")
	createCmd.Flags().String("anon-id", "", "anonymous owner client id (generated when neither flag is set)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List endpoints for an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := ownerFromFlags(cmd)
			if err != nil {
				return err
			}

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			eps, err := store.ListEndpoints(context.Background(), owner)
			if err != nil {
				return fmt.Errorf("failed to list endpoints: %w", err)
			}

			if len(eps) == 0 {
				fmt.Println("No endpoints found.")
				return nil
			}

			for _, ep := range eps {
				fmt.Printf("  %s  %-10s  %s  (created %s)\n", ep.ID, ep.Visibility, ep.Name, ep.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	listCmd.Flags().String("subject", "", "authenticated owner subject id")
	listCmd.Flags().String("anon-id", "", "anonymous owner client id")

	cmd.AddCommand(createCmd, listCmd)
	return cmd
}

func tokenCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Mint a development session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("usage: hooklens token <subject>")
			}

			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is not configured")
			}

			ttl, _ := cmd.Flags().GetDuration("ttl")
			verifier := identity.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
			token, err := verifier.Mint(args[0], ttl)
			if err != nil {
				return fmt.Errorf("failed to mint token: %w", err)
			}

			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hooklens v%s\n", version)
		},
	}
}

// ownerFromFlags picks the owner for CLI-created endpoints: a subject, a
// supplied anonymous id, or a freshly generated one (echoed so the caller
// can keep using it).
func ownerFromFlags(cmd *cobra.Command) (models.Owner, error) {
	subject, _ := cmd.Flags().GetString("subject")
	anonID, _ := cmd.Flags().GetString("anon-id")

	if subject != "" && anonID != "" {
		return models.Owner{}, fmt.Errorf("--subject and --anon-id are mutually exclusive")
	}
	if subject != "" {
		return models.UserOwner(subject), nil
	}
	if anonID == "" {
		anonID = uuid.New().String()
		fmt.Fprintf(os.Stderr, "generated anonymous id: %s\n", anonID)
	}
	return models.AnonOwner(anonID), nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func setupStorage(cfg config.StorageConfig, log zerolog.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite storage")
		return storage.NewSQLite(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func storeFromConfig(configPath string) (storage.Storage, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg.Logging)
	store, err := setupStorage(cfg.Storage, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, func() { store.Close() }, nil
}
