package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/order-engine/cmd/orderengine/cli"
	"github.com/odyssey-erp/order-engine/internal/app"
	"github.com/odyssey-erp/order-engine/internal/observability"
	"github.com/odyssey-erp/order-engine/internal/platform/cache"
	"github.com/odyssey-erp/order-engine/internal/platform/db"
	"github.com/odyssey-erp/order-engine/internal/rbac"
	"github.com/odyssey-erp/order-engine/internal/sales/catalog"
	"github.com/odyssey-erp/order-engine/internal/sales/orders"
	"github.com/odyssey-erp/order-engine/internal/shared"
	"github.com/odyssey-erp/order-engine/internal/storage"
	"github.com/odyssey-erp/order-engine/jobs"
	"github.com/odyssey-erp/order-engine/migrations"
)

const usage = `usage: orderengine <command> [flags]

commands:
  serve            run the HTTP API (default)
  migrate          apply database migrations
  reopen-migrate   convert legacy OPEN statuses and note markers
  jobs trigger     enqueue a job by task type
  jobs stats       print default queue statistics
  token            sign a bearer token for an actor
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	code := run(ctx, cfg, logger, command, args)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger, command string, args []string) int {
	var err error
	switch command {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "migrate":
		err = migrate(ctx, cfg, logger)
	case "reopen-migrate":
		return reopenMigrate(ctx, cfg, args)
	case "jobs":
		return jobsCommand(ctx, cfg, args)
	case "token":
		return tokenCommand(cfg, logger, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	if err != nil {
		logger.Error(command, slog.Any("error", err))
		return 1
	}
	return 0
}

func openPool(ctx context.Context, cfg *app.Config) (*pgxpool.Pool, error) {
	return db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	catalogService := catalog.NewService(catalog.NewRepository(pool), catalog.NewCache(redisClient, cfg.CatalogCacheTTL))
	catalogHandler := catalog.NewHandler(logger, catalogService)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	opts := []orders.Option{
		orders.WithLogger(logger),
		orders.WithAudit(shared.NewAuditLogger(pool)),
		orders.WithApprovals(shared.NewApprovalRecorder(pool, logger)),
		orders.WithIdempotency(shared.NewIdempotencyStore(pool)),
		orders.WithNotifier(jobs.ReopenNotifier{Queue: jobClient}),
		orders.WithObserver(metrics),
	}
	if cfg.StorageEnabled() {
		store, err := storage.NewMinioStore(storage.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return err
		}
		opts = append(opts, orders.WithAttachmentStore(store))
	} else {
		logger.Warn("attachment storage disabled, MINIO_ENDPOINT not set")
	}
	ordersService := orders.NewService(orders.NewRepository(pool), catalogService, opts...)
	ordersHandler := orders.NewHandler(logger, ordersService)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Authenticator:  rbac.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, logger),
		OrdersHandler:  ordersHandler,
		CatalogHandler: catalogHandler,
		RolesHandler:   rbac.NewHandler(),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
		HealthChecks: []app.HealthCheck{
			{Name: "postgres", Check: pool.Ping},
			{Name: "redis", Check: func(ctx context.Context) error { return cache.Ping(ctx, redisClient) }},
		},
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}

func migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	if err := migrations.Apply(ctx, pool); err != nil {
		return err
	}
	logger.Info("migrations applied")
	return nil
}

func reopenMigrate(ctx context.Context, cfg *app.Config, args []string) int {
	fs := flag.NewFlagSet("reopen-migrate", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "report changes without writing")
	jsonOut := fs.Bool("json", false, "print a JSON summary")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	pool, err := openPool(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reopen migrate: connect postgres: %v\n", err)
		return 1
	}
	defer pool.Close()
	return cli.ReopenMigrateCommand(ctx, orders.NewRepository(pool), cli.ReopenMigrateOptions{
		DryRun:     *dryRun,
		JSONOutput: *jsonOut,
	})
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	jobsCLI := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}, cfg.ReopenReminderAfter)
	defer jobsCLI.Close()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "jobs trigger: task type required")
			return 2
		}
		info, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return 0
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		if err := json.NewEncoder(os.Stdout).Encode(stats); err != nil {
			return 1
		}
		return 0
	default:
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
}

func tokenCommand(cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	id := fs.Int64("id", 0, "actor id")
	name := fs.String("name", "", "display name")
	role := fs.String("role", "", "actor role")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	auth := rbac.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, logger)
	return cli.TokenCommand(auth, cli.TokenOptions{ActorID: *id, Name: *name, Role: *role, TTL: *ttl})
}
