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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/aiaccess"
	"github.com/clinic/clinic/internal/domain/billing"
	"github.com/clinic/clinic/internal/domain/consultation"
	"github.com/clinic/clinic/internal/domain/emr"
	"github.com/clinic/clinic/internal/domain/notification"
	"github.com/clinic/clinic/internal/domain/patient"
	"github.com/clinic/clinic/internal/domain/queue"
	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/aigateway"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/cache"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/logging"
	"github.com/clinic/clinic/internal/platform/mailer"
	"github.com/clinic/clinic/internal/platform/metrics"
	"github.com/clinic/clinic/internal/platform/middleware"
	"github.com/clinic/clinic/internal/platform/phi"
	"github.com/clinic/clinic/internal/platform/realtime"
	"github.com/clinic/clinic/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "clinic-server",
		Short:        "Clinic management API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the clinic API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// newMigrator reads migrations from dir, or from the embedded set when dir
// is empty.
func newMigrator(pool *pgxpool.Pool, dir string) *db.Migrator {
	if dir == "" {
		return db.NewMigratorFS(pool, migrations.FS)
	}
	return db.NewMigrator(pool, dir)
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := cmd.Context()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
			count, err := newMigrator(pool, dir).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded set)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := cmd.Context()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := newMigrator(pool, dir).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded set)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage clinic tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Create and migrate a tenant schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			ctx := cmd.Context()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Creating tenant schema: %s\n", db.SchemaName(args[0]))
			if err := db.CreateTenantSchema(ctx, pool, args[0], newMigrator(pool, dir)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded set)")
	cmd.AddCommand(createCmd)

	return cmd
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, logCloser := logging.New(logging.Options{
		Level:       cfg.LogLevel,
		Console:     cfg.IsDev(),
		File:        cfg.LogFile,
		MaxSizeMB:   cfg.LogFileMaxMB,
		MaxBackups:  cfg.LogFileMaxBackups,
		MaxAgeDays:  cfg.LogFileMaxAgeDays,
		ServiceName: "clinic-server",
	})
	defer logCloser.Close()
	zerolog.DefaultContextLogger = &logger

	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")
	tx := db.NewTransactor(pool)

	// Redis is optional: without it tokens come from postgres and realtime
	// events stay on this instance.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = cache.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error().Err(err).Msg("failed to connect to redis")
			return err
		}
		defer rdb.Close()
		logger.Info().Msg("connected to redis")
	}

	hub := realtime.NewHub(logger)
	var events realtime.Publisher = hub
	var tokens queue.TokenAllocator = queue.NewPGTokenAllocator(pool)
	var revocations auth.RevocationList
	if rdb == nil {
		mem := auth.NewMemoryRevocations(5 * time.Minute)
		defer mem.Close()
		revocations = mem
	} else {
		bridge := realtime.NewRedisBridge(rdb, hub, logger)
		events = bridge
		tokens = queue.NewRedisTokenAllocator(rdb)
		revocations = auth.NewRedisRevocations(rdb)
		go func() {
			if err := bridge.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("realtime bridge stopped")
			}
		}()
	}

	enc, err := phi.FromHex(cfg.PHIEncryptionKey)
	if err != nil {
		logger.Error().Err(err).Msg("invalid PHI encryption key")
		return err
	}
	if enc == nil {
		logger.Warn().Msg("PHI_ENCRYPTION_KEY not set, patient address fields are stored in clear text")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	m := metrics.New()

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	if cfg.MetricsEnabled {
		e.Use(m.Middleware())
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.Sanitize(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	health := db.PoolHealth(pool)
	health.Schemas = newMigrator(pool, "")
	health.DefaultTenant = cfg.DefaultTenant
	if rdb != nil {
		health.Dependencies = map[string]db.HealthCheck{
			"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}
	}
	e.GET("/health/db", db.HealthHandler(health))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(rateLimitConfig(cfg)))
	apiV1.Use(middleware.BodyLimit("1M", "4M", "/api/v1/ai/chat"))
	apiV1.Use(middleware.RequestTimeout(30*time.Second, "/api/v1/ws", "/api/v1/ai/chat"))

	jwtCfg := auth.JWTConfig{
		Issuer:      cfg.AuthIssuer,
		Audience:    cfg.AuthAudience,
		JWKSURL:     cfg.AuthJWKSURL,
		Revocations: revocations,
	}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
	}
	if err := auth.ResolveJWKS(ctx, &jwtCfg); err != nil {
		logger.Error().Err(err).Msg("OIDC discovery failed")
		return err
	}
	if cfg.IsDev() {
		logger.Warn().Msg("development auth enabled, unauthenticated requests run as admin")
		apiV1.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		apiV1.Use(auth.JWTMiddleware(jwtCfg))
	}
	apiV1.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))
	apiV1.Use(middleware.Audit(logger))

	auth.RegisterSessionRoutes(apiV1, revocations)

	// Patients
	patientSvc := patient.NewService(patient.NewPatientRepoPG(pool, enc), patient.NewAllergyRepoPG(pool))
	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)

	// Notifications
	mail := mailer.New(mailer.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
	notifySvc := notification.NewService(notification.NewRepoPG(pool), notification.NewTemplateEngine(), mail, events)
	notifySvc.SetRecorder(m)
	notification.NewHandler(notifySvc).RegisterRoutes(apiV1)
	hooks := notification.NewHooks(notifySvc, patientSvc)

	// Queues
	queueSvc := queue.NewService(queue.NewQueueRepoPG(pool), queue.NewTicketRepoPG(pool), tokens, tx, events)
	queueSvc.SetRecorder(m)
	queueSvc.SetCallListener(hooks)
	queue.NewHandler(queueSvc).RegisterRoutes(apiV1)

	// Appointments
	schedSvc := scheduling.NewService(scheduling.NewAppointmentRepoPG(pool), queueSvc, tx)
	scheduling.NewHandler(schedSvc).RegisterRoutes(apiV1)

	// Billing
	billingSvc := billing.NewService(
		billing.NewInvoiceRepoPG(pool),
		billing.NewCouponRepoPG(pool),
		billing.NewPaymentRepoPG(pool),
		tx,
		billing.Config{DefaultTaxRate: cfg.BillingTaxRate, Currency: cfg.BillingCurrency},
	)
	billingSvc.SetIssueListener(hooks)
	billing.NewHandler(billingSvc).RegisterRoutes(apiV1)

	// EMR
	emrSvc := emr.NewService(emr.NewNoteRepoPG(pool), emr.NewAssessmentRepoPG(pool), emr.NewProtocolRepoPG(pool), tx)
	emr.NewHandler(emrSvc).RegisterRoutes(apiV1)

	// Consultations
	consultSvc := consultation.NewService(
		consultation.NewConsultationRepoPG(pool),
		consultation.NewMessageRepoPG(pool),
		patientSvc,
		tx,
		events,
	)
	consultation.NewHandler(consultSvc).RegisterRoutes(apiV1)

	topics := realtime.NewTopicAuthorizer(consultationAccess(pool, consultSvc), logger)
	realtime.NewHandler(hub, topics, cfg.CORSOrigins, logger).RegisterRoutes(apiV1)

	// AI access
	if cfg.AIGatewayURL == "" {
		logger.Warn().Msg("AI_GATEWAY_URL not set, AI chat requests will return 503")
	}
	aiSvc := aiaccess.NewService(
		aiaccess.NewGrantRepoPG(pool),
		aiaccess.NewUsageRepoPG(pool),
		aigateway.New(cfg.AIGatewayURL, cfg.AIGatewayKey, cfg.AIDefaultModel, cfg.AITimeout()),
	)
	aiSvc.SetRecorder(m)
	aiaccess.NewHandler(aiSvc).RegisterRoutes(apiV1)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// consultationAccess checks consultation topics on the caller's tenant
// schema.
func consultationAccess(pool *pgxpool.Pool, svc *consultation.Service) realtime.ConsultationAccess {
	return func(ctx context.Context, id string) (bool, error) {
		cid, err := uuid.Parse(id)
		if err != nil {
			return false, nil
		}
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		var allowed bool
		err = db.WithTenant(ctx, pool, db.TenantFromContext(ctx), func(ctx context.Context) error {
			var werr error
			allowed, werr = svc.CanWatch(ctx, cid)
			return werr
		})
		return allowed, err
	}
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	return rl
}
