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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/lebossseur/masterClinique-sub000/internal/config"
	"github.com/lebossseur/masterClinique-sub000/internal/domain/insurance"
	"github.com/lebossseur/masterClinique-sub000/internal/domain/invoicing"
	"github.com/lebossseur/masterClinique-sub000/internal/domain/pricing"
	"github.com/lebossseur/masterClinique-sub000/internal/platform/auth"
	"github.com/lebossseur/masterClinique-sub000/internal/platform/cache"
	"github.com/lebossseur/masterClinique-sub000/internal/platform/db"
	"github.com/lebossseur/masterClinique-sub000/internal/platform/docnum"
	"github.com/lebossseur/masterClinique-sub000/internal/platform/middleware"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:           "clinic-billing",
		Short:         "Clinic billing reconciliation API",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(pricesCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env, level string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if env == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

// openPool loads config and connects; callers close the pool.
func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the billing API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// target resolves the schema flag, defaulting to the default clinic.
	target := func(cmd *cobra.Command, cfg *config.Config) (schema, dir string) {
		schema, _ = cmd.Flags().GetString("schema")
		dir, _ = cmd.Flags().GetString("dir")
		if schema == "" {
			schema = db.SchemaName(cfg.DefaultTenant)
		}
		if dir == "" {
			dir = cfg.MigrationsDir
		}
		return schema, dir
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema, dir := target(cmd, cfg)
			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, dir).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "", "Target schema (default: schema of DEFAULT_TENANT)")
	upCmd.Flags().String("dir", "", "Path to migrations directory (default: MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema, dir := target(cmd, cfg)
			statuses, err := db.NewMigrator(pool, dir).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "", "Target schema (default: schema of DEFAULT_TENANT)")
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default: MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage clinics",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a clinic schema and apply migrations to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			ctx := cmd.Context()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating clinic schema: %s\n", db.SchemaName(name))
			if err := db.CreateTenantSchema(ctx, pool, name, cfg.MigrationsDir); err != nil {
				return err
			}
			fmt.Println("Clinic created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Clinic identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

func pricesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Manage the medical service price table",
	}

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Upsert service prices from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			clinic, _ := cmd.Flags().GetString("clinic")
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			prices, err := readPriceFile(file)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if clinic == "" {
				clinic = cfg.DefaultTenant
			}

			n, err := importPrices(ctx, pool, clinic, prices)
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d price(s) into %s.\n", n, db.SchemaName(clinic))

			priceCache, err := cache.New(ctx, cfg.RedisURL)
			if err != nil {
				fmt.Printf("Warning: cached prices not evicted, they expire after %s: %v\n", cfg.PriceCacheTTL, err)
				return nil
			}
			defer priceCache.Close()
			if err := pricing.EvictPrices(ctx, priceCache, clinic, prices); err != nil {
				fmt.Printf("Warning: cached prices not evicted, they expire after %s: %v\n", cfg.PriceCacheTTL, err)
			}
			return nil
		},
	}
	importCmd.Flags().String("file", "", "YAML price file")
	importCmd.Flags().String("clinic", "", "Clinic identifier (default: DEFAULT_TENANT)")

	cmd.AddCommand(importCmd)
	return cmd
}

func readPriceFile(path string) ([]pricing.ServicePrice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return pricing.ParsePriceFile(f)
}

// importPrices upserts prices into one clinic schema in a single transaction.
func importPrices(ctx context.Context, pool *pgxpool.Pool, clinic string, prices []pricing.ServicePrice) (int, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL search_path TO %s, public", db.SchemaName(clinic))); err != nil {
		return 0, fmt.Errorf("select clinic %s: %w", clinic, err)
	}
	n, err := pricing.UpsertPrices(ctx, tx, prices)
	if err != nil {
		return 0, err
	}
	return n, tx.Commit(ctx)
}

func runServer(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		logger.Warn().Msg("development auth is active: unauthenticated requests act as admin")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Cache
	priceCache, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer priceCache.Close()

	numbers, err := docnum.New(cfg.NodeID)
	if err != nil {
		return err
	}

	e := newEcho(cfg, logger)

	// Health
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool, db.NewMigrator(pool, cfg.MigrationsDir), cfg.DefaultTenant))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(cfg.RateLimitRPS),
			Burst:     cfg.RateLimitBurst,
			ExpiresIn: 3 * time.Minute,
		}),
	}))
	if cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}
	apiV1.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))
	apiV1.Use(middleware.Audit(logger))

	// Domains
	tx := db.NewTransactor(pool)

	var prices pricing.PriceTable = pricing.NewPriceTableRepoPG(pool)
	if priceCache.Enabled() {
		prices = pricing.NewCachedPriceTable(prices, priceCache, cfg.PriceCacheTTL)
		logger.Info().Dur("ttl", cfg.PriceCacheTTL).Msg("price cache enabled")
	}
	calc := pricing.NewCalculator(prices)

	insSvc := insurance.NewService(
		insurance.NewCompanyRepoPG(pool),
		insurance.NewCoverageRateRepoPG(pool),
		insurance.NewPolicyRepoPG(pool),
		insurance.NewInvoiceRepoPG(pool),
		tx, numbers,
	)
	insSvc.SetLogger(logger.With().Str("component", "insurance").Logger())

	resolver := pricing.NewResolver(insSvc.CoverageLookup())
	resolver.SetLogger(logger.With().Str("component", "coverage").Logger())

	invSvc := invoicing.NewService(
		invoicing.NewAdmissionRepoPG(pool),
		invoicing.NewInvoiceRepoPG(pool),
		invoicing.NewPaymentRepoPG(pool),
		insSvc, resolver, calc, tx, numbers,
	)
	invSvc.SetLogger(logger.With().Str("component", "invoicing").Logger())

	pricing.NewHandler(calc, resolver, prices).RegisterRoutes(apiV1)
	insurance.NewHandler(insSvc).RegisterRoutes(apiV1)
	invoicing.NewHandler(invSvc).RegisterRoutes(apiV1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newEcho builds the server with the global middleware chain.
func newEcho(cfg *config.Config, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader, db.TenantHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader, echo.HeaderContentDisposition},
	}))
	e.Use(echomw.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	return e
}
