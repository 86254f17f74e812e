package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"coupon-book-service/internal/codegen"
	"coupon-book-service/internal/config"
	"coupon-book-service/internal/handler"
	"coupon-book-service/internal/repository"
	"coupon-book-service/internal/service"
	"coupon-book-service/internal/sweeper"
	"coupon-book-service/internal/validator"
	"coupon-book-service/pkg/database"
)

func main() {
	// Load configuration first
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize zerolog based on configuration
	initLogger(cfg)

	// Create context for startup
	ctx := context.Background()

	// Initialize database pool with retry
	pool, err := database.NewPool(ctx, cfg.DB.DSN(), 5)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	generator, err := codegen.New(cfg.Coupon.CodeCharset)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid code charset")
	}

	// Initialize Fiber with production-ready configuration
	app := fiber.New(fiber.Config{
		AppName:      "Coupon Book Service",
		ReadTimeout:  30 * time.Second,  // Max time to read request
		WriteTimeout: 30 * time.Second,  // Max time to write response
		IdleTimeout:  120 * time.Second, // Max time for keep-alive connections
		BodyLimit:    1 * 1024 * 1024,   // 1MB body limit (explicit, prevents large payloads)
	})

	// Middleware
	app.Use(recover.New())
	app.Use(requestid.New()) // Adds X-Request-ID header to all requests
	app.Use(logger.New())

	// Initialize validator with custom rules
	validate := validator.New()

	// Initialize components (layered architecture)
	couponRepo := repository.NewCouponRepository(pool)
	bookRepo := repository.NewBookRepository(pool)
	poolRepo := repository.NewPoolRepository(pool)
	redemptionRepo := repository.NewRedemptionRepository(pool)

	assignmentService := service.NewAssignmentService(pool, couponRepo, bookRepo, cfg.Coupon.TxMaxRetries)
	redemptionService := service.NewRedemptionService(pool, couponRepo, redemptionRepo, cfg.Coupon.LockTTL(), cfg.Coupon.TxMaxRetries)
	distributionService := service.NewDistributionService(pool, couponRepo, bookRepo, poolRepo, cfg.Coupon.TxMaxRetries, cfg.Coupon.LockTimeoutMS)
	bookService := service.NewBookService(pool, bookRepo, couponRepo, redemptionRepo, generator)
	poolService := service.NewPoolService(pool, poolRepo)

	couponHandler := handler.NewCouponHandler(assignmentService, redemptionService, validate)
	bookHandler := handler.NewBookHandler(bookService, validate)
	poolHandler := handler.NewPoolHandler(poolService, distributionService, validate)

	// Health and metrics
	healthHandler := handler.NewHealthHandler(pool)
	app.Get("/health", healthHandler.Check)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Book routes
	app.Post("/api/books", bookHandler.CreateBook)
	app.Get("/api/books", bookHandler.ListBooks)
	app.Get("/api/books/:id", bookHandler.GetBook)
	app.Delete("/api/books/:id", bookHandler.DeleteBook)
	app.Post("/api/books/:id/codes/generate", bookHandler.GenerateCodes)
	app.Post("/api/books/:id/codes/upload", bookHandler.UploadCodes)
	app.Get("/api/books/:id/coupons", bookHandler.ListCoupons)
	app.Get("/api/books/:id/redemptions", bookHandler.ListRedemptions)

	// Coupon lifecycle routes
	app.Post("/api/coupons/assign", couponHandler.AssignRandom)
	app.Post("/api/coupons/:code/assign", couponHandler.AssignSpecific)
	app.Post("/api/coupons/:code/lock", couponHandler.Lock)
	app.Post("/api/coupons/:code/unlock", couponHandler.Unlock)
	app.Post("/api/coupons/:code/redeem", couponHandler.Redeem)
	app.Get("/api/coupons/:code", couponHandler.GetCoupon)

	// Pool and distribution routes
	app.Post("/api/pools", poolHandler.CreatePool)
	app.Get("/api/pools", poolHandler.ListPools)
	app.Post("/api/pools/distribute", poolHandler.Distribute)
	app.Get("/api/pools/:id", poolHandler.GetPool)
	app.Patch("/api/pools/:id", poolHandler.UpdatePool)
	app.Delete("/api/pools/:id", poolHandler.DeletePool)
	app.Post("/api/pools/:id/users", poolHandler.AddUsers)
	app.Delete("/api/pools/:id/users", poolHandler.RemoveUsers)

	// Run the server and the background sweeper under one group so a
	// shutdown signal stops both.
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		log.Info().Str("port", cfg.Server.Port).Msg("starting server")
		return app.Listen(":" + cfg.Server.Port)
	})

	if cfg.Sweeper.Enabled {
		g.Go(func() error {
			return sweeper.New(couponRepo, cfg.Sweeper.Interval()).Run(gCtx)
		})
	}

	// Wait for shutdown signal (or a listener failure)
	<-gCtx.Done()
	log.Info().Int("timeout_seconds", cfg.Server.ShutdownTimeout).Msg("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second,
	)
	defer shutdownCancel()

	// Shutdown server (waits for in-flight requests)
	log.Info().Msg("waiting for in-flight requests to complete...")
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("server exited with error")
	}

	// Close database pool AFTER server shutdown (even if shutdown timed out)
	log.Info().Msg("closing database connections...")
	pool.Close()
	log.Info().Msg("server stopped")
}

// initLogger configures zerolog based on the application configuration.
func initLogger(cfg *config.Config) {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure output format
	if cfg.Log.Pretty {
		// Human-readable output for development
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	} else {
		// JSON output for production
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}
