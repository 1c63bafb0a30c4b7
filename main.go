package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/ngoplatform/donations-api/config"
	"github.com/ngoplatform/donations-api/controllers"
	"github.com/ngoplatform/donations-api/logging"
	"github.com/ngoplatform/donations-api/middleware"
	"github.com/ngoplatform/donations-api/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const serviceName = "ngo-donations-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(serviceName, cfg.GoEnv, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := config.ConnectDatabase(); err != nil {
		logger.Fatal("database_connect_failed", zap.Error(err))
	}

	db := config.GetDB()
	if err := config.AutoMigrate(db); err != nil {
		logger.Fatal("database_migrate_failed", zap.Error(err))
	}
	logger.Info("database_migrated")

	if !cfg.IsProduction() {
		if err := config.SeedDevelopmentData(db); err != nil {
			logger.Fatal("database_seed_failed", zap.Error(err))
		}
	}

	// Missing gateway credentials are fatal: no order could ever be settled
	checkout, err := newCheckoutService(cfg, db, logger, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal("checkout_init_failed", zap.Error(err))
	}
	services.InitCheckoutService(checkout)

	if cfg.AWSS3Bucket != "" {
		s3Service, err := services.InitS3Service(context.Background())
		if err != nil {
			logger.Warn("s3_init_failed", zap.Error(err))
		} else {
			services.InitImageService(s3Service)
		}
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(cfg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("http_server_start", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_server_error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_server_shutdown_error", zap.Error(err))
	}
	checkout.WaitForHooks()
	logger.Info("http_server_stopped")
}

// newCheckoutService wires the gateway, package catalog, order ledger and metrics
func newCheckoutService(cfg *config.Config, db *gorm.DB, logger *zap.Logger, reg prometheus.Registerer) (*services.CheckoutService, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}

	gateway, err := services.NewEcpayGateway(services.EcpayConfig{
		MerchantID: cfg.EcpayMerchantID,
		HashKey:    cfg.EcpayHashKey,
		HashIV:     cfg.EcpayHashIV,
		PaymentURL: cfg.EcpayPaymentURL,
		Location:   loc,
	})
	if err != nil {
		return nil, err
	}

	catalog, err := services.DefaultPackageCatalog()
	if err != nil {
		return nil, err
	}

	metrics, err := services.NewCheckoutMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register checkout metrics: %w", err)
	}

	orders := services.NewOrderLedger(db, cfg.OrderNumberPrefix, cfg.OrderNumberMaxAttempts, loc)
	return services.NewCheckoutService(db, catalog, orders, gateway,
		services.WithMetrics(metrics),
		services.WithLogger(logger),
	), nil
}

// setupRouter builds the HTTP routes
func setupRouter(cfg *config.Config, logger *zap.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestLogger(logger))
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSAllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", healthCheck)
		v1.GET("/database/status", databaseStatus)

		v1.GET("/supplies", controllers.ListSupplies)
		v1.GET("/emergency-needs", controllers.ListEmergencyNeeds)
		v1.GET("/packages", controllers.ListPackages)

		v1.POST("/checkout/quote", controllers.QuoteCheckout)
		v1.POST("/checkout", middleware.OptionalToken(cfg), controllers.CreateCheckout)
		v1.POST("/payments/ecpay/callback", controllers.EcpayCallback)
		v1.GET("/orders/:order_number", middleware.OptionalToken(cfg), controllers.GetOrder)

		authenticated := v1.Group("", middleware.EnsureValidToken(cfg))
		{
			authenticated.POST("/donors", controllers.CreateDonor)
			authenticated.GET("/donors/me", controllers.GetMyProfile)
			authenticated.PUT("/donors/me", controllers.UpdateMyProfile)
			authenticated.GET("/donors/me/orders", controllers.GetMyOrders)

			authenticated.POST("/emergency-needs/:id/fulfill",
				middleware.RequireScope(middleware.ScopeManageNeeds),
				controllers.FulfillEmergencyNeed,
			)
			authenticated.PUT("/supplies/:id/image",
				middleware.RequireScope(middleware.ScopeManageSupplies),
				controllers.UploadSupplyImage,
			)
		}
	}

	return router
}

// healthCheck handles the health check endpoint
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "NGO Donations API is running",
	})
}

// databaseStatus checks database connectivity and returns table information
func databaseStatus(c *gin.Context) {
	db := config.GetDB()
	if db == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_ERROR",
				"message": "Database is not configured",
			},
		})
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_ERROR",
				"message": "Failed to get database instance",
			},
		})
		return
	}

	if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_CONNECTION_ERROR",
				"message": "Database connection failed",
			},
		})
		return
	}

	tables, err := db.WithContext(c.Request.Context()).Migrator().GetTables()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_QUERY_ERROR",
				"message": "Failed to query tables",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Database connected",
		"tables":  tables,
	})
}
