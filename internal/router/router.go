// internal/router/router.go
package router

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/emprendedores-unidos/marketplace/internal/config"
	"github.com/emprendedores-unidos/marketplace/internal/database"
	"github.com/emprendedores-unidos/marketplace/internal/handlers"
	"github.com/emprendedores-unidos/marketplace/internal/metrics"
	"github.com/emprendedores-unidos/marketplace/internal/middleware"
	"github.com/emprendedores-unidos/marketplace/internal/realtime"
	"github.com/emprendedores-unidos/marketplace/internal/services"
)

const version = "1.0.0"

// Dependencies are the long lived resources owned by main. Processor may be
// nil, in which case every payment runs in simulated mode.
type Dependencies struct {
	DB        *gorm.DB
	Config    *config.Config
	Hub       *realtime.Hub
	Notifier  *services.NotificationService
	Metrics   *metrics.Metrics
	Processor services.PaymentProcessor
}

// Initialize builds the engine. The returned stop function releases the rate
// limiter cleanup goroutines and must be called on shutdown.
func Initialize(deps Dependencies) (*gin.Engine, func(), error) {
	db, cfg := deps.DB, deps.Config

	// Initialize services
	storageService, err := services.NewStorageService(cfg)
	if err != nil {
		return nil, nil, err
	}
	storeService := services.NewStoreService(db)
	inventory := services.NewInventoryService(services.NewPricingPolicy(cfg.Pricing))
	productService := services.NewProductService(db, storeService, inventory)
	authService := services.NewAuthService(db, cfg)
	chatService := services.NewChatService(db)

	gateway := services.NewPaymentGateway(deps.Processor, cfg.Payment, deps.Metrics)
	orderService := services.NewOrderService(db, cfg, inventory, gateway, deps.Notifier, deps.Metrics)
	paymentService := services.NewPaymentService(db, orderService, gateway)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	productHandler := handlers.NewProductHandler(productService, storeService, storageService)
	orderHandler := handlers.NewOrderHandler(orderService)
	paymentHandler := handlers.NewPaymentHandler(paymentService)
	healthHandler := handlers.NewHealthHandler(func(ctx context.Context) error {
		return database.Ping(ctx, db)
	}, version)

	events := realtime.NewEventRouter(deps.Hub, chatService, deps.Notifier, deps.Metrics, cfg.Realtime.HistoryPageSize)
	wsHandler := realtime.NewHandler(deps.Hub, events, authService, cfg.Realtime)

	authLimiter := middleware.PerMinute(cfg.RateLimit.AuthPerMinute)
	uploadLimiter := middleware.PerMinute(cfg.RateLimit.UploadPerMinute)
	generalLimiter := middleware.PerSecond(cfg.RateLimit.GeneralPerSecond, cfg.RateLimit.GeneralBurst)
	stop := func() {
		authLimiter.Stop()
		uploadLimiter.Stop()
		generalLimiter.Stop()
	}

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.Metrics(deps.Metrics))
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.I18nMiddleware())

	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", wsHandler.ServeWS)

	requireAuth := middleware.AuthRequired(authService)
	requireSeller := middleware.SellerRequired()

	// API v1 routes
	v1 := r.Group("/v1")
	v1.Use(generalLimiter.Middleware())
	{
		auth := v1.Group("/auth")
		{
			auth.POST("/register", authLimiter.Middleware(), authHandler.Register)
			auth.POST("/login", authLimiter.Middleware(), authHandler.Login)
			auth.GET("/me", requireAuth, authHandler.GetProfile)
		}

		v1.GET("/stores/:slug", productHandler.GetStore)

		products := v1.Group("/products")
		{
			products.GET("", productHandler.GetProducts)
			products.GET("/:id", productHandler.GetProduct)
			products.POST("", requireAuth, requireSeller, productHandler.CreateProduct)
			products.PUT("/:id", requireAuth, requireSeller, productHandler.UpdateProduct)
		}

		v1.POST("/uploads/images", requireAuth, requireSeller, uploadLimiter.Middleware(), productHandler.UploadImage)

		orders := v1.Group("/orders")
		orders.Use(requireAuth)
		{
			orders.POST("", orderHandler.CreateOrder)
			orders.GET("/mine", orderHandler.GetMyOrders)
			orders.GET("/sales", requireSeller, orderHandler.GetSales)
			orders.GET("/:id", orderHandler.GetOrder)
			orders.PUT("/:id/status", requireSeller, orderHandler.UpdateStatus)
		}

		payments := v1.Group("/payments")
		payments.Use(requireAuth)
		{
			payments.POST("/create-intent", paymentHandler.CreatePaymentIntent)
			payments.POST("/confirm-payment", paymentHandler.ConfirmPayment)
			payments.POST("/refund", requireSeller, paymentHandler.ProcessRefund)
			payments.GET("/history", paymentHandler.GetPaymentHistory)
		}
	}

	return r, stop, nil
}
