package handler

import (
	"time"

	"deposit-gateway/internal/adapter/http/middleware"
	"deposit-gateway/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	PaymentSvc     ports.PaymentService
	HealthCheckers []ports.HealthChecker
	RequestTimeout time.Duration // 0 = no per-request timeout
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit
	r.Use(middleware.Identity())
	if deps.RequestTimeout > 0 {
		r.Use(middleware.Timeout(deps.RequestTimeout))
	}

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	api := r.Group("/api")

	paymentHandler := NewPaymentHandler(deps.PaymentSvc)
	payment := api.Group("/payment")
	{
		payment.POST("/deposit", paymentHandler.CreateDeposit)
		payment.GET("/status/:id", paymentHandler.GetStatus)
		payment.POST("/webhook", paymentHandler.Webhook)
		payment.POST("/reconcile/:id", paymentHandler.Reconcile)
	}

	userHandler := NewUserHandler(deps.PaymentSvc)
	user := api.Group("/user")
	{
		user.GET("/deposits", userHandler.ListDeposits)
	}

	return r
}
