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
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/harmonia-studio/mls-api/api/swagger"
	"github.com/harmonia-studio/mls-api/internal/handler"
	"github.com/harmonia-studio/mls-api/internal/middleware"
	"github.com/harmonia-studio/mls-api/internal/models"
	"github.com/harmonia-studio/mls-api/internal/repository"
	"github.com/harmonia-studio/mls-api/internal/service"
	"github.com/harmonia-studio/mls-api/pkg/cache"
	"github.com/harmonia-studio/mls-api/pkg/config"
	"github.com/harmonia-studio/mls-api/pkg/database"
	"github.com/harmonia-studio/mls-api/pkg/jobs"
	"github.com/harmonia-studio/mls-api/pkg/logger"
	corsmiddleware "github.com/harmonia-studio/mls-api/pkg/middleware/cors"
	reqidmiddleware "github.com/harmonia-studio/mls-api/pkg/middleware/requestid"
	"github.com/harmonia-studio/mls-api/pkg/payment"
	"github.com/harmonia-studio/mls-api/pkg/realtime"
	"github.com/harmonia-studio/mls-api/pkg/storage"
)

// @title Harmonia Music Lesson Studio API
// @version 1.0.0
// @description Enrollment, payment and scheduling backend for the studio.
// @BasePath /api/v1
// @schemes http https

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("postgres connection failed", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// Redis powers the change feed and webhook pre-filter, both of which
		// degrade gracefully, so a missing instance is not fatal.
		logr.Sugar().Warnw("redis unavailable, realtime and event markers disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	rescheduleRepo := repository.NewRescheduleRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	reviewRepo := repository.NewReviewRepository(db)
	markerRepo := repository.NewEventMarkerRepository(redisClient, logr)

	// Shared infrastructure.
	broadcaster := realtime.NewBroadcaster(redisClient, cfg.Realtime.ChannelPrefix, logr)
	gateway := payment.NewStripeGateway(cfg.Stripe)
	metricsService := service.NewMetricsService()

	receiptStore, err := storage.NewLocalStorage(cfg.Receipts.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("receipt storage init failed", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Receipts.SignedURLSecret, cfg.Receipts.SignedURLTTL)

	// Services.
	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "mls-api",
	})
	userService := service.NewUserService(userRepo, validate, logr)
	courseService := service.NewCourseService(courseRepo, cfg.Stripe.Currency, validate, logr)
	bookingService := service.NewBookingService(
		enrollmentRepo, courseRepo, gateway, broadcaster, metricsService,
		cfg.BaseURL+cfg.Stripe.SuccessPath, cfg.BaseURL+cfg.Stripe.CancelPath,
		validate, logr,
	)
	receiptService := service.NewReceiptService(receiptStore, signer, enrollmentRepo, jobs.QueueConfig{
		Workers:    cfg.Receipts.WorkerConcurrency,
		MaxRetries: cfg.Receipts.WorkerRetries,
	}, logr)
	paymentService := service.NewPaymentService(
		enrollmentRepo, gateway, markerRepo, broadcaster,
		metricsService, receiptService, cfg.Realtime.EventTTL, logr,
	)
	scheduleService := service.NewScheduleService(sessionRepo, courseRepo, broadcaster, validate, logr)
	rescheduleService := service.NewRescheduleService(rescheduleRepo, sessionRepo, enrollmentRepo, broadcaster, validate, logr)
	attendanceService := service.NewAttendanceService(attendanceRepo, sessionRepo, enrollmentRepo, validate, logr)
	progressService := service.NewProgressService(enrollmentRepo, broadcaster, validate, logr)
	reviewService := service.NewReviewService(reviewRepo, enrollmentRepo, validate, logr)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	receiptService.Start(workerCtx)

	// Handlers.
	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService)
	courseHandler := handler.NewCourseHandler(courseService)
	bookingHandler := handler.NewBookingHandler(bookingService)
	paymentHandler := handler.NewPaymentHandler(paymentService)
	scheduleHandler := handler.NewScheduleHandler(scheduleService)
	rescheduleHandler := handler.NewRescheduleHandler(rescheduleService)
	attendanceHandler := handler.NewAttendanceHandler(attendanceService)
	progressHandler := handler.NewProgressHandler(progressService)
	reviewHandler := handler.NewReviewHandler(reviewService)
	receiptHandler := handler.NewReceiptHandler(receiptService)
	realtimeHandler := handler.NewRealtimeHandler(broadcaster)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authService), authHandler.Logout)
		auth.POST("/change-password", middleware.JWT(authService), authHandler.ChangePassword)
		auth.GET("/me", middleware.JWT(authService), authHandler.Me)
	}

	// Stripe calls this unauthenticated; the event signature is the credential.
	api.POST("/payments/webhook", paymentHandler.Webhook)
	api.GET("/receipts/download", receiptHandler.Download)

	protected := api.Group("")
	protected.Use(middleware.JWT(authService))
	{
		users := protected.Group("/users", middleware.RequireRoles(models.RoleAdmin))
		{
			users.GET("", userHandler.List)
			users.GET("/:id", userHandler.Get)
			users.POST("", userHandler.Create)
			users.PUT("/:id", userHandler.Update)
			users.DELETE("/:id", userHandler.Delete)
		}

		courses := protected.Group("/courses")
		{
			courses.GET("", courseHandler.List)
			courses.GET("/:courseId", courseHandler.Get)
			courses.POST("", middleware.RequireRoles(models.RoleAdmin), courseHandler.Create)
			courses.PUT("/:courseId", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), courseHandler.Update)
			courses.PUT("/:courseId/archive", middleware.RequireRoles(models.RoleAdmin), courseHandler.Archive)
			courses.PUT("/:courseId/time-slots", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), courseHandler.ReplaceTimeSlots)
			courses.GET("/:courseId/roster", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), receiptHandler.Roster)
			courses.GET("/:courseId/reviews", reviewHandler.List)
			courses.PUT("/:courseId/reviews", middleware.RequireRoles(models.RoleStudent), reviewHandler.Submit)
			courses.DELETE("/:courseId/reviews", middleware.RequireRoles(models.RoleStudent), reviewHandler.Delete)
		}

		enrollments := protected.Group("/enrollments")
		{
			enrollments.POST("", middleware.RequireRoles(models.RoleStudent), bookingHandler.Submit)
			enrollments.GET("", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), bookingHandler.List)
			enrollments.GET("/mine", bookingHandler.ListMine)
			enrollments.GET("/mine/payments", bookingHandler.ListMyPayments)
			enrollments.GET("/courses/:courseId", bookingHandler.Get)
			enrollments.DELETE("/courses/:courseId", middleware.RequireRoles(models.RoleStudent), bookingHandler.Cancel)
			enrollments.GET("/courses/:courseId/entitlement", bookingHandler.Entitlement)
			enrollments.GET("/courses/:courseId/receipt", receiptHandler.DownloadURL)
			enrollments.PUT("/courses/:courseId/quiz", middleware.RequireRoles(models.RoleStudent), progressHandler.SubmitQuiz)
			enrollments.PUT("/courses/:courseId/students/:studentId/progress", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), progressHandler.UpdateProgress)
		}

		sessions := protected.Group("/sessions")
		{
			sessions.GET("", scheduleHandler.List)
			sessions.GET("/:sessionId", scheduleHandler.Get)
			sessions.POST("", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), scheduleHandler.Create)
			sessions.PUT("/:sessionId", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), scheduleHandler.Update)
			sessions.PUT("/:sessionId/archive", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), scheduleHandler.Archive)
			sessions.DELETE("/:sessionId", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), scheduleHandler.Delete)
			sessions.GET("/:sessionId/attendance", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), attendanceHandler.Roster)
			sessions.PUT("/:sessionId/attendance", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), attendanceHandler.Mark)
			sessions.DELETE("/:sessionId/attendance/:email", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), attendanceHandler.Clear)
			sessions.DELETE("/:sessionId/reschedule-requests/resolved", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), rescheduleHandler.PurgeResolved)
		}

		reschedules := protected.Group("/reschedule-requests")
		{
			reschedules.POST("", middleware.RequireRoles(models.RoleStudent), rescheduleHandler.Submit)
			reschedules.GET("", rescheduleHandler.List)
			reschedules.PUT("/:id/approve", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), rescheduleHandler.Approve)
			reschedules.PUT("/:id/reject", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), rescheduleHandler.Reject)
		}

		protected.GET("/attendance/mine", attendanceHandler.History)
		protected.GET("/events", realtimeHandler.Stream)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Sugar().Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
	stopWorkers()
	receiptService.Stop()
}
