package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"citypulse/classifier"
	"citypulse/config"
	"citypulse/database"
	"citypulse/geocode"
	"citypulse/handlers"
	"citypulse/middleware"
	"citypulse/otp"
	"citypulse/services"
	"citypulse/sms"

	"github.com/apex/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn(".env file not found, using system environment variables")
	}

	cfg := config.Load()

	db, err := setupDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.InitializeSchema(db); err != nil {
		log.Fatalf("Failed to initialize database schema: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer rdb.Close()

	authService := database.NewAuthService(db, cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	go purgeExpiredTokens(authService, cfg.TokenPurgeInterval)

	complaintService := database.NewComplaintService(db)
	codeStore := otp.NewRedisStore(rdb, cfg.OTPCodeTTL)
	smsClient := sms.NewClient(cfg.SMSAPIKey, cfg.SMSAPIURL)
	imageClassifier := classifier.New(cfg.ModelDir, cfg.ModelServerURL)
	geocoder := geocode.NewClient(cfg.NominatimURL)

	wsService := services.NewWebSocketService(complaintService, cfg.PollInterval)
	if err := wsService.Start(); err != nil {
		log.Fatalf("Failed to start live feed service: %v", err)
	}
	defer wsService.Stop()

	router := setupRouter(authService, complaintService, codeStore, smsClient, imageClassifier, geocoder, wsService, rdb, cfg)

	log.Infof("CityPulse backend starting on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// purgeExpiredTokens drops expired refresh tokens at startup and then on
// every interval, so the auth_tokens table does not grow with sessions that
// were never refreshed.
func purgeExpiredTokens(auth *database.AuthService, interval time.Duration) {
	ctx := context.Background()
	if err := auth.PurgeExpiredTokens(ctx); err != nil {
		log.Errorf("Failed to purge expired tokens: %v", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if err := auth.PurgeExpiredTokens(ctx); err != nil {
			log.Errorf("Failed to purge expired tokens: %v", err)
		}
	}
}

func setupDatabase(cfg *config.Config) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&multiStatements=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return db, nil
}

func setupRouter(authService *database.AuthService, complaintService *database.ComplaintService, codeStore otp.Store, smsClient *sms.Client, imageClassifier *classifier.Classifier, geocoder *geocode.Client, wsService *services.WebSocketService, rdb *redis.Client, cfg *config.Config) *gin.Engine {
	router := gin.Default()
	router.SetTrustedProxies(cfg.TrustedProxies)

	router.Use(cors.New(cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowOrigins:     []string{"*"},
		AllowCredentials: true,
	}))
	router.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute))

	h := handlers.NewHandlers(authService, complaintService, codeStore, smsClient, imageClassifier, geocoder, cfg, wsService.Hub().ConnectedClients)
	wsHandler := handlers.NewWebSocketHandler(wsService.Hub(), authService)

	router.GET("/health", h.HealthCheck)

	public := router.Group("/api/v1")
	{
		auth := public.Group("/auth")
		{
			auth.POST("/request-code", h.RequestCode)
			auth.POST("/verify-code", h.VerifyCode)
			auth.POST("/refresh", h.RefreshToken)
		}
		public.GET("/geocode/reverse", h.ReverseGeocode)
	}

	protected := router.Group("/api/v1")
	protected.Use(middleware.AuthMiddleware(authService))
	{
		protected.POST("/complaints", h.SubmitComplaint)
		protected.GET("/complaints/mine", h.ListMyComplaints)
		protected.DELETE("/complaints/:id", h.DeleteComplaint)
	}

	admin := router.Group("/api/v1/admin")
	admin.Use(middleware.AuthMiddleware(authService), middleware.RequireAdmin())
	{
		admin.GET("/complaints", h.ListAllComplaints)
		admin.POST("/complaints/:id/status", h.UpdateComplaintStatus)
		admin.GET("/complaints/:id/image", h.GetComplaintImage)
	}

	// Live feeds authenticate inside the handler: WebSocket handshakes from
	// browsers cannot carry an Authorization header.
	router.GET("/ws/my-complaints", wsHandler.ListenMyComplaints)
	router.GET("/ws/complaints", wsHandler.ListenAllComplaints)

	return router
}
