package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/surveyku/backend/docs"
	"github.com/surveyku/backend/internal/config"
	"github.com/surveyku/backend/internal/database"
	"github.com/surveyku/backend/internal/handlers"
	mW "github.com/surveyku/backend/internal/middleware"
	"github.com/surveyku/backend/internal/services"
)

// @title SurveyKu Backend API
// @version 1.0
// @description API for the SurveyKu reward-for-survey platform
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	viper.BindEnv("cpx.app_id", "CPX_APP_ID")
	viper.BindEnv("cpx.secure_hash", "CPX_SECURE_HASH")
	viper.BindEnv("cpx.allowed_ips", "CPX_ALLOWED_IPS")
	viper.BindEnv("cpx.conversion_rate", "CPX_CONVERSION_RATE")
	viper.BindEnv("cpx.local_currency", "CPX_LOCAL_CURRENCY")
	viper.BindEnv("wallet.min_withdrawal", "WALLET_MIN_WITHDRAWAL")
	viper.BindEnv("wallet.payout_bic", "WALLET_PAYOUT_BIC")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "SurveyKu Backend API"
	docs.SwaggerInfo.Description = "API for the SurveyKu reward-for-survey platform"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	cpxConfig := config.GetCPXConfig()
	if cpxConfig.SecureHash == "" {
		log.Println("WARNING: CPX_SECURE_HASH is not set; postback signatures cannot validate")
	}
	walletConfig := config.GetWalletConfig()

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	authService := services.NewAuthService(db, redisClient)
	surveyService := services.NewSurveyService(db, redisClient, cpxConfig)
	payoutService := services.NewPayoutService(db, redisClient, walletConfig)
	walletService := services.NewWalletService(db, walletConfig, payoutService)
	postbackService := services.NewPostbackService(db, cpxConfig)
	postbackHandler := handlers.NewPostbackHandler(postbackService)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// Provider postback endpoint. The provider fires both GET and POST and
	// retries aggressively; authorization is by source IP and signature,
	// never by bearer token.
	r.Get("/api/postback/cpx", postbackHandler.HandlePostback)
	r.Post("/api/postback/cpx", postbackHandler.HandlePostback)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/account", authService.GetUserAccount)
			r.Put("/profile", authService.UpdateProfile)

			r.Get("/surveys", surveyService.ListSurveys)
			r.Get("/surveys/cpx-url", surveyService.GetOfferWallURL)
			r.Get("/surveys/cpx-available", surveyService.GetAvailableSurveys)
			r.Get("/surveys/qr", surveyService.GetOfferWallQR)
			r.Post("/surveys/{surveyId}/start", surveyService.StartSurvey)

			r.Get("/dashboard/stats", walletService.GetDashboardStats)
			r.Get("/transactions", walletService.ListTransactions)
			r.Post("/withdraw", walletService.Withdraw)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
