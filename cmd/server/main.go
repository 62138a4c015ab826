package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"chat-server/internal/chat"
	"chat-server/internal/config"
	myMiddleware "chat-server/internal/middleware"
	"chat-server/internal/room"
	"chat-server/internal/storage"
	"chat-server/internal/user"
)

func main() {
	cfg := config.Load()

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	// Storage: one JSON blob per collection, rewritten whole on every
	// mutation.
	userBlob, err := storage.NewBlob(filepath.Join(cfg.DataDir, "users.json"))
	if err != nil {
		logger.Fatal().Err(err).Msg("user storage init failed")
	}
	roomBlob, err := storage.NewBlob(filepath.Join(cfg.DataDir, "rooms.json"))
	if err != nil {
		logger.Fatal().Err(err).Msg("room storage init failed")
	}

	userRepo, err := user.NewRepository(userBlob)
	if err != nil {
		logger.Fatal().Err(err).Msg("user collection load failed")
	}
	roomRepo, err := room.NewRepository(roomBlob)
	if err != nil {
		logger.Fatal().Err(err).Msg("room collection load failed")
	}

	// Services are constructed once here and handed to the handlers
	// explicitly; nothing reaches for ambient singletons.
	userService := user.NewService(userRepo, cfg.JWTSecret)
	userHandler := user.NewHandler(userService)

	hub := chat.NewHub(logger)
	presence := chat.NewPresence(userRepo, hub, logger)
	chatHandler := chat.NewHandler(hub, presence, logger)

	roomService := room.NewService(roomRepo, userRepo, hub, presence, logger)
	roomHandler := room.NewHandler(roomService)

	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// Optional Redis, used only by the rate limiter.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		logger.Info().Msg("connected to Redis")
	}
	limiter := myMiddleware.NewRateLimiter(redisClient, logger)

	r := chi.NewRouter()
	r.Use(myMiddleware.Metrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(myMiddleware.Logger(logger))
	r.Use(chimw.Recoverer)
	r.Use(limiter.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	// Public routes
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)

		// realtime channel
		r.Get("/ws", chatHandler.ServeWs)

		r.Route("/api/users", func(r chi.Router) {
			r.Get("/", userHandler.List)
			r.Put("/firstname/{fname}", userHandler.UpdateFirstName)
			r.Put("/lastname/{lname}", userHandler.UpdateLastName)
			r.Put("/avatar/{avatar}", userHandler.UpdateAvatar)
			r.Delete("/", userHandler.Delete)
		})

		r.Get("/api/conversations/{id}", chatHandler.GetConversation)

		r.Route("/api/rooms", roomHandler.Routes)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting chat server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
