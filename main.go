package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"plot-server/config"
	"plot-server/handlers"
	"plot-server/services"
	"plot-server/utils/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	appLog := logger.New(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// MongoDB
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	mongoClient, err := services.ConnectMongo(connectCtx, cfg.MongoURI)
	cancel()
	if err != nil {
		log.Fatalf("MongoDB connection failed: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	appLog.Info("connected to MongoDB", "db", cfg.MongoDB)

	collection := mongoClient.Database(cfg.MongoDB).Collection(cfg.ListingsCollection)
	store := services.NewMongoListingStore(collection, appLog)
	if _, err := store.SeedIfEmpty(ctx, cfg.SeedFile); err != nil {
		log.Fatalf("Failed to seed listings: %v", err)
	}

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	// Initialize services and handlers
	geocoder := services.NewGoogleGeocoder(cfg.GeocodeBaseURL, cfg.GoogleMapsAPIKey, cfg.GeocodeRPS, appLog)
	locations := services.NewLocationService(redisClient, cfg.LocationTTL, appLog)
	saved := services.NewSavedService(redisClient, store, appLog)
	registry := services.NewDiscoveryRegistry(locations, store, geocoder, appLog, services.DiscoveryOptions{
		Fallback:           cfg.Fallback(),
		AmenityTags:        cfg.AmenityTags,
		GeocodeConcurrency: cfg.GeocodeConcurrency,
	}, cfg.SessionIdleTTL)

	router := handlers.NewRouter(
		handlers.RouterConfig{JWTSecret: cfg.JWTSecret, AllowedOrigins: cfg.AllowedOrigins, Log: appLog},
		handlers.NewDiscoveryHandler(registry, 60*time.Second),
		handlers.NewLocationHandler(locations, registry),
		handlers.NewListingHandler(store, saved, cfg.AmenityTags, appLog),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLog.Error("server shutdown failed", "error", err)
		}
	}()

	appLog.Info("server starting", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
