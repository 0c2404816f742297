// README: Entry point; loads config, wires services, starts the HTTP server.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"shinua/internal/config"
	httptransport "shinua/internal/http"
	"shinua/internal/infra"
	"shinua/internal/logger"
	"shinua/internal/maps"
	"shinua/internal/sms"
	"shinua/internal/updates"

	"shinua/internal/modules/images"
	"shinua/internal/modules/locks"
	"shinua/internal/modules/task"
	"shinua/internal/modules/user"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger.Setup(logger.ParseLevel(cfg.Log.Level))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Firebase.ProjectID == "" {
		log.Fatal("SHINUA_FIREBASE_PROJECT_ID is required")
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		log.Fatalf("firebase init: %v", err)
	}

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal(err)
	}
	defer dbPool.Close()

	if err := infra.RunMigrations(ctx, dbPool); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	redisClient := infra.NewRedis(cfg.Redis.Addr)

	var geocoder maps.Geocoder
	if cfg.Maps.APIKey != "" {
		geocoder, err = maps.NewGeocodingService(cfg.Maps.APIKey)
		if err != nil {
			log.Fatalf("maps init: %v", err)
		}
	}

	userStore := user.NewStore(dbPool)
	imageStore := images.NewStore(dbPool)
	taskStore := task.NewStore(dbPool)

	bus := updates.NewRedisBus(redisClient)
	lockSvc := locks.NewService(redisClient)
	taskSvc := task.NewService(taskStore, userStore, imageStore, bus, &sms.LogSender{}, geocoder, cfg.Site)

	handler := httptransport.NewRouter(taskSvc, lockSvc, bus, verifier, userStore)

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown", "err", err)
		}
	}()

	slog.Info("listening", "addr", cfg.HTTP.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
