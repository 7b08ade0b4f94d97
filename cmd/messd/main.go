package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	log "github.com/sirupsen/logrus"

	"smartmess-backend/config"
	"smartmess-backend/internal/api"
	"smartmess-backend/internal/artifact"
	"smartmess-backend/internal/db"
	"smartmess-backend/internal/logging"
	"smartmess-backend/internal/notification"
	"smartmess-backend/internal/prediction"
	"smartmess-backend/internal/retention"
	"smartmess-backend/internal/store"
	"smartmess-backend/internal/supervisor"
	"smartmess-backend/internal/training"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logging.Init(cfg.Logging)
	log.Printf("configuration loaded successfully from %s", configPath)

	var webpushOptions *webpush.Options
	if cfg.Push.Enabled {
		if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
			log.Fatalf("VAPID keys must be configured when push is enabled. Please generate them and add them to your config file.")
		}
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
	}

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}
	if err := db.Seed(gormDB, cfg.Messes); err != nil {
		log.Fatalf("failed to seed messes: %v", err)
	}
	log.Println("database initialized successfully")

	appStore := store.NewGormStore(gormDB)

	models, err := artifact.Open(cfg.Models)
	if err != nil {
		log.Fatalf("failed to open model store at %s: %v", cfg.Models.Path, err)
	}
	defer models.Close()

	loc := cfg.Campus.Location
	predictor := prediction.NewService(appStore, models, cfg.Prediction, loc)
	trainer := training.NewTrainer(appStore, models, predictor, cfg.Training, loc)

	tree := supervisor.NewTree("smartmess", supervisor.DefaultTreeConfig())

	if cfg.Training.Enabled {
		tree.AddWorker(training.NewAutoTrainer(trainer, appStore))
	}
	if cfg.Retention.Enabled {
		tree.AddWorker(retention.NewSweeper(appStore, cfg.Retention, loc))
	}
	if webpushOptions != nil {
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, predictor, webpushOptions)
		tree.AddWorker(pool)
		tree.AddWorker(notification.NewAnnouncer(appStore, pool, loc))
	}

	handler := api.NewHandler(api.Deps{
		Store:     appStore,
		Predictor: predictor,
		Trainer:   trainer,
		WebPush:   webpushOptions,
		Location:  loc,
	})
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(cfg.Server, handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	tree.AddAPI(supervisor.NewHTTPService(server, 10*time.Second))

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("HTTP server starting on port %d", cfg.Server.Port)
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		log.Errorf("supervisor stopped: %v", err)
	}
	log.Println("Shutdown signal received, waiting for background training...")
	trainer.Wait()

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		log.Warnf("%d services did not stop in time", len(report))
	}
	log.Println("Server gracefully stopped")
}
