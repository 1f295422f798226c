package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/uxlensHQ/uxlens/internal/scheduler"
)

type WorkerConfig struct {
	DatabasePath  string
	RedisAddr     string
	SweepInterval time.Duration
}

func main() {
	log.Println("========================================")
	log.Println("          UXLens Worker v1.0           ")
	log.Println("========================================")

	cfg := loadConfig()

	db, err := connectDB(cfg.DatabasePath)
	if err != nil {
		log.Fatal("[STARTUP] Failed to open database:", err)
	}

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	service := scheduler.New(db, redisOpt)

	log.Printf("[WORKER] Database: %s", cfg.DatabasePath)
	log.Printf("[WORKER] Redis: %s", cfg.RedisAddr)
	log.Printf("[WORKER] Retention sweep every %s", cfg.SweepInterval)
	log.Printf("[WORKER] Ready to process tasks...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sweepTicker := time.NewTicker(cfg.SweepInterval)
	go func() {
		// Sweep once at startup, then on the ticker.
		if err := service.EnqueueRetentionSweep(); err != nil {
			log.Printf("[WORKER] Failed to enqueue retention sweep: %v", err)
		}
		for range sweepTicker.C {
			if err := service.EnqueueRetentionSweep(); err != nil {
				log.Printf("[WORKER] Failed to enqueue retention sweep: %v", err)
			}
		}
	}()

	go func() {
		<-sigChan
		log.Printf("[SHUTDOWN] Received shutdown signal...")
		sweepTicker.Stop()
		service.Stop()
	}()

	if err := service.Start(); err != nil {
		log.Fatal("[WORKER] Failed to run server:", err)
	}
}

func loadConfig() WorkerConfig {
	cfg := WorkerConfig{}

	var sweepMinutes int
	flag.StringVar(&cfg.DatabasePath, "db", "", "Database path")
	flag.StringVar(&cfg.RedisAddr, "redis", "localhost:6379", "Redis address")
	flag.IntVar(&sweepMinutes, "sweep-interval", 60, "Minutes between retention sweeps")
	flag.Parse()

	cfg.SweepInterval = time.Duration(sweepMinutes) * time.Minute

	if cfg.DatabasePath == "" {
		cfg.DatabasePath = os.Getenv("UXLENS_DB_PATH")
		if cfg.DatabasePath == "" {
			cfg.DatabasePath = "uxlens.db"
		}
	}
	if v := os.Getenv("UXLENS_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}

	return cfg
}

func connectDB(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(path), &gorm.Config{})
}
