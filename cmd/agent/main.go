package main

import (
	"context"
	_ "embed"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/uxlensHQ/uxlens/internal/bridge"
	"github.com/uxlensHQ/uxlens/internal/config"
	"github.com/uxlensHQ/uxlens/internal/tracker"
)

//go:embed shim.js
var shimJS []byte

func main() {
	cfg := config.Load()
	log.Printf("Starting UXLens agent on port %d", cfg.AgentPort)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	defaults := tracker.DefaultOptions("", cfg.CollectorURL)
	defaults.Debug = cfg.Debug

	var origins []string
	if cfg.AllowedOrigins != "" {
		for _, origin := range strings.Split(cfg.AllowedOrigins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
	}
	hub := bridge.NewHub(defaults, origins)

	r := gin.Default()
	r.GET("/ws", hub.Handler)
	r.GET("/shim.js", func(c *gin.Context) {
		c.Header("Cache-Control", "public, max-age=300")
		c.Data(http.StatusOK, "application/javascript; charset=utf-8", shimJS)
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "sessions": hub.Count()})
	})

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.AgentPort),
		Handler: r,
	}

	go func() {
		log.Printf("Agent listening on :%d", cfg.AgentPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	<-ctx.Done()

	log.Printf("Graceful shutdown...")
	// Sessions first, so every tracker final-flushes before the listener dies.
	hub.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}
	log.Println("Server exited")
}
