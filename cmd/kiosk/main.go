package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"rollcall/internal/auth"
	"rollcall/internal/backend"
	"rollcall/internal/config"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/notify"
	"rollcall/internal/partition"
	"rollcall/internal/schedule"
	"rollcall/internal/session"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("kiosk failed: %v", err)
	}
}

func run(cfg config.App) error {
	if cfg.EventID == "" {
		return errors.New("EVENT_ID is required")
	}
	loc, err := time.LoadLocation(cfg.OrgTimezone)
	if err != nil {
		return fmt.Errorf("load org timezone %q: %w", cfg.OrgTimezone, err)
	}
	mode := partition.ParseMode(cfg.SessionMode)

	client := backend.New(cfg.BackendURL)
	store := session.NewStore(client, cfg.EventID, mode)

	var redisClient *redis.Client
	var notifier notify.Notifier
	if cfg.NotifyBackend == "redis" {
		redisClient = notify.NewClient(cfg.RedisAddr)
		notifier = notify.NewRedis(redisClient, cfg.NotifyChannel)
	} else {
		notifier = notify.NewMemory(64)
	}

	// In memory mode there is no relay process on the other end, so this
	// process drains its own signals and folds them into the SSE stream.
	// Redis pub/sub delivers a copy per subscriber, so the same drain works
	// there without starving the relay.
	vacated := newSignalFan()
	if signals, err := notifier.Subscribe(context.Background()); err != nil {
		log.Printf("warning: notifier subscribe failed: %v", err)
	} else {
		go func() {
			for sig := range signals {
				log.Printf("event %s fully vacated, %d checked out", sig.EventID, sig.CheckedOut)
				vacated.broadcast(sig)
			}
		}()
	}

	coordinator := session.NewCoordinator(store, notifier, loc)

	// Initial snapshot. A degraded backend is a warning, not a startup
	// failure; operators can hit /v1/refresh once it recovers.
	startupCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := store.Refresh(startupCtx); err != nil {
		log.Printf("warning: initial snapshot fetch failed: %v", err)
	}
	cancel()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewPerIPLimiter(cfg.RateLimitPerMin, cfg.RateLimitPerMin).Middleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		status := http.StatusOK
		body := gin.H{"status": "ok", "snapshot": store.Event().ID != ""}
		if redisClient != nil {
			healthy := notify.Healthy(c.Request.Context(), redisClient)
			body["redis"] = healthy
			if !healthy {
				status = http.StatusServiceUnavailable
			}
		}
		c.JSON(status, body)
	})

	r.POST("/v1/token", func(c *gin.Context) {
		var req struct {
			Name string `json:"name" binding:"required"`
			Role string `json:"role" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		token, exp, err := auth.Issue(req.Name, req.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token": token,
			"expires_at":   exp.Unix(),
		})
	})

	v1 := r.Group("/v1", auth.RequireAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	v1.GET("/partitions", func(c *gin.Context) {
		c.JSON(http.StatusOK, store.Partitions(c.Query("search")))
	})

	v1.GET("/summary", func(c *gin.Context) {
		snap := store.Snapshot()
		parts := partition.Split(snap.Roster, snap.Records, mode, "")
		c.JSON(http.StatusOK, gin.H{
			"event":       snap.Event,
			"available":   len(parts.Available),
			"checked_in":  len(parts.CheckedIn),
			"checked_out": len(parts.CheckedOut),
			"attended":    len(parts.Attended),
			"ended":       schedule.EventEnded(snap.Event, time.Now(), loc),
		})
	})

	v1.POST("/checkin", func(c *gin.Context) {
		var req struct {
			PersonID string `json:"person_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := store.CheckIn(c.Request.Context(), req.PersonID); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"checked_in": store.CheckedInCount()})
	})

	v1.PUT("/checkout", func(c *gin.Context) {
		var req struct {
			PersonID string `json:"person_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := store.CheckOut(c.Request.Context(), req.PersonID); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"checked_in": store.CheckedInCount()})
	})

	v1.PUT("/checkout-all", func(c *gin.Context) {
		res, err := coordinator.CheckOutAll(c.Request.Context(), auth.Role(c), time.Now())
		if err != nil {
			status := http.StatusBadGateway
			switch {
			case errors.Is(err, session.ErrNotAdmin):
				status = http.StatusForbidden
			case errors.Is(err, session.ErrEventNotEnded):
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, res)
	})

	v1.POST("/refresh", func(c *gin.Context) {
		if err := store.Refresh(c.Request.Context()); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"checked_in": store.CheckedInCount()})
	})

	// One SSE event per snapshot replacement so the presentation layer knows
	// when to re-render, plus one per drained session signal. Subscriptions
	// are released when the client goes away.
	v1.GET("/stream", func(c *gin.Context) {
		updates, unsubscribe := store.Subscribe()
		defer unsubscribe()
		sigs, stop := vacated.subscribe()
		defer stop()
		c.Stream(func(w io.Writer) bool {
			select {
			case <-updates:
				c.SSEvent("snapshot", gin.H{"checked_in": store.CheckedInCount()})
				return true
			case sig := <-sigs:
				c.SSEvent("signal", sig)
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("kiosk serving event %s on :%s", cfg.EventID, cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}

	log.Println("kiosk exited")
	return nil
}

// signalFan duplicates drained session signals to every open SSE connection.
type signalFan struct {
	mu   sync.Mutex
	subs map[chan notify.Signal]struct{}
}

func newSignalFan() *signalFan {
	return &signalFan{subs: make(map[chan notify.Signal]struct{})}
}

func (f *signalFan) subscribe() (<-chan notify.Signal, func()) {
	ch := make(chan notify.Signal, 4)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	return ch, func() {
		f.mu.Lock()
		delete(f.subs, ch)
		f.mu.Unlock()
	}
}

func (f *signalFan) broadcast(sig notify.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- sig:
		default:
		}
	}
}

// CORS middleware for browser kiosks.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
