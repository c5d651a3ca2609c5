package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rollcall/internal/config"
	"rollcall/internal/notify"
)

// Relay consumes fully-vacated signals from redis and forwards them to a
// webhook so sibling views know to refresh.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := notify.NewClient(cfg.RedisAddr)
	if !notify.Healthy(ctx, redisClient) {
		log.Printf("WARNING: redis at %s not reachable yet", cfg.RedisAddr)
	}
	notifier := notify.NewRedis(redisClient, cfg.NotifyChannel)

	signals, err := notifier.Subscribe(ctx)
	if err != nil {
		log.Fatalf("signal subscribe failed: %v", err)
	}

	httpClient := &http.Client{Timeout: 5 * time.Second}

	log.Println("relay started, waiting for signals...")
	for sig := range signals {
		if sig.Type != notify.FullyVacated {
			continue
		}
		log.Printf("event %s fully vacated (%d checked out)", sig.EventID, sig.CheckedOut)

		if cfg.RelayWebhookURL == "" {
			continue
		}
		payload, err := json.Marshal(sig)
		if err != nil {
			continue
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.RelayWebhookURL, bytes.NewReader(payload))
		if err != nil {
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := httpClient.Do(req)
		if err != nil {
			log.Printf("webhook post failed: %v", err)
			continue
		}
		resp.Body.Close()
	}

	log.Println("relay stopped")
}
