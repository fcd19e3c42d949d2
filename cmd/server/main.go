// Package main runs the full tracking service:
// - Feed (continuous): pumpportal WebSocket, token and trade ingestion
// - Tracking: per-token state, signal evaluation, opportunity alerts
// - Broadcast: viewer WebSocket fan-out plus health/metrics/status HTTP
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"pumpwatch/internal/analyzer"
	"pumpwatch/internal/archive"
	"pumpwatch/internal/broadcast"
	"pumpwatch/internal/config"
	"pumpwatch/internal/feed"
	"pumpwatch/internal/observability"
	"pumpwatch/internal/tracker"
)

// Server holds all components of the tracking service.
type Server struct {
	cfg    *config.Config
	logger *log.Logger

	feed    *feed.Client
	tracker *tracker.Tracker
	hub     *broadcast.Hub

	mu          sync.Mutex
	started     time.Time
	lastCleanup time.Time
	cleanupRuns int
	removed     int
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Flags override the environment for local runs.
	feedURL := flag.String("feed-url", cfg.FeedURL, "Pumpportal WebSocket endpoint")
	listenAddr := flag.String("listen-addr", cfg.ListenAddr, "HTTP listen address")
	policyFile := flag.String("policy", cfg.PolicyFile, "YAML policy overrides")
	clickhouseDSN := flag.String("clickhouse-dsn", cfg.ClickHouseDSN, "ClickHouse DSN for the trade archive (empty = disabled)")
	flag.Parse()

	cfg.FeedURL = *feedURL
	cfg.ListenAddr = *listenAddr
	cfg.PolicyFile = *policyFile
	cfg.ClickHouseDSN = *clickhouseDSN

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	policy, err := analyzer.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		logger.Fatalf("load policy: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	server := &Server{cfg: cfg, logger: logger}

	err = server.Run(ctx, policy)
	done <- err

	if err != nil && err != context.Canceled {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// Run wires the components together and blocks until the context is
// canceled.
func (s *Server) Run(ctx context.Context, policy analyzer.Policy) error {
	s.logger.Printf("Connecting to feed %s...", s.cfg.FeedURL)

	feedClient, err := feed.Dial(ctx, s.cfg.FeedURL, nil, log.New(os.Stdout, "[feed] ", log.LstdFlags))
	if err != nil {
		return fmt.Errorf("dial feed: %w", err)
	}
	defer feedClient.Close()
	s.feed = feedClient

	registry := tracker.NewRegistry(feedClient, log.New(os.Stdout, "[registry] ", log.LstdFlags))
	defer registry.Close()

	s.hub = broadcast.NewHub(log.New(os.Stdout, "[hub] ", log.LstdFlags))

	var tradeArchive tracker.Archive
	if s.cfg.ClickHouseDSN != "" {
		conn, err := archive.NewConn(ctx, s.cfg.ClickHouseDSN)
		if err != nil {
			return fmt.Errorf("connect to clickhouse: %w", err)
		}
		defer conn.Close()

		ta, err := archive.NewTradeArchive(ctx, conn, archive.Options{
			Logger: log.New(os.Stdout, "[archive] ", log.LstdFlags),
		})
		if err != nil {
			return fmt.Errorf("create trade archive: %w", err)
		}
		go ta.Run(ctx)
		tradeArchive = ta
		s.logger.Println("Trade archive enabled")
	}

	s.tracker = tracker.New(tracker.Options{
		Registry:      registry,
		Analyzer:      analyzer.New(policy),
		Sink:          s.hub,
		Archive:       tradeArchive,
		Logger:        log.New(os.Stdout, "[tracker] ", log.LstdFlags),
		StateInterval: s.cfg.StateInterval,
		SweepInterval: s.cfg.SweepInterval,
	})

	feedClient.OnReconnect(s.tracker.Resubscribe)

	s.mu.Lock()
	s.started = time.Now()
	s.mu.Unlock()

	// Scheduled cleanup of idle tokens.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(s.cfg.CleanupSchedule, s.runCleanup); err != nil {
		return fmt.Errorf("schedule cleanup %q: %w", s.cfg.CleanupSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	go s.startHTTPServer(s.cfg.ListenAddr)

	go s.tracker.Run(ctx)

	s.logger.Println("Tracking started")

	// Drive the feed into the tracker. The loop ends when the client closes
	// its event channel.
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-feedClient.Events():
			if !ok {
				return fmt.Errorf("feed closed")
			}
			s.tracker.HandleEvent(ev)
		}
	}
}

// runCleanup drops tokens with no trades for the configured idle window.
func (s *Server) runCleanup() {
	removed := s.tracker.Cleanup(s.cfg.CleanupMaxAge)

	s.mu.Lock()
	s.lastCleanup = time.Now()
	s.cleanupRuns++
	s.removed += len(removed)
	s.mu.Unlock()

	if len(removed) > 0 {
		s.logger.Printf("Cleanup removed %d idle tokens", len(removed))
	}
}

// startHTTPServer serves the viewer WebSocket plus health/metrics/status.
func (s *Server) startHTTPServer(addr string) {
	mux := http.NewServeMux()

	// Viewer stream
	mux.HandleFunc("/ws", s.hub.HandleWebSocket)

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("/metrics", observability.Handler())

	// Status endpoint
	mux.HandleFunc("/status", s.handleStatus)

	s.logger.Printf("Starting HTTP server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		s.logger.Printf("HTTP server error: %v", err)
	}
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status        string    `json:"status"`
	Uptime        string    `json:"uptime"`
	TrackedTokens int       `json:"tracked_tokens"`
	Viewers       int       `json:"viewers"`
	LastCleanup   time.Time `json:"last_cleanup,omitempty"`
	CleanupRuns   int       `json:"cleanup_runs"`
	TokensRemoved int       `json:"tokens_removed"`
}

// handleStatus returns server status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	resp := StatusResponse{
		Status:        "running",
		Uptime:        time.Since(s.started).String(),
		LastCleanup:   s.lastCleanup,
		CleanupRuns:   s.cleanupRuns,
		TokensRemoved: s.removed,
	}
	s.mu.Unlock()

	resp.TrackedTokens = s.tracker.TrackedTokens()
	resp.Viewers = s.hub.Viewers()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
