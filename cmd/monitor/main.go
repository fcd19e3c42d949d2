// Package main runs a headless tracker: it follows the feed and logs
// opportunity alerts to stdout instead of serving viewers. Useful for
// validating the pipeline against live data without exposing any surface.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pumpwatch/internal/analyzer"
	"pumpwatch/internal/broadcast"
	"pumpwatch/internal/config"
	"pumpwatch/internal/feed"
	"pumpwatch/internal/tracker"
)

// logSink prints opportunity messages instead of fanning them out.
// Periodic state updates are summarized to keep the output readable.
type logSink struct {
	logger *log.Logger
}

func (s *logSink) Broadcast(msg broadcast.Message) {
	switch msg.Type {
	case broadcast.TypeStateUpdate:
		if tokens, ok := msg.Data.([]broadcast.TokenSummary); ok {
			s.logger.Printf("state: %d tokens tracked", len(tokens))
		}
	default:
		data, err := json.Marshal(msg)
		if err != nil {
			s.logger.Printf("marshal %s: %v", msg.Type, err)
			return
		}
		s.logger.Printf("%s: %s", msg.Type, data)
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	feedURL := flag.String("feed-url", cfg.FeedURL, "Pumpportal WebSocket endpoint")
	policyFile := flag.String("policy", cfg.PolicyFile, "YAML policy overrides")
	quiet := flag.Bool("quiet", false, "Suppress periodic state summaries")
	flag.Parse()

	logger := log.New(os.Stdout, "[monitor] ", log.LstdFlags)

	policy, err := analyzer.LoadPolicy(*policyFile)
	if err != nil {
		logger.Fatalf("load policy: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("received %v, shutting down", sig)
		cancel()
	}()

	feedClient, err := feed.Dial(ctx, *feedURL, nil, log.New(os.Stdout, "[feed] ", log.LstdFlags))
	if err != nil {
		logger.Fatalf("dial feed: %v", err)
	}
	defer feedClient.Close()

	registry := tracker.NewRegistry(feedClient, log.New(os.Stdout, "[registry] ", log.LstdFlags))
	defer registry.Close()

	opts := tracker.Options{
		Registry:      registry,
		Analyzer:      analyzer.New(policy),
		Sink:          &logSink{logger: logger},
		Logger:        log.New(os.Stdout, "[tracker] ", log.LstdFlags),
		SweepInterval: cfg.SweepInterval,
	}
	if *quiet {
		// State summaries off, opportunity sweeps still on.
		opts.StateInterval = 24 * time.Hour
	} else {
		opts.StateInterval = cfg.StateInterval
	}

	t := tracker.New(opts)
	feedClient.OnReconnect(t.Resubscribe)

	go t.Run(ctx)

	// Hourly cleanup keeps long monitor runs bounded.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.Cleanup(cfg.CleanupMaxAge)
			}
		}
	}()

	logger.Printf("monitoring %s", *feedURL)

	for {
		select {
		case <-ctx.Done():
			logger.Println("done")
			return
		case ev, ok := <-feedClient.Events():
			if !ok {
				logger.Println("feed closed")
				return
			}
			t.HandleEvent(ev)
		}
	}
}
