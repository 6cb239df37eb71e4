package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.temporal.io/sdk/client"

	"github.com/jordanhubbard/sentinel/internal/api"
	"github.com/jordanhubbard/sentinel/internal/auth"
	"github.com/jordanhubbard/sentinel/internal/drift"
	"github.com/jordanhubbard/sentinel/internal/engine"
	"github.com/jordanhubbard/sentinel/internal/feed"
	"github.com/jordanhubbard/sentinel/internal/hotreload"
	"github.com/jordanhubbard/sentinel/internal/metrics"
	"github.com/jordanhubbard/sentinel/internal/notify"
	"github.com/jordanhubbard/sentinel/internal/replan"
	"github.com/jordanhubbard/sentinel/internal/reroute"
	"github.com/jordanhubbard/sentinel/internal/store"
	"github.com/jordanhubbard/sentinel/internal/telemetry"
	"github.com/jordanhubbard/sentinel/pkg/config"
)

const version = "0.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Sentinel v%s\n", version)
		return
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			log.Fatalf("failed to load config from %s: %v", *configPath, err)
		}
		cfg = loaded
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := openStore(runCtx, cfg)
	if err != nil {
		log.Fatalf("failed to open %s store: %v", cfg.Store.Type, err)
	}
	defer backend.Close()

	m := metrics.New()

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.Init(runCtx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			log.Printf("Warning: failed to initialize telemetry: %v", err)
		} else {
			defer func() {
				if err := shutdownTelemetry(context.Background()); err != nil {
					log.Printf("Error shutting down telemetry: %v", err)
				}
			}()
		}
	}

	// NATS-backed collaborators degrade to local stand-ins when the
	// broker is unreachable so the daemon stays usable in dev.
	var notifier reroute.Notifier
	natsNotifier, err := notify.NewNatsNotifier(notify.NatsConfig{
		URL:           cfg.Nats.URL,
		SubjectPrefix: cfg.Nats.NotifySubject,
		Timeout:       cfg.Nats.Timeout,
	})
	if err != nil {
		log.Printf("Warning: NATS notifier unavailable, falling back to log: %v", err)
		notifier = notify.NewLogNotifier()
	} else {
		defer natsNotifier.Close()
		notifier = natsNotifier
	}

	var scorecards reroute.ScorecardSource
	natsFeed, err := feed.NewNatsSource(feed.NatsConfig{
		URL:     cfg.Nats.URL,
		Subject: cfg.Nats.ScorecardTopic,
		Timeout: cfg.Nats.Timeout,
	})
	if err != nil {
		log.Printf("Warning: NATS scorecard feed unavailable, falling back to static: %v", err)
		scorecards = feed.NewStaticSource()
	} else {
		defer natsFeed.Close()
		scorecards = natsFeed
	}

	var planner replan.Planner
	natsPlanner, err := replan.NewNatsPlanner(replan.NatsPlannerConfig{
		URL:     cfg.Nats.URL,
		Timeout: cfg.Nats.Timeout,
	})
	if err != nil {
		log.Printf("Warning: NATS planner unavailable, falling back to echo: %v", err)
		planner = replan.EchoPlanner{}
	} else {
		defer natsPlanner.Close()
		planner = natsPlanner
	}

	eng := engine.New(cfg, engine.Deps{
		Backend:    backend,
		Scorecards: scorecards,
		Notifier:   notifier,
		Planner:    planner,
		Similarity: drift.TokenOverlap(),
		Metrics:    m,
	})
	if err := eng.Start(runCtx); err != nil {
		log.Fatalf("failed to start engine: %v", err)
	}

	if cfg.Temporal.Enabled {
		temporalClient, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.Host,
			Namespace: cfg.Temporal.Namespace,
		})
		if err != nil {
			log.Printf("Warning: Temporal unavailable, durable replan disabled: %v", err)
		} else {
			defer temporalClient.Close()
			w := replan.NewWorker(temporalClient, cfg.Temporal.TaskQueue, backend, planner)
			if err := w.Start(); err != nil {
				log.Printf("Warning: failed to start Temporal worker: %v", err)
			} else {
				defer w.Stop()
				log.Printf("[Temporal] Replan worker started on queue %s", cfg.Temporal.TaskQueue)
			}
		}
	}

	if cfg.HotReload.Enabled && cfg.Governance.ThresholdsFile != "" {
		watcher, err := hotreload.New(cfg.Governance.ThresholdsFile, eng.Thresholds())
		if err != nil {
			log.Printf("Warning: threshold hot reload unavailable: %v", err)
		} else {
			watcher.Start(runCtx)
			defer watcher.Stop()
		}
	}

	authManager := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	apiServer := api.NewServer(eng, authManager, m, cfg)

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %s, shutting down", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down API server: %v", err)
	}
	eng.Stop()
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Type {
	case "postgres":
		return store.NewPostgresStore(cfg.Store.DSN)
	case "redis":
		return store.NewRedisStore(ctx, cfg.Store.RedisURL)
	default:
		return store.NewMemoryStore(), nil
	}
}
