package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	orchestrator "github.com/tanpawarit/Chative-Learning-Coordinator/agent/agents/orchestrator"
	learningx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/learning"
	llmx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/llm"
	metricsx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/metrics"
	promptx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/prompt"
	statex "github.com/tanpawarit/Chative-Learning-Coordinator/agent/state"
	configx "github.com/tanpawarit/Chative-Learning-Coordinator/pkg/config"
	_ "github.com/tanpawarit/Chative-Learning-Coordinator/pkg/logger/autoload"
	openrouterx "github.com/tanpawarit/Chative-Learning-Coordinator/pkg/openrouter"
	qstashx "github.com/tanpawarit/Chative-Learning-Coordinator/pkg/qstash"
)

type AppConfig struct {
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appCfg := configx.MustNew[AppConfig]("")
	coordCfg := configx.MustNew[orchestrator.Config]("COORDINATOR")

	table, err := orchestrator.LoadUnitTable(coordCfg.UnitsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("load unit table")
	}

	opts := []orchestrator.Option{
		orchestrator.WithUnitTable(table),
		orchestrator.WithMetrics(metricsx.New(prometheus.DefaultRegisterer)),
	}
	opts = append(opts, llmOptions(ctx, table)...)

	if dbCfg, err := configx.New[statex.DatabaseConfig]("DATABASE"); err == nil {
		store, err := statex.NewBunAuditStore(ctx, *dbCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("open audit database")
		}
		defer store.Close()
		opts = append(opts, orchestrator.WithAuditStore(store))
	} else {
		log.Warn().Err(err).Msg("audit database not configured, keeping audit log in memory")
		opts = append(opts, orchestrator.WithAuditStore(statex.NewMemoryAuditStore()))
	}

	if upCfg, err := configx.New[statex.UpstashRedisConfig]("UPSTASH_REDIS"); err == nil {
		store, err := statex.NewUpstashSnapshotStore(*upCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("open snapshot store")
		}
		opts = append(opts, orchestrator.WithSnapshotStore(store))
	}

	if redisCfg, err := configx.New[learningx.RedisConfig]("REDIS"); err == nil {
		seen, err := learningx.NewRedisSeenSet(ctx, *redisCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("connect seen set")
		}
		opts = append(opts, orchestrator.WithSeenSet(seen))
	}

	if coordCfg.NotifyURL != "" {
		qstashCfg := configx.MustNew[qstashx.Config]("QSTASH")
		notifier, err := orchestrator.NewQStashRunNotifier(qstashx.MustNew(*qstashCfg), coordCfg.NotifyURL, coordCfg.ID)
		if err != nil {
			log.Fatal().Err(err).Msg("build run notifier")
		}
		opts = append(opts, orchestrator.WithNotifier(notifier))
	}

	coordinator, err := orchestrator.New(*coordCfg, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("build coordinator")
	}

	if _, err := coordinator.Restore(ctx); err != nil && !errors.Is(err, statex.ErrCheckpointNotFound) {
		log.Warn().Err(err).Msg("checkpoint not restored")
	}

	if err := coordinator.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start optimization scheduler")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: appCfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	log.Info().Str("coordinator_id", coordinator.ID()).Str("metrics_addr", appCfg.MetricsAddr).Msg("coordinator running")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	coordinator.Stop()
	if _, err := coordinator.Checkpoint(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("final checkpoint failed")
	}
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("coordinator stopped")
}

// llmOptions wires OpenRouter-backed generation and classification when configured.
func llmOptions(ctx context.Context, table orchestrator.UnitTable) []orchestrator.Option {
	llmCfg, err := configx.New[llmx.Config]("OPENROUTER")
	if err != nil {
		log.Warn().Err(err).Msg("openrouter not configured, units answer with static responses")
		return nil
	}

	prompts := promptx.LoadPromptSet()
	unitIDs := table.IDs()

	checkCtx, cancel := context.WithTimeout(ctx, llmCfg.Timeout)
	defer cancel()
	client := openrouterx.NewClient(llmCfg.ClassifierOpenRouter())
	if err := llmx.CheckModels(checkCtx, client, llmCfg.Models(unitIDs)); err != nil {
		log.Warn().Err(err).Msg("model availability check failed")
	}

	generator, err := llmx.NewGeneratorFromConfig(ctx, *llmCfg, prompts, unitIDs)
	if err != nil {
		log.Fatal().Err(err).Msg("build generator")
	}
	classifier, err := llmx.NewClassifierFromConfig(ctx, *llmCfg, prompts.Classifier)
	if err != nil {
		log.Fatal().Err(err).Msg("build classifier")
	}
	return []orchestrator.Option{
		orchestrator.WithGenerator(generator),
		orchestrator.WithClassifier(classifier),
	}
}
