package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/swarmguard/gateway/internal/audit"
	"github.com/swarmguard/gateway/internal/breaker"
	"github.com/swarmguard/gateway/internal/coherence"
	"github.com/swarmguard/gateway/internal/collab"
	"github.com/swarmguard/gateway/internal/config"
	"github.com/swarmguard/gateway/internal/coordinator"
	"github.com/swarmguard/gateway/internal/embedding"
	"github.com/swarmguard/gateway/internal/metrics"
	"github.com/swarmguard/gateway/internal/model"
	"github.com/swarmguard/gateway/internal/orchestrator"
	"github.com/swarmguard/gateway/internal/pii"
	"github.com/swarmguard/gateway/internal/provenance"
	"github.com/swarmguard/gateway/internal/server"
	"github.com/swarmguard/gateway/internal/vectorindex"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	configPath := "config/config.yaml"
	if p := os.Getenv("SWARMGUARD_CONFIG"); p != "" {
		configPath = p
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	embedder := buildEmbedder(cfg, logger)

	attackIndex, err := vectorindex.New(filepath.Join(cfg.Data.Dir, cfg.Data.AttackPatternsFile), vectorindex.Config{Dimension: embedder.Dimension()})
	if err != nil {
		logger.Error("failed to open attack pattern index", "error", err)
		os.Exit(1)
	}
	if err := attackIndex.Load(); err != nil {
		logger.Warn("failed to load attack pattern index snapshot", "error", err)
	}

	var cleanIndex *vectorindex.Index
	if cfg.Data.CleanReferenceFile != "" {
		cleanIndex, err = vectorindex.New(filepath.Join(cfg.Data.Dir, cfg.Data.CleanReferenceFile), vectorindex.Config{Dimension: embedder.Dimension()})
		if err != nil {
			logger.Warn("failed to open clean reference index, partition-ratio discriminant disabled", "error", err)
		} else if err := cleanIndex.Load(); err != nil {
			logger.Warn("failed to load clean reference index snapshot", "error", err)
		}
	}

	gate := coherence.New(attackIndex, cleanIndex, embedder)
	redactor := pii.New()

	var mcpBreaker *breaker.Breaker
	if cfg.Collab.MCPClientURL != "" {
		mcpBreaker = breaker.New(3, 30*time.Second)
	}
	client := collab.NewHTTPMCPClient(cfg.Collab.MCPClientURL, cfg.Collab.APIKey, mcpBreaker)

	var l4Breaker *breaker.Breaker
	if !cfg.Features.FailOpenDetection {
		l4Breaker = breaker.New(3, 30*time.Second)
	}

	collectors := metrics.New()
	registry := prometheus.NewRegistry()
	collectors.MustRegister(registry)

	coord := coordinator.New(client, gate, redactor, coordinator.Config{
		Thresholds: coordinator.Thresholds{
			BlockScore: cfg.Thresholds.BlockScore,
			FlagScore:  cfg.Thresholds.FlagScore,
		},
		FailOpenDetection: cfg.Features.FailOpenDetection,
		L4Breaker:         l4Breaker,
	}, collectors, logger)

	var store *audit.Store
	if cfg.Features.EnableAudit {
		store, err = audit.Open(filepath.Join(cfg.Data.Dir, cfg.Data.AuditDBFile))
		if err != nil {
			logger.Warn("failed to open local audit store, falling back to remote-only", "error", err)
		} else {
			defer store.Close()
		}
	}

	var chain *provenance.Chain
	var rvf collab.RVFBridge
	if cfg.Collab.RVFBridgeURL != "" {
		rvf = collab.NewHTTPRVFBridge(cfg.Collab.RVFBridgeURL, cfg.Collab.APIKey)
	}
	if cfg.EnableLedger {
		provStore := &fileBackedProvenanceStore{store: store}
		chain = provenance.New(provStore, 64)
		defer chain.Close()
	}

	var bridge collab.MCPBridge
	if cfg.Collab.MCPBridgeURL != "" {
		bridge = collab.NewHTTPMCPBridge(cfg.Collab.MCPBridgeURL, cfg.Collab.APIKey)
	}

	orch := orchestrator.New(coord, bridge, rvf, store, chain, cfg.MaxAgents, logger)

	handler := server.NewHandler(orch, logger)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	wrapped := server.Chain(mux,
		server.RequestID,
		server.Logger(logger),
		server.Recovery(logger),
		server.CORS,
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           wrapped,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting swarmguard gateway", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gateway...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	orch.Shutdown(shutdownCtx)
	if err := attackIndex.Save(); err != nil {
		logger.Warn("failed to save attack pattern index", "error", err)
	}
	if err := attackIndex.Backup(cfg.Data.BackupDir, cfg.Data.BackupKeep); err != nil {
		logger.Warn("failed to back up attack pattern index", "error", err)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	logger.Info("gateway stopped")
}

func buildEmbedder(cfg *config.Config, logger *slog.Logger) embedding.Embedder {
	if cfg.Data.SemanticArtifactPath == "" {
		return embedding.NewFastEmbedder(384)
	}
	artifact, err := embedding.LoadSemanticArtifact(cfg.Data.SemanticArtifactPath, cfg.Data.SemanticArtifactSHA)
	if err != nil {
		logger.Warn("failed to load semantic embedding artifact, falling back to fast embedder", "error", err)
		return embedding.NewFastEmbedder(384)
	}
	return embedding.NewSemanticEmbedder(artifact)
}

// fileBackedProvenanceStore adapts the local audit.Store (if present) into
// a provenance.Store, persisting each witness entry under its sequence
// number in the store's dedicated provenance bucket.
type fileBackedProvenanceStore struct {
	store *audit.Store
}

func (f *fileBackedProvenanceStore) Append(entry model.WitnessEntry) error {
	if f.store == nil {
		return nil
	}
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal witness entry: %w", err)
	}
	key := fmt.Sprintf("seq:%020d", entry.Sequence)
	return f.store.Put(audit.NamespaceProvenance, key, value)
}
