// Command ingestiond runs the claims ingestion engine: it wires the
// fetcher, bounded queue, orchestrator, and per-file pipeline described in
// spec.md, applies pending database migrations, and serves until SIGINT
// or SIGTERM, at which point it stops the fetcher, lets in-flight files
// drain, and flushes telemetry before exiting. The construction/shutdown
// shape follows the teacher's cmd/agent-controller: flags in, one
// context cancelled by a signal goroutine, a single blocking Run call.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/ack"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/audit"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/config"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/facility"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/fetch"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/orchestrator"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/parser"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/persist"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/pipeline"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/queue"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/soap"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/storage/migrations"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/telemetry"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/vault"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/verify"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the engine's YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	tel, err := telemetry.New(telemetry.Config{Development: cfg.Telemetry.Development, ServiceName: "ingestiond"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "build telemetry: %v\n", err)
		os.Exit(1)
	}
	log := tel.Log
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Error("telemetry shutdown failed", zap.Error(err))
		}
	}()

	if err := runMigrations(cfg.Database.WriterDSN); err != nil {
		log.Fatal("apply migrations failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writerPool, err := pgxpool.New(ctx, cfg.Database.WriterDSN)
	if err != nil {
		log.Fatal("connect writer pool failed", zap.Error(err))
	}
	defer writerPool.Close()

	readerPool, err := pgxpool.New(ctx, cfg.Database.ReaderDSN)
	if err != nil {
		log.Fatal("connect reader pool failed", zap.Error(err))
	}
	defer readerPool.Close()

	vaultStore := facility.NewVaultStore(writerPool)
	credVault, err := vault.New(cfg.Claims.KeystorePath, vaultStore)
	if err != nil {
		log.Fatal("build credential vault failed", zap.Error(err))
	}

	facilities := facility.New(readerPool)

	q := queue.New(cfg.Ingestion.QueueCapacity)

	metrics, err := telemetry.NewEngineMetrics(tel.Meter, func() int64 { return q.Depth() })
	if err != nil {
		log.Fatal("register metrics failed", zap.Error(err))
	}

	persistSvc := persist.New(writerPool, persist.Config{
		BatchSize:           cfg.Ingestion.BatchSize,
		TxPerChunkThreshold: cfg.Ingestion.TxPerChunkThreshold,
		HashSensitive:       cfg.Ingestion.HashSensitive,
	})
	verifier := verify.New(readerPool, log)
	auditSink := audit.New(writerPool, metrics, log)
	runs := pipeline.NewRunTracker(auditSink)

	soapVer := soap.Version11
	if cfg.Ingestion.SOAP12 {
		soapVer = soap.Version12
	}

	var acker ack.Acker
	var stopFetcher func()

	switch cfg.Ingestion.FetchBackend {
	case "soap":
		gateway := soap.New(soap.Config{}, log)
		registry := fetch.NewFileRegistry(4096)
		coordinator := fetch.NewDHPOCoordinator(gateway, credVault, facilities, q, registry, cfg.DHPO, soapVer, os.TempDir(), cfg.Ingestion.PauseHighWatermark, cfg.Ingestion.ResumeLowWatermark, log)

		fetchCtx, fetchCancel := context.WithCancel(ctx)
		go func() {
			if err := coordinator.Run(fetchCtx); err != nil && fetchCtx.Err() == nil {
				log.Error("dhpo coordinator stopped", zap.Error(err))
			}
		}()
		stopFetcher = fetchCancel

		acker = ack.NewSOAPAcker(cfg.Ingestion.AckEnabled, gateway, credVault, facilities, registry, soapVer, log)

	default:
		localFS := fetch.NewLocalFS(cfg.Ingestion.LocalFSReadyDir, cfg.Ingestion.LocalFSArchiveDir, cfg.Ingestion.LocalFSFailedDir, q, cfg.Ingestion.PauseHighWatermark, cfg.Ingestion.ResumeLowWatermark, log)
		stop := make(chan struct{})
		go func() {
			if err := localFS.Run(stop); err != nil {
				log.Error("local-fs fetcher stopped", zap.Error(err))
			}
		}()
		stopFetcher = func() { close(stop) }

		acker = ack.NewNoopAcker(log)
	}

	proc := pipeline.New(parser.Config{
		FailOnXSDError:            cfg.Ingestion.FailOnXSDError,
		MaxAttachmentBytes:        cfg.Ingestion.MaxAttachmentBytes,
		AllowNonSchemaAttachments: cfg.Ingestion.AllowNonSchemaAttachments,
	}, persistSvc, verifier, acker, auditSink, runs, log)

	orch := orchestrator.New(q, proc, runs, orchestrator.Config{
		TickInterval:  time.Duration(cfg.Ingestion.PollMS) * time.Millisecond,
		ParserWorkers: cfg.Ingestion.ParserWorkers,
		PerFileBudget: cfg.Ingestion.PerFileBudget,
	}, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", zap.String("signal", sig.String()))
		stopFetcher()
		cancel()
	}()

	log.Info("ingestiond starting", zap.String("fetch_backend", cfg.Ingestion.FetchBackend))
	if err := orch.Run(ctx); err != nil {
		log.Error("orchestrator stopped with error", zap.Error(err))
	}
	log.Info("ingestiond stopped")
}

// runMigrations applies pending goose migrations over a plain
// database/sql handle, separate from the pgxpool pools the rest of the
// engine uses for query traffic.
func runMigrations(writerDSN string) error {
	db, err := sql.Open("pgx", writerDSN)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()
	return migrations.Migrate(db)
}
