// Command pointsdemo wires the full stack together: the Postgres-backed
// ledger, the remote sync client with a push queue, and the reconciliation
// coordinator. It records a few transactions for one family, pushes the
// resulting balances, and runs a compare-mode reconciliation.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/housepoints/ledger-go/example/config"
	"github.com/housepoints/ledger-go/ledger"
	"github.com/housepoints/ledger-go/ledger/oteladapters"
	"github.com/housepoints/ledger-go/ledger/postgresengine"
	"github.com/housepoints/ledger-go/reconcile"
	"github.com/housepoints/ledger-go/remotesync"
	"github.com/housepoints/ledger-go/remotesync/kafkaqueue"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("Failed to parse configuration: %v", err)
	}

	logger := oteladapters.NewSlogLogger(slog.Default())

	poolConfig, err := cfg.PGXPoolConfig()
	if err != nil {
		log.Fatalf("Failed to build pool config: %v", err)
	}

	pgxPool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		log.Fatalf("Failed to create pgx pool: %v", err)
	}
	defer pgxPool.Close()

	if err = pgxPool.Ping(ctx); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	engine, err := postgresengine.NewLedgerEngineFromPGXPool(
		pgxPool,
		postgresengine.WithLogger(logger),
	)
	if err != nil {
		log.Fatalf("Failed to create ledger engine: %v", err)
	}

	// Failed pushes go to Kafka when brokers are configured, so they survive
	// a restart; otherwise they stay in process and the next reconciliation
	// run drains them.
	memoryQueue := remotesync.NewMemoryQueue()
	var pushQueue remotesync.PushQueue = memoryQueue

	coordinatorOptions := []reconcile.Option{reconcile.WithLogger(logger), reconcile.WithPushQueue(memoryQueue)}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := kafkaqueue.NewPublisher(cfg.KafkaBrokers, cfg.KafkaRetryTopic)
		defer func() {
			if closeErr := publisher.Close(); closeErr != nil {
				log.Printf("Failed to close kafka publisher: %v", closeErr)
			}
		}()

		pushQueue = publisher
		coordinatorOptions = []reconcile.Option{reconcile.WithLogger(logger)}
	}

	client, err := remotesync.NewClient(
		cfg.RemoteSyncConfig(),
		remotesync.WithLogger(logger),
		remotesync.WithPushQueue(pushQueue),
	)
	if err != nil {
		log.Fatalf("Failed to create remote sync client: %v", err)
	}

	coordinator, err := reconcile.NewCoordinator(engine, client, coordinatorOptions...)
	if err != nil {
		log.Fatalf("Failed to create reconciliation coordinator: %v", err)
	}

	familyID := uuid.New()
	memberID := uuid.New()
	choreID := uuid.New()

	pending, err := ledger.BuildPendingTransaction(
		memberID,
		familyID,
		ledger.KindChoreCompleted,
		5,
		"unloaded the dishwasher",
		ledger.WithSourceID(choreID),
	)
	if err != nil {
		log.Fatalf("Failed to build transaction: %v", err)
	}

	recorded, err := engine.RecordTransaction(ctx, pending)
	if err != nil {
		log.Fatalf("Failed to record transaction: %v", err)
	}

	log.Printf("Recorded %s: delta %+d, balance %d", recorded.Kind, recorded.PointsDelta, recorded.ResultingBalance)

	// The push is best effort: a failure is logged (and queued) but never
	// rolls back the already-committed transaction.
	reasonCode, err := recorded.Kind.ReasonCode()
	if err != nil {
		log.Fatalf("Failed to resolve reason code: %v", err)
	}

	if err = client.PushBalance(ctx, familyID, memberID, recorded.ResultingBalance, reasonCode); err != nil {
		log.Printf("Balance push failed (queued pushes: %d): %v", memoryQueue.Len(), err)
	}

	report, err := coordinator.Reconcile(ctx, familyID, reconcile.ModeCompare)
	if err != nil {
		log.Printf("Reconciliation unavailable: %v", err)
		return
	}

	log.Printf("Reconciliation finished in state %q with %d discrepancies", report.State, len(report.Discrepancies))
}
