package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"attendsync/internal/config"
	"attendsync/internal/identity"
	"attendsync/internal/journal"
	"attendsync/internal/metrics"
	"attendsync/internal/remote"
	"attendsync/internal/store"
	"attendsync/internal/syncer"
	"attendsync/internal/trigger"
)

// The sync worker drains journal records to the central authority. It runs
// as a separate process when the trigger queue is redis-backed; in memory
// mode the agent embeds the same loop and this binary is not needed.
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

	db, err := store.Open(cfg.JournalPath)
	if err != nil {
		log.Fatalf("journal open failed: %v", err)
	}
	defer db.Close()

	var q trigger.Queue
	if cfg.QueueBackend == "redis" {
		redisClient := store.NewRedis(cfg.RedisAddr)
		q = trigger.NewRedisQueue(redisClient.Client, "attendsync:triggers")
	} else {
		q = trigger.NewInMemory(64)
	}

	records := journal.NewStore(db)
	ids := identity.NewResolver(db)
	authority := remote.New(cfg.AuthorityURL, cfg.RemoteTimeout, cfg.ProbeTimeout)
	rec := syncer.New(records, ids, authority, cfg.DeviceID)

	// Periodic timer trigger so a quiet agent still drains its backlog.
	go trigger.TimerLoop(ctx, q, cfg.SyncInterval, func() string { return cfg.DefaultTeacherID })

	triggers, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("trigger consume init failed: %v", err)
	}

	log.Println("sync worker started, waiting for triggers...")
	for t := range triggers {
		if !authority.Online(ctx) {
			log.Printf("sync (%s) skipped: authority unreachable", t.Source)
			continue
		}

		metrics.SyncRunsTotal.WithLabelValues(string(t.Source)).Inc()
		res := rec.Run(ctx, t.TeacherScope, func(processed, total int) {
			log.Printf("sync progress %d/%d", processed, total)
		})
		metrics.SyncRecordsTotal.WithLabelValues("synced").Add(float64(res.SuccessCount))
		metrics.SyncRecordsTotal.WithLabelValues("failed").Add(float64(res.FailCount))

		pending, perr := records.PendingCount("")
		if perr == nil {
			metrics.PendingRecords.Set(float64(pending))
		}
		log.Printf("sync (%s): %s", t.Source, res.Message)
		for _, d := range res.Details {
			if !d.Synced {
				log.Printf("  %s %s (%s): %s", d.Action, d.StudentID, d.Name, d.Message)
			}
		}
	}

	log.Println("sync worker stopped")
}
