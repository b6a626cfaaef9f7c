package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"timesheet/internal/config"
	"timesheet/internal/metrics"
	"timesheet/internal/queue"
	"timesheet/internal/store"
	"timesheet/internal/timesheet"
)

// escalatedSave mirrors the payload published by the API's failure hook.
type escalatedSave struct {
	EmployeeID string              `json:"employee_id"`
	Date       string              `json:"date"`
	Record     timesheet.DayRecord `json:"record"`
}

// Worker consumes escalated saves and re-applies them to Postgres. Writes
// that failed the API's in-process retries get one more chance here, after
// whatever outage caused them has passed.
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

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		log.Printf("warning: schema init failed: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "timesheet:saves")
	}

	// No feed: replayed saves are record writes, not session changes.
	repo := timesheet.NewRepository(db.Client, nil)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("replay worker started, waiting for escalated saves...")
	for msg := range messages {
		if msg.Type != queue.MsgRecordSave {
			continue
		}

		var save escalatedSave
		if err := json.Unmarshal(msg.Body, &save); err != nil {
			log.Printf("bad escalated save payload: %v", err)
			continue
		}

		if err := repo.SaveRecord(ctx, save.EmployeeID, save.Date, save.Record); err != nil {
			log.Printf("replay for %s/%s failed: %v", save.EmployeeID, save.Date, err)
			// Push back for a later pass unless we are shutting down.
			if ctx.Err() == nil {
				if perr := q.Publish(ctx, msg); perr != nil {
					log.Printf("re-enqueue failed, dropping save: %v", perr)
				}
				time.Sleep(time.Second)
			}
			continue
		}

		metrics.ReplayedSaves.Inc()
		log.Printf("replayed save for %s/%s", save.EmployeeID, save.Date)
	}

	log.Println("replay worker stopped")
}
