// Command journal-tail follows the activity queue and logs every task write
// recorded there.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"taskboard/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("load .env: %v", err)
	}
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.SetFormatter(&log.JSONFormatter{})

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	queueName := os.Getenv("ACTIVITY_QUEUE")
	if connStr == "" || queueName == "" {
		log.Fatal("missing storage config")
	}
	q, err := storage.NewQueueClient(connStr, queueName)
	if err != nil {
		log.Fatalf("queue client: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithField("queue", queueName).Info("journal tail starting")
	reader := storage.NewJournalReader(q, log.StandardLogger())
	err = reader.Run(ctx, func(_ context.Context, e storage.JournalEntry) error {
		fields := log.Fields{
			"user_id":   e.UserID,
			"task_id":   e.TaskID,
			"kind":      e.Kind,
			"timestamp": e.Timestamp,
		}
		for i, a := range e.Activity {
			fields["activity."+strconv.Itoa(i)] = a.Message
		}
		log.WithFields(fields).Info("task write")
		return nil
	})
	if err != nil {
		log.Fatalf("journal tail: %v", err)
	}
}
