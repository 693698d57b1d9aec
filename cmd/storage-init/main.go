// Command storage-init provisions the backing store selected by
// STORE_BACKEND. It is safe to run repeatedly.
package main

import (
	"context"
	"os"
	"strconv"

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
	log.Info("storage init starting")

	ctx := context.Background()
	backend := os.Getenv("STORE_BACKEND")
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "sqlite":
		path := os.Getenv("SQLITE_PATH")
		db, err := storage.OpenSQLite(ctx, path)
		if err != nil {
			log.Fatalf("sqlite: %v", err)
		}
		_ = db.Close()
		log.WithField("path", path).Info("sqlite schema ready")
	case "tables":
		connStr := os.Getenv("STORAGE_CONNECTION_STRING")
		table := os.Getenv("TASKS_TABLE")
		if connStr == "" || table == "" {
			log.Fatal("missing storage config")
		}
		if err := storage.CreateTable(ctx, connStr, table); err != nil {
			log.Fatalf("create table %s: %v", table, err)
		}
		log.WithField("table", table).Info("table ready")
	case "firestore":
		log.Info("firestore collections are created on first write")
	default:
		log.Fatalf("unknown STORE_BACKEND %q", backend)
	}

	if queue := os.Getenv("ACTIVITY_QUEUE"); queue != "" {
		connStr := os.Getenv("STORAGE_CONNECTION_STRING")
		if connStr == "" {
			log.Fatal("missing STORAGE_CONNECTION_STRING")
		}
		if err := storage.CreateQueue(ctx, connStr, queue); err != nil {
			log.Fatalf("create queue %s: %v", queue, err)
		}
		log.WithField("queue", queue).Info("queue ready")
	}

	log.Info("storage init complete")
}
