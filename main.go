package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/api"
	"taskboard/board"
	"taskboard/domain"
	"taskboard/mutation"
	"taskboard/querycache"
	"taskboard/session"
	"taskboard/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("load .env: %v", err)
	}
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStore(ctx, logger)
	defer closeStore()

	var feed *storage.ChangeFeed
	if conn := os.Getenv("REDIS_CONNECTION_STRING"); conn != "" {
		rc := redis.NewClient(storage.RedisOptions(conn))
		defer rc.Close()
		store = storage.NewCache(store, rc, envDur("TASKS_CACHE_TTL", time.Minute))
		feed = storage.NewChangeFeed(store, rc, envString("TASKS_CHANGED_CHANNEL", "tasks-changed"), logger)
		store = feed
	}

	auth := newAuthenticator(ctx)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	timeout := envDur("STORE_TIMEOUT", 30*time.Second)
	cache := querycache.New(func(ctx context.Context, key querycache.Key) ([]domain.Task, error) {
		return store.FetchTasks(ctx, key.UserID)
	}, logger, timeout)
	defer cache.Close()

	sess := session.New(auth)
	mutator := mutation.NewMutator(cache, store, sess, mutation.Options{
		Logger:      logger,
		Metrics:     mutation.NewMetrics(reg),
		Timeout:     timeout,
		Concurrency: envInt("BULK_CONCURRENCY", 8),
	})
	b := board.New(sess, cache, mutator, board.Options{Logger: logger})
	defer b.Close()

	if feed != nil {
		go feed.Listen(ctx, func(userID string) {
			if b.TasksChanged(userID) {
				logger.WithField("user_id", userID).Debug("tasks changed elsewhere")
			}
		})
	}

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.JSONSerializer{}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: envList("CORS_ALLOWED_ORIGINS", "*"),
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding},
	}))
	e.Use(api.GzipRequestMiddleware())
	api.Instrument(e, reg)

	api.NewHandlers(b, sess, auth, logger, nil).Register(e)

	listenAddr := ":" + envString("LISTEN_PORT", "8080")
	go func() {
		if err := e.Start(listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
}

// openStore builds the backend named by STORE_BACKEND, wrapped in the
// activity journal when ACTIVITY_QUEUE is set.
func openStore(ctx context.Context, logger *log.Logger) (storage.TaskStore, func()) {
	var (
		store   storage.TaskStore
		cleanup = func() {}
	)
	switch backend := envString("STORE_BACKEND", "sqlite"); backend {
	case "sqlite":
		db, err := storage.OpenSQLite(ctx, envString("SQLITE_PATH", "taskboard.db"))
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		store, cleanup = db, func() { _ = db.Close() }
	case "tables":
		connStr := os.Getenv("STORAGE_CONNECTION_STRING")
		table := os.Getenv("TASKS_TABLE")
		if connStr == "" || table == "" {
			log.Fatal("missing storage config")
		}
		tables, err := storage.NewTables(connStr, table)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		store = tables
	case "firestore":
		app, err := storage.NewFirebaseApp(ctx, os.Getenv("FIREBASE_CREDENTIALS_PATH"))
		if err != nil {
			log.Fatalf("firebase: %v", err)
		}
		client, err := app.Firestore(ctx)
		if err != nil {
			log.Fatalf("firestore: %v", err)
		}
		store, cleanup = storage.NewFirestore(client, envString("FIRESTORE_COLLECTION", "tasks")), func() { _ = client.Close() }
	default:
		log.Fatalf("unknown STORE_BACKEND %q", backend)
	}

	if name := os.Getenv("ACTIVITY_QUEUE"); name != "" {
		q, err := storage.NewQueueClient(os.Getenv("STORAGE_CONNECTION_STRING"), name)
		if err != nil {
			log.Fatalf("activity queue: %v", err)
		}
		store = storage.NewJournal(store, q, logger)
	}
	return store, cleanup
}

type authenticator interface {
	session.Authenticator
	api.Authenticator
}

// newAuthenticator picks the token verifier named by AUTH_MODE.
func newAuthenticator(ctx context.Context) authenticator {
	switch mode := envString("AUTH_MODE", "jwks"); mode {
	case "hs256":
		secret := os.Getenv("LOCAL_AUTH_SHARED_SECRET")
		if secret == "" {
			log.Fatal("missing LOCAL_AUTH_SHARED_SECRET")
		}
		return api.NewHS256Auth([]byte(secret))
	case "firebase":
		app, err := storage.NewFirebaseApp(ctx, os.Getenv("FIREBASE_CREDENTIALS_PATH"))
		if err != nil {
			log.Fatalf("firebase: %v", err)
		}
		verifier, err := storage.NewFirebaseVerifier(ctx, app)
		if err != nil {
			log.Fatalf("firebase auth: %v", err)
		}
		return api.VerifierAuth{Verifier: verifier, Timeout: 10 * time.Second}
	case "jwks":
		jwtAudience := os.Getenv("AUTH0_AUDIENCE")
		auth0Domain := os.Getenv("AUTH0_DOMAIN")
		if jwtAudience == "" || auth0Domain == "" {
			log.Fatal("missing Auth0 config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", auth0Domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		return api.NewJWKSAuth(jwks, jwtAudience, "https://"+auth0Domain+"/", envDur("JWKS_CACHE_TTL", api.DefaultJWKSCacheTTL))
	default:
		log.Fatalf("unknown AUTH_MODE %q", mode)
	}
	return nil
}
