package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"openbudget.org/internal/authz"
	"openbudget.org/internal/httpapi"
	"openbudget.org/internal/obs"
	"openbudget.org/internal/store"
	"openbudget.org/internal/store/memstore"
	"openbudget.org/internal/store/pg"
)

var version = "0.3.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("OPENBUDGET_COMMIT"))

	// Postgres when a DSN is configured; the in-memory store otherwise, for
	// local development without a database.
	var (
		ds store.DataStore
		db *sql.DB
	)
	if dsn := os.Getenv("OPENBUDGET_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		ds = pgStore
		db = pgStore.DB()
	} else {
		log.Print("OPENBUDGET_PG_DSN not set, using in-memory store")
		ds = memstore.New()
	}

	guard, err := authz.NewGuard(authz.DefaultPolicy(), ds)
	if err != nil {
		log.Fatalf("build guard: %v", err)
	}

	api := httpapi.New(guard, ds, httpapi.ReadyProbe{DB: db}, version)

	addr := os.Getenv("OPENBUDGET_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	handler := api.Handler()
	handler = httpapi.Logging(handler)
	handler = httpapi.SecurityHeaders(handler)
	handler = httpapi.CORS(handler)
	handler = httpapi.MaxBodyBytes(handler, 1<<20)
	handler = httpapi.RateLimit(handler, 50, 25)

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting openbudget-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
