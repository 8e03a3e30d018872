package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mapper-influences/backend/internal/api"
	"github.com/mapper-influences/backend/internal/auth"
	"github.com/mapper-influences/backend/internal/config"
	"github.com/mapper-influences/backend/internal/domain"
	"github.com/mapper-influences/backend/internal/outbox"
	persistence "github.com/mapper-influences/backend/internal/persistence/postgres"
	httptransport "github.com/mapper-influences/backend/internal/transport/http"
	"github.com/mapper-influences/backend/migrations"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := migrate(cfg.PostgresURL); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	serviceIdentity := domain.Identity{Principal: cfg.ServicePrincipal}
	gate := domain.NewTrustGate(cfg.ServicePrincipal)
	recorder := domain.NewRecorder(domain.NewEventFactory(gate))

	repo := persistence.NewRepository(pool, recorder, cfg.ActivityTopic)
	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	dispatcher := outbox.NewDispatcher(pool, producer, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
	go dispatcher.Start(ctx)

	service := domain.NewService(repo, serviceIdentity, cfg.GraphCacheTTL)

	handler := api.NewHandler(service, cfg.ActivityPageSize)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Simple CORS middleware for local dev
	cors := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "http://localhost:5173")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, publicRoute)

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, cors(logger(authMiddleware.Wrap(mux))))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("influence-backend listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	dispatcher.Wait()
}

func migrate(postgresURL string) error {
	db, err := sql.Open("pgx", postgresURL)
	if err != nil {
		return err
	}
	defer db.Close()
	return migrations.Up(db)
}

// publicRoute allows unauthenticated access to the read-only surface.
// /v1/users/me stays behind auth; numeric profile routes do not.
func publicRoute(r *http.Request) bool {
	path := r.URL.Path
	if path == "/healthz" || path == "/metrics" {
		return true
	}
	if r.Method != http.MethodGet {
		return false
	}
	switch path {
	case "/v1/activity", "/v1/graph", "/v1/leaderboard":
		return true
	}
	if strings.HasPrefix(path, "/v1/users/") && !strings.HasPrefix(path, "/v1/users/me") {
		return true
	}
	return false
}
