// Command main runs the reliability layer as a standalone service: it
// wires the container, exposes health, stats and Prometheus endpoints,
// and drives a small simulated analytics workload so the cache, breaker
// and batcher behavior is observable out of the box.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"mentorcore-backend/internal/config"
	"mentorcore-backend/internal/di"
	rerrors "mentorcore-backend/internal/errors"
	"mentorcore-backend/internal/service"
)

type userProgress struct {
	UserID      string    `json:"userId"`
	Level       int       `json:"level"`
	Experience  int       `json:"experience"`
	LastUpdated time.Time `json:"lastUpdated"`
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, cfg, logger.Named("config"))
		if err != nil {
			logger.Warn("config hot reload unavailable", zap.Error(err))
		} else {
			defer watcher.Close()
			watcher.OnChange(func(updated *config.Config) {
				logger.Info("configuration changed; restart to apply",
					zap.String("environment", string(updated.Environment)),
					zap.String("cache_strategy", updated.Cache.Strategy),
				)
			})
		}
	}

	container := di.NewContainer(cfg, logger, di.WithFallbackProvider(lastKnownGood))
	defer container.Shutdown()

	progressCache := di.NewCache[userProgress](container)
	progressService := service.New[userProgress](
		"get_user_progress",
		service.Config{
			Dependency: "document-store",
			Breaker:    container.BreakerConfig(),
			Retry:      container.RetryPolicy(),
			Timeout:    5 * time.Second,
		},
		progressCache,
		container.Recorder,
		container.Control,
		container.Breakers,
		logger,
	)

	// Progress updates stream through the batcher instead of one
	// callback per event.
	unsubscribe := container.Batcher.Subscribe("progress", func(batch []di.ProgressEvent) {
		logger.Info("progress batch delivered", zap.Int("events", len(batch)))
		for _, event := range batch {
			progressService.Invalidate(event.SubjectID)
		}
	}, container.BatcherOptions())
	defer unsubscribe()

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	router.Get("/stats/cache", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, progressService.CacheStats())
	})
	router.Get("/stats/operations", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, container.Recorder.AveragePerformance(r.URL.Query().Get("operation")))
	})
	router.Get("/stats/breakers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, container.Breakers.Snapshot())
	})
	router.Handle("/metrics", container.Metrics.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go simulateWorkload(ctx, container, progressService, logger)

	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown incomplete", zap.Error(err))
	}
}

func buildLogger(env config.Environment) (*zap.Logger, error) {
	if env == config.Production {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// lastKnownGood stands in for a snapshot store; a real deployment reads
// the subject's last persisted aggregate here.
func lastKnownGood(ctx context.Context, opCtx rerrors.Context) (any, error) {
	return map[string]any{
		"userId":   opCtx.SubjectID,
		"snapshot": true,
	}, nil
}

// simulateWorkload exercises the guarded read path against a flaky fake
// document store and feeds the batcher with progress events.
func simulateWorkload(ctx context.Context, container *di.Container, svc *service.CachedService[userProgress], logger *zap.Logger) {
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	subjects := []string{"learner-1", "learner-2", "learner-3", "learner-4"}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		subject := subjects[rnd.Intn(len(subjects))]
		result, err := svc.Get(ctx, subject, func(ctx context.Context) (userProgress, error) {
			// Roughly one in five fetches fails to show degradation.
			if rnd.Intn(5) == 0 {
				return userProgress{}, errors.New("document store unavailable")
			}
			time.Sleep(time.Duration(rnd.Intn(40)) * time.Millisecond)
			return userProgress{
				UserID:      subject,
				Level:       1 + rnd.Intn(20),
				Experience:  rnd.Intn(5000),
				LastUpdated: time.Now(),
			}, nil
		})
		if err != nil {
			logger.Warn("read failed", zap.String("subject", subject), zap.Error(err))
			continue
		}
		if result.Degraded {
			logger.Info("served fallback", zap.String("subject", subject))
		}

		if rnd.Intn(3) == 0 {
			container.Batcher.Publish("progress", di.ProgressEvent{
				SubjectID: subject,
				Kind:      "exercise_completed",
			})
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
