package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"cryptopulse/internal/logger"
)

const defaultWorkerConcurrency = 8

// Worker consumes the task queue. One process, N goroutine slots.
type Worker struct {
	srv *asynq.Server
	mux *asynq.ServeMux
}

// WorkerOptions configure a worker process.
type WorkerOptions struct {
	RedisURL    string
	Handlers    *Handlers
	Concurrency int
}

// NewWorker builds the asynq server and verifies that the registered handlers
// match the task catalog exactly. A mismatch aborts startup.
func NewWorker(opts WorkerOptions) (*Worker, error) {
	if opts.RedisURL == "" {
		return nil, errors.New("worker requires a redis broker, set REDIS_URL")
	}
	connOpt, err := asynq.ParseRedisURI(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultWorkerConcurrency
	}

	srv := asynq.NewServer(connOpt, asynq.Config{
		Concurrency:    concurrency,
		RetryDelayFunc: retryDelay,
		Logger:         asynqLogger{},
		ErrorHandler:   asynq.ErrorHandlerFunc(logTaskError),
	})

	mux := asynq.NewServeMux()
	registered := opts.Handlers.Register(mux)
	if err := verifyCatalog(registered); err != nil {
		return nil, fmt.Errorf("task catalog mismatch: %w", err)
	}

	logger.Info("worker configured", "concurrency", concurrency, "tasks", len(registered))
	return &Worker{srv: srv, mux: mux}, nil
}

// Run blocks until Shutdown.
func (w *Worker) Run() error {
	return w.srv.Run(w.mux)
}

// Shutdown waits for in-flight tasks, then stops.
func (w *Worker) Shutdown() {
	w.srv.Shutdown()
}

// retryDelay applies the catalog's per-task retry curve, falling back to the
// asynq default for tasks without one.
func retryDelay(n int, err error, t *asynq.Task) time.Duration {
	if spec, ok := SpecFor(t.Type()); ok && spec.RetryDelay != nil {
		return spec.RetryDelay(n)
	}
	return asynq.DefaultRetryDelayFunc(n, err, t)
}

// logTaskError records handler failures; exhausted retries surface here on
// the final attempt.
func logTaskError(ctx context.Context, t *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	logger.Error("task failed", err, "task", t.Type(), "retried", retried, "max_retry", maxRetry)
}

// asynqLogger adapts the application logger to asynq's interface.
type asynqLogger struct{}

func (asynqLogger) Debug(args ...interface{}) { logger.Debug(fmt.Sprint(args...)) }
func (asynqLogger) Info(args ...interface{})  { logger.Info(fmt.Sprint(args...)) }
func (asynqLogger) Warn(args ...interface{})  { logger.Warn(fmt.Sprint(args...)) }
func (asynqLogger) Error(args ...interface{}) { logger.Error(fmt.Sprint(args...), nil) }
func (asynqLogger) Fatal(args ...interface{}) { logger.Error(fmt.Sprint(args...), nil) }
