package observability

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// StopFunc shuts one auxiliary component down within the deadline.
type StopFunc func(context.Context) error

// BatchRunner is the recurring-billing scheduler as seen by shutdown: Stop
// halts new batch runs and returns a context that completes when in-flight
// charge jobs have drained. *cron.Cron satisfies it.
type BatchRunner interface {
	Stop() context.Context
}

// GracefulShutdown blocks until SIGINT or SIGTERM, then winds the daemon down
// in dependency order: the API server stops accepting charges first, the
// batch runner drains its in-flight billing jobs, and only then do the
// auxiliary components (health server, stores, dispatchers) close. Draining
// the batch before closing anything keeps half-finished charge attempts from
// losing their payment records.
func GracefulShutdown(logger *Logger, timeout time.Duration, api *http.Server, batch BatchRunner, rest ...StopFunc) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error

	if api != nil {
		if err := api.Shutdown(ctx); err != nil {
			logger.WithError(err).Error("api server shutdown failed")
			errs = append(errs, err)
		}
	}

	if batch != nil {
		select {
		case <-batch.Stop().Done():
			logger.Info("batch billing drained")
		case <-ctx.Done():
			err := fmt.Errorf("batch billing did not drain within %s", timeout)
			logger.Error(err.Error())
			errs = append(errs, err)
		}
	}

	for _, stop := range rest {
		if err := stop(ctx); err != nil {
			logger.WithError(err).Error("component shutdown failed")
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown finished with %d errors", len(errs))
	}
	logger.Info("shutdown complete")
	return nil
}
