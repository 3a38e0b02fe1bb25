// Package console runs pbembed without a dashboard, printing the log to the
// terminal.
package console

import (
	"context"
	"time"

	"pbembed/internal/config"
	"pbembed/internal/logging"
	"pbembed/internal/runstatus"
	"pbembed/internal/runtime"
)

const stopTimeout = 5 * time.Second

// Run starts the service and blocks until it exits or ctx ends.
func Run(ctx context.Context, buildVersion string, opts config.Options, logger *logging.Logger) error {
	logger.Info("starting pbembed", logging.Field("version", buildVersion))

	runner := runtime.NewController(ctx)
	done := make(chan error, 1)
	err := runner.Start(opts, logger, runtime.StartHooks{
		OnStatus: func(status string) {
			if !runstatus.Healthy(status) {
				logger.Info("status changed", logging.Field("status", status))
			}
		},
		OnExit: func(runErr error) { done <- runErr },
	})
	if err != nil {
		return err
	}

	select {
	case runErr := <-done:
		return runErr
	case <-ctx.Done():
		logger.Info("shutdown requested")
		if !runner.StopAndWait(stopTimeout) {
			logger.Warn("service did not stop in time", logging.Field("timeout", stopTimeout.String()))
		}
		return nil
	}
}
