package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flags "github.com/jessevdk/go-flags"

	"pbembed/internal/app"
	"pbembed/internal/config"
	"pbembed/internal/instance"
	"pbembed/internal/logging"
	"pbembed/internal/ui/console"
	"pbembed/internal/ui/monitor"
)

var BuildVersion = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	rootCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	opts, err := config.ParseOptions()
	if err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			return 0
		}
		return 2
	}
	if saved, loadErr := config.LoadSettings(); loadErr == nil {
		opts = config.MergeOptionsWithSettings(opts, saved)
	}
	if err := config.ValidateRequired(opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	logger := logging.New(opts.Debug)
	defer logger.Close()
	if opts.LogToFile {
		if err := logger.EnableFilePersistence("", 0); err != nil {
			logger.Warn("failed to enable file log persistence", logging.Field("error", err))
		}
	}
	if err := config.SaveSettings(config.SettingsFromOptions(opts)); err != nil {
		logger.Warn("failed to save settings", logging.Field("error", err))
	}

	lockPath, lockErr := instance.DefaultPath()
	if lockErr != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize single-instance lock:", lockErr)
		return 2
	}
	lock, lockedByOther, lockErr := instance.Acquire(lockPath)
	if lockErr != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize single-instance lock:", lockErr)
		return 2
	}
	if lockedByOther {
		fmt.Fprintln(os.Stderr, "pbembed is already running.")
		return 1
	}
	defer func() {
		_ = lock.Release()
	}()

	if opts.Monitor {
		err = monitor.Run(rootCtx, BuildVersion, opts, logger)
	} else {
		err = console.Run(rootCtx, BuildVersion, opts, logger)
	}
	if err != nil {
		logger.Error("pbembed exited with error", logging.Field("error", err))
		if errors.Is(err, app.ErrAuthenticationFailed) {
			return 3
		}
		return 1
	}
	return 0
}
