package runtime

import (
	"context"

	"pbembed/internal/app"
	"pbembed/internal/client"
	"pbembed/internal/config"
	"pbembed/internal/logging"
	"pbembed/internal/pbconn"
	"pbembed/internal/retry"
	"pbembed/internal/subscription"
)

type Service interface {
	RunContext(ctx context.Context) error
}

func NewService(opts config.Options, logger *logging.Logger) (Service, error) {
	return NewServiceWithHooks(opts, logger, StartHooks{})
}

func NewServiceWithHooks(opts config.Options, logger *logging.Logger, hooks StartHooks) (Service, error) {
	if err := config.ValidateRequired(opts); err != nil {
		return nil, err
	}

	endpoints, err := config.BuildEndpoints(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	logger.Debug("constructed API endpoints",
		logging.Field("base_url", endpoints.BaseURL),
		logging.Field("health_url", endpoints.HealthURL),
		logging.Field("realtime_url", endpoints.RealtimeURL),
	)
	if opts.InsecureTLS {
		logger.Warn("TLS certificate verification is disabled")
	}

	pbClient := client.New(endpoints.BaseURL, ClientOptions(opts, logger))
	return app.New(opts, pbClient, logger, app.Callbacks{
		OnStatusChange: hooks.OnStatus,
		OnEvent:        hooks.OnEvent,
		OnSlots:        hooks.OnSlots,
	}), nil
}

// ClientOptions maps command-line options onto client construction.
func ClientOptions(opts config.Options, logger *logging.Logger) client.Options {
	return client.Options{
		Transport: pbconn.DefaultTransportFactory(opts.InsecureTLS),
		Timeout:   opts.Timeout,
		Retry: retry.Policy{
			Retries:   opts.Retries,
			BaseDelay: opts.RetryDelay,
		},
		Subscriptions: subscription.Options{
			Capacity:         opts.Capacity,
			PollWait:         opts.PollWait,
			HandshakeTimeout: opts.HandshakeTimeout,
			FrameBuffer:      opts.FrameBuffer,
			ForceHTTP1:       opts.RealtimeHTTP1,
		},
		Logger: logger,
	}
}
