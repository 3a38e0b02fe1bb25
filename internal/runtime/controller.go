package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"pbembed/internal/app"
	"pbembed/internal/config"
	"pbembed/internal/logging"
	"pbembed/internal/subscription"
)

var ErrAlreadyRunning = errors.New("pbembed is already running")

// Controller owns at most one running Service.
type Controller struct {
	rootCtx context.Context
	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

type StartHooks struct {
	OnStatus func(string)
	OnEvent  func(app.EventRecord)
	OnSlots  func([]subscription.SlotInfo)
	OnExit   func(error)
}

func NewController(rootCtx context.Context) *Controller {
	if rootCtx == nil {
		rootCtx = context.Background()
	}
	return &Controller{rootCtx: rootCtx}
}

// Start runs the service in the background. Only one service runs at a time.
func (c *Controller) Start(opts config.Options, logger *logging.Logger, hooks StartHooks) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrAlreadyRunning
	}
	if err := config.ValidateRequired(opts); err != nil {
		return err
	}
	logger.Debug("runtime start requested",
		logging.Field("targets_file", opts.TargetsFile),
		logging.Field("subscribe", opts.Subscribe),
		logging.Field("has_event_hook", hooks.OnEvent != nil),
	)

	service, err := NewServiceWithHooks(opts, logger, hooks)
	if err != nil {
		return err
	}
	c.startLocked(service, logger, hooks.OnExit)
	return nil
}

func (c *Controller) startLocked(service Service, logger *logging.Logger, onExit func(error)) {
	ctx, cancel := context.WithCancel(c.rootCtx)

	c.cancel = cancel
	c.running = true
	c.wg.Go(func() {
		defer cancel()
		runErr := service.RunContext(ctx)
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			logger.Debug("runtime service exited due to context cancellation", logging.Field("error", runErr))
		} else if runErr != nil {
			logger.Warn("runtime service exited with error", logging.Field("error", runErr))
		} else {
			logger.Info("runtime service exited")
		}
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.mu.Unlock()

		if onExit != nil {
			onExit(runErr)
		}
	})
}

func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Controller) Wait(timeout time.Duration) bool {
	waitDone := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(waitDone)
	}()
	if timeout <= 0 {
		<-waitDone
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-waitDone:
		return true
	case <-timer.C:
		return false
	}
}

func (c *Controller) StopAndWait(timeout time.Duration) bool {
	c.Stop()
	return c.Wait(timeout)
}

func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
