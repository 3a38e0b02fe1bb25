package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/juju/clock"

	"pbembed/internal/client"
	"pbembed/internal/config"
	"pbembed/internal/logging"
	"pbembed/internal/pbconn"
	"pbembed/internal/runctx"
	"pbembed/internal/runstatus"
	"pbembed/internal/subscription"
	"pbembed/internal/targets"
)

const (
	loginRetryDelay    = 5 * time.Second
	loginRetryMaxDelay = 30 * time.Second
	loginMaxTries      = 5
	// tokenRefreshLead is how long before expiry the token is renewed.
	tokenRefreshLead = 2 * time.Minute
)

type App struct {
	opts   config.Options
	client *client.Client
	logger *logging.Logger
	hooks  Callbacks
	clock  clock.Clock
	status runtimeStatusState

	loginDelay time.Duration

	mu      sync.Mutex
	applied []targets.Target
}

type Callbacks struct {
	OnStatusChange func(string)
	OnEvent        func(EventRecord)
	OnSlots        func([]subscription.SlotInfo)
}

// EventRecord is a delivered realtime event in a form the UI can keep.
type EventRecord struct {
	Time  time.Time
	Topic string
	Event string
	ID    string
	Valid bool
	Data  string
}

func New(opts config.Options, c *client.Client, logger *logging.Logger, hooks Callbacks) *App {
	if c == nil {
		panic("app.New: client must not be nil")
	}
	return &App{
		opts:       opts,
		client:     c,
		logger:     logger,
		hooks:      hooks,
		clock:      clock.WallClock,
		loginDelay: loginRetryDelay,
	}
}

func (a *App) Run() error {
	return a.RunContext(context.Background())
}

// RunContext logs in, subscribes to the configured targets and polls them
// until ctx ends. The client is closed on return.
func (a *App) RunContext(ctx context.Context) error {
	defer a.client.Close()
	a.logger.Info("pbembed starting",
		logging.Field("base_url", a.client.Connection().BaseURL()),
		logging.Field("targets_file", a.opts.TargetsFile),
		logging.Field("capacity", a.client.SubscriptionCapacity()),
	)

	if err := a.login(ctx); err != nil {
		if ctx.Err() != nil {
			a.setRuntimeStatus(runstatus.Disconnected)
			return nil
		}
		return err
	}

	desired, fromFile, err := a.initialTargets()
	if err != nil {
		a.setRuntimeStatus(runstatus.Disconnected)
		return err
	}
	if len(desired) == 0 {
		a.logger.Warn("no subscription targets configured")
	}
	a.applyTargets(ctx, desired)

	var wg sync.WaitGroup
	if path := strings.TrimSpace(a.opts.TargetsFile); path != "" {
		updates, watchErr := targets.Watch(ctx, path, fromFile, targets.WatchOptions{Clock: a.clock, Logger: a.logger})
		if watchErr != nil {
			a.logger.Warn("targets file will not be reloaded", logging.Field("error", watchErr))
		} else {
			wg.Go(func() { a.forwardTargetUpdates(ctx, updates) })
		}
	}

	scheduler := runctx.Scheduler{
		Clock:    a.clock,
		Interval: a.opts.PollInterval,
		Poll:     a.poll,
		Logger:   a.logger,
	}
	runErr := scheduler.Run(ctx)
	wg.Wait()

	a.setRuntimeStatus(runstatus.Disconnected)
	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		a.logger.Warn("pbembed stopped with error", logging.Field("error", runErr))
		return runErr
	}
	a.logger.Info("pbembed stopped")
	return nil
}

// initialTargets returns the merged flag and file targets, plus the file
// targets alone.
func (a *App) initialTargets() ([]targets.Target, []targets.Target, error) {
	fromFlags, err := targets.ParseAll(a.opts.Subscribe)
	if err != nil {
		return nil, nil, err
	}
	path := strings.TrimSpace(a.opts.TargetsFile)
	if path == "" {
		return fromFlags, nil, nil
	}
	fromFile, err := targets.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load targets file: %w", err)
	}
	return targets.Merge(fromFlags, fromFile), fromFile, nil
}

// login authenticates with backoff. Rejected credentials are not retried.
func (a *App) login(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = a.loginDelay
	policy.MaxInterval = loginRetryMaxDelay
	policy.Reset()

	_, err := backoff.Retry(ctx, func() (pbconn.AuthResult, error) {
		auth, err := a.client.LoginPassword(ctx, a.opts.Identity, a.opts.Password, a.opts.Collection)
		if err == nil {
			return auth, nil
		}
		if credentialsRejected(err) {
			return auth, backoff.Permanent(err)
		}
		a.setRuntimeStatus(runstatus.Reconnecting)
		return auth, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(loginMaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			a.logger.Warn("login failed, retrying",
				logging.Field("error", err),
				logging.Field("next_retry", next.String()))
		}),
	)
	if err != nil {
		if credentialsRejected(err) {
			a.setRuntimeStatus(runstatus.DisconnectedAuth)
			return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
		}
		a.setRuntimeStatus(runstatus.Disconnected)
		return fmt.Errorf("%w: %v", ErrLoginExhausted, err)
	}
	a.setRuntimeStatus(runstatus.Authenticated)
	return nil
}

func credentialsRejected(err error) bool {
	var statusErr *pbconn.HTTPStatusError
	if !errors.As(err, &statusErr) {
		return errors.Is(err, pbconn.ErrMissingToken)
	}
	return statusErr.StatusCode >= http.StatusBadRequest && statusErr.StatusCode < http.StatusInternalServerError &&
		statusErr.StatusCode != http.StatusTooManyRequests
}

// relogin renews the token and pushes it to every subscription connection.
func (a *App) relogin(ctx context.Context) error {
	if _, err := a.client.LoginPassword(ctx, a.opts.Identity, a.opts.Password, a.opts.Collection); err != nil {
		if credentialsRejected(err) {
			a.setRuntimeStatus(runstatus.DisconnectedAuth)
		}
		return err
	}
	a.client.PropagateAuth()
	a.logger.Info("auth token renewed")
	return nil
}

// withAuthRetry runs call once more after a re-login when the server rejects
// the current token.
func (a *App) withAuthRetry(ctx context.Context, call func() error) error {
	err := call()
	if !pbconn.IsUnauthorized(err) {
		return err
	}
	a.logger.Debug("request unauthorized, renewing token", logging.Field("error", err))
	if reloginErr := a.relogin(ctx); reloginErr != nil {
		a.logger.Warn("token renewal failed", logging.Field("error", reloginErr))
		return err
	}
	return call()
}

func (a *App) refreshTokenIfDue(ctx context.Context) {
	auth := a.client.AuthRecord()
	if !auth.ExpiresWithin(a.clock.Now(), tokenRefreshLead) {
		return
	}
	a.logger.Debug("auth token close to expiry", logging.Field("expires_at", auth.ExpiresAt))
	if err := a.relogin(ctx); err != nil {
		a.logger.Warn("token renewal failed", logging.Field("error", err))
	}
}

func (a *App) forwardTargetUpdates(ctx context.Context, updates <-chan []targets.Target) {
	for {
		next, ok := runctx.RecvOrDone(ctx, "targets watcher", a.logger, updates)
		if !ok {
			return
		}
		fromFlags, err := targets.ParseAll(a.opts.Subscribe)
		if err != nil {
			a.logger.Warn("invalid subscribe flag", logging.Field("error", err))
		}
		a.applyTargets(ctx, targets.Merge(fromFlags, next))
	}
}

// applyTargets unsubscribes targets no longer wanted and subscribes new ones.
// Targets that do not fit in the registry are logged and retried on the next
// change.
func (a *App) applyTargets(ctx context.Context, desired []targets.Target) {
	a.mu.Lock()
	defer a.mu.Unlock()

	added, removed := targets.Diff(a.applied, desired)
	kept := make([]targets.Target, 0, len(a.applied))
	for _, target := range a.applied {
		if !slices.Contains(removed, target) {
			kept = append(kept, target)
		}
	}
	for _, target := range removed {
		a.client.Unsubscribe(target.Collection, target.RecordID)
	}
	for _, target := range added {
		err := a.withAuthRetry(ctx, func() error {
			_, subErr := a.client.Subscribe(ctx, target.Collection, target.RecordID, a.handleEvent, target)
			return subErr
		})
		if err != nil {
			a.logger.Warn("subscribe failed",
				logging.Field("target", target.String()),
				logging.Field("error", err),
			)
			continue
		}
		kept = append(kept, target)
	}
	a.applied = kept
	if len(added) > 0 || len(removed) > 0 {
		a.logger.Info("subscriptions updated",
			logging.Field("active", len(kept)),
			logging.Field("added", len(added)),
			logging.Field("removed", len(removed)),
		)
	}
	if len(kept) > 0 {
		a.setRuntimeStatus(runstatus.Subscribed)
	}
	a.notifySlots()
}

func (a *App) poll(ctx context.Context) int {
	a.refreshTokenIfDue(ctx)
	delivered := a.client.UpdateSubscriptions(ctx)

	reconnecting := false
	active := 0
	for _, info := range a.client.Slots() {
		switch info.State {
		case subscription.SlotActive:
			active++
		case subscription.SlotReconnecting:
			active++
			reconnecting = true
		}
	}
	switch {
	case reconnecting:
		a.setRuntimeStatus(runstatus.Reconnecting)
	case active > 0:
		a.setRuntimeStatus(runstatus.Polling)
	}
	a.notifySlots()
	return delivered
}

func (a *App) handleEvent(event subscription.Event, userCtx any) {
	topic := event.Collection + "/" + event.RecordID
	if target, ok := userCtx.(targets.Target); ok {
		topic = target.String()
	}
	record := EventRecord{
		Time:  a.clock.Now(),
		Topic: topic,
		Event: event.Event,
		ID:    event.ID,
		Valid: event.Valid,
		Data:  string(event.Data),
	}
	if event.Valid {
		a.logger.Info("realtime event",
			logging.Field("topic", topic),
			logging.Field("event", event.Event),
			logging.Field("record", event.RecordID),
			logging.Field("data", logging.FormatHTTPPayload(event.Data)),
		)
	} else {
		a.logger.Warn("realtime event with unreadable payload",
			logging.Field("topic", topic),
			logging.Field("event", event.Event),
			logging.Field("id", event.ID),
		)
	}
	if a.hooks.OnEvent != nil {
		a.hooks.OnEvent(record)
	}
}

func (a *App) notifySlots() {
	if a.hooks.OnSlots == nil {
		return
	}
	a.hooks.OnSlots(a.client.Slots())
}

type runtimeStatusState struct {
	mu      sync.Mutex
	current string
}

func (s *runtimeStatusState) update(status string) (string, string, bool) {
	trimmed := strings.TrimSpace(status)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == trimmed {
		return s.current, trimmed, false
	}
	previous := s.current
	s.current = trimmed
	return previous, trimmed, true
}

func (a *App) setRuntimeStatus(status string) {
	previous, next, changed := a.status.update(status)
	if !changed {
		return
	}
	a.logger.Debug("runtime status transition",
		logging.Field("from", previous),
		logging.Field("to", next),
	)
	if a.hooks.OnStatusChange != nil {
		a.hooks.OnStatusChange(status)
	}
}
