// Package subscription keeps a bounded table of realtime subscriptions. Each
// active slot owns a forked connection and its own event stream; Update polls
// every slot once and hands at most one event per slot to its callback.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/oklog/ulid/v2"

	"pbembed/internal/logging"
	"pbembed/internal/pbconn"
	"pbembed/internal/pbrealtime"
)

const (
	DefaultCapacity         = 5
	DefaultPollWait         = 50 * time.Millisecond
	DefaultHandshakeTimeout = 10 * time.Second
)

var (
	ErrRegistryFull      = errors.New("subscription registry is full")
	ErrAlreadySubscribed = errors.New("already subscribed")
	ErrInvalidTopic      = errors.New("collection is required")
	ErrHandshake         = errors.New("realtime handshake failed")
	ErrClosed            = errors.New("subscription registry is closed")
)

// Forker hands out connections that inherit the current auth token but own
// their transport.
type Forker interface {
	Fork() *pbconn.Connection
}

// Callback receives every delivered event along with the value passed to
// Subscribe. It runs after the registry lock is released and may call back
// into the registry.
type Callback func(event Event, userCtx any)

type Options struct {
	Capacity         int
	PollWait         time.Duration
	HandshakeTimeout time.Duration
	// FrameBuffer bounds the undelivered frames held per slot.
	FrameBuffer int
	ForceHTTP1  bool
	Clock       clock.Clock
	Logger      *logging.Logger
}

type Handle struct {
	Slot int
	ID   ulid.ULID
}

func (h Handle) String() string { return fmt.Sprintf("%d/%s", h.Slot, h.ID) }

type Registry struct {
	primary Forker
	opts    Options

	mu     sync.Mutex
	slots  []slot
	active int
	closed bool
}

type slot struct {
	state      SlotState
	handle     Handle
	collection string
	recordID   string
	callback   Callback
	userCtx    any
	conn       *pbconn.Connection
	stream     *pbrealtime.Stream
	clientID   string
	delivered  int
	lastEvent  time.Time
}

func (s *slot) topic() string { return pbrealtime.Topic(s.collection, s.recordID) }

func New(primary Forker, opts Options) *Registry {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.PollWait <= 0 {
		opts.PollWait = DefaultPollWait
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	return &Registry{
		primary: primary,
		opts:    opts,
		slots:   make([]slot, opts.Capacity),
	}
}

func (r *Registry) Capacity() int { return len(r.slots) }

func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Subscribe places a subscription in the first empty slot. recordID may be
// empty or "*" to follow the whole collection. When no slot is free the call
// fails with ErrRegistryFull before any connection is created.
func (r *Registry) Subscribe(ctx context.Context, collection, recordID string, cb Callback, userCtx any) (Handle, error) {
	collection = strings.TrimSpace(collection)
	recordID = normalizeRecordID(recordID)
	if collection == "" {
		return Handle{}, ErrInvalidTopic
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Handle{}, ErrClosed
	}
	if r.find(collection, recordID) >= 0 {
		return Handle{}, fmt.Errorf("%w: %s", ErrAlreadySubscribed, pbrealtime.Topic(collection, recordID))
	}
	index := r.firstEmpty()
	if index < 0 {
		r.opts.Logger.Warn("subscription rejected, registry full",
			logging.Field("collection", collection),
			logging.Field("record", recordID),
			logging.Field("capacity", len(r.slots)),
		)
		return Handle{}, ErrRegistryFull
	}

	candidate := slot{
		handle:     Handle{Slot: index, ID: ulid.Make()},
		collection: collection,
		recordID:   recordID,
		callback:   cb,
		userCtx:    userCtx,
		conn:       r.primary.Fork(),
	}
	if err := r.connect(ctx, &candidate); err != nil {
		candidate.release()
		return Handle{}, err
	}
	candidate.state = SlotActive
	r.slots[index] = candidate
	r.active++
	r.opts.Logger.Info("subscribed",
		logging.Field("topic", candidate.topic()),
		logging.Field("slot", index),
		logging.Field("client_id", candidate.clientID),
	)
	return candidate.handle, nil
}

// Unsubscribe releases the slot subscribed to (collection, recordID). It
// reports false, changing nothing, when no slot matches.
func (r *Registry) Unsubscribe(collection, recordID string) bool {
	collection = strings.TrimSpace(collection)
	recordID = normalizeRecordID(recordID)

	r.mu.Lock()
	defer r.mu.Unlock()
	index := r.find(collection, recordID)
	if index < 0 {
		return false
	}
	r.clear(index)
	r.opts.Logger.Info("unsubscribed", logging.Field("topic", pbrealtime.Topic(collection, recordID)), logging.Field("slot", index))
	return true
}

type delivery struct {
	callback Callback
	event    Event
	userCtx  any
}

// Update visits every active slot once and delivers at most one event per
// slot. It returns the number of events delivered. With no active slots it
// returns immediately without touching the network.
func (r *Registry) Update(ctx context.Context) int {
	r.mu.Lock()
	if r.active == 0 {
		r.mu.Unlock()
		return 0
	}
	var deliveries []delivery
	for i := range r.slots {
		if ctx.Err() != nil {
			break
		}
		s := &r.slots[i]
		if s.state == SlotEmpty {
			continue
		}
		if d, ok := r.poll(ctx, s); ok {
			deliveries = append(deliveries, d)
		}
	}
	r.mu.Unlock()

	for _, d := range deliveries {
		if d.callback != nil {
			d.callback(d.event, d.userCtx)
		}
	}
	return len(deliveries)
}

func (r *Registry) poll(ctx context.Context, s *slot) (delivery, bool) {
	if s.stream == nil {
		if err := r.connect(ctx, s); err != nil {
			r.opts.Logger.Warn("realtime reconnect failed",
				logging.Field("topic", s.topic()),
				logging.Field("error", err),
			)
			return delivery{}, false
		}
		s.state = SlotActive
		r.opts.Logger.Info("realtime reconnected", logging.Field("topic", s.topic()), logging.Field("client_id", s.clientID))
		return delivery{}, false
	}

	frame, err := s.stream.Next(r.opts.PollWait)
	switch {
	case errors.Is(err, pbrealtime.ErrNoFrame):
		return delivery{}, false
	case err != nil:
		r.opts.Logger.Warn("realtime stream ended",
			logging.Field("topic", s.topic()),
			logging.Field("error", err),
		)
		s.stream.Close()
		s.stream = nil
		s.clientID = ""
		s.state = SlotReconnecting
		return delivery{}, false
	}

	if frame.IsConnect() {
		r.rebind(ctx, s, frame)
		return delivery{}, false
	}

	event := decodeEvent(frame, s.collection, s.recordID)
	if !event.Valid {
		r.opts.Logger.Warn("invalid realtime payload",
			logging.Field("topic", s.topic()),
			logging.Field("id", frame.ID),
			logging.Field("data", logging.FormatHTTPPayload(frame.Data)),
		)
	}
	s.delivered++
	s.lastEvent = r.opts.Clock.Now()
	r.opts.Logger.Debug("realtime event",
		logging.Field("topic", s.topic()),
		logging.Field("event", event.Event),
		logging.Field("id", event.ID),
	)
	return delivery{callback: s.callback, event: event, userCtx: s.userCtx}, true
}

// rebind re-registers the slot's topic when the server announces a new client
// id on an existing stream.
func (r *Registry) rebind(ctx context.Context, s *slot, frame pbrealtime.Frame) {
	clientID, err := pbrealtime.ParseConnect(frame)
	if err != nil {
		r.opts.Logger.Warn("invalid realtime connect frame", logging.Field("topic", s.topic()), logging.Field("error", err))
		return
	}
	if clientID == s.clientID {
		return
	}
	if err := pbrealtime.Subscribe(ctx, s.conn, clientID, []string{s.topic()}); err != nil {
		r.opts.Logger.Warn("realtime resubscribe failed",
			logging.Field("topic", s.topic()),
			logging.Field("client_id", clientID),
			logging.Field("error", err),
		)
		s.stream.Close()
		s.stream = nil
		s.clientID = ""
		s.state = SlotReconnecting
		return
	}
	r.opts.Logger.Info("realtime client id changed, resubscribed",
		logging.Field("topic", s.topic()),
		logging.Field("previous", s.clientID),
		logging.Field("client_id", clientID),
	)
	s.clientID = clientID
}

// connect opens the slot's stream, waits for the handshake and registers the
// topic. On failure the slot keeps no stream.
func (r *Registry) connect(ctx context.Context, s *slot) error {
	conn := s.conn
	stream, err := pbrealtime.Open(ctx, conn.HTTPClient(), conn.Endpoint("realtime"), pbrealtime.StreamOptions{
		Buffer:     r.opts.FrameBuffer,
		ForceHTTP1: r.opts.ForceHTTP1,
		Retry:      conn.RetryPolicy(),
		Logger:     r.opts.Logger,
	})
	if err != nil {
		return err
	}

	frame, err := stream.Next(r.opts.HandshakeTimeout)
	if err == nil && !frame.IsConnect() {
		err = fmt.Errorf("first frame is %q, want %s", frame.Name, pbrealtime.ConnectEvent)
	}
	var clientID string
	if err == nil {
		clientID, err = pbrealtime.ParseConnect(frame)
	}
	if err != nil {
		stream.Close()
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if err := pbrealtime.Subscribe(ctx, conn, clientID, []string{s.topic()}); err != nil {
		stream.Close()
		return err
	}
	s.stream = stream
	s.clientID = clientID
	return nil
}

// SetAuthToken installs token on every connection the registry owns. Forks
// taken later inherit whatever token the primary holds at that time.
func (r *Registry) SetAuthToken(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		if r.slots[i].conn != nil {
			r.slots[i].conn.SetAuthToken(token)
		}
	}
}

// Close releases every slot. Later Subscribe calls fail with ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		if r.slots[i].state != SlotEmpty {
			r.clear(i)
		}
	}
	r.closed = true
}

func (r *Registry) find(collection, recordID string) int {
	for i := range r.slots {
		s := &r.slots[i]
		if s.state != SlotEmpty && s.collection == collection && s.recordID == recordID {
			return i
		}
	}
	return -1
}

func (r *Registry) firstEmpty() int {
	for i := range r.slots {
		if r.slots[i].state == SlotEmpty {
			return i
		}
	}
	return -1
}

func (r *Registry) clear(index int) {
	r.slots[index].release()
	r.slots[index] = slot{}
	r.active--
}

func (s *slot) release() {
	if s.stream != nil {
		s.stream.Close()
		s.stream = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func normalizeRecordID(recordID string) string {
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return "*"
	}
	return recordID
}
