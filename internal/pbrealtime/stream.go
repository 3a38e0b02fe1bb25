// Package pbrealtime consumes the PocketBase realtime endpoint: a long-lived
// server-sent event stream plus a POST that binds topics to the stream's
// client id.
package pbrealtime

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"pbembed/internal/logging"
	"pbembed/internal/pbconn"
	"pbembed/internal/retry"
)

const defaultFrameBuffer = 8

type StreamOptions struct {
	// Buffer bounds how many undelivered frames are held in memory.
	Buffer     int
	ForceHTTP1 bool
	Retry      retry.Policy
	Logger     *logging.Logger
}

// Stream is an open realtime request. A background reader fills a bounded
// frame buffer; Next drains it one frame at a time.
type Stream struct {
	url     string
	frames  chan Frame
	done    chan struct{}
	cancel  context.CancelFunc
	body    io.ReadCloser
	logger  *logging.Logger
	dropped atomic.Int64

	closeOnce sync.Once
	// err is written by the reader before frames is closed.
	err error
}

// Open issues the realtime GET with httpClient and starts the frame reader.
// The stream outlives ctx; ctx only bounds connecting.
func Open(ctx context.Context, httpClient *http.Client, realtimeURL string, opts StreamOptions) (*Stream, error) {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultFrameBuffer
	}
	if opts.Retry.Logger == nil {
		opts.Retry.Logger = opts.Logger
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	// The event stream stays open until the server drops it; no whole-request
	// timeout applies.
	streamHTTP := *httpClient
	streamHTTP.Timeout = 0
	if opts.ForceHTTP1 {
		streamHTTP.Transport = http1OnlyRoundTripper(streamHTTP.Transport)
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, realtimeURL, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := opts.Retry.Do(ctx, "GET "+realtimeURL, func(context.Context) (*http.Response, error) {
		return streamHTTP.Do(req.Clone(streamCtx))
	})
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer cancel()
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		opts.Logger.Warn("realtime connect failed",
			logging.Field("status", resp.Status),
			logging.Field("response", logging.FormatHTTPPayload(data)),
		)
		return nil, &pbconn.HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: data}
	}
	opts.Logger.Debug("realtime stream opened", logging.Field("url", realtimeURL), logging.Field("proto", resp.Proto))

	s := &Stream{
		url:    realtimeURL,
		frames: make(chan Frame, opts.Buffer),
		done:   make(chan struct{}),
		cancel: cancel,
		body:   resp.Body,
		logger: opts.Logger,
	}
	go s.read(streamCtx)
	return s, nil
}

func (s *Stream) read(ctx context.Context) {
	defer close(s.done)
	err := readFrames(s.body, func(frame Frame) bool {
		if frame.IsConnect() {
			// The handshake frame is never dropped.
			select {
			case s.frames <- frame:
				return true
			case <-ctx.Done():
				return false
			}
		}
		select {
		case s.frames <- frame:
		default:
			total := s.dropped.Add(1)
			s.logger.Warn("realtime frame buffer full, dropping frame",
				logging.Field("event", frame.Name),
				logging.Field("id", frame.ID),
				logging.Field("dropped_total", total),
			)
		}
		return true
	})
	if ctx.Err() != nil {
		err = context.Canceled
	}
	s.err = err
	close(s.frames)
	s.logger.Debug("realtime stream ended", logging.Field("url", s.url), logging.Field("error", err))
}

// Next returns the oldest buffered frame, waiting up to wait for one to
// arrive. It returns ErrNoFrame when nothing arrived, or the error that ended
// the stream once every buffered frame has been consumed.
func (s *Stream) Next(wait time.Duration) (Frame, error) {
	select {
	case frame, ok := <-s.frames:
		return s.received(frame, ok)
	default:
	}
	if wait <= 0 {
		return Frame{}, ErrNoFrame
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case frame, ok := <-s.frames:
		return s.received(frame, ok)
	case <-timer.C:
		return Frame{}, ErrNoFrame
	}
}

func (s *Stream) received(frame Frame, ok bool) (Frame, error) {
	if !ok {
		return Frame{}, s.err
	}
	return frame, nil
}

// Dropped counts frames discarded because the buffer was full.
func (s *Stream) Dropped() int64 { return s.dropped.Load() }

// Buffered is the number of frames waiting for Next.
func (s *Stream) Buffered() int { return len(s.frames) }

// Close cancels the request and waits for the reader to exit.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.body.Close()
		<-s.done
	})
}

func http1OnlyRoundTripper(rt http.RoundTripper) http.RoundTripper {
	switch transport := rt.(type) {
	case nil:
		base, ok := http.DefaultTransport.(*http.Transport)
		if !ok {
			return rt
		}
		return disableHTTP2(base.Clone())
	case *http.Transport:
		return disableHTTP2(transport.Clone())
	default:
		// Test round-trippers and other custom transports are used as-is.
		return rt
	}
}

func disableHTTP2(transport *http.Transport) *http.Transport {
	transport.ForceAttemptHTTP2 = false
	transport.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	if transport.TLSClientConfig != nil {
		transport.TLSClientConfig = transport.TLSClientConfig.Clone()
		transport.TLSClientConfig.NextProtos = []string{"http/1.1"}
	}
	return transport
}
