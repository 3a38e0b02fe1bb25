package pbrealtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pbembed/internal/logging"
	"pbembed/internal/pbconn"
	"pbembed/internal/retry"
)

func collectFrames(t *testing.T, raw string) ([]Frame, error) {
	t.Helper()
	var frames []Frame
	err := readFrames(strings.NewReader(raw), func(frame Frame) bool {
		frames = append(frames, frame)
		return true
	})
	return frames, err
}

func TestReadFrames(t *testing.T) {
	raw := ": keepalive\n" +
		"id: abc\nevent: PB_CONNECT\ndata: {\"clientId\":\"abc\"}\n\n" +
		"id:msg1\nevent:update\ndata: {\"a\":1,\ndata: \"b\":2}\n\n" +
		"event: tail\ndata: last"

	frames, err := collectFrames(t, raw)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("readFrames() error = %v, want io.EOF", err)
	}
	if len(frames) != 2 {
		t.Fatalf("readFrames() frames = %d, want 2", len(frames))
	}
	if !frames[0].IsConnect() || frames[0].ID != "abc" {
		t.Fatalf("frame[0] = %+v, want PB_CONNECT id abc", frames[0])
	}
	if frames[1].ID != "msg1" || frames[1].Name != "update" {
		t.Fatalf("frame[1] = %+v, want id msg1 event update", frames[1])
	}
	if got, want := string(frames[1].Data), "{\"a\":1,\n\"b\":2}"; got != want {
		t.Fatalf("frame[1].Data = %q, want %q", got, want)
	}
}

func TestReadFramesDiscardsUnterminatedFrame(t *testing.T) {
	frames, err := collectFrames(t, "id: m1\nevent: update\ndata: {\"id\":\"r1\"}\n\nid: m2\nevent: update\ndata: {\"id\":")
	if !errors.Is(err, io.EOF) {
		t.Fatalf("readFrames() error = %v, want io.EOF", err)
	}
	if len(frames) != 1 || frames[0].ID != "m1" {
		t.Fatalf("readFrames() = %+v, want only m1", frames)
	}
}

func TestReadFramesStopsWhenEmitRefuses(t *testing.T) {
	raw := "event: a\ndata: 1\n\nevent: b\ndata: 2\n\n"
	calls := 0
	err := readFrames(strings.NewReader(raw), func(Frame) bool {
		calls++
		return false
	})
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("readFrames() error = %v, want io.ErrClosedPipe", err)
	}
	if calls != 1 {
		t.Fatalf("emit calls = %d, want 1", calls)
	}
}

func TestParseConnect(t *testing.T) {
	tests := []struct {
		name    string
		frame   Frame
		want    string
		wantErr bool
	}{
		{name: "payload", frame: Frame{ID: "x", Name: ConnectEvent, Data: []byte(`{"clientId":"abc"}`)}, want: "abc"},
		{name: "frame id fallback", frame: Frame{ID: "fromid", Name: ConnectEvent, Data: []byte(`{}`)}, want: "fromid"},
		{name: "missing", frame: Frame{Name: ConnectEvent}, wantErr: true},
		{name: "malformed", frame: Frame{ID: "x", Name: ConnectEvent, Data: []byte(`{`)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConnect(tt.frame)
			if tt.wantErr {
				if !errors.Is(err, ErrMissingClientID) {
					t.Fatalf("ParseConnect() error = %v, want ErrMissingClientID", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("ParseConnect() = %q, %v, want %q", got, err, tt.want)
			}
		})
	}
}

func TestTopic(t *testing.T) {
	if got := Topic("tasks", "rec123"); got != "tasks/rec123" {
		t.Fatalf("Topic() = %q, want tasks/rec123", got)
	}
	if got := Topic(" tasks ", ""); got != "tasks/*" {
		t.Fatalf("Topic() = %q, want tasks/*", got)
	}
}

func sseServer(t *testing.T, frames []string, release <-chan struct{}) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			http.Error(w, "bad accept", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frame := range frames {
			_, _ = io.WriteString(w, frame)
			flusher.Flush()
		}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestStreamDeliversFramesInOrder(t *testing.T) {
	release := make(chan struct{})
	server := sseServer(t, []string{
		"id: c1\nevent: PB_CONNECT\ndata: {\"clientId\":\"c1\"}\n\n",
		"id: msg1\nevent: update\ndata: {\"id\":\"rec123\"}\n\n",
	}, release)

	stream, err := Open(context.Background(), server.Client(), server.URL+"/realtime", StreamOptions{ForceHTTP1: true, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer stream.Close()

	first, err := stream.Next(time.Second)
	if err != nil || !first.IsConnect() {
		t.Fatalf("Next() = %+v, %v, want PB_CONNECT", first, err)
	}
	second, err := stream.Next(time.Second)
	if err != nil || second.ID != "msg1" || second.Name != "update" {
		t.Fatalf("Next() = %+v, %v, want msg1 update", second, err)
	}
	if _, err := stream.Next(10 * time.Millisecond); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("Next() error = %v, want ErrNoFrame", err)
	}

	close(release)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, err = stream.Next(50 * time.Millisecond)
		if !errors.Is(err, ErrNoFrame) {
			break
		}
	}
	if !errors.Is(err, io.EOF) {
		t.Fatalf("Next() after server close error = %v, want io.EOF", err)
	}
}

func TestStreamDropsNewestWhenBufferFull(t *testing.T) {
	frames := []string{"id: c1\nevent: PB_CONNECT\ndata: {}\n\n"}
	for i := 0; i < 5; i++ {
		frames = append(frames, fmt.Sprintf("id: m%d\nevent: update\ndata: {}\n\n", i))
	}
	release := make(chan struct{})
	defer close(release)
	server := sseServer(t, frames, release)

	stream, err := Open(context.Background(), server.Client(), server.URL, StreamOptions{Buffer: 2, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer stream.Close()

	deadline := time.Now().Add(2 * time.Second)
	for stream.Dropped() < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := stream.Dropped(); got != 4 {
		t.Fatalf("Dropped() = %d, want 4", got)
	}
	if got := stream.Buffered(); got != 2 {
		t.Fatalf("Buffered() = %d, want 2", got)
	}
	first, _ := stream.Next(time.Second)
	second, _ := stream.Next(time.Second)
	if !first.IsConnect() || second.ID != "m0" {
		t.Fatalf("buffered frames = %+v, %+v, want PB_CONNECT then m0", first, second)
	}
}

func TestOpenRejectsHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"forbidden"}`, http.StatusForbidden)
	}))
	defer server.Close()

	_, err := Open(context.Background(), server.Client(), server.URL, StreamOptions{
		Retry:  retry.Policy{Retries: 2, BaseDelay: time.Millisecond},
		Logger: logging.Discard(),
	})
	if !pbconn.IsUnauthorized(err) {
		t.Fatalf("Open() error = %v, want unauthorized status error", err)
	}
}

func TestSubscribePostsTopics(t *testing.T) {
	var got subscribePayload
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/realtime" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode subscribe payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	conn := pbconn.New(server.URL+"/api", pbconn.Options{Logger: logging.Discard()})
	conn.SetAuthToken("tok")
	if err := Subscribe(context.Background(), conn, "c1", []string{"tasks/rec123", " tasks/rec123 ", "", "notes/*"}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if got.ClientID != "c1" {
		t.Fatalf("clientId = %q, want c1", got.ClientID)
	}
	if len(got.Subscriptions) != 2 || got.Subscriptions[0] != "tasks/rec123" || got.Subscriptions[1] != "notes/*" {
		t.Fatalf("subscriptions = %v, want [tasks/rec123 notes/*]", got.Subscriptions)
	}
	if gotAuth != "tok" {
		t.Fatalf("Authorization = %q, want tok", gotAuth)
	}
}

func TestSubscribeRequiresClientID(t *testing.T) {
	conn := pbconn.New("http://127.0.0.1:1/api", pbconn.Options{Logger: logging.Discard()})
	if err := Subscribe(context.Background(), conn, " ", []string{"tasks/*"}); !errors.Is(err, ErrMissingClientID) {
		t.Fatalf("Subscribe() error = %v, want ErrMissingClientID", err)
	}
}
