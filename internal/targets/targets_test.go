package targets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pbembed/internal/logging"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in      string
		want    Target
		wantErr bool
	}{
		{in: "tasks/rec123", want: Target{Collection: "tasks", RecordID: "rec123"}},
		{in: " tasks / rec123 ", want: Target{Collection: "tasks", RecordID: "rec123"}},
		{in: "tasks", want: Target{Collection: "tasks", RecordID: "*"}},
		{in: "tasks/*", want: Target{Collection: "tasks", RecordID: "*"}},
		{in: "/rec123", wantErr: true},
		{in: "tasks/a/b", wantErr: true},
		{in: "   ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTarget(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTarget) {
					t.Fatalf("ParseTarget(%q) error = %v, want ErrInvalidTarget", tt.in, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("ParseTarget(%q) = %+v, %v, want %+v", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestLoadSkipsCommentsAndDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.txt")
	content := "# watched records\n\ntasks/rec123\nnotes   # whole collection\ntasks/rec123\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write targets: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []Target{{Collection: "tasks", RecordID: "rec123"}, {Collection: "notes", RecordID: "*"}}
	if !Equal(got, want) || len(got) != 2 {
		t.Fatalf("Load() = %v, want %v", got, want)
	}
}

func TestLoadReportsLineNumber(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.txt")
	if err := os.WriteFile(path, []byte("tasks/a\nbad/x/y\n"), 0o600); err != nil {
		t.Fatalf("write targets: %v", err)
	}
	_, err := Load(path)
	if !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("Load() error = %v, want ErrInvalidTarget", err)
	}
	if want := path + ":2"; err == nil || len(err.Error()) < len(want) || err.Error()[:len(want)] != want {
		t.Fatalf("Load() error = %v, want prefix %q", err, want)
	}
}

func TestDiffAndMerge(t *testing.T) {
	a := Target{Collection: "tasks", RecordID: "a"}
	b := Target{Collection: "tasks", RecordID: "b"}
	c := Target{Collection: "notes", RecordID: "*"}

	added, removed := Diff([]Target{a, b}, []Target{b, c})
	if len(added) != 1 || added[0] != c {
		t.Fatalf("added = %v, want [%v]", added, c)
	}
	if len(removed) != 1 || removed[0] != a {
		t.Fatalf("removed = %v, want [%v]", removed, a)
	}
	if merged := Merge([]Target{a, b}, []Target{b, c}); len(merged) != 3 {
		t.Fatalf("Merge() = %v, want 3 targets", merged)
	}
	parsed, err := ParseAll([]string{"tasks/a", "", "tasks/a", "notes"})
	if err != nil || len(parsed) != 2 {
		t.Fatalf("ParseAll() = %v, %v", parsed, err)
	}
}

func receive(t *testing.T, updates <-chan []Target) []Target {
	t.Helper()
	select {
	case next, ok := <-updates:
		if !ok {
			t.Fatal("updates closed")
		}
		return next
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for targets update")
		return nil
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "targets.txt")
	if err := os.WriteFile(path, []byte("tasks/a\n"), 0o600); err != nil {
		t.Fatalf("write targets: %v", err)
	}
	initial, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, err := Watch(ctx, path, initial, WatchOptions{Debounce: 20 * time.Millisecond, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("tasks/a\ntasks/b\n"), 0o600); err != nil {
		t.Fatalf("rewrite targets: %v", err)
	}
	if got := receive(t, updates); len(got) != 2 || got[1].RecordID != "b" {
		t.Fatalf("update = %v, want tasks/a and tasks/b", got)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove targets: %v", err)
	}
	if got := receive(t, updates); len(got) != 0 {
		t.Fatalf("update after remove = %v, want empty", got)
	}

	cancel()
	select {
	case _, ok := <-updates:
		if ok {
			t.Fatal("unexpected update after cancel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("updates not closed after cancel")
	}
}

func TestWatchMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "targets.txt")
	if _, err := Watch(context.Background(), path, nil, WatchOptions{Logger: logging.Discard()}); err == nil {
		t.Fatal("Watch() error = nil, want error for missing directory")
	}
}
